package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/gym-bridge/env"
	"github.com/wippyai/gym-bridge/errors"
	"github.com/wippyai/gym-bridge/python"
	"github.com/wippyai/gym-bridge/space"
)

// Command is a request code, sent as the decimal text of a frame.
type Command int

const (
	CmdActionSpaceSample   Command = 1
	CmdActionSpaceStr      Command = 2
	CmdObservationSpaceStr Command = 3
	CmdReset               Command = 4
	CmdStep                Command = 5
	CmdRender              Command = 6
	CmdClose               Command = 7
)

func (c Command) String() string {
	switch c {
	case CmdActionSpaceSample:
		return "ACTION_SPACE_SAMPLE"
	case CmdActionSpaceStr:
		return "ACTION_SPACE_STR"
	case CmdObservationSpaceStr:
		return "OBSERVATION_SPACE_STR"
	case CmdReset:
		return "RESET"
	case CmdStep:
		return "STEP"
	case CmdRender:
		return "RENDER"
	case CmdClose:
		return "CLOSE"
	}
	return "UNKNOWN(" + strconv.Itoa(int(c)) + ")"
}

// Retryable reports whether the command may be sent again after a lost
// reply. STEP advances the environment and is never repeated.
func (c Command) Retryable() bool {
	switch c {
	case CmdActionSpaceSample, CmdActionSpaceStr, CmdObservationSpaceStr, CmdReset, CmdRender:
		return true
	}
	return false
}

// ParseCommand reads a request frame.
func ParseCommand(s string) (Command, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < int(CmdActionSpaceSample) || n > int(CmdClose) {
		return 0, errors.New(errors.PhaseTransport, errors.KindInvalidInput).
			Value(s).
			Detail("unknown operation %q", s).
			Build()
	}
	return Command(n), nil
}

// Query values that request snappy-compressed binary frames.
const (
	compressParam  = "compress"
	compressSnappy = "snappy"
)

type metadataFrame struct {
	Metadata *metadataJSON `json:"metadata"`
}

type metadataJSON struct {
	Shape     []int  `json:"shape"`
	DType     string `json:"dtype"`
	ByteOrder string `json:"byteorder"`
}

func encodeMetadata(a *env.Array) metadataJSON {
	shape := a.Shape
	if shape == nil {
		shape = []int{}
	}
	return metadataJSON{Shape: shape, DType: a.DType.Name, ByteOrder: orderMark(a.Order)}
}

func (m metadataJSON) decode() (env.Metadata, error) {
	dt, err := python.ParseDType(m.DType)
	if err != nil {
		return env.Metadata{}, err
	}
	order, err := orderOf(m.ByteOrder)
	if err != nil {
		return env.Metadata{}, err
	}
	return env.Metadata{Shape: m.Shape, DType: dt, Order: order}, nil
}

func (m metadataJSON) equal(o *metadataJSON) bool {
	if o == nil || m.DType != o.DType || m.ByteOrder != o.ByteOrder || len(m.Shape) != len(o.Shape) {
		return false
	}
	for i := range m.Shape {
		if m.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

var nativeMark = func() string {
	if binary.NativeEndian.Uint16([]byte{1, 0}) == 1 {
		return "<"
	}
	return ">"
}()

func orderMark(o binary.ByteOrder) string {
	switch o {
	case binary.BigEndian:
		return ">"
	case binary.LittleEndian:
		return "<"
	}
	return nativeMark
}

func orderOf(mark string) (binary.ByteOrder, error) {
	switch mark {
	case "<":
		return binary.LittleEndian, nil
	case ">":
		return binary.BigEndian, nil
	case "", "=", "|":
		return binary.NativeEndian, nil
	}
	return nil, errors.InvalidInput(errors.PhaseTransport, fmt.Sprintf("unknown byte order %q", mark))
}

type actionReply struct {
	Action any `json:"action"`
}

type actionSpaceReply struct {
	ActionSpaceStr string `json:"actionSpaceStr"`
}

type observationSpaceReply struct {
	ObservationSpaceStr string `json:"observationSpaceStr"`
}

type resetReply struct {
	Info *python.Dict `json:"info"`
}

type stepReply struct {
	Reward     float64      `json:"reward"`
	Terminated bool         `json:"terminated"`
	Truncated  bool         `json:"truncated"`
	Info       *python.Dict `json:"info"`
}

type errorReply struct {
	Error string `json:"error"`
}

// decodeAction converts a STEP payload to the Go value the action kind
// accepts.
func decodeAction(k space.Kind, raw []byte) (any, error) {
	var (
		v   any
		err error
	)
	switch k {
	case space.KindDiscrete:
		var n int64
		err = json.Unmarshal(raw, &n)
		v = n
	case space.KindBox:
		var f float64
		if err = json.Unmarshal(raw, &f); err == nil {
			return f, nil
		}
		var fs []float64
		err = json.Unmarshal(raw, &fs)
		v = fs
	case space.KindMultiDiscrete:
		var ns []int64
		err = json.Unmarshal(raw, &ns)
		v = ns
	case space.KindMultiBinary:
		var bs []bool
		if err = json.Unmarshal(raw, &bs); err == nil {
			return bs, nil
		}
		var ns []int
		err = json.Unmarshal(raw, &ns)
		v = ns
	case space.KindText:
		var s string
		err = json.Unmarshal(raw, &s)
		v = s
	default:
		return nil, errors.UnknownSpace("decode")
	}
	if err != nil {
		return nil, errors.New(errors.PhaseTransport, errors.KindInvalidInput).
			Cause(err).
			Detail("%s action %s", k, string(raw)).
			Build()
	}
	return v, nil
}

// RemoteError is an error reported by the server in an error frame.
type RemoteError struct {
	Command Command
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: remote error: %s", e.Command, e.Message)
}
