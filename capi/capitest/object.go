package capitest

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	gymbridge "github.com/wippyai/gym-bridge"
)

// Object is one object living in a Runtime.
type Object struct {
	Attrs  map[string]gymbridge.Ref
	Fn     func(args []gymbridge.Ref) (gymbridge.Ref, error)
	Array  *Array
	Class  string
	Repr   string
	Str    string
	Bytes  []byte
	Items  []gymbridge.Ref
	Keys   []gymbridge.Ref
	Values []gymbridge.Ref
	Float  float64
	Int    int64
	Type   gymbridge.Type

	refs     int64
	immortal bool
}

// Array is the payload of a numpy-like ndarray object.
type Array struct {
	Shape   []int
	DType   string
	Data    []byte
	Order   byte
	Strided bool
}

// Exception is a foreign exception raised from a Go callback.
type Exception struct {
	Type    string
	Message string
}

func (e *Exception) Error() string { return e.Type + ": " + e.Message }

// Raise builds an exception for a callback to return.
func Raise(typ, msg string) error {
	return &Exception{Type: typ, Message: msg}
}

func (o *Object) className() string {
	if o.Class != "" {
		return o.Class
	}
	return o.Type.String()
}

func (a *Array) order() binary.ByteOrder {
	if a.Order == '>' {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (a *Array) itemSize() int {
	switch a.DType {
	case "float64", "int64", "uint64":
		return 8
	case "float32", "int32", "uint32":
		return 4
	case "float16", "int16", "uint16":
		return 2
	default:
		return 1
	}
}

func (a *Array) stride0() int {
	n := a.itemSize()
	for _, d := range a.Shape[1:] {
		n *= d
	}
	return n
}

// element decodes the scalar at byte offset off.
func (a *Array) element(off int) *Object {
	b := a.Data[off:]
	bo := a.order()
	switch a.DType {
	case "float64":
		return &Object{Type: gymbridge.TypeFloat, Class: "float64", Float: math.Float64frombits(bo.Uint64(b))}
	case "float32":
		return &Object{Type: gymbridge.TypeFloat, Class: "float32", Float: float64(math.Float32frombits(bo.Uint32(b)))}
	case "int64":
		return &Object{Type: gymbridge.TypeInt, Class: "int64", Int: int64(bo.Uint64(b))}
	case "uint64":
		return &Object{Type: gymbridge.TypeInt, Class: "uint64", Int: int64(bo.Uint64(b))}
	case "int32":
		return &Object{Type: gymbridge.TypeInt, Class: "int32", Int: int64(int32(bo.Uint32(b)))}
	case "uint32":
		return &Object{Type: gymbridge.TypeInt, Class: "uint32", Int: int64(bo.Uint32(b))}
	case "int16":
		return &Object{Type: gymbridge.TypeInt, Class: "int16", Int: int64(int16(bo.Uint16(b)))}
	case "uint16":
		return &Object{Type: gymbridge.TypeInt, Class: "uint16", Int: int64(bo.Uint16(b))}
	case "int8":
		return &Object{Type: gymbridge.TypeInt, Class: "int8", Int: int64(int8(b[0]))}
	case "bool":
		v := int64(0)
		if b[0] != 0 {
			v = 1
		}
		return &Object{Type: gymbridge.TypeBool, Class: "bool_", Int: v}
	default:
		return &Object{Type: gymbridge.TypeInt, Class: "uint8", Int: int64(b[0])}
	}
}

func pyFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
