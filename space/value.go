package space

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	gymbridge "github.com/wippyai/gym-bridge"
	"github.com/wippyai/gym-bridge/errors"
	"github.com/wippyai/gym-bridge/python"
)

// Value is an action owned by the caller. It wraps one interpreter
// reference and must be closed exactly once.
type Value struct {
	host   *python.Host
	obj    *python.Object
	kind   Kind
	closed atomic.Bool
}

func newValue(h *python.Host, obj *python.Object, k Kind) *Value {
	return &Value{host: h, obj: obj, kind: k}
}

// Kind returns the action space kind the value belongs to.
func (v *Value) Kind() Kind { return v.kind }

// Ref returns the wrapped reference, or null once closed. It lets a Value
// be passed wherever a python.Handle is expected.
func (v *Value) Ref() gymbridge.Ref {
	if v == nil || v.closed.Load() {
		return 0
	}
	return v.obj.Ref()
}

// Closed reports whether Close has run.
func (v *Value) Closed() bool { return v.closed.Load() }

// Close releases the wrapped reference. Closing twice returns a
// double-release error. A failed release leaves the value open.
func (v *Value) Close(ctx context.Context) error {
	if !v.closed.CompareAndSwap(false, true) {
		return errors.DoubleRelease(errors.PhaseAction, "action value")
	}
	if err := v.obj.Close(ctx); err != nil {
		v.closed.Store(false)
		return err
	}
	return nil
}

// IsValid reports whether the value is open and its object still alive.
func (v *Value) IsValid(ctx context.Context) bool {
	if v == nil || v.closed.Load() || v.obj.Ref() == 0 {
		return false
	}
	n, err := v.host.RefCount(ctx, v.obj)
	return err == nil && n > 0
}

// Value extracts the action as a Go value:
//
//	Discrete       int64
//	Box            float64, or []float64 for array spaces
//	MultiDiscrete  []int32 when the values fit 32 bits, else []int64
//	MultiBinary    []bool
//	Text           string
func (v *Value) Value(ctx context.Context) (any, error) {
	if v.closed.Load() {
		return nil, errors.IllegalState(errors.PhaseAction, "value of a closed action")
	}
	if v.obj.Ref() == 0 {
		return nil, errors.NilPointer(errors.PhaseAction, nil, "action object")
	}

	h := v.host
	switch v.kind {
	case KindDiscrete:
		return h.AsInt64(ctx, v.obj)
	case KindBox:
		if h.IsSequence(ctx, v.obj) {
			return h.ArrayFloat64s(ctx, v.obj)
		}
		return h.AsFloat64(ctx, v.obj)
	case KindMultiDiscrete:
		return v.multiDiscrete(ctx)
	case KindMultiBinary:
		return h.ArrayBools(ctx, v.obj)
	case KindText:
		return h.AsString(ctx, v.obj)
	}
	return nil, errors.UnknownSpace("value")
}

func (v *Value) multiDiscrete(ctx context.Context) (any, error) {
	h := v.host
	var vals []int64
	if h.IsNumpyArray(ctx, v.obj) {
		dt, err := h.ArrayDType(ctx, v.obj)
		if err != nil {
			return nil, err
		}
		switch dt {
		case python.Int32:
			return h.ArrayInt32s(ctx, v.obj)
		case python.Int64:
			if vals, err = h.ArrayInt64s(ctx, v.obj); err != nil {
				return nil, err
			}
		}
	}
	if vals == nil {
		var err error
		if vals, err = h.Int64s(ctx, v.obj); err != nil {
			return nil, err
		}
	}
	return narrow(vals), nil
}

// narrow returns []int32 when the first element fits 32 bits and every
// other one does too; otherwise the []int64 unchanged.
func narrow(vals []int64) any {
	if len(vals) == 0 || !fits32(vals[0]) {
		return vals
	}
	out := make([]int32, len(vals))
	for i, x := range vals {
		if !fits32(x) {
			return vals
		}
		out[i] = int32(x)
	}
	return out
}

func fits32(x int64) bool {
	return x >= math.MinInt32 && x <= math.MaxInt32
}

// String names the kind and whether the value is closed. It never calls
// into the interpreter, so it is safe in log fields under the lock.
func (v *Value) String() string {
	if v.closed.Load() {
		return fmt.Sprintf("Value{kind=%s, closed}", v.kind)
	}
	return fmt.Sprintf("Value{kind=%s}", v.kind)
}

// Describe is String with the extracted value and liveness.
func (v *Value) Describe(ctx context.Context) string {
	if v.closed.Load() {
		return v.String()
	}
	x, err := v.Value(ctx)
	val := fmt.Sprint(x)
	if err != nil {
		val = "error: " + err.Error()
	}
	return fmt.Sprintf("Value{kind=%s, value=%s, valid=%t}", v.kind, val, v.IsValid(ctx))
}
