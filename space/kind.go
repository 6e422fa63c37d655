package space

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/wippyai/gym-bridge/errors"
	"github.com/wippyai/gym-bridge/python"
)

// Kind is the type of a gymnasium action space.
type Kind int

const (
	KindUnknown Kind = iota
	KindDiscrete
	KindBox
	KindMultiDiscrete
	KindMultiBinary
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindDiscrete:
		return "Discrete"
	case KindBox:
		return "Box"
	case KindMultiDiscrete:
		return "MultiDiscrete"
	case KindMultiBinary:
		return "MultiBinary"
	case KindText:
		return "Text"
	default:
		return "Unknown"
	}
}

// KindOf maps a gymnasium space class name to its Kind.
func KindOf(className string) Kind {
	switch className {
	case "Discrete":
		return KindDiscrete
	case "Box":
		return KindBox
	case "MultiDiscrete":
		return KindMultiDiscrete
	case "MultiBinary":
		return KindMultiBinary
	case "Text":
		return KindText
	default:
		return KindUnknown
	}
}

// Detect reads space.__class__.__name__ and maps it with KindOf.
func Detect(ctx context.Context, h *python.Host, space python.Handle) (Kind, error) {
	name, err := h.ClassName(ctx, space)
	if err != nil {
		return KindUnknown, err
	}
	k := KindOf(name)
	Logger().Debug("action space detected", zap.String("class", name), zap.Stringer("kind", k))
	return k, nil
}

// Get builds an action from a Go value. Each kind accepts its natural
// shapes only:
//
//	Discrete       any Go integer
//	Box            float64, float32, []float64, []float32
//	MultiDiscrete  []int32, []int, []int64
//	MultiBinary    []bool, or []int32 / []int of 0 and 1
//	Text           string
func (k Kind) Get(ctx context.Context, h *python.Host, v any) (*Value, error) {
	if k == KindUnknown {
		return nil, errors.UnknownSpace("get")
	}
	obj, err := k.build(ctx, h, v)
	if err != nil {
		return nil, err
	}
	return newValue(h, obj, k), nil
}

func (k Kind) build(ctx context.Context, h *python.Host, v any) (*python.Object, error) {
	unsupported := func() (*python.Object, error) {
		return nil, errors.UnsupportedVariant(fmt.Sprintf("%T", v), k.String())
	}

	switch k {
	case KindDiscrete:
		n, ok, err := integer(v)
		if err != nil {
			return nil, err
		}
		if !ok {
			return unsupported()
		}
		return h.FromInt64(ctx, n)

	case KindBox:
		switch x := v.(type) {
		case float64:
			return h.FromFloat64(ctx, x)
		case float32:
			return h.FromFloat64(ctx, float64(x))
		case []float64:
			return h.FromFloat64s(ctx, x)
		case []float32:
			return h.FromFloat32s(ctx, x)
		}

	case KindMultiDiscrete:
		switch x := v.(type) {
		case []int32:
			return h.FromInt32s(ctx, x)
		case []int64:
			return h.FromInt64s(ctx, x)
		case []int:
			return h.FromInt64s(ctx, widen(x))
		}

	case KindMultiBinary:
		switch x := v.(type) {
		case []bool:
			return h.FromBools(ctx, x)
		case []int32:
			return h.FromInt32s(ctx, x)
		case []int:
			return h.FromInt64s(ctx, widen(x))
		}

	case KindText:
		if s, ok := v.(string); ok {
			return h.FromString(ctx, s)
		}
	}
	return unsupported()
}

func integer(v any) (int64, bool, error) {
	switch x := v.(type) {
	case int:
		return int64(x), true, nil
	case int8:
		return int64(x), true, nil
	case int16:
		return int64(x), true, nil
	case int32:
		return int64(x), true, nil
	case int64:
		return x, true, nil
	case uint8:
		return int64(x), true, nil
	case uint16:
		return int64(x), true, nil
	case uint32:
		return int64(x), true, nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false, errors.Overflow(errors.PhaseAction, nil, x, "int64")
		}
		return int64(x), true, nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, false, errors.Overflow(errors.PhaseAction, nil, x, "int64")
		}
		return int64(x), true, nil
	}
	return 0, false, nil
}

func widen(xs []int) []int64 {
	out := make([]int64, len(xs))
	for i, x := range xs {
		out[i] = int64(x)
	}
	return out
}

// Wrap adopts obj, an owned action produced by the interpreter. For
// KindUnknown obj is released and an error returned.
func (k Kind) Wrap(ctx context.Context, h *python.Host, obj *python.Object) (*Value, error) {
	if obj == nil {
		return nil, errors.NilPointer(errors.PhaseAction, nil, "action object")
	}
	if k == KindUnknown {
		if err := obj.Close(ctx); err != nil {
			Logger().Warn("release rejected action", zap.Error(err))
		}
		return nil, errors.UnknownSpace("wrap")
	}
	return newValue(h, obj, k), nil
}

// Sample calls space.sample() and wraps the result.
func (k Kind) Sample(ctx context.Context, h *python.Host, space python.Handle) (*Value, error) {
	if k == KindUnknown {
		return nil, errors.UnknownSpace("sample")
	}
	obj, err := h.CallMethod(ctx, space, "sample")
	if err != nil {
		return nil, err
	}
	return k.Wrap(ctx, h, obj)
}
