package python

import (
	"context"

	gymbridge "github.com/wippyai/gym-bridge"
)

// TypeOf classifies x. Null or released handles classify as None.
// It never changes reference counts.
func (h *Host) TypeOf(ctx context.Context, x Handle) gymbridge.Type {
	t := gymbridge.TypeNone
	_ = h.locked(ctx, func() error {
		t = h.typeOf(x)
		return nil
	})
	return t
}

func (h *Host) typeOf(x Handle) gymbridge.Type {
	r := refOf(x)
	if r == 0 {
		return gymbridge.TypeNone
	}
	return h.api.TypeOf(r)
}

// refOf returns x's reference, or null for nil and released handles.
func refOf(x Handle) gymbridge.Ref {
	if x == nil {
		return 0
	}
	if o, ok := x.(*Object); ok && o == nil {
		return 0
	}
	return x.Ref()
}

func (h *Host) is(ctx context.Context, x Handle, types ...gymbridge.Type) bool {
	if refOf(x) == 0 {
		return false
	}
	t := h.TypeOf(ctx, x)
	for _, want := range types {
		if t == want {
			return true
		}
	}
	return false
}

func (h *Host) IsNone(ctx context.Context, x Handle) bool {
	return refOf(x) != 0 && h.TypeOf(ctx, x) == gymbridge.TypeNone
}

func (h *Host) IsBool(ctx context.Context, x Handle) bool {
	return h.is(ctx, x, gymbridge.TypeBool)
}

// IsInt is false for bools.
func (h *Host) IsInt(ctx context.Context, x Handle) bool {
	return h.is(ctx, x, gymbridge.TypeInt)
}

func (h *Host) IsFloat(ctx context.Context, x Handle) bool {
	return h.is(ctx, x, gymbridge.TypeFloat)
}

func (h *Host) IsComplex(ctx context.Context, x Handle) bool {
	return h.is(ctx, x, gymbridge.TypeComplex)
}

func (h *Host) IsStr(ctx context.Context, x Handle) bool {
	return h.is(ctx, x, gymbridge.TypeStr)
}

func (h *Host) IsBytes(ctx context.Context, x Handle) bool {
	return h.is(ctx, x, gymbridge.TypeBytes)
}

func (h *Host) IsByteArray(ctx context.Context, x Handle) bool {
	return h.is(ctx, x, gymbridge.TypeByteArray)
}

func (h *Host) IsList(ctx context.Context, x Handle) bool {
	return h.is(ctx, x, gymbridge.TypeList)
}

func (h *Host) IsTuple(ctx context.Context, x Handle) bool {
	return h.is(ctx, x, gymbridge.TypeTuple)
}

func (h *Host) IsDict(ctx context.Context, x Handle) bool {
	return h.is(ctx, x, gymbridge.TypeDict)
}

func (h *Host) IsSet(ctx context.Context, x Handle) bool {
	return h.is(ctx, x, gymbridge.TypeSet)
}

func (h *Host) IsFrozenSet(ctx context.Context, x Handle) bool {
	return h.is(ctx, x, gymbridge.TypeFrozenSet)
}

// IsFunction covers plain and builtin functions.
func (h *Host) IsFunction(ctx context.Context, x Handle) bool {
	return h.is(ctx, x, gymbridge.TypeFunction)
}

func (h *Host) IsMethod(ctx context.Context, x Handle) bool {
	return h.is(ctx, x, gymbridge.TypeMethod)
}

func (h *Host) IsModule(ctx context.Context, x Handle) bool {
	return h.is(ctx, x, gymbridge.TypeModule)
}

func (h *Host) IsType(ctx context.Context, x Handle) bool {
	return h.is(ctx, x, gymbridge.TypeType)
}

func (h *Host) IsSlice(ctx context.Context, x Handle) bool {
	return h.is(ctx, x, gymbridge.TypeSlice)
}

// IsNumber reports whether x implements the number protocol.
func (h *Host) IsNumber(ctx context.Context, x Handle) bool {
	return h.check1(ctx, x, h.api.NumberCheck)
}

// IsIndex reports whether x can be used losslessly as an integer.
func (h *Host) IsIndex(ctx context.Context, x Handle) bool {
	return h.check1(ctx, x, h.api.IndexCheck)
}

// IsSequence reports whether x implements the sequence protocol. Dicts do not.
func (h *Host) IsSequence(ctx context.Context, x Handle) bool {
	return h.check1(ctx, x, h.api.SequenceCheck)
}

// IsNumpyArray reports whether x exposes __array_interface__.
func (h *Host) IsNumpyArray(ctx context.Context, x Handle) bool {
	return h.check1(ctx, x, func(r gymbridge.Ref) bool {
		return h.api.HasAttr(r, "__array_interface__")
	})
}

func (h *Host) check1(ctx context.Context, x Handle, pred func(gymbridge.Ref) bool) bool {
	r := refOf(x)
	if r == 0 {
		return false
	}
	ok := false
	_ = h.locked(ctx, func() error {
		ok = pred(r)
		h.api.ErrClear()
		return nil
	})
	return ok
}
