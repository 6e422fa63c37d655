package python

import (
	"context"
	"math"

	gymbridge "github.com/wippyai/gym-bridge"
	"github.com/wippyai/gym-bridge/errors"
)

// FromInt64 returns a new int.
func (h *Host) FromInt64(ctx context.Context, v int64) (*Object, error) {
	return h.build(ctx, func() gymbridge.Ref { return h.api.FromInt64(v) })
}

// FromFloat64 returns a new float.
func (h *Host) FromFloat64(ctx context.Context, v float64) (*Object, error) {
	return h.build(ctx, func() gymbridge.Ref { return h.api.FromFloat64(v) })
}

// FromBool returns True or False.
func (h *Host) FromBool(ctx context.Context, v bool) (*Object, error) {
	return h.build(ctx, func() gymbridge.Ref { return h.api.FromBool(v) })
}

// FromString returns a new str.
func (h *Host) FromString(ctx context.Context, v string) (*Object, error) {
	return h.build(ctx, func() gymbridge.Ref { return h.api.FromString(v) })
}

// FromInt64s returns a new list of ints.
func (h *Host) FromInt64s(ctx context.Context, vs []int64) (*Object, error) {
	return fromSlice(ctx, h, vs, h.api.FromInt64)
}

// FromInt32s returns a new list of ints.
func (h *Host) FromInt32s(ctx context.Context, vs []int32) (*Object, error) {
	return fromSlice(ctx, h, vs, func(v int32) gymbridge.Ref { return h.api.FromInt64(int64(v)) })
}

// FromFloat64s returns a new list of floats.
func (h *Host) FromFloat64s(ctx context.Context, vs []float64) (*Object, error) {
	return fromSlice(ctx, h, vs, h.api.FromFloat64)
}

// FromFloat32s returns a new list of floats.
func (h *Host) FromFloat32s(ctx context.Context, vs []float32) (*Object, error) {
	return fromSlice(ctx, h, vs, func(v float32) gymbridge.Ref { return h.api.FromFloat64(float64(v)) })
}

// FromBools returns a new list of 0/1 ints.
func (h *Host) FromBools(ctx context.Context, vs []bool) (*Object, error) {
	return fromSlice(ctx, h, vs, func(v bool) gymbridge.Ref {
		if v {
			return h.api.FromInt64(1)
		}
		return h.api.FromInt64(0)
	})
}

func (h *Host) build(ctx context.Context, mk func() gymbridge.Ref) (*Object, error) {
	var out *Object
	err := h.locked(ctx, func() error {
		var err error
		out, err = h.result(mk(), errors.PhaseMarshal)
		return err
	})
	return out, err
}

func fromSlice[T any](ctx context.Context, h *Host, vs []T, mk func(T) gymbridge.Ref) (*Object, error) {
	var out *Object
	err := h.locked(ctx, func() error {
		l := h.api.NewList(len(vs))
		if l == 0 {
			return h.check(errors.PhaseMarshal)
		}
		for i, v := range vs {
			item := mk(v)
			if item == 0 {
				h.api.DecRef(l)
				return h.check(errors.PhaseMarshal)
			}
			if h.api.ListSetItem(l, i, item) != 0 {
				h.api.DecRef(l)
				return h.check(errors.PhaseMarshal)
			}
		}
		out = h.own(l)
		return nil
	})
	return out, err
}

func (h *Host) mismatch(r gymbridge.Ref, goType string, path ...string) error {
	return errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
		Path(path...).
		GoType(goType).
		PyType(h.api.TypeName(r)).
		Detail("cannot convert to %s", goType).
		Build()
}

// AsInt64 converts an int, bool or __index__ object.
func (h *Host) AsInt64(ctx context.Context, x Handle) (int64, error) {
	var v int64
	err := h.locked(ctx, func() error {
		r, err := h.deref(x, errors.PhaseMarshal)
		if err != nil {
			return err
		}
		v, err = h.asInt64(r)
		return err
	})
	return v, err
}

func (h *Host) asInt64(r gymbridge.Ref, path ...string) (int64, error) {
	switch h.api.TypeOf(r) {
	case gymbridge.TypeInt, gymbridge.TypeBool:
	default:
		if !h.api.IndexCheck(r) {
			return 0, h.mismatch(r, "int64", path...)
		}
	}
	v := h.api.AsInt64(r)
	if err := h.check(errors.PhaseMarshal); err != nil {
		return 0, err
	}
	return v, nil
}

// AsFloat64 converts any number.
func (h *Host) AsFloat64(ctx context.Context, x Handle) (float64, error) {
	var v float64
	err := h.locked(ctx, func() error {
		r, err := h.deref(x, errors.PhaseMarshal)
		if err != nil {
			return err
		}
		v, err = h.asFloat64(r)
		return err
	})
	return v, err
}

func (h *Host) asFloat64(r gymbridge.Ref, path ...string) (float64, error) {
	if h.api.TypeOf(r) != gymbridge.TypeFloat && !h.api.NumberCheck(r) {
		return 0, h.mismatch(r, "float64", path...)
	}
	v := h.api.AsFloat64(r)
	if err := h.check(errors.PhaseMarshal); err != nil {
		return 0, err
	}
	return v, nil
}

// AsBool converts a bool, or any number by truthiness.
func (h *Host) AsBool(ctx context.Context, x Handle) (bool, error) {
	var v bool
	err := h.locked(ctx, func() error {
		r, err := h.deref(x, errors.PhaseMarshal)
		if err != nil {
			return err
		}
		v, err = h.asBool(r)
		return err
	})
	return v, err
}

func (h *Host) asBool(r gymbridge.Ref, path ...string) (bool, error) {
	if h.api.TypeOf(r) != gymbridge.TypeBool && !h.api.NumberCheck(r) {
		return false, h.mismatch(r, "bool", path...)
	}
	t := h.api.IsTrue(r)
	if t < 0 {
		return false, h.check(errors.PhaseMarshal)
	}
	return t == 1, nil
}

// AsString converts a str.
func (h *Host) AsString(ctx context.Context, x Handle) (string, error) {
	var v string
	err := h.locked(ctx, func() error {
		var err error
		v, err = h.asString(x)
		return err
	})
	return v, err
}

func (h *Host) asString(x Handle) (string, error) {
	r, err := h.deref(x, errors.PhaseMarshal)
	if err != nil {
		return "", err
	}
	if h.api.TypeOf(r) != gymbridge.TypeStr {
		return "", h.mismatch(r, "string")
	}
	s, ok := h.api.AsString(r)
	if !ok {
		return "", h.check(errors.PhaseMarshal)
	}
	return s, nil
}

// Int64s converts a sequence of integers.
func (h *Host) Int64s(ctx context.Context, x Handle) ([]int64, error) {
	return collect(ctx, h, x, "[]int64", func(r gymbridge.Ref, path string) (int64, error) {
		return h.asInt64(r, path)
	})
}

// Int32s converts a sequence of integers that fit 32 bits.
func (h *Host) Int32s(ctx context.Context, x Handle) ([]int32, error) {
	return collect(ctx, h, x, "[]int32", h.asInt32)
}

func (h *Host) asInt32(r gymbridge.Ref, path string) (int32, error) {
	v, err := h.asInt64(r, path)
	if err != nil {
		return 0, err
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, errors.Overflow(errors.PhaseMarshal, []string{path}, v, "int32")
	}
	return int32(v), nil
}

// Float64s converts a sequence of numbers.
func (h *Host) Float64s(ctx context.Context, x Handle) ([]float64, error) {
	return collect(ctx, h, x, "[]float64", func(r gymbridge.Ref, path string) (float64, error) {
		return h.asFloat64(r, path)
	})
}

// Bools converts a sequence of bools or numbers.
func (h *Host) Bools(ctx context.Context, x Handle) ([]bool, error) {
	return collect(ctx, h, x, "[]bool", func(r gymbridge.Ref, path string) (bool, error) {
		return h.asBool(r, path)
	})
}

func collect[T any](ctx context.Context, h *Host, x Handle, goType string, elem func(gymbridge.Ref, string) (T, error)) ([]T, error) {
	var out []T
	err := h.locked(ctx, func() error {
		r, err := h.deref(x, errors.PhaseMarshal)
		if err != nil {
			return err
		}
		out, err = collectLocked(h, r, goType, elem)
		return err
	})
	return out, err
}

func collectLocked[T any](h *Host, r gymbridge.Ref, goType string, elem func(gymbridge.Ref, string) (T, error)) ([]T, error) {
	if !h.api.SequenceCheck(r) {
		return nil, h.mismatch(r, goType)
	}
	n := h.api.SequenceSize(r)
	if n < 0 {
		return nil, h.check(errors.PhaseMarshal)
	}
	out := make([]T, n)
	for i := range n {
		item := h.api.SequenceGetItem(r, i)
		if item == 0 {
			return nil, h.check(errors.PhaseMarshal)
		}
		v, err := elem(item, indexPath(i))
		h.api.DecRef(item)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func indexPath(i int) string {
	const digits = "0123456789"
	if i < 10 {
		return "[" + digits[i:i+1] + "]"
	}
	var buf [24]byte
	n := len(buf)
	for ; i > 0; i /= 10 {
		n--
		buf[n] = digits[i%10]
	}
	return "[" + string(buf[n:]) + "]"
}

// TupleItem returns the borrowed item i of tuple. The item lives as long as
// the tuple does.
func (h *Host) TupleItem(ctx context.Context, tuple Handle, i int) (Borrowed, error) {
	var out Borrowed
	err := h.locked(ctx, func() error {
		var err error
		out, err = h.tupleItem(tuple, i)
		return err
	})
	return out, err
}

func (h *Host) tupleItem(tuple Handle, i int) (Borrowed, error) {
	r, err := h.deref(tuple, errors.PhaseMarshal)
	if err != nil {
		return Borrowed{}, err
	}
	if h.api.TypeOf(r) != gymbridge.TypeTuple {
		return Borrowed{}, h.mismatch(r, "tuple")
	}
	n := h.api.TupleSize(r)
	if i < 0 || i >= n {
		return Borrowed{}, errors.OutOfBounds(errors.PhaseMarshal, []string{"tuple"}, i, n)
	}
	item := h.api.TupleGetItem(r, i)
	if item == 0 {
		return Borrowed{}, h.check(errors.PhaseMarshal)
	}
	return Borrowed{ref: item}, nil
}

// TupleLen returns the length of tuple.
func (h *Host) TupleLen(ctx context.Context, tuple Handle) (int, error) {
	var n int
	err := h.locked(ctx, func() error {
		r, err := h.deref(tuple, errors.PhaseMarshal)
		if err != nil {
			return err
		}
		if h.api.TypeOf(r) != gymbridge.TypeTuple {
			return h.mismatch(r, "tuple")
		}
		n = h.api.TupleSize(r)
		return nil
	})
	return n, err
}
