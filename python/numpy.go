package python

import (
	"context"
	"encoding/binary"

	"go.uber.org/zap"

	gymbridge "github.com/wippyai/gym-bridge"
	"github.com/wippyai/gym-bridge/errors"
)

const orderProbe = "__import__('numpy').zeros(1, dtype='float32')"

// DefaultByteOrder returns numpy's byte order for float32 arrays. The probe
// runs once per host; later calls return the cached order.
func (h *Host) DefaultByteOrder(ctx context.Context) (binary.ByteOrder, error) {
	var out binary.ByteOrder
	err := h.locked(ctx, func() error {
		if h.order != nil {
			out = h.order
			return nil
		}
		probe, err := h.result(h.api.Run(orderProbe, gymbridge.ModeEval, h.globals, h.globals), errors.PhaseBuffer)
		if err != nil {
			return err
		}
		defer probe.release()
		mark, err := h.byteOrderMark(probe)
		if err != nil {
			return err
		}
		h.order = orderOf(mark, binary.NativeEndian)
		Logger().Debug("numpy byte order", zap.String("byteorder", mark), zap.Stringer("order", h.order))
		out = h.order
		return nil
	})
	return out, err
}

// ArrayByteOrder returns the byte order of arr's elements: '>' big, '<'
// little, '=' and '|' native, anything else the numpy default.
func (h *Host) ArrayByteOrder(ctx context.Context, arr Handle) (binary.ByteOrder, error) {
	var mark string
	err := h.locked(ctx, func() error {
		var err error
		mark, err = h.byteOrderMark(arr)
		return err
	})
	if err != nil {
		return nil, err
	}
	switch mark {
	case ">", "<", "=", "|":
		return orderOf(mark, binary.NativeEndian), nil
	}
	return h.DefaultByteOrder(ctx)
}

func (h *Host) byteOrderMark(arr Handle) (string, error) {
	dt, err := h.attr(arr, "dtype")
	if err != nil {
		return "", err
	}
	defer dt.release()
	bo, err := h.attr(dt, "byteorder")
	if err != nil {
		return "", err
	}
	defer bo.release()
	return h.asString(bo)
}

func orderOf(mark string, fallback binary.ByteOrder) binary.ByteOrder {
	switch mark {
	case ">":
		return binary.BigEndian
	case "<":
		return binary.LittleEndian
	case "=", "|":
		return binary.NativeEndian
	}
	return fallback
}

// ArrayShape returns arr.shape.
func (h *Host) ArrayShape(ctx context.Context, arr Handle) ([]int, error) {
	var shape []int
	err := h.locked(ctx, func() error {
		s, err := h.attr(arr, "shape")
		if err != nil {
			return err
		}
		defer s.release()
		dims, err := collectLocked(h, s.ref, "[]int", func(r gymbridge.Ref, path string) (int, error) {
			v, err := h.asInt64(r, path)
			return int(v), err
		})
		shape = dims
		return err
	})
	return shape, err
}

// ArrayDType parses str(arr.dtype).
func (h *Host) ArrayDType(ctx context.Context, arr Handle) (DType, error) {
	var name string
	err := h.locked(ctx, func() error {
		dt, err := h.attr(arr, "dtype")
		if err != nil {
			return err
		}
		defer dt.release()
		name, err = h.str(dt)
		return err
	})
	if err != nil {
		return DType{}, err
	}
	return ParseDType(name)
}

// arrayBytes copies an ndarray's memory after checking its dtype. ok is
// false when x has no dtype and should go through the sequence converters.
func (h *Host) arrayBytes(ctx context.Context, x Handle, accept func(DType) bool, goType string) (b []byte, dt DType, order binary.ByteOrder, ok bool, err error) {
	err = h.InsideLock(ctx, func(ctx context.Context) error {
		has, err := h.HasAttr(ctx, x, "dtype")
		if err != nil || !has {
			return err
		}
		dt, err = h.ArrayDType(ctx, x)
		if err != nil {
			return err
		}
		if !accept(dt) {
			return errors.New(errors.PhaseBuffer, errors.KindTypeMismatch).
				GoType(goType).
				PyType(dt.Name).
				Detail("expected numpy array convertible to %s, got %s", goType, dt.Name).
				Build()
		}
		order, err = h.ArrayByteOrder(ctx, x)
		if err != nil {
			return err
		}
		v, err := h.acquire(x)
		if err != nil {
			return err
		}
		defer v.release()
		b = append([]byte(nil), v.data...)
		ok = true
		return nil
	})
	return b, dt, order, ok, err
}

// ArrayFloat64s reads a float32 or float64 ndarray through its buffer. Other
// sequences go through Float64s.
func (h *Host) ArrayFloat64s(ctx context.Context, x Handle) ([]float64, error) {
	b, dt, order, ok, err := h.arrayBytes(ctx, x, func(d DType) bool { return d == Float32 || d == Float64 }, "[]float64")
	if err != nil {
		return nil, err
	}
	if !ok {
		return h.Float64s(ctx, x)
	}
	out := make([]float64, len(b)/dt.Size)
	for i := range out {
		out[i] = dt.Float64At(b, order, i)
	}
	return out, nil
}

// ArrayInt32s reads an int32 ndarray through its buffer. Other sequences go
// through Int32s.
func (h *Host) ArrayInt32s(ctx context.Context, x Handle) ([]int32, error) {
	b, dt, order, ok, err := h.arrayBytes(ctx, x, func(d DType) bool { return d == Int32 }, "[]int32")
	if err != nil {
		return nil, err
	}
	if !ok {
		return h.Int32s(ctx, x)
	}
	out := make([]int32, len(b)/dt.Size)
	for i := range out {
		out[i] = int32(order.Uint32(b[4*i:]))
	}
	return out, nil
}

// ArrayInt64s reads an int64 ndarray through its buffer. Other sequences go
// through Int64s.
func (h *Host) ArrayInt64s(ctx context.Context, x Handle) ([]int64, error) {
	b, dt, order, ok, err := h.arrayBytes(ctx, x, func(d DType) bool { return d == Int64 }, "[]int64")
	if err != nil {
		return nil, err
	}
	if !ok {
		return h.Int64s(ctx, x)
	}
	out := make([]int64, len(b)/dt.Size)
	for i := range out {
		out[i] = int64(order.Uint64(b[8*i:]))
	}
	return out, nil
}

// ArrayBools reads a bool or integer ndarray through its buffer, nonzero
// elements being true. Other sequences go through Bools.
func (h *Host) ArrayBools(ctx context.Context, x Handle) ([]bool, error) {
	b, dt, order, ok, err := h.arrayBytes(ctx, x, func(d DType) bool { return d.Kind == KindBool || d.Integer() }, "[]bool")
	if err != nil {
		return nil, err
	}
	if !ok {
		return h.Bools(ctx, x)
	}
	out := make([]bool, len(b)/dt.Size)
	for i := range out {
		out[i] = dt.Int64At(b, order, i) != 0
	}
	return out, nil
}
