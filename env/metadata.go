package env

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/wippyai/gym-bridge/errors"
	"github.com/wippyai/gym-bridge/python"
)

// Metadata describes the arrays an environment produces. It is read from
// the first array and reused for every later one.
type Metadata struct {
	Shape []int
	DType python.DType
	Order binary.ByteOrder
}

func readMetadata(ctx context.Context, h *python.Host, arr python.Handle) (Metadata, error) {
	var m Metadata
	err := h.InsideLock(ctx, func(ctx context.Context) error {
		var err error
		if m.Shape, err = h.ArrayShape(ctx, arr); err != nil {
			return err
		}
		if m.DType, err = h.ArrayDType(ctx, arr); err != nil {
			return err
		}
		m.Order, err = h.ArrayByteOrder(ctx, arr)
		return err
	})
	if err != nil {
		return Metadata{}, err
	}
	if _, err := m.checkedSize(); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

// Elements returns the number of elements, 1 for a 0-d array.
func (m Metadata) Elements() int {
	n := 1
	for _, d := range m.Shape {
		n *= d
	}
	return n
}

// Size returns the byte size of one array.
func (m Metadata) Size() int {
	return m.Elements() * m.DType.Size
}

func (m Metadata) checkedSize() (int, error) {
	n := m.DType.Size
	for i, d := range m.Shape {
		if d < 0 {
			return 0, errors.InvalidInput(errors.PhaseEnv, fmt.Sprintf("negative dimension %d at axis %d", d, i))
		}
		if d != 0 && n > math.MaxInt32/d {
			return 0, errors.Overflow(errors.PhaseEnv, []string{"shape"}, m.Shape, "int32")
		}
		n *= d
	}
	return n, nil
}

// Height is the first dimension of a frame.
func (m Metadata) Height() int { return m.dim(0) }

// Width is the second dimension of a frame.
func (m Metadata) Width() int { return m.dim(1) }

// Channels is the third dimension of a frame, 1 when the frame is 2-d.
func (m Metadata) Channels() int {
	if len(m.Shape) > 2 {
		return m.Shape[2]
	}
	return 1
}

func (m Metadata) dim(i int) int {
	if i < len(m.Shape) {
		return m.Shape[i]
	}
	return 0
}

func (m Metadata) String() string {
	return fmt.Sprintf("%v %s", m.Shape, m.DType)
}
