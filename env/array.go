package env

import (
	"encoding/binary"
	"fmt"

	"github.com/wippyai/gym-bridge/errors"
	"github.com/wippyai/gym-bridge/python"
)

// Array is a host-owned copy of an observation or frame. Data holds the
// raw elements in Order, row-major.
type Array struct {
	Shape []int
	DType python.DType
	Order binary.ByteOrder
	Data  []byte
}

func newArray(m Metadata, b []byte) *Array {
	data := make([]byte, len(b))
	copy(data, b)
	return &Array{
		Shape: append([]int(nil), m.Shape...),
		DType: m.DType,
		Order: m.Order,
		Data:  data,
	}
}

// NewArray copies data into an array described by m. The data length must
// match the metadata exactly.
func NewArray(m Metadata, data []byte) (*Array, error) {
	size, err := m.checkedSize()
	if err != nil {
		return nil, err
	}
	if len(data) != size {
		return nil, errors.New(errors.PhaseEnv, errors.KindCapacity).
			Value(len(data)).
			Detail("array %s needs %d bytes, got %d", m, size, len(data)).
			Build()
	}
	if m.Order == nil {
		m.Order = binary.NativeEndian
	}
	return newArray(m, data), nil
}

// scalarArray wraps a discrete observation as a 0-d int64 array.
func scalarArray(v int64) *Array {
	data := make([]byte, 8)
	binary.NativeEndian.PutUint64(data, uint64(v))
	return &Array{DType: python.Int64, Order: binary.NativeEndian, Data: data}
}

// Len returns the number of elements.
func (a *Array) Len() int {
	if a == nil || a.DType.Size == 0 {
		return 0
	}
	return len(a.Data) / a.DType.Size
}

// Scalar reports whether a is 0-d.
func (a *Array) Scalar() bool { return a != nil && len(a.Shape) == 0 }

// Float64s decodes every element as float64.
func (a *Array) Float64s() []float64 {
	out := make([]float64, a.Len())
	for i := range out {
		out[i] = a.DType.Float64At(a.Data, a.Order, i)
	}
	return out
}

// Float32s decodes every element as float32.
func (a *Array) Float32s() []float32 {
	out := make([]float32, a.Len())
	for i := range out {
		out[i] = float32(a.DType.Float64At(a.Data, a.Order, i))
	}
	return out
}

// Int64s decodes every element as int64. Float elements are truncated.
func (a *Array) Int64s() []int64 {
	out := make([]int64, a.Len())
	for i := range out {
		out[i] = a.DType.Int64At(a.Data, a.Order, i)
	}
	return out
}

// Float64At returns element i.
func (a *Array) Float64At(i int) float64 {
	return a.DType.Float64At(a.Data, a.Order, i)
}

// Int64At returns element i.
func (a *Array) Int64At(i int) int64 {
	return a.DType.Int64At(a.Data, a.Order, i)
}

func (a *Array) String() string {
	if a == nil {
		return "Array{}"
	}
	if a.Scalar() {
		if a.DType.Float() {
			return fmt.Sprintf("Array{%s %v}", a.DType, a.Float64At(0))
		}
		return fmt.Sprintf("Array{%s %d}", a.DType, a.Int64At(0))
	}
	return fmt.Sprintf("Array{%s %v, %d bytes}", a.DType, a.Shape, len(a.Data))
}
