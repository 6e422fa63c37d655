package python

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/wippyai/gym-bridge/errors"
)

// DTypeKind is the numpy kind character.
type DTypeKind byte

const (
	KindBool  DTypeKind = 'b'
	KindInt   DTypeKind = 'i'
	KindUint  DTypeKind = 'u'
	KindFloat DTypeKind = 'f'
)

// DType describes a numpy element type.
type DType struct {
	Name string
	Kind DTypeKind
	Size int
}

var (
	Bool    = DType{"bool", KindBool, 1}
	Int8    = DType{"int8", KindInt, 1}
	Uint8   = DType{"uint8", KindUint, 1}
	Int16   = DType{"int16", KindInt, 2}
	Uint16  = DType{"uint16", KindUint, 2}
	Int32   = DType{"int32", KindInt, 4}
	Uint32  = DType{"uint32", KindUint, 4}
	Int64   = DType{"int64", KindInt, 8}
	Uint64  = DType{"uint64", KindUint, 8}
	Float16 = DType{"float16", KindFloat, 2}
	Float32 = DType{"float32", KindFloat, 4}
	Float64 = DType{"float64", KindFloat, 8}
)

var dtypes = map[string]DType{
	"bool": Bool, "bool_": Bool, "?": Bool, "b1": Bool,
	"int8": Int8, "byte": Int8, "i1": Int8,
	"uint8": Uint8, "u1": Uint8,
	"int16": Int16, "i2": Int16,
	"uint16": Uint16, "u2": Uint16,
	"int32": Int32, "i4": Int32,
	"uint32": Uint32, "u4": Uint32,
	"int64": Int64, "i8": Int64,
	"uint64": Uint64, "u8": Uint64,
	"float16": Float16, "half": Float16, "f2": Float16,
	"float32": Float32, "single": Float32, "f4": Float32,
	"float64": Float64, "float": Float64, "double": Float64, "f8": Float64,
}

// ParseDType parses a numpy dtype name such as "float32" or "<f4". A leading
// byte order marker is ignored.
func ParseDType(s string) (DType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.TrimLeft(name, "<>=|")
	if dt, ok := dtypes[name]; ok {
		return dt, nil
	}
	return DType{}, errors.New(errors.PhaseBuffer, errors.KindUnsupported).
		PyType(s).
		Detail("unsupported numpy dtype %q", s).
		Build()
}

func (d DType) String() string { return d.Name }

// IsZero reports whether d is the zero DType.
func (d DType) IsZero() bool { return d.Size == 0 }

// Float reports whether d is a floating point type.
func (d DType) Float() bool { return d.Kind == KindFloat }

// Integer reports whether d is a signed or unsigned integer type.
func (d DType) Integer() bool { return d.Kind == KindInt || d.Kind == KindUint }

// Float64At decodes element i of b as float64.
func (d DType) Float64At(b []byte, order binary.ByteOrder, i int) float64 {
	off := i * d.Size
	switch d {
	case Float16:
		return float64(halfToFloat32(order.Uint16(b[off:])))
	case Float32:
		return float64(math.Float32frombits(order.Uint32(b[off:])))
	case Float64:
		return math.Float64frombits(order.Uint64(b[off:]))
	case Uint64:
		return float64(order.Uint64(b[off:]))
	}
	return float64(d.Int64At(b, order, i))
}

// Int64At decodes element i of b as int64. Floats truncate.
func (d DType) Int64At(b []byte, order binary.ByteOrder, i int) int64 {
	off := i * d.Size
	switch d {
	case Bool, Uint8:
		return int64(b[off])
	case Int8:
		return int64(int8(b[off]))
	case Int16:
		return int64(int16(order.Uint16(b[off:])))
	case Uint16:
		return int64(order.Uint16(b[off:]))
	case Int32:
		return int64(int32(order.Uint32(b[off:])))
	case Uint32:
		return int64(order.Uint32(b[off:]))
	case Int64, Uint64:
		return int64(order.Uint64(b[off:]))
	}
	if d.Float() {
		return int64(d.Float64At(b, order, i))
	}
	return 0
}

// halfToFloat32 widens an IEEE 754 binary16 value.
func halfToFloat32(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff

	switch exp {
	case 0:
		if frac == 0 {
			return math.Float32frombits(sign)
		}
		// subnormal: normalize
		e := uint32(127 - 15 + 1)
		for frac&0x400 == 0 {
			frac <<= 1
			e--
		}
		frac &= 0x3ff
		return math.Float32frombits(sign | e<<23 | frac<<13)
	case 0x1f:
		return math.Float32frombits(sign | 0xff<<23 | frac<<13)
	}
	return math.Float32frombits(sign | (exp+127-15)<<23 | frac<<13)
}
