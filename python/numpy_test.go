package python

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	gymbridge "github.com/wippyai/gym-bridge"
	"github.com/wippyai/gym-bridge/capi/capitest"
	"github.com/wippyai/gym-bridge/errors"
)

func probeHandler(order byte) capitest.EvalFunc {
	return func(rt *capitest.Runtime, expr string, _ gymbridge.Ref) (gymbridge.Ref, bool, error) {
		if expr != orderProbe {
			return 0, false, nil
		}
		return rt.Float32Array(order, 0), true, nil
	}
}

func TestDefaultByteOrder(t *testing.T) {
	tests := []struct {
		mark byte
		want binary.ByteOrder
	}{
		{'<', binary.LittleEndian},
		{'>', binary.BigEndian},
		{'=', binary.NativeEndian},
	}

	for _, tt := range tests {
		t.Run(string(tt.mark), func(t *testing.T) {
			h, rt := newTestHost(t)
			rt.OnEval(probeHandler(tt.mark))
			ctx := context.Background()

			got, err := h.DefaultByteOrder(ctx)
			if err != nil {
				t.Fatalf("DefaultByteOrder: %v", err)
			}
			if got != tt.want {
				t.Errorf("order = %v, want %v", got, tt.want)
			}
			if _, err := h.DefaultByteOrder(ctx); err != nil {
				t.Fatal(err)
			}
			if n := rt.Calls("Run"); n != 1 {
				t.Errorf("probe ran %d times, want once", n)
			}
			if h.Live() != 0 {
				t.Errorf("probe leaked %d handles", h.Live())
			}
		})
	}
}

func TestDefaultByteOrder_NoNumpy(t *testing.T) {
	h, rt := newTestHost(t)
	rt.OnEval(func(rt *capitest.Runtime, expr string, _ gymbridge.Ref) (gymbridge.Ref, bool, error) {
		return 0, false, capitest.Raise("ModuleNotFoundError", "No module named 'numpy'")
	})

	_, err := h.DefaultByteOrder(context.Background())
	if !errors.IsKind(err, errors.KindForeign) {
		t.Errorf("DefaultByteOrder() = %v, want foreign", err)
	}
}

func TestArrayByteOrder(t *testing.T) {
	h, rt := newTestHost(t)
	rt.OnEval(probeHandler('>'))
	ctx := context.Background()

	tests := []struct {
		mark byte
		want binary.ByteOrder
	}{
		{'<', binary.LittleEndian},
		{'>', binary.BigEndian},
		{'|', binary.NativeEndian},
		{'=', binary.NativeEndian},
		{'?', binary.BigEndian}, // falls back to the probed default
	}

	for _, tt := range tests {
		arr := evalArray(t, h, rt, "a", &capitest.Array{Shape: []int{1}, DType: "uint8", Data: []byte{0}, Order: tt.mark})
		got, err := h.ArrayByteOrder(ctx, arr)
		if err != nil {
			t.Fatalf("ArrayByteOrder(%c): %v", tt.mark, err)
		}
		if got != tt.want {
			t.Errorf("ArrayByteOrder(%c) = %v, want %v", tt.mark, got, tt.want)
		}
		closeObj(t, arr)
	}
}

func TestArrayShapeAndDType(t *testing.T) {
	h, rt := newTestHost(t)
	ctx := context.Background()

	arr := evalArray(t, h, rt, "frame", &capitest.Array{Shape: []int{400, 600, 3}, DType: "uint8", Data: make([]byte, 400*600*3)})
	defer closeObj(t, arr)

	shape, err := h.ArrayShape(ctx, arr)
	if err != nil || len(shape) != 3 || shape[0] != 400 || shape[1] != 600 || shape[2] != 3 {
		t.Errorf("ArrayShape = %v, %v", shape, err)
	}
	dt, err := h.ArrayDType(ctx, arr)
	if err != nil || dt != Uint8 {
		t.Errorf("ArrayDType = %v, %v", dt, err)
	}
}

func TestArrayConversions(t *testing.T) {
	h, rt := newTestHost(t)
	ctx := context.Background()

	f32 := evalArray(t, h, rt, "f", &capitest.Array{Shape: []int{2}, DType: "float32", Order: '>', Data: capitest.Float32Bytes('>', 1.5, -3)})
	defer closeObj(t, f32)
	fs, err := h.ArrayFloat64s(ctx, f32)
	if err != nil || len(fs) != 2 || fs[0] != 1.5 || fs[1] != -3 {
		t.Errorf("ArrayFloat64s(big endian) = %v, %v", fs, err)
	}

	i64 := evalArray(t, h, rt, "i", &capitest.Array{Shape: []int{3}, DType: "int64", Data: capitest.Int64Bytes(1, -2, math.MaxInt64)})
	defer closeObj(t, i64)
	is, err := h.ArrayInt64s(ctx, i64)
	if err != nil || len(is) != 3 || is[1] != -2 || is[2] != math.MaxInt64 {
		t.Errorf("ArrayInt64s = %v, %v", is, err)
	}

	if _, err := h.ArrayInt32s(ctx, i64); !errors.IsKind(err, errors.KindTypeMismatch) {
		t.Errorf("ArrayInt32s(int64 array) = %v, want type_mismatch", err)
	}

	bools := evalArray(t, h, rt, "b", &capitest.Array{Shape: []int{3}, DType: "bool", Order: '|', Data: []byte{1, 0, 1}})
	defer closeObj(t, bools)
	bs, err := h.ArrayBools(ctx, bools)
	if err != nil || len(bs) != 3 || !bs[0] || bs[1] || !bs[2] {
		t.Errorf("ArrayBools = %v, %v", bs, err)
	}

	// plain sequences take the element-wise path
	l, _ := h.FromInt32s(ctx, []int32{4, 5})
	defer closeObj(t, l)
	i32, err := h.ArrayInt32s(ctx, l)
	if err != nil || len(i32) != 2 || i32[1] != 5 {
		t.Errorf("ArrayInt32s(list) = %v, %v", i32, err)
	}
	if rt.OpenViews() != 0 {
		t.Errorf("%d views left open", rt.OpenViews())
	}
}

func TestParseDType(t *testing.T) {
	tests := []struct {
		in   string
		want DType
	}{
		{"float32", Float32},
		{"<f4", Float32},
		{">f8", Float64},
		{"=i8", Int64},
		{"|u1", Uint8},
		{"|b1", Bool},
		{"bool", Bool},
		{" Float16 ", Float16},
		{"int32", Int32},
		{"double", Float64},
		{"float", Float64},
	}
	for _, tt := range tests {
		got, err := ParseDType(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseDType(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}

	for _, bad := range []string{"", "complex128", "<U5", "object"} {
		if _, err := ParseDType(bad); !errors.IsKind(err, errors.KindUnsupported) {
			t.Errorf("ParseDType(%q) = %v, want unsupported", bad, err)
		}
	}
}

func TestDType_Decode(t *testing.T) {
	le := binary.LittleEndian

	f16 := []byte{0x00, 0x3c, 0x00, 0xc0, 0x01, 0x00} // 1.0, -2.0, smallest subnormal
	if v := Float16.Float64At(f16, le, 0); v != 1 {
		t.Errorf("f16[0] = %v", v)
	}
	if v := Float16.Float64At(f16, le, 1); v != -2 {
		t.Errorf("f16[1] = %v", v)
	}
	if v := Float16.Float64At(f16, le, 2); v != math.Ldexp(1, -24) {
		t.Errorf("f16[2] = %v", v)
	}

	i16 := []byte{0xff, 0xff}
	if v := Int16.Int64At(i16, le, 0); v != -1 {
		t.Errorf("int16 = %d", v)
	}
	if v := Uint16.Int64At(i16, le, 0); v != 65535 {
		t.Errorf("uint16 = %d", v)
	}
	if v := Float32.Int64At(capitest.Float32Bytes('<', 2.75), le, 0); v != 2 {
		t.Errorf("float32 as int = %d", v)
	}
	if v := (DType{}).Int64At(nil, le, 0); v != 0 {
		t.Errorf("zero dtype = %d", v)
	}
}
