package space

import (
	"context"
	stderrors "errors"
	"testing"

	gymbridge "github.com/wippyai/gym-bridge"
	"github.com/wippyai/gym-bridge/capi/capitest"
	"github.com/wippyai/gym-bridge/errors"
	"github.com/wippyai/gym-bridge/python"
)

func newTestHost(t *testing.T) (*python.Host, *capitest.Runtime) {
	t.Helper()
	rt := capitest.NewRuntime()
	h := python.New(rt, python.Config{SitePackages: "/sp", Include: "/inc"})
	if err := h.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = h.Finalize(context.Background()) })
	return h, rt
}

func global(t *testing.T, h *python.Host, rt *capitest.Runtime, name string, r gymbridge.Ref) *python.Object {
	t.Helper()
	rt.SetGlobal(name, r)
	o, err := h.Eval(context.Background(), name)
	if err != nil {
		t.Fatalf("Eval(%s): %v", name, err)
	}
	return o
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"Discrete", KindDiscrete},
		{"Box", KindBox},
		{"MultiDiscrete", KindMultiDiscrete},
		{"MultiBinary", KindMultiBinary},
		{"Text", KindText},
		{"Tuple", KindUnknown},
		{"Dict", KindUnknown},
		{"discrete", KindUnknown},
		{"", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.name); got != tt.want {
				t.Errorf("KindOf(%q) = %s, want %s", tt.name, got, tt.want)
			}
		})
	}
}

func TestKind_String(t *testing.T) {
	for _, k := range []Kind{KindDiscrete, KindBox, KindMultiDiscrete, KindMultiBinary, KindText} {
		if KindOf(k.String()) != k {
			t.Errorf("KindOf(%s.String()) did not round trip", k)
		}
	}
	if Kind(99).String() != "Unknown" {
		t.Errorf("Kind(99) = %s", Kind(99))
	}
}

func TestDetect(t *testing.T) {
	h, rt := newTestHost(t)
	ctx := context.Background()

	for _, class := range []string{"Discrete", "Box", "Graph"} {
		sp := global(t, h, rt, "space", rt.Instance(class, class+"()", nil))
		k, err := Detect(ctx, h, sp)
		if err != nil {
			t.Fatalf("Detect(%s): %v", class, err)
		}
		if k != KindOf(class) {
			t.Errorf("Detect(%s) = %s", class, k)
		}
		if err := sp.Close(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if h.Live() != 0 {
		t.Errorf("Detect leaked %d handles", h.Live())
	}
}

func TestKind_GetUnsupported(t *testing.T) {
	h, _ := newTestHost(t)
	ctx := context.Background()

	tests := []struct {
		kind   Kind
		input  any
		goType string
	}{
		{KindDiscrete, 1.5, "float64"},
		{KindDiscrete, "1", "string"},
		{KindBox, 1, "int"},
		{KindBox, []int{1}, "[]int"},
		{KindMultiDiscrete, []float64{1}, "[]float64"},
		{KindMultiDiscrete, int64(1), "int64"},
		{KindMultiBinary, []int64{1}, "[]int64"},
		{KindText, []byte("x"), "[]uint8"},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String()+"/"+tt.goType, func(t *testing.T) {
			_, err := tt.kind.Get(ctx, h, tt.input)
			var e *errors.Error
			if !stderrors.As(err, &e) || e.Kind != errors.KindUnsupportedVariant {
				t.Fatalf("Get(%T) = %v, want unsupported_variant", tt.input, err)
			}
			if e.GoType != tt.goType {
				t.Errorf("GoType = %q, want %q", e.GoType, tt.goType)
			}
		})
	}
	if h.Live() != 0 {
		t.Errorf("rejected inputs leaked %d handles", h.Live())
	}
}

func TestKind_Unknown(t *testing.T) {
	h, rt := newTestHost(t)
	ctx := context.Background()

	if _, err := KindUnknown.Get(ctx, h, 1); !errors.IsKind(err, errors.KindUnknownSpace) {
		t.Errorf("Get = %v", err)
	}

	obj := global(t, h, rt, "sample", rt.Int(3))
	if _, err := KindUnknown.Wrap(ctx, h, obj); !errors.IsKind(err, errors.KindUnknownSpace) {
		t.Errorf("Wrap = %v", err)
	}
	if !obj.Closed() {
		t.Error("Wrap did not release the rejected object")
	}

	if _, err := KindUnknown.Sample(ctx, h, obj); !errors.IsKind(err, errors.KindUnknownSpace) {
		t.Errorf("Sample = %v", err)
	}
}

func TestKind_GetDiscreteOverflow(t *testing.T) {
	h, _ := newTestHost(t)

	_, err := KindDiscrete.Get(context.Background(), h, uint64(1)<<63)
	if !errors.IsKind(err, errors.KindOverflow) {
		t.Errorf("Get(1<<63) = %v, want overflow", err)
	}
}

func TestKind_Sample(t *testing.T) {
	h, rt := newTestHost(t)
	ctx := context.Background()

	sample := rt.Func("sample", func([]gymbridge.Ref) (gymbridge.Ref, error) {
		return rt.Int(1), nil
	})
	sp := global(t, h, rt, "action_space", rt.Instance("Discrete", "Discrete(2)", map[string]gymbridge.Ref{"sample": sample}))
	defer sp.Close(ctx)

	v, err := KindDiscrete.Sample(ctx, h, sp)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	defer v.Close(ctx)

	got, err := v.Value(ctx)
	if err != nil || got != int64(1) {
		t.Errorf("Value() = %v, %v", got, err)
	}
}
