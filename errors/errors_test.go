package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseMarshal,
				Kind:   KindTypeMismatch,
				Path:   []string{"info", "lives"},
				GoType: "int64",
				PyType: "str",
				Detail: "cannot convert",
			},
			contains: []string{"[marshal]", "type_mismatch", "info.lives", "int64", "str", "cannot convert"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseBuffer,
				Kind:  KindContiguity,
			},
			contains: []string{"[buffer]", "contiguity"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseCall,
				Kind:   KindForeign,
				Detail: "division by zero",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[call]", "foreign", "division by zero", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseCall,
		Kind:  KindForeign,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseAction,
		Kind:  KindDoubleRelease,
		Path:  []string{"foo"},
	}

	if !err.Is(&Error{Phase: PhaseAction, Kind: KindDoubleRelease}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseEnv, Kind: KindDoubleRelease}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseAction, Kind: KindOutOfBounds}) {
		t.Error("Is should not match different kind")
	}

	target := &Error{Phase: PhaseAction, Kind: KindDoubleRelease}
	if !errors.Is(err, target) {
		t.Error("errors.Is should match")
	}
}

func TestIsKind(t *testing.T) {
	inner := Capacity(4, 16)
	wrapped := fmt.Errorf("fill state: %w", inner)
	if !IsKind(wrapped, KindCapacity) {
		t.Fatal("IsKind should see through fmt wrapping")
	}

	outer := Wrap(PhaseEnv, KindForeign, inner, "step")
	if !IsKind(outer, KindCapacity) {
		t.Fatal("IsKind should follow Cause chains")
	}
	if !IsKind(outer, KindForeign) {
		t.Fatal("IsKind should match the outer error")
	}
	if IsKind(outer, KindContiguity) {
		t.Fatal("IsKind matched an absent kind")
	}
	if IsKind(nil, KindCapacity) {
		t.Fatal("IsKind(nil) should be false")
	}
	if IsKind(errors.New("plain"), KindCapacity) {
		t.Fatal("IsKind on a plain error should be false")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseMarshal, KindTypeMismatch).
		Path("info", "name").
		GoType("string").
		PyType("int").
		Value(42).
		Cause(cause).
		Detail("expected %s, got %s", "str", "int").
		Build()

	if err.Phase != PhaseMarshal {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseMarshal)
	}
	if err.Kind != KindTypeMismatch {
		t.Errorf("Kind = %v, want %v", err.Kind, KindTypeMismatch)
	}
	if len(err.Path) != 2 || err.Path[0] != "info" || err.Path[1] != "name" {
		t.Errorf("Path = %v, want [info name]", err.Path)
	}
	if err.GoType != "string" {
		t.Errorf("GoType = %v, want 'string'", err.GoType)
	}
	if err.PyType != "int" {
		t.Errorf("PyType = %v, want 'int'", err.PyType)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected str, got int" {
		t.Errorf("Detail = %v, want 'expected str, got int'", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("Capacity", func(t *testing.T) {
		err := Capacity(16, 32)
		if err.Kind != KindCapacity {
			t.Errorf("Kind = %v, want %v", err.Kind, KindCapacity)
		}
		if !strings.Contains(err.Detail, "capacity=16") || !strings.Contains(err.Detail, "required=32") {
			t.Errorf("Detail = %v, should name both sizes", err.Detail)
		}
	})

	t.Run("UnsupportedVariant", func(t *testing.T) {
		err := UnsupportedVariant("string", "Discrete")
		if err.Kind != KindUnsupportedVariant {
			t.Errorf("Kind = %v, want %v", err.Kind, KindUnsupportedVariant)
		}
		if !strings.Contains(err.Error(), "string") || !strings.Contains(err.Error(), "Discrete") {
			t.Errorf("message %q should name input and kind", err.Error())
		}
	})

	t.Run("AttributeNotFound", func(t *testing.T) {
		err := AttributeNotFound("action_space", nil)
		if err.Kind != KindAttributeNotFound {
			t.Errorf("Kind = %v, want %v", err.Kind, KindAttributeNotFound)
		}
		if !strings.Contains(err.Error(), "action_space") {
			t.Errorf("message %q should name the attribute", err.Error())
		}
	})

	t.Run("OutOfBounds", func(t *testing.T) {
		err := OutOfBounds(PhaseMarshal, []string{"tuple"}, 10, 5)
		if err.Kind != KindOutOfBounds {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOutOfBounds)
		}
		if err.Value != 10 {
			t.Errorf("Value = %v, want 10", err.Value)
		}
	})

	t.Run("Overflow", func(t *testing.T) {
		err := Overflow(PhaseMarshal, []string{"val"}, int64(1)<<40, "int32")
		if err.Kind != KindOverflow {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOverflow)
		}
	})

	t.Run("UnsupportedImage", func(t *testing.T) {
		err := UnsupportedImage(2)
		if err.Kind != KindUnsupportedImage || err.Value != 2 {
			t.Errorf("got %+v", err)
		}
	})

	t.Run("Foreign", func(t *testing.T) {
		err := Foreign(PhaseCall, "ZeroDivisionError", "division by zero")
		if !strings.Contains(err.Error(), "ZeroDivisionError") {
			t.Errorf("message %q should carry the exception type", err.Error())
		}
	})
}
