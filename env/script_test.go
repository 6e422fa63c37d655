package env

import (
	"math"
	"testing"

	"github.com/wippyai/gym-bridge/errors"
)

func TestBuildScript(t *testing.T) {
	o := &options{
		renderMode: "rgb_array",
		params: map[string]any{
			"max_episode_steps": 500,
			"continuous":        true,
			"gravity":           -10.0,
			"map_name":          "8x8",
		},
		wrappers: []Wrapper{
			GrayscaleObservation{KeepDim: true},
			ReshapeObservation{Shape: []int{84, 84}},
			NewMaxAndSkipObservation(),
		},
	}

	got, err := buildScript("env_1", "LunarLander-v3", o)
	if err != nil {
		t.Fatal(err)
	}
	want := `import gymnasium
env_1 = gymnasium.make("LunarLander-v3", render_mode="rgb_array", continuous=True, gravity=-10.0, map_name="8x8", max_episode_steps=500)
env_1 = gymnasium.wrappers.GrayscaleObservation(env_1, keep_dim=True)
env_1 = gymnasium.wrappers.ReshapeObservation(env_1, shape=(84, 84))
env_1 = gymnasium.wrappers.MaxAndSkipObservation(env_1, skip=4)
`
	if got != want {
		t.Errorf("script:\n%s\nwant:\n%s", got, want)
	}
}

func TestBuildScript_RejectsKeys(t *testing.T) {
	for _, key := range []string{"", "1st", "a b", "render_mode", "x=1)"} {
		o := &options{params: map[string]any{key: 1}}
		if _, err := buildScript("env_1", "CartPole-v1", o); !errors.IsKind(err, errors.KindInvalidInput) {
			t.Errorf("key %q: %v", key, err)
		}
	}

	o := &options{params: map[string]any{"fn": func() {}}}
	if _, err := buildScript("env_1", "CartPole-v1", o); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Errorf("func param: %v", err)
	}
}

func TestPyLiteral(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "None"},
		{false, "False"},
		{int8(-3), "-3"},
		{uint64(math.MaxUint64), "18446744073709551615"},
		{1.0, "1.0"},
		{float32(0.5), "0.5"},
		{1e-8, "1e-08"},
		{math.Inf(-1), "float('-inf')"},
		{math.NaN(), "float('nan')"},
		{`say "hi"` + "\n", `"say \"hi\"\n"`},
		{[]int{1, 2}, "[1, 2]"},
		{[]any{"a", 1, nil}, `["a", 1, None]`},
		{map[string]any{"b": 2, "a": []float64{0.5}}, `{"a": [0.5], "b": 2}`},
	}
	for _, tt := range tests {
		got, err := pyLiteral(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("pyLiteral(%#v) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}

	if _, err := pyLiteral(map[int]int{1: 1}); !errors.IsKind(err, errors.KindUnsupportedVariant) {
		t.Errorf("pyLiteral(map[int]int) = %v", err)
	}
	if _, err := pyLiteral(struct{}{}); err == nil {
		t.Error("pyLiteral(struct) succeeded")
	}
}

func TestWrapperExpr(t *testing.T) {
	tests := []struct {
		w    Wrapper
		want string
	}{
		{DelayObservation{Delay: 2}, "gymnasium.wrappers.DelayObservation(e, delay=2)"},
		{FrameStackObservation{StackSize: 4}, "gymnasium.wrappers.FrameStackObservation(e, stack_size=4)"},
		{GrayscaleObservation{}, "gymnasium.wrappers.GrayscaleObservation(e, keep_dim=False)"},
		{NewMaxAndSkipObservation(), "gymnasium.wrappers.MaxAndSkipObservation(e, skip=4)"},
		{NewNormalizeObservation(), "gymnasium.wrappers.NormalizeObservation(e, epsilon=1e-08)"},
		{ReshapeObservation{Shape: []int{16}}, "gymnasium.wrappers.ReshapeObservation(e, shape=(16,))"},
	}
	for _, tt := range tests {
		t.Run(tt.w.Name(), func(t *testing.T) {
			if got := tt.w.Expr("e"); got != tt.want {
				t.Errorf("Expr() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseWrapper(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"DelayObservation", map[string]any{"delay": 3}, "gymnasium.wrappers.DelayObservation(e, delay=3)"},
		{"FrameStackObservation", map[string]any{"stack_size": 4.0}, "gymnasium.wrappers.FrameStackObservation(e, stack_size=4)"},
		{"GrayscaleObservation", nil, "gymnasium.wrappers.GrayscaleObservation(e, keep_dim=False)"},
		{"MaxAndSkipObservation", nil, "gymnasium.wrappers.MaxAndSkipObservation(e, skip=4)"},
		{"NormalizeObservation", map[string]any{"epsilon": 0.001}, "gymnasium.wrappers.NormalizeObservation(e, epsilon=0.001)"},
		{"ReshapeObservation", map[string]any{"shape": []any{2, 2}}, "gymnasium.wrappers.ReshapeObservation(e, shape=(2, 2))"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ParseWrapper(tt.name, tt.args)
			if err != nil {
				t.Fatal(err)
			}
			if got := w.Expr("e"); got != tt.want {
				t.Errorf("Expr() = %q, want %q", got, tt.want)
			}
		})
	}

	bad := []struct {
		name string
		args map[string]any
		kind errors.Kind
	}{
		{"TimeAwareObservation", nil, errors.KindUnsupportedVariant},
		{"DelayObservation", nil, errors.KindInvalidInput},
		{"FrameStackObservation", map[string]any{"stack_size": -1}, errors.KindInvalidInput},
		{"GrayscaleObservation", map[string]any{"keep_dim": "yes"}, errors.KindInvalidInput},
		{"ReshapeObservation", map[string]any{"shape": []any{2, "x"}}, errors.KindInvalidInput},
	}
	for _, tt := range bad {
		if _, err := ParseWrapper(tt.name, tt.args); !errors.IsKind(err, tt.kind) {
			t.Errorf("ParseWrapper(%s, %v) = %v, want %s", tt.name, tt.args, err, tt.kind)
		}
	}
}
