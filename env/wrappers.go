package env

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/gym-bridge/errors"
)

// Wrapper is a gymnasium observation wrapper applied after make.
type Wrapper interface {
	// Name is the gymnasium.wrappers class name.
	Name() string
	// Expr renders the wrapping expression around the env variable v.
	Expr(v string) string
}

// DelayObservation delays observations by a number of steps.
type DelayObservation struct {
	Delay int
}

func (DelayObservation) Name() string { return "DelayObservation" }

func (w DelayObservation) Expr(v string) string {
	return wrapExpr(w.Name(), v, "delay="+strconv.Itoa(w.Delay))
}

// FrameStackObservation stacks the last StackSize observations.
type FrameStackObservation struct {
	StackSize int
}

func (FrameStackObservation) Name() string { return "FrameStackObservation" }

func (w FrameStackObservation) Expr(v string) string {
	return wrapExpr(w.Name(), v, "stack_size="+strconv.Itoa(w.StackSize))
}

// GrayscaleObservation converts RGB observations to grayscale.
type GrayscaleObservation struct {
	KeepDim bool
}

func (GrayscaleObservation) Name() string { return "GrayscaleObservation" }

func (w GrayscaleObservation) Expr(v string) string {
	return wrapExpr(w.Name(), v, "keep_dim="+pyBool(w.KeepDim))
}

// MaxAndSkipObservation repeats each action Skip times and max-pools the
// last two frames.
type MaxAndSkipObservation struct {
	Skip int
}

// NewMaxAndSkipObservation uses gymnasium's default skip of 4.
func NewMaxAndSkipObservation() MaxAndSkipObservation {
	return MaxAndSkipObservation{Skip: 4}
}

func (MaxAndSkipObservation) Name() string { return "MaxAndSkipObservation" }

func (w MaxAndSkipObservation) Expr(v string) string {
	return wrapExpr(w.Name(), v, "skip="+strconv.Itoa(w.Skip))
}

// NormalizeObservation normalizes observations to zero mean, unit variance.
type NormalizeObservation struct {
	Epsilon float64
}

// NewNormalizeObservation uses gymnasium's default epsilon of 1e-8.
func NewNormalizeObservation() NormalizeObservation {
	return NormalizeObservation{Epsilon: 1e-8}
}

func (NormalizeObservation) Name() string { return "NormalizeObservation" }

func (w NormalizeObservation) Expr(v string) string {
	return wrapExpr(w.Name(), v, "epsilon="+pyFloat(w.Epsilon))
}

// ReshapeObservation reshapes observations to Shape.
type ReshapeObservation struct {
	Shape []int
}

func (ReshapeObservation) Name() string { return "ReshapeObservation" }

func (w ReshapeObservation) Expr(v string) string {
	dims := make([]string, len(w.Shape))
	for i, d := range w.Shape {
		dims[i] = strconv.Itoa(d)
	}
	shape := "(" + strings.Join(dims, ", ")
	if len(dims) == 1 {
		shape += ","
	}
	return wrapExpr(w.Name(), v, "shape="+shape+")")
}

func wrapExpr(name, v, args string) string {
	return fmt.Sprintf("gymnasium.wrappers.%s(%s, %s)", name, v, args)
}

// ParseWrapper builds a wrapper from its class name and keyword arguments,
// as found in configuration files. Missing arguments take gymnasium's
// defaults where it has one.
func ParseWrapper(name string, args map[string]any) (Wrapper, error) {
	p := argParser{name: name, args: args}
	var w Wrapper
	switch name {
	case "DelayObservation":
		w = DelayObservation{Delay: p.int("delay", -1)}
	case "FrameStackObservation":
		w = FrameStackObservation{StackSize: p.int("stack_size", -1)}
	case "GrayscaleObservation":
		w = GrayscaleObservation{KeepDim: p.bool("keep_dim")}
	case "MaxAndSkipObservation":
		w = MaxAndSkipObservation{Skip: p.int("skip", 4)}
	case "NormalizeObservation":
		w = NormalizeObservation{Epsilon: p.float("epsilon", 1e-8)}
	case "ReshapeObservation":
		w = ReshapeObservation{Shape: p.ints("shape")}
	default:
		return nil, errors.UnsupportedVariant(name, "wrapper")
	}
	if p.err != nil {
		return nil, p.err
	}
	return w, nil
}

type argParser struct {
	name string
	args map[string]any
	err  error
}

func (p *argParser) fail(key, want string, v any) {
	if p.err == nil {
		p.err = errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path(p.name, key).
			Value(v).
			Detail("%s.%s must be %s", p.name, key, want).
			Build()
	}
}

// int reads key; def < 0 marks it required and positive.
func (p *argParser) int(key string, def int) int {
	v, ok := p.args[key]
	if !ok {
		if def < 0 {
			p.fail(key, "set", nil)
		}
		return def
	}
	n, ok := asInt(v)
	if !ok || n <= 0 {
		p.fail(key, "a positive integer", v)
	}
	return n
}

func (p *argParser) bool(key string) bool {
	v, ok := p.args[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		p.fail(key, "a boolean", v)
	}
	return b
}

func (p *argParser) float(key string, def float64) float64 {
	v, ok := p.args[key]
	if !ok {
		return def
	}
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	}
	if n, ok := asInt(v); ok {
		return float64(n)
	}
	p.fail(key, "a number", v)
	return def
}

func (p *argParser) ints(key string) []int {
	v, ok := p.args[key]
	if !ok {
		p.fail(key, "set", nil)
		return nil
	}
	var items []any
	switch x := v.(type) {
	case []any:
		items = x
	case []int:
		return x
	default:
		p.fail(key, "a list of integers", v)
		return nil
	}
	out := make([]int, len(items))
	for i, item := range items {
		n, ok := asInt(item)
		if !ok {
			p.fail(key, "a list of integers", v)
			return nil
		}
		out[i] = n
	}
	return out
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case int32:
		return int(x), true
	case uint64:
		return int(x), true
	case float64:
		if x == float64(int(x)) {
			return int(x), true
		}
	}
	return 0, false
}
