package env

import (
	"context"
	"regexp"
	"strconv"
	"sync"
	"testing"

	gymbridge "github.com/wippyai/gym-bridge"
	"github.com/wippyai/gym-bridge/capi/capitest"
	"github.com/wippyai/gym-bridge/python"
)

var (
	makeStmt  = regexp.MustCompile(`^(env_[0-9a-f]+) = gymnasium\.make\((.*)\)$`)
	wrapStmt  = regexp.MustCompile(`^(env_[0-9a-f]+) = gymnasium\.wrappers\.(\w+)\(.*\)$`)
	seedReset = regexp.MustCompile(`^(env_[0-9a-f]+)\.reset\(seed=(-?\d+)\)$`)
)

// fakeEnv scripts a gymnasium environment in a capitest runtime.
type fakeEnv struct {
	rt *capitest.Runtime

	actionClass string
	resetObs    func(rt *capitest.Runtime) gymbridge.Ref
	stepObs     func(rt *capitest.Runtime) gymbridge.Ref
	frame       *capitest.Array
	makeErr     error

	mu       sync.Mutex
	global   string
	stmts    []string
	actions  []int64
	seeds    []int64
	closes   int
	envRef   gymbridge.Ref
	terminal bool
}

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

func cartPole() *fakeEnv {
	return &fakeEnv{
		actionClass: "Discrete",
		resetObs: func(rt *capitest.Runtime) gymbridge.Ref {
			return rt.Float32Array('<', 0.1, -0.2, 0.3, 0.4)
		},
		stepObs: func(rt *capitest.Runtime) gymbridge.Ref {
			return rt.Float32Array('<', 0.5, 0.6, 0.7, 0.8)
		},
		frame: frameFixture(400, 600, 3),
	}
}

func frameFixture(h, w, c int) *capitest.Array {
	data := make([]byte, h*w*c)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return &capitest.Array{Shape: []int{h, w, c}, DType: "uint8", Order: '|', Data: data}
}

func (f *fakeEnv) install(rt *capitest.Runtime) {
	f.rt = rt
	rt.OnExec(func(rt *capitest.Runtime, stmt string, ns gymbridge.Ref) (bool, error) {
		f.mu.Lock()
		f.stmts = append(f.stmts, stmt)
		f.mu.Unlock()

		if m := makeStmt.FindStringSubmatch(stmt); m != nil {
			if f.makeErr != nil {
				return false, f.makeErr
			}
			f.global = m[1]
			f.envRef = f.build(rt)
			rt.SetItem(ns, m[1], f.envRef)
			return true, nil
		}
		if m := wrapStmt.FindStringSubmatch(stmt); m != nil {
			if m[2] == "Broken" {
				return false, capitest.Raise("AttributeError", "module 'gymnasium.wrappers' has no attribute 'Broken'")
			}
			return true, nil
		}
		return false, nil
	})
	rt.OnEval(func(rt *capitest.Runtime, expr string, _ gymbridge.Ref) (gymbridge.Ref, bool, error) {
		m := seedReset.FindStringSubmatch(expr)
		if m == nil {
			return 0, false, nil
		}
		seed, _ := strconv.ParseInt(m[2], 10, 64)
		f.mu.Lock()
		f.seeds = append(f.seeds, seed)
		f.mu.Unlock()
		return f.resetResult(rt), true, nil
	})
}

func (f *fakeEnv) resetResult(rt *capitest.Runtime) gymbridge.Ref {
	info := rt.Dict()
	rt.SetItem(info, "lives", rt.Int(3))
	return rt.Tuple(f.resetObs(rt), info)
}

func (f *fakeEnv) build(rt *capitest.Runtime) gymbridge.Ref {
	sample := rt.Func("sample", func([]gymbridge.Ref) (gymbridge.Ref, error) {
		return rt.Int(1), nil
	})
	attrs := map[string]gymbridge.Ref{
		"action_space":      rt.Instance(f.actionClass, f.actionClass+"(2)", map[string]gymbridge.Ref{"sample": sample}),
		"observation_space": rt.Instance("Box", "Box(-inf, inf, (4,), float32)", nil),
		"reset": rt.Func("reset", func([]gymbridge.Ref) (gymbridge.Ref, error) {
			return f.resetResult(rt), nil
		}),
		"step": rt.Func("step", func(args []gymbridge.Ref) (gymbridge.Ref, error) {
			if len(args) != 1 {
				return 0, capitest.Raise("TypeError", "step() takes 1 positional argument")
			}
			o := rt.Object(args[0])
			if o.Type != gymbridge.TypeInt {
				return 0, capitest.Raise("AssertionError", "invalid action")
			}
			f.mu.Lock()
			f.actions = append(f.actions, o.Int)
			term := f.terminal
			f.mu.Unlock()
			info := rt.Dict()
			rt.SetItem(info, "action", rt.Int(o.Int))
			return rt.Tuple(f.stepObs(rt), rt.Float(1.0), rt.Bool(term), rt.Bool(false), info), nil
		}),
		"render": rt.Func("render", func([]gymbridge.Ref) (gymbridge.Ref, error) {
			if f.frame == nil {
				return rt.NoneRef(), nil
			}
			cp := *f.frame
			return rt.NDArray(&cp), nil
		}),
		"close": rt.Func("close", func([]gymbridge.Ref) (gymbridge.Ref, error) {
			f.mu.Lock()
			f.closes++
			f.mu.Unlock()
			return rt.NoneRef(), nil
		}),
	}
	return rt.Instance("TimeLimit", "<TimeLimit<OrderEnforcing<CartPoleEnv>>>", attrs)
}

// makeSession installs f and makes a session over it.
func makeSession(t *testing.T, f *fakeEnv, opts ...Option) (*Session, *python.Host, *capitest.Runtime) {
	t.Helper()
	h, rt := newTestHost(t)
	f.install(rt)
	s, err := Make(context.Background(), h, "CartPole-v1", opts...)
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, h, rt
}
