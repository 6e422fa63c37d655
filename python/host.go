package python

import (
	"context"
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	gymbridge "github.com/wippyai/gym-bridge"
	"github.com/wippyai/gym-bridge/capi/cpython"
	"github.com/wippyai/gym-bridge/errors"
	"github.com/wippyai/gym-bridge/resource"
)

// State is the interpreter lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Host owns the embedded interpreter: its lifecycle, the global lock, the
// shared __main__ namespace and every owned reference handed out.
type Host struct {
	api     gymbridge.API
	refs    *resource.UnifiedTable
	order   binary.ByteOrder
	cfg     Config
	life    sync.Mutex
	gil     sync.Mutex
	state   atomic.Int32
	globals gymbridge.Ref
}

// New creates a host over api. The interpreter is not started until Init.
func New(api gymbridge.API, cfg Config) *Host {
	return &Host{
		api:  api,
		cfg:  cfg,
		refs: resource.NewTable(),
	}
}

var (
	defaultHost *Host
	defaultMu   sync.Mutex
)

// Default returns the process-wide host. On first use it is built over the
// libpython backend with ConfigFromEnv.
func Default() (*Host, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultHost != nil {
		return defaultHost, nil
	}
	api, err := cpython.New()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseInit, errors.KindNotInitialized, err, "no interpreter backend")
	}
	defaultHost = New(api, ConfigFromEnv())
	return defaultHost, nil
}

// SetDefault installs h as the process-wide host.
func SetDefault(h *Host) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultHost = h
}

// State returns the current lifecycle state.
func (h *Host) State() State {
	return State(h.state.Load())
}

// Init starts the interpreter. It is idempotent: callers that find the host
// ready return immediately. A finalized host cannot be restarted.
func (h *Host) Init(ctx context.Context) error {
	if h.State() == StateReady {
		return nil
	}

	h.life.Lock()
	defer h.life.Unlock()

	switch h.State() {
	case StateReady:
		return nil
	case StateFinalized:
		return errors.IllegalState(errors.PhaseInit, "interpreter already finalized")
	}

	if err := h.cfg.Validate(); err != nil {
		return err
	}

	h.state.Store(int32(StateInitializing))

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	paths := h.cfg.Paths()
	if err := h.api.Initialize(paths); err != nil {
		h.state.Store(int32(StateUninitialized))
		return errors.Wrap(errors.PhaseInit, errors.KindForeign, err, "initialize interpreter")
	}

	st := h.api.Ensure()
	g := h.api.MainDict()
	if g != 0 {
		h.api.IncRef(g)
	}
	err := h.check(errors.PhaseInit)
	h.api.Release(st)
	if err != nil {
		h.state.Store(int32(StateUninitialized))
		return err
	}
	if g == 0 {
		h.state.Store(int32(StateUninitialized))
		return errors.NilPointer(errors.PhaseInit, nil, "__main__ namespace")
	}
	h.globals = g

	h.state.Store(int32(StateReady))
	Logger().Info("interpreter ready", zap.Strings("paths", paths))
	return nil
}

// Finalize releases the cached namespace and reports leaked references.
// The interpreter itself is only shut down when Config.Shutdown is set.
// After Finalize every operation fails.
func (h *Host) Finalize(ctx context.Context) error {
	h.life.Lock()
	defer h.life.Unlock()

	switch h.State() {
	case StateFinalized:
		return nil
	case StateReady:
	default:
		h.state.Store(int32(StateFinalized))
		return nil
	}

	err := h.InsideLock(ctx, func(context.Context) error {
		h.reportLeaks()
		h.api.DecRef(h.globals)
		h.globals = 0
		h.state.Store(int32(StateFinalized))
		return nil
	})
	if err != nil {
		return err
	}
	_ = h.refs.Close()

	if !h.cfg.Shutdown {
		Logger().Info("interpreter left running until process exit")
		return nil
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := h.api.Finalize(); err != nil {
		return errors.Wrap(errors.PhaseInit, errors.KindForeign, err, "finalize interpreter")
	}
	Logger().Info("interpreter finalized")
	return nil
}

func (h *Host) reportLeaks() {
	n := h.refs.Len()
	if n == 0 {
		return
	}
	log := Logger()
	log.Warn("owned references never released", zap.Int("count", n))
	h.refs.Each(func(hd resource.Handle, class resource.Class, v any) bool {
		fields := []zap.Field{zap.Uint32("handle", uint32(hd)), zap.Stringer("class", class)}
		if o, ok := v.(*Object); ok {
			fields = append(fields, zap.String("type", h.api.TypeName(o.ref)))
		}
		log.Debug("leaked reference", fields...)
		return true
	})
}

// Live returns the number of owned references and open views not yet released.
func (h *Host) Live() int {
	return h.refs.Len()
}

// Refs exposes the table of live references, mainly for observers.
func (h *Host) Refs() resource.Table {
	return h.refs
}

func (h *Host) ready() error {
	switch s := h.State(); s {
	case StateReady:
		return nil
	case StateFinalized:
		return errors.NotInitialized(errors.PhaseCall, "interpreter finalized")
	default:
		return errors.NotInitialized(errors.PhaseCall, "interpreter "+s.String())
	}
}

type lockKey struct{}

type lockToken struct {
	host   *Host
	active atomic.Bool
}

func (h *Host) holds(ctx context.Context) bool {
	t, ok := ctx.Value(lockKey{}).(*lockToken)
	return ok && t.host == h && t.active.Load()
}

// InsideLock runs fn holding the global lock: the host mutex plus the
// interpreter's GIL, on a pinned OS thread. The context passed to fn marks
// the lock as held, and host calls made with it do not lock again. That
// context must stay on fn's goroutine and is void once fn returns.
func (h *Host) InsideLock(ctx context.Context, fn func(ctx context.Context) error) error {
	if h.holds(ctx) {
		return fn(ctx)
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	h.gil.Lock()
	defer h.gil.Unlock()

	if err := h.ready(); err != nil {
		return err
	}

	st := h.api.Ensure()
	defer h.api.Release(st)

	tok := &lockToken{host: h}
	tok.active.Store(true)
	defer tok.active.Store(false)

	return fn(context.WithValue(ctx, lockKey{}, tok))
}

func (h *Host) locked(ctx context.Context, fn func() error) error {
	return h.InsideLock(ctx, func(context.Context) error { return fn() })
}

// check converts a pending interpreter exception into an error and clears it.
func (h *Host) check(phase errors.Phase) error {
	if !h.api.ErrOccurred() {
		return nil
	}
	typ, msg := h.api.ErrFetch()
	return errors.Foreign(phase, typ, msg)
}

// result owns r, or returns the pending exception when r is null.
func (h *Host) result(r gymbridge.Ref, phase errors.Phase) (*Object, error) {
	if r == 0 {
		if err := h.check(phase); err != nil {
			return nil, err
		}
		return nil, errors.NilPointer(phase, nil, "result without a pending exception")
	}
	if err := h.check(phase); err != nil {
		h.api.DecRef(r)
		return nil, err
	}
	return h.own(r), nil
}

// Exec runs statements against the shared __main__ namespace.
func (h *Host) Exec(ctx context.Context, code string) error {
	return h.locked(ctx, func() error {
		obj, err := h.result(h.api.Run(code, gymbridge.ModeExec, h.globals, h.globals), errors.PhaseCall)
		if err != nil {
			return err
		}
		return obj.release()
	})
}

// ExecIsolated runs statements with a private local namespace, leaving
// __main__ untouched, and returns what the code bound there.
func (h *Host) ExecIsolated(ctx context.Context, code string) (*Dict, error) {
	var out *Dict
	err := h.InsideLock(ctx, func(ctx context.Context) error {
		locals := h.api.NewDict()
		if locals == 0 {
			return h.check(errors.PhaseCall)
		}
		defer h.api.DecRef(locals)

		obj, err := h.result(h.api.Run(code, gymbridge.ModeExec, h.globals, locals), errors.PhaseCall)
		if err != nil {
			return err
		}
		if err := obj.release(); err != nil {
			return err
		}
		out, err = h.ToDict(ctx, Borrowed{ref: locals})
		return err
	})
	return out, err
}

// Eval evaluates one expression against __main__ and returns the owned result.
func (h *Host) Eval(ctx context.Context, expr string) (*Object, error) {
	var out *Object
	err := h.locked(ctx, func() error {
		var err error
		out, err = h.result(h.api.Run(expr, gymbridge.ModeEval, h.globals, h.globals), errors.PhaseCall)
		return err
	})
	return out, err
}

// Globals returns the shared __main__ namespace.
func (h *Host) Globals() Borrowed {
	return Borrowed{ref: h.globals}
}

// SetGlobal binds name in __main__.
func (h *Host) SetGlobal(ctx context.Context, name string, v Handle) error {
	return h.locked(ctx, func() error {
		r, err := h.deref(v, errors.PhaseCall)
		if err != nil {
			return err
		}
		if h.api.DictSetItem(h.globals, name, r) != 0 {
			return h.check(errors.PhaseCall)
		}
		return nil
	})
}

// DelGlobal removes name from __main__.
func (h *Host) DelGlobal(ctx context.Context, name string) error {
	return h.locked(ctx, func() error {
		if h.api.DictDelItem(h.globals, name) != 0 {
			err := h.check(errors.PhaseCall)
			return errors.New(errors.PhaseCall, errors.KindAttributeNotFound).
				Path(name).
				Detail("global %q not defined", name).
				Cause(err).
				Build()
		}
		return nil
	})
}
