package env

import (
	"context"
	stderrors "errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/gym-bridge/errors"
	"github.com/wippyai/gym-bridge/python"
	"github.com/wippyai/gym-bridge/space"
)

// DefaultRenderMode makes render() return frames as arrays.
const DefaultRenderMode = "rgb_array"

// Option configures Make.
type Option func(*options)

type options struct {
	renderMode string
	params     map[string]any
	wrappers   []Wrapper
	metrics    *Metrics
	seed       *int64
}

// WithRenderMode sets gymnasium's render_mode. An empty mode omits it.
func WithRenderMode(mode string) Option {
	return func(o *options) { o.renderMode = mode }
}

// WithParams adds keyword arguments for gymnasium.make.
func WithParams(params map[string]any) Option {
	return func(o *options) {
		if o.params == nil {
			o.params = make(map[string]any, len(params))
		}
		for k, v := range params {
			o.params[k] = v
		}
	}
}

// WithWrappers applies observation wrappers in order.
func WithWrappers(w ...Wrapper) Option {
	return func(o *options) { o.wrappers = append(o.wrappers, w...) }
}

// WithMetrics records operations in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithSeed seeds the first Reset.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = &seed }
}

// StepResult is the outcome of one step.
type StepResult struct {
	Observation *Array
	Reward      float64
	Terminated  bool
	Truncated   bool
	Info        *python.Dict
}

// Done reports whether the episode ended.
func (r *StepResult) Done() bool { return r.Terminated || r.Truncated }

// Session drives one gymnasium environment living in the interpreter.
// Methods are safe for concurrent use but run one at a time.
type Session struct {
	host    *python.Host
	name    string
	global  string
	kind    space.Kind
	metrics *Metrics
	seed    *int64

	mu               sync.Mutex
	env              *python.Object
	actionSpace      *python.Object
	observationSpace *python.Object
	render           *python.Object
	step             *python.Object
	reset            *python.Object

	ready     bool
	scalarObs bool
	state     *Metadata
	stateBuf  *python.Buffer
	frame     *Metadata
	frameBuf  *python.Buffer

	actionStr      string
	observationStr string

	closed atomic.Bool
}

// Make creates the environment registered under name and binds it to a
// fresh global in __main__.
func Make(ctx context.Context, h *python.Host, name string, opts ...Option) (*Session, error) {
	if h == nil {
		return nil, errors.NilPointer(errors.PhaseEnv, nil, "host")
	}
	if strings.TrimSpace(name) == "" {
		return nil, errors.InvalidInput(errors.PhaseEnv, "environment name is empty")
	}
	o := options{renderMode: DefaultRenderMode}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{
		host:    h,
		name:    name,
		global:  "env_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		metrics: o.metrics,
		seed:    o.seed,
	}
	code, err := buildScript(s.global, name, &o)
	if err != nil {
		return nil, err
	}
	Logger().Debug("constructing environment", zap.String("env", name), zap.String("script", code))

	start := time.Now()
	err = h.InsideLock(ctx, func(ctx context.Context) error {
		if err := h.Exec(ctx, code); err != nil {
			return err
		}
		var err error
		if s.env, err = h.Eval(ctx, s.global); err != nil {
			return err
		}
		for _, a := range []struct {
			name string
			dst  **python.Object
		}{
			{"action_space", &s.actionSpace},
			{"observation_space", &s.observationSpace},
			{"render", &s.render},
			{"step", &s.step},
			{"reset", &s.reset},
		} {
			if *a.dst, err = h.Attr(ctx, s.env, a.name); err != nil {
				return err
			}
		}
		s.kind, err = space.Detect(ctx, h, s.actionSpace)
		return err
	})
	s.metrics.observe(name, "make", start, err)
	if err != nil {
		if rerr := s.release(ctx); rerr != nil {
			Logger().Warn("release partial environment", zap.String("env", name), zap.Error(rerr))
		}
		Logger().Error("environment construction failed", zap.String("env", name), zap.Error(err))
		return nil, err
	}

	Logger().Info("environment created",
		zap.String("env", name),
		zap.String("global", s.global),
		zap.Stringer("action_kind", s.kind))
	return s, nil
}

// Name returns the gymnasium id the session was made with.
func (s *Session) Name() string { return s.name }

// Global returns the __main__ variable the environment is bound to.
func (s *Session) Global() string { return s.global }

// ActionKind returns the detected action space kind.
func (s *Session) ActionKind() space.Kind { return s.kind }

// Closed reports whether Close has run.
func (s *Session) Closed() bool { return s.closed.Load() }

// DiscreteObservation reports whether the last observation was a scalar.
func (s *Session) DiscreteObservation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scalarObs
}

// StateMetadata returns the cached observation metadata, if any.
func (s *Session) StateMetadata() (Metadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return Metadata{}, false
	}
	return *s.state, true
}

// FrameMetadata returns the cached render metadata, if any.
func (s *Session) FrameMetadata() (Metadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return Metadata{}, false
	}
	return *s.frame, true
}

func (s *Session) open() error {
	if s.closed.Load() {
		return errors.IllegalState(errors.PhaseEnv, fmt.Sprintf("environment %s is closed", s.name))
	}
	return nil
}

// Reset starts an episode and returns the info dict and first observation.
// The first call seeds the environment when WithSeed was given.
func (s *Session) Reset(ctx context.Context) (*python.Dict, *Array, error) {
	s.mu.Lock()
	seed := s.seed
	s.seed = nil
	s.mu.Unlock()
	if seed != nil {
		return s.ResetSeed(ctx, *seed)
	}
	return s.doReset(ctx, nil)
}

// ResetSeed starts an episode with reset(seed=seed).
func (s *Session) ResetSeed(ctx context.Context, seed int64) (*python.Dict, *Array, error) {
	return s.doReset(ctx, &seed)
}

func (s *Session) doReset(ctx context.Context, seed *int64) (info *python.Dict, obs *Array, err error) {
	if err := s.open(); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func(start time.Time) { s.metrics.observe(s.name, "reset", start, err) }(time.Now())

	h := s.host
	err = h.InsideLock(ctx, func(ctx context.Context) error {
		var result *python.Object
		var err error
		if seed != nil {
			result, err = h.Eval(ctx, fmt.Sprintf("%s.reset(seed=%d)", s.global, *seed))
		} else {
			result, err = h.CallFunction(ctx, s.reset)
		}
		if err != nil {
			return err
		}
		defer closeLogged(ctx, result, "reset result")

		state, err := h.TupleItem(ctx, result, 0)
		if err != nil {
			return err
		}
		raw, err := h.TupleItem(ctx, result, 1)
		if err != nil {
			return err
		}
		if info, err = h.ToDict(ctx, raw); err != nil {
			return err
		}
		obs, err = s.observe(ctx, state)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.ready = true
	Logger().Debug("environment reset", zap.String("env", s.name), zap.Stringer("observation", obs))
	return info, obs, nil
}

// observe copies an observation out of the interpreter. Arrays go through
// the cached state buffer; scalars become 0-d int64 arrays.
func (s *Session) observe(ctx context.Context, state python.Handle) (*Array, error) {
	h := s.host
	hasShape, err := h.HasAttr(ctx, state, "shape")
	if err != nil {
		return nil, err
	}
	if !hasShape {
		v, err := h.AsInt64(ctx, state)
		if err != nil {
			return nil, err
		}
		s.scalarObs = true
		return scalarArray(v), nil
	}
	s.scalarObs = false

	if s.state == nil {
		m, err := readMetadata(ctx, h, state)
		if err != nil {
			return nil, err
		}
		s.state = &m
		s.stateBuf = python.NewBuffer(m.Size(), m.Order)
		Logger().Debug("observation metadata", zap.String("env", s.name), zap.Stringer("metadata", m))
	}
	if err := h.Fill(ctx, state, s.stateBuf); err != nil {
		return nil, err
	}
	return newArray(*s.state, s.stateBuf.Bytes()), nil
}

// Step applies act and returns the transition. Reset must have been called.
func (s *Session) Step(ctx context.Context, act *space.Value) (res *StepResult, err error) {
	if err := s.open(); err != nil {
		return nil, err
	}
	if act == nil {
		return nil, errors.NilPointer(errors.PhaseEnv, nil, "action")
	}
	if act.Closed() {
		return nil, errors.IllegalState(errors.PhaseEnv, "step with a closed action")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return nil, errors.IllegalState(errors.PhaseEnv, "reset must be called before step")
	}
	defer func(start time.Time) {
		s.metrics.observe(s.name, "step", start, err)
		s.metrics.step(s.name, res)
	}(time.Now())

	h := s.host
	res = &StepResult{}
	err = h.InsideLock(ctx, func(ctx context.Context) error {
		result, err := h.CallFunction(ctx, s.step, act)
		if err != nil {
			return err
		}
		defer closeLogged(ctx, result, "step result")

		items := make([]python.Borrowed, 5)
		for i := range items {
			if items[i], err = h.TupleItem(ctx, result, i); err != nil {
				return err
			}
		}
		if res.Reward, err = h.AsFloat64(ctx, items[1]); err != nil {
			return err
		}
		if res.Terminated, err = h.AsBool(ctx, items[2]); err != nil {
			return err
		}
		if res.Truncated, err = h.AsBool(ctx, items[3]); err != nil {
			return err
		}
		if res.Info, err = h.ToDict(ctx, items[4]); err != nil {
			return err
		}
		res.Observation, err = s.observe(ctx, items[0])
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Act builds an action from a Go value, steps with it and releases it.
func (s *Session) Act(ctx context.Context, v any) (*StepResult, error) {
	if err := s.open(); err != nil {
		return nil, err
	}
	act, err := s.kind.Get(ctx, s.host, v)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := act.Close(ctx); err != nil {
			Logger().Warn("release action", zap.String("env", s.name), zap.Error(err))
		}
	}()
	return s.Step(ctx, act)
}

// Render returns the current frame as an image: *image.Gray for one
// channel, *RGB for three and *image.NRGBA for four.
func (s *Session) Render(ctx context.Context) (image.Image, error) {
	frame, err := s.RenderFrame(ctx)
	if err != nil {
		return nil, err
	}
	return frame.Image()
}

// RenderFrame returns the current frame as a raw array.
func (s *Session) RenderFrame(ctx context.Context) (frame *Array, err error) {
	if err := s.open(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func(start time.Time) { s.metrics.observe(s.name, "render", start, err) }(time.Now())

	h := s.host
	err = h.InsideLock(ctx, func(ctx context.Context) error {
		result, err := h.CallFunction(ctx, s.render)
		if err != nil {
			return err
		}
		defer closeLogged(ctx, result, "render result")

		if h.IsNone(ctx, result) {
			return errors.IllegalState(errors.PhaseEnv, "render returned None; make the environment with render_mode=\"rgb_array\"")
		}
		if s.frame == nil {
			m, err := readMetadata(ctx, h, result)
			if err != nil {
				return err
			}
			s.frame = &m
			s.frameBuf = python.NewBuffer(m.Size(), m.Order)
			Logger().Debug("render metadata", zap.String("env", s.name), zap.Stringer("metadata", m))
		}
		if err := h.Fill(ctx, result, s.frameBuf); err != nil {
			return err
		}
		frame = newArray(*s.frame, s.frameBuf.Bytes())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return frame, nil
}

// ActionSpaceSample draws a random action. The caller closes it.
func (s *Session) ActionSpaceSample(ctx context.Context) (*space.Value, error) {
	if err := s.open(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind.Sample(ctx, s.host, s.actionSpace)
}

// SampleAction draws a random action and returns its Go value, as
// space.Value.Value reports it.
func (s *Session) SampleAction(ctx context.Context) (any, error) {
	v, err := s.ActionSpaceSample(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := v.Close(ctx); err != nil {
			Logger().Warn("release sampled action", zap.String("env", s.name), zap.Error(err))
		}
	}()
	return v.Value(ctx)
}

// ActionSpaceStr returns str(action_space).
func (s *Session) ActionSpaceStr(ctx context.Context) (string, error) {
	return s.describe(ctx, s.actionSpace, &s.actionStr)
}

// ObservationSpaceStr returns str(observation_space).
func (s *Session) ObservationSpaceStr(ctx context.Context) (string, error) {
	return s.describe(ctx, s.observationSpace, &s.observationStr)
}

func (s *Session) describe(ctx context.Context, sp *python.Object, cache *string) (string, error) {
	if err := s.open(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if *cache != "" {
		return *cache, nil
	}
	str, err := s.host.Str(ctx, sp)
	if err != nil {
		return "", err
	}
	*cache = str
	return str, nil
}

// Close calls env.close() and releases every retained reference. Repeated
// calls log a warning and do nothing.
func (s *Session) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		Logger().Warn("environment already closed", zap.String("env", s.name), zap.String("global", s.global))
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.env != nil {
		err := s.host.InsideLock(ctx, func(ctx context.Context) error {
			r, err := s.host.CallMethod(ctx, s.env, "close")
			if err != nil {
				return err
			}
			return r.Close(ctx)
		})
		if err != nil {
			Logger().Warn("env.close() failed", zap.String("env", s.name), zap.Error(err))
		}
	}
	err := s.release(ctx)
	Logger().Info("environment closed", zap.String("env", s.name), zap.Int("live", s.host.Live()))
	return err
}

// release drops the retained references in a fixed order and unbinds the
// global. It tolerates a partially constructed session.
func (s *Session) release(ctx context.Context) error {
	var errs []error
	for _, o := range []*python.Object{
		s.actionSpace,
		s.observationSpace,
		s.render,
		s.step,
		s.reset,
		s.env,
	} {
		if o == nil || o.Closed() {
			continue
		}
		if err := o.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.host.DelGlobal(ctx, s.global); err != nil {
		Logger().Debug("unbind environment global", zap.String("global", s.global), zap.Error(err))
	}
	return stderrors.Join(errs...)
}

func closeLogged(ctx context.Context, o *python.Object, what string) {
	if err := o.Close(ctx); err != nil {
		Logger().Warn("release "+what, zap.Error(err))
	}
}
