package transport

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"image"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wippyai/gym-bridge/env"
	"github.com/wippyai/gym-bridge/errors"
	"github.com/wippyai/gym-bridge/python"
)

// Client defaults.
const (
	DefaultTimeout     = 5 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoff     = 100 * time.Millisecond
	maxBackoff         = 5 * time.Second
)

// Config configures a Client.
type Config struct {
	// URL is the server's websocket endpoint, e.g. ws://localhost:8765/env.
	URL string
	// Timeout bounds every frame read. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxAttempts bounds attempts per request. Zero means DefaultMaxAttempts.
	MaxAttempts int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
	// Compress asks the server to snappy-compress binary frames.
	Compress bool
	Metrics  *Metrics
}

func (c *Config) withDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
}

// Client drives a remote environment. Methods are safe for concurrent use
// but run one at a time.
type Client struct {
	cfg    Config
	url    string
	dialer websocket.Dialer

	mu     sync.Mutex
	ws     *websocket.Conn
	state  *env.Metadata
	frame  *env.Metadata
	closed bool

	actionStr      string
	observationStr string
}

// Dial connects to the server at cfg.URL.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg.withDefaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.New(errors.PhaseTransport, errors.KindInvalidInput).
			Value(cfg.URL).
			Cause(err).
			Detail("invalid server URL %q", cfg.URL).
			Build()
	}
	if cfg.Compress {
		q := u.Query()
		q.Set(compressParam, compressSnappy)
		u.RawQuery = q.Encode()
	}

	c := &Client{
		cfg:    cfg,
		url:    u.String(),
		dialer: websocket.Dialer{HandshakeTimeout: cfg.Timeout},
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	ws, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return errors.Wrap(errors.PhaseTransport, errors.KindForeign, err, "dial "+c.url)
	}
	c.ws = ws
	// Metadata is per connection on the server side.
	c.state, c.frame = nil, nil
	Logger().Debug("connected", zap.String("url", c.url))
	return nil
}

func (c *Client) drop() {
	if c.ws == nil {
		return
	}
	if err := c.ws.Close(); err != nil {
		Logger().Debug("close broken connection", zap.Error(err))
	}
	c.ws = nil
}

// reply is one decoded response: the JSON reply frame, if any, and the
// binary frame, if any.
type reply struct {
	json []byte
	data []byte
}

// do sends cmd and collects its reply. Link failures reconnect and retry
// with exponential backoff, except STEP which is attempted once. A remote
// error frame is returned as is.
func (c *Client) do(ctx context.Context, cmd Command, payload []byte, wantData bool) (*reply, error) {
	if c.closed {
		return nil, errors.IllegalState(errors.PhaseTransport, "client is closed")
	}
	attempts := c.cfg.MaxAttempts
	if !cmd.Retryable() {
		attempts = 1
	}

	start := time.Now()
	backoff := c.cfg.Backoff
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			c.cfg.Metrics.retry(cmd)
			Logger().Warn("retrying request",
				zap.Stringer("command", cmd),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(last))
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(errors.PhaseTransport, errors.KindExhausted, ctx.Err(), cmd.String()+" cancelled")
			case <-time.After(backoff):
			}
			backoff = min(2*backoff, maxBackoff)
		}

		if c.ws == nil {
			if last = c.connect(ctx); last != nil {
				continue
			}
		}
		r, err := c.roundTrip(cmd, payload, wantData)
		if err == nil {
			c.cfg.Metrics.observe(cmd, start, nil)
			return r, nil
		}
		var remote *RemoteError
		if stderrors.As(err, &remote) {
			c.cfg.Metrics.observe(cmd, start, err)
			return nil, err
		}
		last = err
		c.drop()
	}

	c.cfg.Metrics.observe(cmd, start, last)
	return nil, errors.New(errors.PhaseTransport, errors.KindExhausted).
		Cause(last).
		Detail("%s failed after %d attempt(s)", cmd, attempts).
		Build()
}

func (c *Client) roundTrip(cmd Command, payload []byte, wantData bool) (*reply, error) {
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(strconv.Itoa(int(cmd)))); err != nil {
		return nil, err
	}
	if payload != nil {
		if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			return nil, err
		}
	}

	r := &reply{}
	for {
		if err := c.ws.SetReadDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
			return nil, err
		}
		mt, msg, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}

		if mt == websocket.BinaryMessage {
			if !wantData {
				return nil, errors.IllegalState(errors.PhaseTransport, "unexpected binary frame for "+cmd.String())
			}
			if c.cfg.Compress {
				if msg, err = snappy.Decode(nil, msg); err != nil {
					return nil, errors.Wrap(errors.PhaseTransport, errors.KindInvalidInput, err, "decompress frame")
				}
			}
			r.data = msg
			return r, nil
		}

		var probe struct {
			Error    *string       `json:"error"`
			Metadata *metadataJSON `json:"metadata"`
		}
		if err := json.Unmarshal(msg, &probe); err != nil {
			return nil, errors.Wrap(errors.PhaseTransport, errors.KindInvalidInput, err, "decode reply")
		}
		switch {
		case probe.Error != nil:
			return nil, &RemoteError{Command: cmd, Message: *probe.Error}
		case probe.Metadata != nil:
			m, err := probe.Metadata.decode()
			if err != nil {
				return nil, err
			}
			if cmd == CmdRender {
				c.frame = &m
			} else {
				c.state = &m
			}
		default:
			r.json = msg
			if !wantData {
				return r, nil
			}
		}
	}
}

// ActionSpaceSample samples an action on the server. Numbers decode as
// float64 and arrays as []any; the value can be passed back to Step.
func (c *Client) ActionSpaceSample(ctx context.Context) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.do(ctx, CmdActionSpaceSample, nil, false)
	if err != nil {
		return nil, err
	}
	var out actionReply
	if err := json.Unmarshal(r.json, &out); err != nil {
		return nil, errors.Wrap(errors.PhaseTransport, errors.KindInvalidInput, err, "decode action")
	}
	return out.Action, nil
}

// ActionSpaceStr returns the remote action space's repr. The result is
// cached.
func (c *Client) ActionSpaceStr(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.actionStr != "" {
		return c.actionStr, nil
	}
	r, err := c.do(ctx, CmdActionSpaceStr, nil, false)
	if err != nil {
		return "", err
	}
	var out actionSpaceReply
	if err := json.Unmarshal(r.json, &out); err != nil {
		return "", errors.Wrap(errors.PhaseTransport, errors.KindInvalidInput, err, "decode action space")
	}
	c.actionStr = out.ActionSpaceStr
	return c.actionStr, nil
}

// ObservationSpaceStr returns the remote observation space's repr. The
// result is cached.
func (c *Client) ObservationSpaceStr(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.observationStr != "" {
		return c.observationStr, nil
	}
	r, err := c.do(ctx, CmdObservationSpaceStr, nil, false)
	if err != nil {
		return "", err
	}
	var out observationSpaceReply
	if err := json.Unmarshal(r.json, &out); err != nil {
		return "", errors.Wrap(errors.PhaseTransport, errors.KindInvalidInput, err, "decode observation space")
	}
	c.observationStr = out.ObservationSpaceStr
	return c.observationStr, nil
}

// Reset resets the remote environment.
func (c *Client) Reset(ctx context.Context) (*python.Dict, *env.Array, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.do(ctx, CmdReset, nil, true)
	if err != nil {
		return nil, nil, err
	}
	var out resetReply
	if err := json.Unmarshal(r.json, &out); err != nil {
		return nil, nil, errors.Wrap(errors.PhaseTransport, errors.KindInvalidInput, err, "decode reset")
	}
	obs, err := c.array(c.state, r.data)
	if err != nil {
		return nil, nil, err
	}
	return out.Info, obs, nil
}

// Step sends action, encoded as JSON, and returns the result.
func (c *Client) Step(ctx context.Context, action any) (*env.StepResult, error) {
	payload, err := json.Marshal(action)
	if err != nil {
		return nil, errors.New(errors.PhaseTransport, errors.KindUnsupportedVariant).
			Value(action).
			Cause(err).
			Detail("encode action %T", action).
			Build()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.do(ctx, CmdStep, payload, true)
	if err != nil {
		return nil, err
	}
	var out stepReply
	if err := json.Unmarshal(r.json, &out); err != nil {
		return nil, errors.Wrap(errors.PhaseTransport, errors.KindInvalidInput, err, "decode step")
	}
	obs, err := c.array(c.state, r.data)
	if err != nil {
		return nil, err
	}
	return &env.StepResult{
		Observation: obs,
		Reward:      out.Reward,
		Terminated:  out.Terminated,
		Truncated:   out.Truncated,
		Info:        out.Info,
	}, nil
}

// RenderFrame renders the remote environment.
func (c *Client) RenderFrame(ctx context.Context) (*env.Array, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, err := c.do(ctx, CmdRender, nil, true)
	if err != nil {
		return nil, err
	}
	return c.array(c.frame, r.data)
}

// Render renders the remote environment as an image.
func (c *Client) Render(ctx context.Context) (image.Image, error) {
	frame, err := c.RenderFrame(ctx)
	if err != nil {
		return nil, err
	}
	return frame.Image()
}

func (c *Client) array(m *env.Metadata, data []byte) (*env.Array, error) {
	if m == nil {
		return nil, errors.IllegalState(errors.PhaseTransport, "array received before its metadata")
	}
	return env.NewArray(*m, data)
}

// Close sends CLOSE and shuts the connection. Repeated calls return nil.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.ws == nil {
		return nil
	}
	defer c.drop()

	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(strconv.Itoa(int(CmdClose)))); err != nil {
		return errors.Wrap(errors.PhaseTransport, errors.KindForeign, err, "send close")
	}
	// Wait for the server's close frame.
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.Timeout))
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				Logger().Debug("close handshake", zap.Error(err))
			}
			return nil
		}
	}
}
