package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wippyai/gym-bridge/env"
	"github.com/wippyai/gym-bridge/errors"
	"github.com/wippyai/gym-bridge/python"
	"github.com/wippyai/gym-bridge/space"
)

// Env is the environment surface a Server exposes. *env.Session
// implements it.
type Env interface {
	Reset(ctx context.Context) (*python.Dict, *env.Array, error)
	Act(ctx context.Context, action any) (*env.StepResult, error)
	RenderFrame(ctx context.Context) (*env.Array, error)
	SampleAction(ctx context.Context) (any, error)
	ActionSpaceStr(ctx context.Context) (string, error)
	ObservationSpaceStr(ctx context.Context) (string, error)
	ActionKind() space.Kind
}

var _ Env = (*env.Session)(nil)

// Server serves one environment over websocket connections. Requests from
// all connections are applied to the environment one at a time.
type Server struct {
	env      Env
	upgrader websocket.Upgrader
	metrics  *Metrics
	mu       sync.Mutex
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerMetrics records request metrics.
func WithServerMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithCheckOrigin replaces the origin check. By default every origin is
// accepted.
func WithCheckOrigin(fn func(*http.Request) bool) ServerOption {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

// NewServer creates a Server for e.
func NewServer(e Env, opts ...ServerOption) *Server {
	s := &Server{
		env: e,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type frame struct {
	typ  int
	data []byte
}

// conn is the per-connection state. Metadata is tracked per connection so
// a reconnecting client is sent it again.
type conn struct {
	ws       *websocket.Conn
	log      *zap.Logger
	compress bool
	state    *metadataJSON
	frame    *metadataJSON
}

// ServeHTTP upgrades the request and serves commands until the client
// sends CLOSE or the connection drops.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		Logger().Error("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &conn{
		ws:       ws,
		log:      Logger().With(zap.String("remote_addr", ws.RemoteAddr().String())),
		compress: r.URL.Query().Get(compressParam) == compressSnappy,
	}
	s.metrics.connected(1)
	defer func() {
		s.metrics.connected(-1)
		if err := ws.Close(); err != nil {
			c.log.Debug("close connection", zap.Error(err))
		}
	}()

	c.log.Info("connection established", zap.Bool("compress", c.compress))
	s.serve(r.Context(), c)
	c.log.Info("connection closed")
}

func (s *Server) serve(ctx context.Context, c *conn) {
	for {
		mt, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("connection closed unexpectedly", zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			if !c.write(errorFrame(errors.InvalidInput(errors.PhaseTransport, "command must be a text frame"))) {
				return
			}
			continue
		}

		cmd, err := ParseCommand(string(msg))
		if err != nil {
			c.log.Warn("bad command", zap.ByteString("frame", msg))
			if !c.write(errorFrame(err)) {
				return
			}
			continue
		}
		if cmd == CmdClose {
			s.metrics.observe(cmd, time.Now(), nil)
			deadline := time.Now().Add(time.Second)
			closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := c.ws.WriteControl(websocket.CloseMessage, closing, deadline); err != nil {
				c.log.Debug("write close frame", zap.Error(err))
			}
			return
		}

		var payload []byte
		if cmd == CmdStep {
			if mt, payload, err = c.ws.ReadMessage(); err != nil {
				c.log.Warn("read action", zap.Error(err))
				return
			}
			if mt != websocket.TextMessage {
				if !c.write(errorFrame(errors.InvalidInput(errors.PhaseTransport, "action must be a text frame"))) {
					return
				}
				continue
			}
		}

		start := time.Now()
		frames, err := s.handle(ctx, c, cmd, payload)
		s.metrics.observe(cmd, start, err)
		if err != nil {
			c.log.Warn("command failed", zap.Stringer("command", cmd), zap.Error(err))
			frames = []frame{errorFrame(err)}
		}
		if !c.write(frames...) {
			return
		}
	}
}

// handle runs cmd against the environment and builds the reply frames.
func (s *Server) handle(ctx context.Context, c *conn, cmd Command, payload []byte) ([]frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd {
	case CmdActionSpaceSample:
		v, err := s.env.SampleAction(ctx)
		if err != nil {
			return nil, err
		}
		return jsonFrames(actionReply{Action: v})

	case CmdActionSpaceStr:
		str, err := s.env.ActionSpaceStr(ctx)
		if err != nil {
			return nil, err
		}
		return jsonFrames(actionSpaceReply{ActionSpaceStr: str})

	case CmdObservationSpaceStr:
		str, err := s.env.ObservationSpaceStr(ctx)
		if err != nil {
			return nil, err
		}
		return jsonFrames(observationSpaceReply{ObservationSpaceStr: str})

	case CmdReset:
		info, obs, err := s.env.Reset(ctx)
		if err != nil {
			return nil, err
		}
		return c.arrayFrames(&c.state, obs, resetReply{Info: info})

	case CmdStep:
		action, err := decodeAction(s.env.ActionKind(), payload)
		if err != nil {
			return nil, err
		}
		res, err := s.env.Act(ctx, action)
		if err != nil {
			return nil, err
		}
		return c.arrayFrames(&c.state, res.Observation, stepReply{
			Reward:     res.Reward,
			Terminated: res.Terminated,
			Truncated:  res.Truncated,
			Info:       res.Info,
		})

	case CmdRender:
		img, err := s.env.RenderFrame(ctx)
		if err != nil {
			return nil, err
		}
		return c.arrayFrames(&c.frame, img, nil)
	}
	return nil, errors.Unsupported(errors.PhaseTransport, cmd.String())
}

// arrayFrames emits the metadata frame when it is new to the connection,
// then the optional reply JSON, then the array bytes.
func (c *conn) arrayFrames(last **metadataJSON, a *env.Array, reply any) ([]frame, error) {
	var frames []frame
	m := encodeMetadata(a)
	fresh := !m.equal(*last)
	if fresh {
		fs, err := jsonFrames(metadataFrame{Metadata: &m})
		if err != nil {
			return nil, err
		}
		frames = append(frames, fs...)
	}
	if reply != nil {
		fs, err := jsonFrames(reply)
		if err != nil {
			return nil, err
		}
		frames = append(frames, fs...)
	}
	data := a.Data
	if c.compress {
		data = snappy.Encode(nil, data)
	}
	// Only a reply that is actually sent carries the metadata.
	if fresh {
		*last = &m
	}
	return append(frames, frame{typ: websocket.BinaryMessage, data: data}), nil
}

func jsonFrames(v any) ([]frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseTransport, errors.KindUnsupported, err, "encode reply")
	}
	return []frame{{typ: websocket.TextMessage, data: data}}, nil
}

func errorFrame(err error) frame {
	data, _ := json.Marshal(errorReply{Error: err.Error()})
	return frame{typ: websocket.TextMessage, data: data}
}

// write sends frames in order and reports whether the connection is still
// usable.
func (c *conn) write(frames ...frame) bool {
	for _, f := range frames {
		if err := c.ws.WriteMessage(f.typ, f.data); err != nil {
			c.log.Warn("write frame", zap.Error(err))
			return false
		}
	}
	return true
}
