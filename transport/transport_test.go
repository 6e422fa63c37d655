package transport

import (
	"context"
	"encoding/binary"
	"encoding/json"
	stderrors "errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wippyai/gym-bridge/env"
	"github.com/wippyai/gym-bridge/errors"
	"github.com/wippyai/gym-bridge/python"
	"github.com/wippyai/gym-bridge/space"
)

type fakeEnv struct {
	mu          sync.Mutex
	resets      int
	renders     int
	spaceCalls  int
	actions     []any
	stepErr     error
	badInfo     int
	resetObs    []float32
	stepObs     []float32
	frameHeight int
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{
		resetObs:    []float32{0.1, -0.2, 0.3, 0.4},
		stepObs:     []float32{0.5, 0.6, 0.7, 0.8},
		frameHeight: 4,
	}
}

func float32Array(vals []float32) *env.Array {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	return &env.Array{Shape: []int{len(vals)}, DType: python.Float32, Order: binary.LittleEndian, Data: data}
}

func frameBytes(h, w int) []byte {
	data := make([]byte, h*w*3)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func (f *fakeEnv) Reset(context.Context) (*python.Dict, *env.Array, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	info := python.NewDict()
	info.Set("lives", int64(3))
	if f.badInfo > 0 {
		f.badInfo--
		info.Set("callback", func() {})
	}
	return info, float32Array(f.resetObs), nil
}

func (f *fakeEnv) Act(_ context.Context, action any) (*env.StepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stepErr != nil {
		return nil, f.stepErr
	}
	f.actions = append(f.actions, action)
	return &env.StepResult{
		Observation: float32Array(f.stepObs),
		Reward:      1.0,
		Truncated:   len(f.actions) > 2,
		Info:        python.NewDict(),
	}, nil
}

func (f *fakeEnv) RenderFrame(context.Context) (*env.Array, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders++
	return &env.Array{
		Shape: []int{f.frameHeight, 6, 3},
		DType: python.Uint8,
		Order: binary.NativeEndian,
		Data:  frameBytes(f.frameHeight, 6),
	}, nil
}

func (f *fakeEnv) snapshot() (renders, spaceCalls int, actions []any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renders, f.spaceCalls, append([]any(nil), f.actions...)
}

func (f *fakeEnv) SampleAction(context.Context) (any, error) { return int64(1), nil }

func (f *fakeEnv) ActionSpaceStr(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spaceCalls++
	return "Discrete(2)", nil
}

func (f *fakeEnv) ObservationSpaceStr(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spaceCalls++
	return "Box(-inf, inf, (4,), float32)", nil
}

func (f *fakeEnv) ActionKind() space.Kind { return space.KindDiscrete }

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := Dial(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "snappy"
		}
		t.Run(name, func(t *testing.T) {
			fe := newFakeEnv()
			srv := startServer(t, NewServer(fe))
			c := dial(t, Config{URL: wsURL(srv), Compress: compress})
			ctx := context.Background()

			for range 2 {
				if s, err := c.ActionSpaceStr(ctx); err != nil || s != "Discrete(2)" {
					t.Fatalf("ActionSpaceStr() = %q, %v", s, err)
				}
			}
			if s, err := c.ObservationSpaceStr(ctx); err != nil || s != "Box(-inf, inf, (4,), float32)" {
				t.Fatalf("ObservationSpaceStr() = %q, %v", s, err)
			}
			if _, calls, _ := fe.snapshot(); calls != 2 {
				t.Errorf("space strings fetched %d times, want 2", calls)
			}

			a, err := c.ActionSpaceSample(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if a != float64(1) {
				t.Errorf("ActionSpaceSample() = %#v", a)
			}

			info, obs, err := c.Reset(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if v, ok := info.Get("lives"); !ok || v != int64(3) {
				t.Errorf("info[lives] = %v", v)
			}
			assertFloats(t, obs.Float32s(), fe.resetObs)

			res, err := c.Step(ctx, a)
			if err != nil {
				t.Fatal(err)
			}
			if res.Reward != 1.0 || res.Done() {
				t.Errorf("Step() = %+v", res)
			}
			assertFloats(t, res.Observation.Float32s(), fe.stepObs)
			if _, _, actions := fe.snapshot(); len(actions) != 1 || actions[0] != int64(1) {
				t.Errorf("actions = %v", actions)
			}

			for range 2 {
				img, err := c.Render(ctx)
				if err != nil {
					t.Fatal(err)
				}
				if b := img.Bounds(); b.Dx() != 6 || b.Dy() != 4 {
					t.Errorf("bounds = %v", b)
				}
				rgb, ok := img.(*env.RGB)
				if !ok {
					t.Fatalf("image type %T", img)
				}
				if string(rgb.Pix) != string(frameBytes(4, 6)) {
					t.Error("frame bytes differ")
				}
			}
			if renders, _, _ := fe.snapshot(); renders != 2 {
				t.Errorf("renders = %d", renders)
			}
		})
	}
}

func assertFloats(t *testing.T, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

// readFrames reads n frames from a raw connection.
func readFrames(t *testing.T, ws *websocket.Conn, n int) []string {
	t.Helper()
	var out []string
	for range n {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		mt, msg, err := ws.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if mt == websocket.BinaryMessage {
			out = append(out, "<binary>")
			continue
		}
		out = append(out, string(msg))
	}
	return out
}

func send(t *testing.T, ws *websocket.Conn, frames ...string) {
	t.Helper()
	for _, f := range frames {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatal(err)
		}
	}
}

func TestServer_Frames(t *testing.T) {
	fe := newFakeEnv()
	srv := startServer(t, NewServer(fe))
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	send(t, ws, "4")
	got := readFrames(t, ws, 3)
	var meta metadataFrame
	if err := json.Unmarshal([]byte(got[0]), &meta); err != nil || meta.Metadata == nil {
		t.Fatalf("first frame %q is not metadata", got[0])
	}
	if m := meta.Metadata; m.DType != "float32" || m.ByteOrder != "<" || len(m.Shape) != 1 || m.Shape[0] != 4 {
		t.Errorf("metadata = %+v", m)
	}
	if got[1] != `{"info":{"lives":3}}` || got[2] != "<binary>" {
		t.Errorf("reset frames = %q", got)
	}

	// Same shape: no metadata.
	send(t, ws, "5", "0")
	got = readFrames(t, ws, 2)
	if got[0] != `{"reward":1,"terminated":false,"truncated":false,"info":{}}` || got[1] != "<binary>" {
		t.Errorf("step frames = %q", got)
	}

	send(t, ws, "6")
	if got = readFrames(t, ws, 2); !strings.HasPrefix(got[0], `{"metadata":{"shape":[4,6,3],"dtype":"uint8"`) {
		t.Errorf("render frames = %q", got)
	}
	send(t, ws, "6")
	if got = readFrames(t, ws, 1); got[0] != "<binary>" {
		t.Errorf("second render = %q", got)
	}

	// A changed frame shape resends metadata.
	fe.mu.Lock()
	fe.frameHeight = 2
	fe.mu.Unlock()
	send(t, ws, "6")
	if got = readFrames(t, ws, 2); !strings.HasPrefix(got[0], `{"metadata":{"shape":[2,6,3]`) {
		t.Errorf("render after resize = %q", got)
	}

	send(t, ws, "9")
	if got = readFrames(t, ws, 1); !strings.HasPrefix(got[0], `{"error":`) {
		t.Errorf("bad command reply = %q", got)
	}
	send(t, ws, "5", `"left"`)
	if got = readFrames(t, ws, 1); !strings.HasPrefix(got[0], `{"error":`) {
		t.Errorf("bad action reply = %q", got)
	}

	send(t, ws, "7")
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("after CLOSE: %v", err)
	}
}

func TestClient_RemoteError(t *testing.T) {
	fe := newFakeEnv()
	fe.stepErr = errors.IllegalState(errors.PhaseEnv, "step before reset")
	srv := startServer(t, NewServer(fe))
	c := dial(t, Config{URL: wsURL(srv)})
	ctx := context.Background()

	_, err := c.Step(ctx, 1)
	var remote *RemoteError
	if !stderrors.As(err, &remote) {
		t.Fatalf("Step() = %v, want remote error", err)
	}
	if remote.Command != CmdStep || !strings.Contains(remote.Message, "step before reset") {
		t.Errorf("remote error = %+v", remote)
	}

	// The connection survives an error reply.
	if _, _, err := c.Reset(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestClient_ResetAfterEncodeFailure(t *testing.T) {
	fe := newFakeEnv()
	fe.badInfo = 1
	srv := startServer(t, NewServer(fe))
	c := dial(t, Config{URL: wsURL(srv)})
	ctx := context.Background()

	_, _, err := c.Reset(ctx)
	var remote *RemoteError
	if !stderrors.As(err, &remote) || remote.Command != CmdReset {
		t.Fatalf("Reset() = %v, want remote error", err)
	}

	// The metadata never reached the client, so the next reply resends it.
	info, obs, err := c.Reset(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := info.Get("lives"); v != int64(3) {
		t.Errorf("info = %v", info)
	}
	assertFloats(t, obs.Float32s(), fe.resetObs)
}

// flaky drops the first n connections after reading one frame.
type flaky struct {
	next  http.Handler
	drops atomic.Int32
}

func (f *flaky) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.drops.Add(-1) < 0 {
		f.next.ServeHTTP(w, r)
		return
	}
	var up websocket.Upgrader
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ws.ReadMessage()
	ws.Close()
}

func TestClient_Reconnects(t *testing.T) {
	fe := newFakeEnv()
	h := &flaky{next: NewServer(fe)}
	h.drops.Store(1)
	srv := startServer(t, h)

	m := NewMetrics(nil, "client")
	c := dial(t, Config{URL: wsURL(srv), Backoff: time.Millisecond, Metrics: m})

	_, obs, err := c.Reset(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	assertFloats(t, obs.Float32s(), fe.resetObs)
	if n := testutil.ToFloat64(m.retries.WithLabelValues("RESET")); n != 1 {
		t.Errorf("retries = %v, want 1", n)
	}
	if n := testutil.ToFloat64(m.requests.WithLabelValues("RESET")); n != 1 {
		t.Errorf("requests = %v, want 1", n)
	}
}

func TestClient_StepNotRetried(t *testing.T) {
	fe := newFakeEnv()
	h := &flaky{next: NewServer(fe)}
	h.drops.Store(1)
	srv := startServer(t, h)
	c := dial(t, Config{URL: wsURL(srv), Backoff: time.Millisecond})

	if _, err := c.Step(context.Background(), 1); !errors.IsKind(err, errors.KindExhausted) {
		t.Fatalf("Step() = %v, want exhausted", err)
	}
	if _, _, actions := fe.snapshot(); len(actions) != 0 {
		t.Errorf("actions = %v", actions)
	}

	// The next request redials.
	if _, err := c.ActionSpaceStr(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestClient_Exhausted(t *testing.T) {
	srv := httptest.NewServer(NewServer(newFakeEnv()))
	c, err := Dial(context.Background(), Config{URL: wsURL(srv), MaxAttempts: 3, Backoff: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	srv.CloseClientConnections()
	srv.Close()

	start := time.Now()
	_, err = c.ObservationSpaceStr(context.Background())
	if !errors.IsKind(err, errors.KindExhausted) {
		t.Fatalf("ObservationSpaceStr() = %v, want exhausted", err)
	}
	if !strings.Contains(err.Error(), "after 3 attempt(s)") {
		t.Errorf("error = %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("retries took too long")
	}
}

func TestClient_ExhaustedCancelled(t *testing.T) {
	srv := httptest.NewServer(NewServer(newFakeEnv()))
	c, err := Dial(context.Background(), Config{URL: wsURL(srv), MaxAttempts: 5, Backoff: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	srv.CloseClientConnections()
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.ActionSpaceSample(ctx); !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ActionSpaceSample() = %v, want deadline exceeded", err)
	}
}

func TestClient_Close(t *testing.T) {
	fe := newFakeEnv()
	srv := startServer(t, NewServer(fe))
	c, err := Dial(context.Background(), Config{URL: wsURL(srv)})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if _, _, err := c.Reset(context.Background()); !errors.IsKind(err, errors.KindIllegalState) {
		t.Errorf("Reset after Close = %v", err)
	}
}

func TestDial_BadURL(t *testing.T) {
	if _, err := Dial(context.Background(), Config{URL: "ws://%zz"}); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Errorf("Dial() = %v", err)
	}
	if _, err := Dial(context.Background(), Config{URL: "ws://127.0.0.1:1/env", Timeout: 100 * time.Millisecond}); err == nil {
		t.Error("Dial to a closed port succeeded")
	}
}

func TestServer_Metrics(t *testing.T) {
	m := NewMetrics(nil, "server")
	srv := startServer(t, NewServer(newFakeEnv(), WithServerMetrics(m)))
	c := dial(t, Config{URL: wsURL(srv)})
	ctx := context.Background()

	if _, _, err := c.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Step(ctx, "bad"); err == nil {
		t.Fatal("Step with a string action succeeded")
	}
	if n := testutil.ToFloat64(m.requests.WithLabelValues("RESET")); n != 1 {
		t.Errorf("RESET requests = %v", n)
	}
	if n := testutil.ToFloat64(m.errors.WithLabelValues("STEP")); n != 1 {
		t.Errorf("STEP errors = %v", n)
	}
	if n := testutil.ToFloat64(m.connections); n != 1 {
		t.Errorf("connections = %v", n)
	}
}
