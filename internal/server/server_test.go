package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const receiveTimeout = 2 * time.Second

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *httptest.Server) {
	t.Helper()

	cfg := NewConfig()
	cfg.SendTimeout = time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	srv := New(cfg, zerolog.Nop())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		_ = srv.Hub().Shutdown(time.Second)
		ts.Close()
	})
	return srv, ts
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, header)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, srv *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return srv.Hub().Registry().Len() == n },
		receiveTimeout, 5*time.Millisecond, "expected %d registered clients", n)
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(receiveTimeout)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, messageType)
	return string(data)
}

func expectNoMessage(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected message %q", data)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	require.True(t, netErr.Timeout())
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
	assert.Zero(t, srv.Hub().Registry().Len())
}

func TestNonUpgradeRequestGetsStatus(t *testing.T) {
	t.Parallel()

	srv, ts := newTestServer(t, nil)

	for _, path := range []string{"/", "/ws"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, statusBody, string(body), path)
		assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"), path)
	}
	assert.Zero(t, srv.Hub().Registry().Len())
}

func TestRelayRejectsNonGet(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/ws", "text/plain", strings.NewReader("hi"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestTestPage(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/test")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "new WebSocket(")
}

func TestBroadcastScenarioWithAbruptDisconnect(t *testing.T) {
	t.Parallel()

	srv, ts := newTestServer(t, nil)
	url := wsURL(ts, "/ws")

	x := dial(t, url, nil)
	y := dial(t, url, nil)
	z := dial(t, url, nil)
	waitForClients(t, srv, 3)

	require.NoError(t, x.WriteMessage(websocket.TextMessage, []byte("hello")))
	assert.Equal(t, "hello", readText(t, y))
	assert.Equal(t, "hello", readText(t, z))

	// Reset Y's socket without a close handshake.
	require.NoError(t, y.UnderlyingConn().Close())
	waitForClients(t, srv, 2)

	require.NoError(t, z.WriteMessage(websocket.TextMessage, []byte("still here")))
	// X's first frame being "still here" also proves "hello" was not echoed.
	assert.Equal(t, "still here", readText(t, x))
	expectNoMessage(t, z, 200*time.Millisecond)

	for _, conn := range srv.Hub().Registry().Snapshot(nil) {
		assert.NotEqual(t, "", conn.ID())
	}
	assert.Equal(t, 2, srv.Hub().Registry().Len())
}

func TestRootPathAlsoRelays(t *testing.T) {
	t.Parallel()

	srv, ts := newTestServer(t, nil)

	a := dial(t, wsURL(ts, "/"), nil)
	b := dial(t, wsURL(ts, "/ws"), nil)
	waitForClients(t, srv, 2)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("from root")))
	assert.Equal(t, "from root", readText(t, b))
}

func TestRoundTripIsByteIdentical(t *testing.T) {
	t.Parallel()

	srv, ts := newTestServer(t, nil)
	url := wsURL(ts, "/ws")

	sender := dial(t, url, nil)
	receivers := []*websocket.Conn{dial(t, url, nil), dial(t, url, nil)}
	waitForClients(t, srv, 3)

	payloads := []string{
		"plain",
		"  leading and trailing  ",
		"multi\nline\r\ntext",
		`{"content":"looks like json"}`,
		"emoji 🚀 and ñ and 中文",
		strings.Repeat("x", 64*1024),
		"",
	}
	for _, p := range payloads {
		require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte(p)))
	}
	for _, r := range receivers {
		for _, want := range payloads {
			assert.Equal(t, want, readText(t, r))
		}
	}
}

func TestDisallowedOriginIsRejected(t *testing.T) {
	t.Parallel()

	srv, ts := newTestServer(t, func(cfg *Config) {
		cfg.AllowedOrigins = []string{"http://allowed.example"}
	})
	url := wsURL(ts, "/ws")

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, srv.Hub().Registry().Len())

	header.Set("Origin", "HTTP://Allowed.Example")
	dial(t, url, header)
	waitForClients(t, srv, 1)
}

func TestServeShutdownClosesClients(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	cfg.ShutdownTimeout = 2 * time.Second
	srv := New(cfg, zerolog.Nop())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()

	url := "ws://" + listener.Addr().String() + "/ws"
	require.Eventually(t, func() bool {
		conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if resp != nil {
			resp.Body.Close()
		}
		if err != nil {
			return false
		}
		t.Cleanup(func() { _ = conn.Close() })
		return true
	}, receiveTimeout, 10*time.Millisecond)
	waitForClients(t, srv, 1)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Zero(t, srv.Hub().Registry().Len())
}

// stuckConn is a relay connection whose handler ignores Close until
// release is closed.
type stuckConn struct {
	release chan struct{}
}

func (c *stuckConn) ID() string                         { return "stuck" }
func (c *stuckConn) Addr() string                       { return "stuck" }
func (c *stuckConn) Send(context.Context, []byte) error { return nil }
func (c *stuckConn) Close() error                       { return nil }

func (c *stuckConn) Receive() ([]byte, error) {
	<-c.release
	return nil, io.EOF
}

func TestServeShutdownSharesOneDeadline(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	cfg.ShutdownTimeout = 300 * time.Millisecond
	srv := New(cfg, zerolog.Nop())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()

	// A connection that never sends a request keeps HTTP shutdown waiting.
	idle, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idle.Close() })

	stuck := &stuckConn{release: make(chan struct{})}
	t.Cleanup(func() { close(stuck.release) })
	go func() { _ = srv.Hub().Serve(context.Background(), stuck) }()
	waitForClients(t, srv, 1)
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Less(t, time.Since(start), 550*time.Millisecond)
}
