package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/deskrelay/internal/config"
	"github.com/BioHazard786/deskrelay/internal/endpoint"
	"github.com/BioHazard786/deskrelay/internal/signaling"
)

func testConfig() config.Config {
	return config.Config{
		Port:            config.DefaultPort,
		PingInterval:    config.DefaultPingInterval,
		PingTimeout:     config.DefaultPingTimeout,
		MaxMessageBytes: config.DefaultMaxMessageBytes,
		SendBuffer:      config.DefaultSendBuffer,
		PinAttemptBurst: config.DefaultPinAttemptBurst,
		ShutdownTimeout: time.Second,
	}
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *httptest.Server) {
	t.Helper()
	s := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Hub().Close()
		ts.Close()
	})
	return s, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, ctx context.Context, ts *httptest.Server) *endpoint.Session {
	t.Helper()
	sess, err := endpoint.Dial(ctx, wsURL(ts))
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	return sess
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	for _, path := range []string{"/", "/health"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + path)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "OK", string(body))
		})
	}

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEndToEnd(t *testing.T) {
	s, ts := newTestServer(t, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := dial(t, ctx, ts)
	b := dial(t, ctx, ts)

	pin := "1234"
	require.NoError(t, a.Join("42", signaling.RoleHost, &pin))
	require.NoError(t, b.Join("42", signaling.RoleClient, nil))
	require.NoError(t, a.WaitReady(ctx))
	require.NoError(t, b.WaitReady(ctx))

	ok, err := b.VerifyPin(ctx, "42", "1234")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.VerifyPin(ctx, "42", "0000")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.SendSignal(map[string]string{"sdp": "v=0...", "type": "offer"}))
	sig, err := b.NextSignal(ctx)
	require.NoError(t, err)
	assert.Equal(t, signaling.RoleHost, sig.From)
	assert.JSONEq(t, `{"sdp":"v=0...","type":"offer"}`, string(sig.Data))

	require.NoError(t, b.SendSignal(map[string]any{"candidate": nil}))
	sig, err = a.NextSignal(ctx)
	require.NoError(t, err)
	assert.Equal(t, signaling.RoleClient, sig.From)

	b.Close()
	_, err = a.NextSignal(ctx)
	assert.ErrorIs(t, err, endpoint.ErrPeerDisconnected)

	assert.Eventually(t, func() bool {
		st := s.Hub().Stats()
		return st.Connections == 1 && st.Waiting == 1
	}, 2*time.Second, 10*time.Millisecond)

	a.Close()
	assert.Eventually(t, func() bool {
		return !s.Hub().Registry().Has("42")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStatsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	host := dial(t, ctx, ts)
	require.NoError(t, host.Join("room", signaling.RoleHost, nil))

	var snap signaling.Snapshot
	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/stats")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.Header.Get("Content-Type") != "application/json" {
			return false
		}
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return false
		}
		return snap.Waiting == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, snap.Rooms)
	assert.Equal(t, 1, snap.Connections)
	assert.Equal(t, uint64(1), snap.Joins)
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	s, ts := newTestServer(t, testConfig())

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"verify_pin","payload":{"room":"x","pin":"1"}}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg signaling.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, signaling.TypePinVerified, msg.Type)
	assert.JSONEq(t, `{"ok":false}`, string(msg.Payload))
	assert.Equal(t, uint64(1), s.Hub().Stats().MalformedEvents)
}

func TestAllowedOrigins(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://desk.example.com/"}
	_, ts := newTestServer(t, cfg)

	tests := []struct {
		name   string
		origin string
		wantOK bool
	}{
		{name: "no origin header", origin: "", wantOK: true},
		{name: "allowed origin", origin: "https://desk.example.com", wantOK: true},
		{name: "allowed origin any case", origin: "HTTPS://Desk.Example.com", wantOK: true},
		{name: "other origin", origin: "https://evil.example.com", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
			if tt.wantOK {
				require.NoError(t, err)
				conn.Close()
				return
			}
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg := testConfig()
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	s := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Second) }()

	url := "ws://" + ln.Addr().String() + "/ws"
	var sess *endpoint.Session
	require.Eventually(t, func() bool {
		dctx, dcancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer dcancel()
		sess, err = endpoint.Dial(dctx, url)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer sess.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// Shutdown closes open websockets too.
	select {
	case _, open := <-sess.Handler.Ready:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("websocket not closed on shutdown")
	}
}

type brokenWriter struct {
	header http.Header
}

func (w *brokenWriter) Header() http.Header {
	if w.header == nil {
		w.header = http.Header{}
	}
	return w.header
}

func (w *brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset") }
func (w *brokenWriter) WriteHeader(int)           {}

func TestHandlersLogWriteFailures(t *testing.T) {
	hub := signaling.NewHub(signaling.HubOptions{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	tests := []struct {
		name    string
		handler func(*slog.Logger) http.HandlerFunc
		want    string
	}{
		{name: "health", handler: healthHandler, want: "failed to write health response"},
		{
			name:    "stats",
			handler: func(l *slog.Logger) http.HandlerFunc { return statsHandler(hub, l) },
			want:    "failed to write stats response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.handler(logger)(&brokenWriter{}, req)

			assert.Contains(t, buf.String(), tt.want)
			assert.Contains(t, buf.String(), "connection reset")
		})
	}
}
