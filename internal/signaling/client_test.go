package signaling

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsPair upgrades one connection on a test server and hands the server side
// to onConn.
func wsPair(t *testing.T, onConn func(*websocket.Conn)) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		onConn(conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })
	return peer
}

func TestClient_SendBufferAndClose(t *testing.T) {
	hub := newTestHub(HubOptions{})
	clients := make(chan *Client, 1)
	wsPair(t, func(conn *websocket.Conn) {
		clients <- NewClient("c1", hub, conn, ClientOptions{SendBuffer: 1})
	})
	c := <-clients

	msg, err := NewMessage(TypeReady, ReadyPayload{Room: "r"})
	require.NoError(t, err)

	assert.NoError(t, c.Send(msg))
	assert.ErrorIs(t, c.Send(msg), ErrSendBufferFull)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send(msg), ErrClientClosed)
	assert.NoError(t, c.Close(), "close is idempotent")
}

func TestClient_SilentPeerIsDropped(t *testing.T) {
	hub := newTestHub(HubOptions{})
	opts := ClientOptions{PingInterval: 100 * time.Millisecond, PingTimeout: 400 * time.Millisecond}
	peer := wsPair(t, func(conn *websocket.Conn) {
		go NewClient("silent", hub, conn, opts).Serve()
	})

	require.Eventually(t, func() bool { return hub.Stats().Connections == 1 }, time.Second, 10*time.Millisecond)

	msg := `{"type":"join","payload":{"room":"r","role":"host"}}`
	require.NoError(t, peer.WriteMessage(websocket.TextMessage, []byte(msg)))
	require.Eventually(t, func() bool { return hub.Registry().Has("r") }, time.Second, 10*time.Millisecond)

	// The peer never reads, so pings go unanswered and the read deadline
	// expires.
	assert.Eventually(t, func() bool {
		return hub.Stats().Connections == 0 && !hub.Registry().Has("r")
	}, 3*time.Second, 20*time.Millisecond)
}

func TestClient_OversizedFrameDisconnects(t *testing.T) {
	hub := newTestHub(HubOptions{})
	peer := wsPair(t, func(conn *websocket.Conn) {
		go NewClient("big", hub, conn, ClientOptions{MaxMessageSize: 128}).Serve()
	})
	require.Eventually(t, func() bool { return hub.Stats().Connections == 1 }, time.Second, 10*time.Millisecond)

	big := `{"type":"signal","payload":{"room":"r","role":"host","data":"` + strings.Repeat("x", 512) + `"}}`
	require.NoError(t, peer.WriteMessage(websocket.TextMessage, []byte(big)))

	assert.Eventually(t, func() bool { return hub.Stats().Connections == 0 }, 3*time.Second, 20*time.Millisecond)
}
