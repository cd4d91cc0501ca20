package signaling

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	DefaultPingInterval   = 25 * time.Second
	DefaultPingTimeout    = 60 * time.Second
	DefaultMaxMessageSize = 64 * 1024 // enough for SDP with a full candidate list
	DefaultSendBuffer     = 256
)

var (
	ErrSendBufferFull = errors.New("send buffer full")
	ErrClientClosed   = errors.New("client closed")
)

// ClientOptions holds the keepalive and sizing knobs of a connection.
type ClientOptions struct {
	// PingInterval is how often a ping is written.
	PingInterval time.Duration

	// PingTimeout is how long the connection may stay silent (no frame and
	// no pong) before it is treated as gone.
	PingTimeout time.Duration

	MaxMessageSize int64
	SendBuffer     int
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = DefaultPingTimeout
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	return o
}

// Client is a wrapper for a single websocket connection (an endpoint).
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	opts ClientOptions
	log  *slog.Logger

	// send is a buffered channel for all outbound messages. A separate
	// goroutine (WritePump) drains it onto the websocket.
	send chan *Message

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient wraps conn. The caller registers it and starts both pumps.
func NewClient(id string, hub *Hub, conn *websocket.Conn, opts ClientOptions) *Client {
	opts = opts.withDefaults()
	return &Client{
		id:   id,
		hub:  hub,
		conn: conn,
		opts: opts,
		log:  hub.log.With("conn_id", id, "remote_addr", conn.RemoteAddr().String()),
		send: make(chan *Message, opts.SendBuffer),
		done: make(chan struct{}),
	}
}

// ID returns the server-assigned connection ID.
func (c *Client) ID() string { return c.id }

// Send queues msg without blocking.
func (c *Client) Send(msg *Message) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which sends a close frame and closes the
// socket. That in turn ends ReadPump and unregisters the client.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// Serve registers the client and runs both pumps; it returns when the read
// side ends.
func (c *Client) Serve() {
	c.hub.Register(c)
	go c.WritePump()
	c.ReadPump()
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	// When this function exits (e.g., connection closes), unregister the client
	defer func() {
		c.hub.Unregister(c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PingTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PingTimeout))
	})

	c.log.Info("endpoint connected")
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("read error", "err", err)
			}
			c.log.Info("endpoint disconnected")
			return
		}
		// Any inbound frame proves liveness.
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PingTimeout))

		c.hub.Handle(c, data)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.PingInterval)

	// When this function exits, stop the ticker and close the connection
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				c.log.Warn("write error", "type", message.Type, "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
				time.Now().Add(writeWait))
			return
		}
	}
}
