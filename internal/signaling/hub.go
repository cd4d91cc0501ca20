package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Connection is the hub's view of one endpoint. Send must not block.
type Connection interface {
	ID() string
	Send(msg *Message) error
	Close() error
}

// HubOptions tunes the dispatcher.
type HubOptions struct {
	// PinAttemptsPerMinute caps verify_pin per connection. Zero disables
	// the limit.
	PinAttemptsPerMinute int

	// PinAttemptBurst is how many checks may be made back to back before
	// the per-minute rate applies.
	PinAttemptBurst int

	Logger *slog.Logger
}

type session struct {
	conn Connection
	pins *rate.Limiter
}

// Hub is the central brain of the signaling server: it owns the registry
// and turns inbound events into registry operations and outbound events.
//
// Handlers for different connections run concurrently. Everything a handler
// does to a room, including the outbound enqueue, happens under that room's
// lock, so the ready check and the disconnect notification are atomic with
// the registry write that triggered them.
type Hub struct {
	rooms *Registry
	stats *Stats
	opts  HubOptions
	log   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewHub creates a new Hub instance.
func NewHub(opts HubOptions) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PinAttemptBurst <= 0 {
		opts.PinAttemptBurst = 1
	}
	return &Hub{
		rooms:    NewRegistry(),
		stats:    &Stats{},
		opts:     opts,
		log:      logger,
		sessions: make(map[string]*session),
	}
}

// Registry exposes the room table.
func (h *Hub) Registry() *Registry {
	return h.rooms
}

// Register makes conn addressable by the hub. The connection is not in any
// room until it sends join.
func (h *Hub) Register(conn Connection) {
	s := &session{conn: conn}
	if h.opts.PinAttemptsPerMinute > 0 {
		every := time.Minute / time.Duration(h.opts.PinAttemptsPerMinute)
		s.pins = rate.NewLimiter(rate.Every(every), h.opts.PinAttemptBurst)
	}

	h.mu.Lock()
	h.sessions[conn.ID()] = s
	h.mu.Unlock()

	h.stats.connected()
	h.log.Debug("connection registered", "conn_id", conn.ID())
}

// Unregister is the disconnect event. The connection is removed from every
// room; a survivor is told its peer left, an emptied room is destroyed.
func (h *Hub) Unregister(conn Connection) {
	h.mu.Lock()
	if _, ok := h.sessions[conn.ID()]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, conn.ID())
	h.mu.Unlock()

	h.rooms.RemoveConnection(conn.ID(), func(r *Room, rm Removal) {
		if rm.Transition.Closed() {
			h.stats.roomClosed()
			h.log.Info("room closed", "room", r.ID, "conn_id", conn.ID())
			return
		}
		h.log.Info("peer left room", "room", r.ID, "conn_id", conn.ID(), "roles", rm.Roles, "state", r.State())
		if rm.Transition.Unpaired() {
			h.log.Debug("room waiting for peer again", "room", r.ID, "survivors", rm.Survivors)
		}
		for _, role := range rm.Roles {
			msg, err := NewMessage(TypePeerDisconnected, PeerDisconnectedPayload{Room: r.ID, Role: role})
			if err != nil {
				h.log.Error("encode peer_disconnected", "err", err)
				continue
			}
			for _, id := range rm.Survivors {
				h.sendTo(id, msg)
			}
		}
	})

	h.log.Debug("connection unregistered", "conn_id", conn.ID())
}

// Handle decodes one inbound frame from conn and dispatches it. A malformed
// frame is logged and ignored; it never affects the connection or other
// connections.
func (h *Hub) Handle(conn Connection, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.stats.malformed()
		h.log.Warn("invalid message", "conn_id", conn.ID(), "err", err)
		return
	}
	h.Dispatch(conn, &msg)
}

// Dispatch routes an already decoded message.
func (h *Hub) Dispatch(conn Connection, msg *Message) {
	var err error
	switch msg.Type {
	case TypeJoin:
		err = h.handleJoin(conn, msg.Payload)
	case TypeVerifyPin:
		err = h.handleVerifyPin(conn, msg.Payload)
	case TypeSignal:
		err = h.handleSignal(conn, msg.Payload)
	default:
		err = errors.New("unknown message type")
	}
	if err != nil {
		h.stats.malformed()
		h.log.Warn("event rejected", "conn_id", conn.ID(), "type", msg.Type, "err", err)
	}
}

func (h *Hub) handleJoin(conn Connection, raw json.RawMessage) error {
	p, err := decodeJoin(raw)
	if err != nil {
		return err
	}
	h.stats.joined()

	h.rooms.Join(p.Room, p.Role, conn.ID(), p.Pin, func(r *Room, res JoinResult) {
		h.log.Info("joined room", "room", r.ID, "role", p.Role, "conn_id", conn.ID(), "state", r.State())
		if res.Evicted != "" {
			// Last writer wins; the evicted connection is not told.
			h.stats.evicted()
			h.log.Warn("role slot taken over", "room", r.ID, "role", p.Role, "evicted_conn_id", res.Evicted, "conn_id", conn.ID())
		}
		if res.SecretSet {
			h.log.Info("room pin set", "room", r.ID)
		}
		if !res.Transition.Paired() {
			return
		}

		msg, err := NewMessage(TypeReady, ReadyPayload{Room: r.ID})
		if err != nil {
			h.log.Error("encode ready", "err", err)
			return
		}
		for _, id := range r.Occupants() {
			h.sendTo(id, msg)
		}
		h.stats.ready()
		h.log.Info("room ready", "room", r.ID)
	})
	return nil
}

func (h *Hub) handleVerifyPin(conn Connection, raw json.RawMessage) error {
	p, err := decodeVerifyPin(raw)
	if err != nil {
		return err
	}

	ok := false
	switch {
	case !h.allowPinAttempt(conn.ID()):
		h.stats.pinLimited()
		h.log.Warn("pin check rate limited", "room", p.Room, "conn_id", conn.ID())
	default:
		h.rooms.WithRoom(p.Room, false, func(r *Room) {
			ok = r.CheckPin(*p.Pin)
		})
	}
	h.stats.pinChecked(ok)
	h.log.Info("pin check", "room", p.Room, "conn_id", conn.ID(), "ok", ok)

	msg, err := NewMessage(TypePinVerified, PinVerifiedPayload{OK: ok})
	if err != nil {
		return err
	}
	h.sendTo(conn.ID(), msg)
	return nil
}

func (h *Hub) handleSignal(conn Connection, raw json.RawMessage) error {
	p, err := decodeSignal(raw)
	if err != nil {
		return err
	}
	target := p.Role.Opposite()

	var delivered bool
	h.rooms.WithRoom(p.Room, false, func(r *Room) {
		peer, ok := r.Occupant(target)
		if !ok {
			return
		}
		msg, err := NewMessage(TypeSignal, RelayedSignal{Data: p.Data, From: p.Role})
		if err != nil {
			h.log.Error("encode signal", "err", err)
			return
		}
		delivered = h.sendTo(peer, msg)
	})

	if !delivered {
		h.stats.signalDropped()
		h.log.Debug("signal dropped", "room", p.Room, "from", p.Role, "to", target, "conn_id", conn.ID())
		return nil
	}
	h.stats.signalRelayed()
	h.log.Debug("signal relayed", append([]any{"room", p.Room, "from", p.Role, "to", target}, DescribeSignal(p.Data)...)...)
	return nil
}

func (h *Hub) allowPinAttempt(connID string) bool {
	h.mu.RLock()
	s, ok := h.sessions[connID]
	h.mu.RUnlock()
	if !ok || s.pins == nil {
		return true
	}
	return s.pins.Allow()
}

// sendTo enqueues msg for connection id. It reports whether the frame was
// accepted by the connection.
func (h *Hub) sendTo(id string, msg *Message) bool {
	h.mu.RLock()
	s, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok {
		h.log.Debug("send to unknown connection", "conn_id", id, "type", msg.Type)
		return false
	}
	if err := s.conn.Send(msg); err != nil {
		h.log.Warn("send failed", "conn_id", id, "type", msg.Type, "err", err)
		return false
	}
	return true
}

// Stats returns a point-in-time view of the hub.
func (h *Hub) Stats() Snapshot {
	h.mu.RLock()
	conns := len(h.sessions)
	h.mu.RUnlock()

	waiting, paired := h.rooms.Snapshot()
	snap := h.stats.snapshot()
	snap.Rooms = waiting + paired
	snap.Waiting = waiting
	snap.Paired = paired
	snap.Connections = conns
	return snap
}

// Close drops every connection. Each connection's own teardown runs
// Unregister, so rooms drain the normal way.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]Connection, 0, len(h.sessions))
	for _, s := range h.sessions {
		conns = append(conns, s.conn)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.Close(); err != nil {
			h.log.Debug("close connection", "conn_id", c.ID(), "err", err)
		}
	}
}
