package endpoint

import (
	"encoding/json"
	"log/slog"

	"github.com/BioHazard786/deskrelay/internal/signaling"
)

// Handler routes incoming relay events to typed channels. All channels are
// closed once the connection ends.
type Handler struct {
	client           *Client
	Ready            chan signaling.ReadyPayload
	PinVerified      chan bool
	Signal           chan *signaling.RelayedSignal
	PeerDisconnected chan signaling.PeerDisconnectedPayload
	Unknown          chan *signaling.Message
}

// NewHandler creates a new message handler.
func NewHandler(client *Client) *Handler {
	return &Handler{
		client:           client,
		Ready:            make(chan signaling.ReadyPayload, 4),
		PinVerified:      make(chan bool, 4),
		Signal:           make(chan *signaling.RelayedSignal, 64),
		PeerDisconnected: make(chan signaling.PeerDisconnectedPayload, 4),
		Unknown:          make(chan *signaling.Message, 4),
	}
}

// Start begins listening to incoming messages and routing them. It returns
// when the connection ends.
func (h *Handler) Start() {
	defer h.close()

	for msg := range h.client.Incoming() {
		switch msg.Type {
		case signaling.TypeReady:
			var p signaling.ReadyPayload
			decode(msg, &p)
			h.deliverReady(p)

		case signaling.TypePinVerified:
			var p signaling.PinVerifiedPayload
			decode(msg, &p)
			h.deliverPin(p.OK)

		case signaling.TypeSignal:
			var p signaling.RelayedSignal
			if !decode(msg, &p) {
				continue
			}
			h.deliverSignal(&p)

		case signaling.TypePeerDisconnected:
			var p signaling.PeerDisconnectedPayload
			decode(msg, &p)
			h.deliverPeerDisconnected(p)

		default:
			select {
			case h.Unknown <- msg:
			default:
				slog.Debug("unhandled relay event", "type", msg.Type)
			}
		}
	}
}

func (h *Handler) deliverReady(p signaling.ReadyPayload) {
	select {
	case h.Ready <- p:
	case <-h.client.done:
	}
}

func (h *Handler) deliverPin(ok bool) {
	select {
	case h.PinVerified <- ok:
	case <-h.client.done:
	}
}

func (h *Handler) deliverSignal(p *signaling.RelayedSignal) {
	select {
	case h.Signal <- p:
	case <-h.client.done:
	}
}

func (h *Handler) deliverPeerDisconnected(p signaling.PeerDisconnectedPayload) {
	select {
	case h.PeerDisconnected <- p:
	case <-h.client.done:
	}
}

func (h *Handler) close() {
	close(h.Ready)
	close(h.PinVerified)
	close(h.Signal)
	close(h.PeerDisconnected)
	close(h.Unknown)
}

func decode(msg *signaling.Message, v any) bool {
	if len(msg.Payload) == 0 {
		return true
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		slog.Warn("failed to parse relay event", "type", msg.Type, "err", err)
		return false
	}
	return true
}
