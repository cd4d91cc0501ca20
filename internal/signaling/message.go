package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Message defines the structure for all C2S (Client to Server)
// and S2C (Server to Client) websocket frames.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants.
const (
	TypeJoin      = "join"
	TypeVerifyPin = "verify_pin"
	TypeSignal    = "signal"

	TypeReady            = "ready"
	TypePinVerified      = "pin_verified"
	TypePeerDisconnected = "peer_disconnected"
)

// Role is the side of a room a connection occupies.
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleHost || r == RoleClient
}

// Opposite returns the other role of the pair.
func (r Role) Opposite() Role {
	if r == RoleHost {
		return RoleClient
	}
	return RoleHost
}

// JoinPayload is sent by an endpoint to take a role in a room.
// Pin is only honoured for the host.
type JoinPayload struct {
	Room string  `json:"room"`
	Role Role    `json:"role"`
	Pin  *string `json:"pin,omitempty"`
}

// VerifyPinPayload asks the relay to check a pin against the room secret.
type VerifyPinPayload struct {
	Room string  `json:"room"`
	Pin  *string `json:"pin"`
}

// SignalPayload carries an opaque handshake blob from one role to the other.
type SignalPayload struct {
	Room string          `json:"room"`
	Role Role            `json:"role"`
	Data json.RawMessage `json:"data"`
}

// RelayedSignal is what the receiving side of a signal gets.
type RelayedSignal struct {
	Data json.RawMessage `json:"data"`
	From Role            `json:"from"`
}

// PinVerifiedPayload answers a verify_pin request.
type PinVerifiedPayload struct {
	OK bool `json:"ok"`
}

// ReadyPayload is broadcast once both roles of a room are occupied.
type ReadyPayload struct {
	Room string `json:"room"`
}

// PeerDisconnectedPayload tells the survivor which role went away.
type PeerDisconnectedPayload struct {
	Room string `json:"room"`
	Role Role   `json:"role"`
}

var (
	ErrMissingRoom = errors.New("missing room")
	ErrInvalidRole = errors.New("invalid role")
	ErrMissingPin  = errors.New("missing pin")
	ErrMissingData = errors.New("missing data")
)

// NormalizeRoomID trims surrounding whitespace; no other format rules apply.
func NormalizeRoomID(id string) string {
	return strings.TrimSpace(id)
}

// NewMessage builds an envelope around payload. A nil payload leaves the
// payload field out of the frame.
func NewMessage(typ string, payload any) (*Message, error) {
	msg := &Message{Type: typ}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	msg.Payload = raw
	return msg, nil
}

func decodeJoin(raw json.RawMessage) (JoinPayload, error) {
	var p JoinPayload
	if err := decodePayload(raw, &p); err != nil {
		return p, err
	}
	p.Room = NormalizeRoomID(p.Room)
	if p.Room == "" {
		return p, ErrMissingRoom
	}
	if !p.Role.Valid() {
		return p, fmt.Errorf("%w: %q", ErrInvalidRole, p.Role)
	}
	return p, nil
}

func decodeVerifyPin(raw json.RawMessage) (VerifyPinPayload, error) {
	var p VerifyPinPayload
	if err := decodePayload(raw, &p); err != nil {
		return p, err
	}
	p.Room = NormalizeRoomID(p.Room)
	if p.Room == "" {
		return p, ErrMissingRoom
	}
	if p.Pin == nil {
		return p, ErrMissingPin
	}
	return p, nil
}

func decodeSignal(raw json.RawMessage) (SignalPayload, error) {
	var p SignalPayload
	if err := decodePayload(raw, &p); err != nil {
		return p, err
	}
	p.Room = NormalizeRoomID(p.Room)
	if p.Room == "" {
		return p, ErrMissingRoom
	}
	if !p.Role.Valid() {
		return p, fmt.Errorf("%w: %q", ErrInvalidRole, p.Role)
	}
	if len(p.Data) == 0 {
		return p, ErrMissingData
	}
	return p, nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
