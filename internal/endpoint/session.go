package endpoint

import (
	"context"
	"encoding/json"

	"github.com/BioHazard786/deskrelay/internal/signaling"
)

// Session is one endpoint's conversation with the relay: a connection plus
// the room and role it joined.
type Session struct {
	Client  *Client
	Handler *Handler

	room string
	role signaling.Role
}

// Dial connects to the relay websocket at serverURL and starts routing events.
func Dial(ctx context.Context, serverURL string) (*Session, error) {
	client := NewClient(serverURL)
	if err := client.Connect(ctx); err != nil {
		return nil, NewError("connect to relay", err)
	}

	handler := NewHandler(client)
	go handler.Start()

	return &Session{Client: client, Handler: handler}, nil
}

// Room returns the joined room, or "" before Join.
func (s *Session) Room() string { return s.room }

// Role returns the joined role.
func (s *Session) Role() signaling.Role { return s.role }

// Join takes role in room. The pin is only meaningful for a host.
func (s *Session) Join(room string, role signaling.Role, pin *string) error {
	if err := s.Client.Send(signaling.TypeJoin, signaling.JoinPayload{Room: room, Role: role, Pin: pin}); err != nil {
		return NewError("join", err)
	}
	s.room = signaling.NormalizeRoomID(room)
	s.role = role
	return nil
}

// VerifyPin asks the relay whether pin matches the room secret and waits
// for the answer.
func (s *Session) VerifyPin(ctx context.Context, room, pin string) (bool, error) {
	if err := s.Client.Send(signaling.TypeVerifyPin, signaling.VerifyPinPayload{Room: room, Pin: &pin}); err != nil {
		return false, NewError("verify pin", err)
	}
	select {
	case ok, open := <-s.Handler.PinVerified:
		if !open {
			return false, NewError("verify pin", ErrConnectionClosed)
		}
		return ok, nil
	case <-ctx.Done():
		return false, NewError("verify pin", ctx.Err())
	}
}

// WaitReady blocks until the relay reports both roles present.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case _, open := <-s.Handler.Ready:
		if !open {
			return NewError("wait for peer", ErrConnectionClosed)
		}
		return nil
	case p, open := <-s.Handler.PeerDisconnected:
		if !open {
			return NewError("wait for peer", ErrConnectionClosed)
		}
		return WrapError("wait for peer", ErrPeerDisconnected, string(p.Role))
	case <-ctx.Done():
		return NewError("wait for peer", ctx.Err())
	}
}

// SendSignal relays data to the other role of the joined room.
func (s *Session) SendSignal(data any) error {
	if s.room == "" {
		return NewError("send signal", ErrNotJoined)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return NewError("encode signal", err)
	}
	if err := s.Client.Send(signaling.TypeSignal, signaling.SignalPayload{Room: s.room, Role: s.role, Data: raw}); err != nil {
		return NewError("send signal", err)
	}
	return nil
}

// NextSignal waits for the next relayed signal.
func (s *Session) NextSignal(ctx context.Context) (*signaling.RelayedSignal, error) {
	select {
	case sig, open := <-s.Handler.Signal:
		if !open {
			return nil, NewError("receive signal", ErrConnectionClosed)
		}
		return sig, nil
	case p, open := <-s.Handler.PeerDisconnected:
		if !open {
			return nil, NewError("receive signal", ErrConnectionClosed)
		}
		return nil, WrapError("receive signal", ErrPeerDisconnected, string(p.Role))
	case <-ctx.Done():
		return nil, NewError("receive signal", ctx.Err())
	}
}

// Close ends the connection.
func (s *Session) Close() {
	s.Client.Close()
}
