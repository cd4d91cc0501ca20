package probe

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Data channel message types.
const (
	MessageTypePing = "ping"
	MessageTypePong = "pong"
)

// Message is the envelope for everything sent on the probe data channel.
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// PingPayload is sent by the host once the channel opens. SentAt is the
// host's clock in unix nanoseconds.
type PingPayload struct {
	Seq    uint32 `msgpack:"seq"`
	SentAt int64  `msgpack:"sentAt"`
}

// PongPayload echoes the ping it answers.
type PongPayload struct {
	Seq    uint32 `msgpack:"seq"`
	SentAt int64  `msgpack:"sentAt"`
}

// NewMessage creates a new Message with the given type and payload
func NewMessage(t string, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: b}, nil
}

// DecodePayload decodes the message payload into the provided struct
func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

func encodeMessage(t string, payload any) ([]byte, error) {
	msg, err := NewMessage(t, payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	data, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return data, nil
}

func decodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrUnexpectedMessage, err)
	}
	return msg, nil
}

func newPing(seq uint32, now time.Time) ([]byte, error) {
	return encodeMessage(MessageTypePing, PingPayload{Seq: seq, SentAt: now.UnixNano()})
}

// pongFor answers a ping frame. ok is false for any other message type.
func pongFor(data []byte) (reply []byte, ok bool, err error) {
	msg, err := decodeMessage(data)
	if err != nil {
		return nil, false, err
	}
	if msg.Type != MessageTypePing {
		return nil, false, nil
	}
	var ping PingPayload
	if err := msg.DecodePayload(&ping); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUnexpectedMessage, err)
	}
	reply, err = encodeMessage(MessageTypePong, PongPayload(ping))
	if err != nil {
		return nil, false, err
	}
	return reply, true, nil
}

// rttFrom reads the pong for seq and returns how long ago its ping left.
// ok is false for other message types and for pongs to another ping.
func rttFrom(data []byte, seq uint32, now time.Time) (rtt time.Duration, ok bool, err error) {
	msg, err := decodeMessage(data)
	if err != nil {
		return 0, false, err
	}
	if msg.Type != MessageTypePong {
		return 0, false, nil
	}
	var pong PongPayload
	if err := msg.DecodePayload(&pong); err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrUnexpectedMessage, err)
	}
	if pong.Seq != seq {
		return 0, false, nil
	}
	return now.Sub(time.Unix(0, pong.SentAt)), true, nil
}
