package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/deskrelay/internal/endpoint"
	"github.com/BioHazard786/deskrelay/internal/signaling"
)

const (
	channelLabel = "deskrelay-probe"
	pingSeq      = 1
)

var (
	ErrICEFailed         = errors.New("ICE connection failed")
	ErrUnexpectedMessage = errors.New("unexpected data channel message")
)

// Options configures a probe run.
type Options struct {
	STUNServers []string

	// IncludeLoopback also offers 127.0.0.1 candidates, for two probes on
	// one machine without a usable network interface.
	IncludeLoopback bool

	Logger *slog.Logger
}

// Result is what a successful probe measured.
type Result struct {
	// RTT is the data channel round trip seen by the host. Zero on the
	// client side.
	RTT time.Duration

	// SignalsSent and SignalsReceived count handshake blobs that went
	// through the relay.
	SignalsSent     int
	SignalsReceived int
}

// Run performs a WebRTC data channel handshake with the peer over sess,
// which must already be joined and ready. The host offers, the client
// answers; once the channel opens the host sends a ping the client echoes.
func Run(ctx context.Context, sess *endpoint.Session, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("room", sess.Room(), "role", sess.Role())
	opts.Logger = logger

	pc, err := NewPeerConnection(opts)
	if err != nil {
		return Result{}, err
	}
	defer pc.Close()

	p := &prober{
		sess:   sess,
		pc:     pc,
		log:    logger,
		result: make(chan outcome, 1),
	}
	p.watchICE()

	switch sess.Role() {
	case signaling.RoleHost:
		err = p.offer()
	case signaling.RoleClient:
		p.answerDataChannel()
	default:
		err = endpoint.NewError("probe", endpoint.ErrNotJoined)
	}
	if err != nil {
		return Result{}, err
	}

	go p.signalLoop(ctx)

	select {
	case out := <-p.result:
		p.mu.Lock()
		out.res.SignalsSent, out.res.SignalsReceived = p.sent, p.received
		p.mu.Unlock()
		return out.res, out.err
	case <-ctx.Done():
		return Result{}, endpoint.NewError("probe", ctx.Err())
	}
}

type outcome struct {
	res Result
	err error
}

type prober struct {
	sess    *endpoint.Session
	pc      *pion.PeerConnection
	log     *slog.Logger
	pending candidateQueue

	mu       sync.Mutex
	sent     int
	received int

	// echoed is set once the client answered the ping; from then on the
	// host going away is the expected end of the probe.
	echoed atomic.Bool

	once   sync.Once
	result chan outcome
}

func (p *prober) finish(res Result, err error) {
	p.once.Do(func() {
		p.result <- outcome{res: res, err: err}
	})
}

func (p *prober) signal(data any) {
	if err := p.sess.SendSignal(data); err != nil {
		p.finish(Result{}, err)
		return
	}
	p.mu.Lock()
	p.sent++
	p.mu.Unlock()
}

func (p *prober) watchICE() {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			p.signal(map[string]any{"candidate": nil})
			return
		}
		p.signal(c.ToJSON())
	})

	p.pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		p.log.Debug("ice connection state", "state", state.String())
		switch state {
		case pion.ICEConnectionStateFailed:
			p.finish(Result{}, endpoint.NewError("probe", ErrICEFailed))
		case pion.ICEConnectionStateDisconnected, pion.ICEConnectionStateClosed:
			if p.echoed.Load() {
				p.finish(Result{}, nil)
			}
		}
	})
}

func (p *prober) offer() error {
	dc, err := p.pc.CreateDataChannel(channelLabel, nil)
	if err != nil {
		return endpoint.NewError("create data channel", err)
	}

	dc.OnOpen(func() {
		data, err := newPing(pingSeq, time.Now())
		if err != nil {
			p.finish(Result{}, endpoint.NewError("send ping", err))
			return
		}
		if err := dc.Send(data); err != nil {
			p.finish(Result{}, endpoint.NewError("send ping", err))
		}
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		rtt, ok, err := rttFrom(msg.Data, pingSeq, time.Now())
		if err != nil {
			p.finish(Result{}, endpoint.NewError("read pong", err))
			return
		}
		if ok {
			p.finish(Result{RTT: rtt}, nil)
		}
	})

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return endpoint.NewError("create offer", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return endpoint.NewError("set local description", err)
	}
	p.signal(p.pc.LocalDescription())
	return nil
}

func (p *prober) answerDataChannel() {
	p.pc.OnDataChannel(func(dc *pion.DataChannel) {
		if dc.Label() != channelLabel {
			return
		}
		dc.OnMessage(func(msg pion.DataChannelMessage) {
			reply, ok, err := pongFor(msg.Data)
			if err != nil {
				p.finish(Result{}, endpoint.NewError("read ping", err))
				return
			}
			if !ok {
				return
			}
			if err := dc.Send(reply); err != nil {
				p.finish(Result{}, endpoint.NewError("send pong", err))
				return
			}
			p.echoed.Store(true)
		})
		// The host closes its side after reading the pong.
		dc.OnClose(func() {
			if p.echoed.Load() {
				p.finish(Result{}, nil)
			}
		})
	})
}

func (p *prober) signalLoop(ctx context.Context) {
	for {
		sig, err := p.sess.NextSignal(ctx)
		if err != nil {
			if p.echoed.Load() && errors.Is(err, endpoint.ErrPeerDisconnected) {
				err = nil
			}
			p.finish(Result{}, err)
			return
		}
		p.mu.Lock()
		p.received++
		p.mu.Unlock()

		if err := p.handleSignal(sig); err != nil {
			p.finish(Result{}, err)
			return
		}
	}
}

func (p *prober) handleSignal(sig *signaling.RelayedSignal) error {
	parsed, err := parseSignal(sig.Data)
	if err != nil {
		return endpoint.NewError("handle signal", err)
	}

	switch parsed.kind {
	case kindDescription:
		return p.handleDescription(parsed.desc)
	case kindCandidate:
		if err := p.pending.add(p.pc, parsed.candidate); err != nil {
			return endpoint.NewError("add ICE candidate", err)
		}
	case kindEndOfCandidates:
		p.log.Debug("peer finished gathering candidates")
	}
	return nil
}

func (p *prober) handleDescription(desc pion.SessionDescription) error {
	switch {
	case desc.Type == pion.SDPTypeOffer && p.sess.Role() == signaling.RoleClient:
		if err := p.pc.SetRemoteDescription(desc); err != nil {
			return endpoint.NewError("set remote description", err)
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return endpoint.NewError("create answer", err)
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return endpoint.NewError("set local description", err)
		}
		p.signal(p.pc.LocalDescription())

	case desc.Type == pion.SDPTypeAnswer && p.sess.Role() == signaling.RoleHost:
		if err := p.pc.SetRemoteDescription(desc); err != nil {
			return endpoint.NewError("set remote description", err)
		}

	default:
		return endpoint.WrapError("handle signal", ErrUnexpectedSignal, fmt.Sprintf("%s for %s", desc.Type, p.sess.Role()))
	}
	return p.pending.flush(p.pc)
}
