package probe

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pion "github.com/pion/webrtc/v4"
)

var ErrUnexpectedSignal = errors.New("unexpected signal")

// NewPeerConnection builds a peer connection using opts.STUNServers for ICE.
// With no servers only host candidates are gathered.
func NewPeerConnection(opts Options) (*pion.PeerConnection, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	se := pion.SettingEngine{LoggerFactory: newSlogFactory(logger)}
	if opts.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}
	api := pion.NewAPI(pion.WithSettingEngine(se))

	var iceServers []pion.ICEServer
	if len(opts.STUNServers) > 0 {
		iceServers = []pion.ICEServer{{URLs: opts.STUNServers}}
	}

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers: iceServers,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return pc, nil
}

// signalKind is what a relayed handshake blob turned out to be.
type signalKind int

const (
	kindDescription signalKind = iota + 1
	kindCandidate
	kindEndOfCandidates
)

type parsedSignal struct {
	kind      signalKind
	desc      pion.SessionDescription
	candidate pion.ICECandidateInit
}

// parseSignal recognises the two shapes endpoints exchange: a session
// description {"type","sdp"} and an ICE candidate {"candidate",...} where a
// null or empty candidate marks the end of gathering.
func parseSignal(data json.RawMessage) (parsedSignal, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return parsedSignal{}, fmt.Errorf("%w: %v", ErrUnexpectedSignal, err)
	}

	if _, ok := fields["sdp"]; ok {
		var desc pion.SessionDescription
		if err := json.Unmarshal(data, &desc); err != nil {
			return parsedSignal{}, fmt.Errorf("%w: %v", ErrUnexpectedSignal, err)
		}
		return parsedSignal{kind: kindDescription, desc: desc}, nil
	}

	if raw, ok := fields["candidate"]; ok {
		if string(raw) == "null" || string(raw) == `""` {
			return parsedSignal{kind: kindEndOfCandidates}, nil
		}
		var cand pion.ICECandidateInit
		if err := json.Unmarshal(data, &cand); err != nil {
			return parsedSignal{}, fmt.Errorf("%w: %v", ErrUnexpectedSignal, err)
		}
		return parsedSignal{kind: kindCandidate, candidate: cand}, nil
	}

	return parsedSignal{}, fmt.Errorf("%w: neither sdp nor candidate", ErrUnexpectedSignal)
}

// candidateQueue holds remote candidates that arrive before the remote
// description, which pion refuses to accept until then.
type candidateQueue struct {
	mu      sync.Mutex
	ready   bool
	pending []pion.ICECandidateInit
}

func (q *candidateQueue) add(pc *pion.PeerConnection, c pion.ICECandidateInit) error {
	q.mu.Lock()
	if !q.ready {
		q.pending = append(q.pending, c)
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()
	return pc.AddICECandidate(c)
}

// flush is called once the remote description is set.
func (q *candidateQueue) flush(pc *pion.PeerConnection) error {
	q.mu.Lock()
	q.ready = true
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("add ICE candidate: %w", err)
		}
	}
	return nil
}
