package signaling

import "sync/atomic"

// Snapshot is the JSON document served on /stats.
type Snapshot struct {
	Rooms       int `json:"rooms"`
	Waiting     int `json:"waiting"`
	Paired      int `json:"paired"`
	Connections int `json:"connections"`

	Joins           uint64 `json:"joins"`
	Evictions       uint64 `json:"evictions"`
	ReadyEmitted    uint64 `json:"ready_emitted"`
	RoomsClosed     uint64 `json:"rooms_closed"`
	SignalsRelayed  uint64 `json:"signals_relayed"`
	SignalsDropped  uint64 `json:"signals_dropped"`
	PinChecks       uint64 `json:"pin_checks"`
	PinFailures     uint64 `json:"pin_failures"`
	PinRateLimited  uint64 `json:"pin_rate_limited"`
	MalformedEvents uint64 `json:"malformed_events"`
	TotalConns      uint64 `json:"total_connections"`
}

// Stats holds the hub counters.
type Stats struct {
	joins, evictions, readies, closed    atomic.Uint64
	relayed, dropped                     atomic.Uint64
	pinChecks, pinFailures, pinThrottled atomic.Uint64
	malformedEvents, totalConns          atomic.Uint64
}

func (s *Stats) connected()     { s.totalConns.Add(1) }
func (s *Stats) joined()        { s.joins.Add(1) }
func (s *Stats) evicted()       { s.evictions.Add(1) }
func (s *Stats) ready()         { s.readies.Add(1) }
func (s *Stats) roomClosed()    { s.closed.Add(1) }
func (s *Stats) signalRelayed() { s.relayed.Add(1) }
func (s *Stats) signalDropped() { s.dropped.Add(1) }
func (s *Stats) pinLimited()    { s.pinThrottled.Add(1) }
func (s *Stats) malformed()     { s.malformedEvents.Add(1) }

func (s *Stats) pinChecked(ok bool) {
	s.pinChecks.Add(1)
	if !ok {
		s.pinFailures.Add(1)
	}
}

func (s *Stats) snapshot() Snapshot {
	return Snapshot{
		Joins:           s.joins.Load(),
		Evictions:       s.evictions.Load(),
		ReadyEmitted:    s.readies.Load(),
		RoomsClosed:     s.closed.Load(),
		SignalsRelayed:  s.relayed.Load(),
		SignalsDropped:  s.dropped.Load(),
		PinChecks:       s.pinChecks.Load(),
		PinFailures:     s.pinFailures.Load(),
		PinRateLimited:  s.pinThrottled.Load(),
		MalformedEvents: s.malformedEvents.Load(),
		TotalConns:      s.totalConns.Load(),
	}
}
