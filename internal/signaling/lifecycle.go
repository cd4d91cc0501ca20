package signaling

// RoomState is the lifecycle position of a room.
//
//	Empty -> WaitingForPeer -> Paired
//	  ^           |              |
//	  +--Closing--+--------------+ (last occupant gone)
type RoomState int

const (
	StateEmpty RoomState = iota
	StateWaitingForPeer
	StatePaired
	StateClosing
)

func (s RoomState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateWaitingForPeer:
		return "waiting_for_peer"
	case StatePaired:
		return "paired"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Transition records one state change caused by a join or a disconnect.
type Transition struct {
	From RoomState
	To   RoomState

	// Replaced is set when a join took over a slot held by another
	// connection. The room passes through WaitingForPeer on the way,
	// so a replacement in a paired room forms a new pairing.
	Replaced bool
}

// Paired reports whether this transition completed a pairing, which is the
// only moment ready may be emitted.
func (t Transition) Paired() bool {
	if t.To != StatePaired {
		return false
	}
	return t.From != StatePaired || t.Replaced
}

// Closed reports whether the room lost its last occupant.
func (t Transition) Closed() bool {
	return t.To == StateClosing
}

// Unpaired reports whether a paired room dropped to a single occupant.
func (t Transition) Unpaired() bool {
	return t.From == StatePaired && t.To == StateWaitingForPeer
}

// lifecycle tracks the state of one room. It is owned by a Room and only
// touched under that room's lock.
type lifecycle struct {
	state RoomState
}

func (l *lifecycle) occupantsChanged(occupied int, replaced bool) Transition {
	t := Transition{From: l.state, Replaced: replaced}
	switch {
	case occupied >= 2:
		l.state = StatePaired
	case occupied == 1:
		l.state = StateWaitingForPeer
	case l.state == StateEmpty:
		// never occupied; nothing to tear down
	default:
		l.state = StateClosing
	}
	t.To = l.state
	return t
}
