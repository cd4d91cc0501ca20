package signaling

import (
	"crypto/subtle"
	"sync"
)

// Room represents a single room where a host and a client meet.
//
// Room methods assume the caller holds the room lock, which is only the case
// inside Registry.WithRoom and Registry.RemoveConnection callbacks.
type Room struct {
	mu sync.Mutex

	// ID is the identifier supplied by the endpoints.
	ID string

	roles  map[Role]string
	secret *string
	life   lifecycle

	// closed is set once the room has been dropped from the registry.
	// A handler that was waiting on mu must not touch a closed room.
	closed bool
}

func newRoom(id string) *Room {
	return &Room{
		ID:    id,
		roles: make(map[Role]string, 2),
	}
}

// State returns the current lifecycle state.
func (r *Room) State() RoomState {
	return r.life.state
}

// Occupant returns the connection holding role.
func (r *Room) Occupant(role Role) (string, bool) {
	id, ok := r.roles[role]
	return id, ok
}

// PeerOf returns the connection in the role opposite to role.
func (r *Room) PeerOf(role Role) (string, bool) {
	return r.Occupant(role.Opposite())
}

// Occupants returns the distinct connections currently holding a role.
func (r *Room) Occupants() []string {
	ids := make([]string, 0, 2)
	for _, role := range []Role{RoleHost, RoleClient} {
		id, ok := r.roles[role]
		if !ok {
			continue
		}
		if len(ids) == 1 && ids[0] == id {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Secret returns the room secret, if one has been set.
func (r *Room) Secret() (string, bool) {
	if r.secret == nil {
		return "", false
	}
	return *r.secret, true
}

// SetSecret stores secret when role is host and no secret exists yet.
// It reports whether the secret was stored.
func (r *Room) SetSecret(role Role, secret string) bool {
	if role != RoleHost || r.secret != nil {
		return false
	}
	r.secret = &secret
	return true
}

// CheckPin compares pin against the stored secret. An unset secret never matches.
func (r *Room) CheckPin(pin string) bool {
	secret, ok := r.Secret()
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(pin)) == 1
}

func (r *Room) setRole(role Role, connID string) (evicted string, t Transition) {
	prev, had := r.roles[role]
	r.roles[role] = connID
	replaced := had && prev != connID
	if replaced {
		evicted = prev
	}
	return evicted, r.life.occupantsChanged(len(r.roles), replaced)
}

func (r *Room) holds(connID string) bool {
	for _, id := range r.roles {
		if id == connID {
			return true
		}
	}
	return false
}

func (r *Room) removeConn(connID string) ([]Role, Transition) {
	var removed []Role
	for _, role := range []Role{RoleHost, RoleClient} {
		if r.roles[role] == connID {
			delete(r.roles, role)
			removed = append(removed, role)
		}
	}
	if len(removed) == 0 {
		return nil, Transition{From: r.life.state, To: r.life.state}
	}
	return removed, r.life.occupantsChanged(len(r.roles), false)
}

// JoinResult describes the effect of Registry.Join.
type JoinResult struct {
	Transition Transition

	// Evicted is the connection that previously held the role, if a
	// different connection held it.
	Evicted string

	// SecretSet reports whether this join stored the room secret.
	SecretSet bool
}

// Removal describes what RemoveConnection did to one room.
type Removal struct {
	Roles      []Role
	Transition Transition

	// Survivors are the connections still in the room. Empty when the
	// room was destroyed.
	Survivors []string
}

// Registry holds every live room. Rooms are independent: the registry lock
// only guards the room table and the connection index, each room serializes
// its own mutations.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	// conns indexes which rooms hold each connection.
	conns map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		conns: make(map[string]map[string]struct{}),
	}
}

// WithRoom runs fn with the room locked. When create is false and the room
// does not exist, fn is not called and WithRoom returns false.
func (reg *Registry) WithRoom(id string, create bool, fn func(r *Room)) bool {
	for {
		reg.mu.Lock()
		r, ok := reg.rooms[id]
		if !ok {
			if !create {
				reg.mu.Unlock()
				return false
			}
			r = newRoom(id)
			reg.rooms[id] = r
		}
		reg.mu.Unlock()

		r.mu.Lock()
		if r.closed {
			// Destroyed between lookup and lock; look again.
			r.mu.Unlock()
			continue
		}
		fn(r)
		// A room created for a lookup that added nobody must not linger.
		if len(r.roles) == 0 {
			reg.dropLocked(r)
		}
		r.mu.Unlock()
		return true
	}
}

// ensureRoom returns the live room with id, or a new empty one that is not
// in the table. Rooms only enter the table through a join, so a lookup that
// nobody follows up on leaves nothing behind. A returned live room may be
// destroyed at any time by a concurrent disconnect; callers that mutate go
// through WithRoom.
func (reg *Registry) ensureRoom(id string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.rooms[id]; ok {
		return r
	}
	return newRoom(id)
}

// Join puts connID in role, stores pin as the secret for a host, and calls
// then with the outcome while the room is still locked.
func (reg *Registry) Join(id string, role Role, connID string, pin *string, then func(r *Room, res JoinResult)) {
	reg.WithRoom(id, true, func(r *Room) {
		var res JoinResult
		res.Evicted, res.Transition = r.setRole(role, connID)
		if pin != nil {
			res.SecretSet = r.SetSecret(role, *pin)
		}

		reg.mu.Lock()
		reg.indexLocked(connID, id)
		if res.Evicted != "" && !r.holds(res.Evicted) {
			reg.unindexLocked(res.Evicted, id)
		}
		reg.mu.Unlock()

		if then != nil {
			then(r, res)
		}
	})
}

// setRole overwrites the slot for role. See Join for the variant that also
// reports the outcome under the room lock.
func (reg *Registry) setRole(id string, role Role, connID string) JoinResult {
	var out JoinResult
	reg.Join(id, role, connID, nil, func(_ *Room, res JoinResult) { out = res })
	return out
}

// setSecret stores the secret for room id if role is host and none is set.
func (reg *Registry) setSecret(id string, role Role, secret string) bool {
	var set bool
	reg.WithRoom(id, false, func(r *Room) { set = r.SetSecret(role, secret) })
	return set
}

// getSecret returns the secret of room id.
func (reg *Registry) getSecret(id string) (string, bool) {
	var (
		secret string
		ok     bool
	)
	reg.WithRoom(id, false, func(r *Room) { secret, ok = r.Secret() })
	return secret, ok
}

// peerOf returns the connection in the role opposite to role in room id.
func (reg *Registry) peerOf(id string, role Role) (string, bool) {
	var (
		peer string
		ok   bool
	)
	reg.WithRoom(id, false, func(r *Room) { peer, ok = r.PeerOf(role) })
	return peer, ok
}

// RemoveConnection takes connID out of every room slot holding it. For each
// affected room, then is called under the room lock. Rooms left empty are
// destroyed before then runs. It returns the affected room IDs.
func (reg *Registry) RemoveConnection(connID string, then func(r *Room, rm Removal)) []string {
	reg.mu.Lock()
	ids := make([]string, 0, len(reg.conns[connID]))
	for id := range reg.conns[connID] {
		ids = append(ids, id)
	}
	reg.mu.Unlock()

	var affected []string
	for _, id := range ids {
		reg.WithRoom(id, false, func(r *Room) {
			roles, t := r.removeConn(connID)
			if len(roles) == 0 {
				return
			}
			affected = append(affected, id)
			rm := Removal{Roles: roles, Transition: t}
			if t.Closed() {
				reg.dropLocked(r)
			} else {
				rm.Survivors = r.Occupants()
			}
			if then != nil {
				then(r, rm)
			}
		})
	}

	reg.mu.Lock()
	delete(reg.conns, connID)
	reg.mu.Unlock()
	return affected
}

// Snapshot counts rooms by state.
func (reg *Registry) Snapshot() (waiting, paired int) {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		if !r.closed {
			switch r.State() {
			case StateWaitingForPeer:
				waiting++
			case StatePaired:
				paired++
			}
		}
		r.mu.Unlock()
	}
	return waiting, paired
}

// Len returns the number of live rooms.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// Has reports whether room id exists.
func (reg *Registry) Has(id string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	_, ok := reg.rooms[id]
	return ok
}

// dropLocked removes r from the table. The caller holds r.mu.
func (reg *Registry) dropLocked(r *Room) {
	r.closed = true
	reg.mu.Lock()
	if reg.rooms[r.ID] == r {
		delete(reg.rooms, r.ID)
	}
	reg.mu.Unlock()
}

func (reg *Registry) indexLocked(connID, roomID string) {
	rooms, ok := reg.conns[connID]
	if !ok {
		rooms = make(map[string]struct{}, 1)
		reg.conns[connID] = rooms
	}
	rooms[roomID] = struct{}{}
}

func (reg *Registry) unindexLocked(connID, roomID string) {
	rooms, ok := reg.conns[connID]
	if !ok {
		return
	}
	delete(rooms, roomID)
	if len(rooms) == 0 {
		delete(reg.conns, connID)
	}
}
