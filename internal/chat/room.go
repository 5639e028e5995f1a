package chat

import (
	"log/slog"
	"sync"

	"github.com/haventalk/haven/internal/protocol"
	"github.com/haventalk/haven/internal/transport"
	"github.com/haventalk/haven/pkg/metrics"
)

// member is one occupant of a room. The delivered slice records every payload
// written to the member's connection, kept for diagnostics only.
type member struct {
	name      string
	conn      transport.Conn
	delivered []string
}

// Room is one chat room: its immutable metadata (name, password, capacity)
// and its membership, insertion-ordered. All membership mutation and
// broadcast happen under the room's own mutex. Writes performed under the
// lock are buffered enqueues on the transport, never blocking socket I/O.
type Room struct {
	name     string
	password string // empty means unprotected
	capacity int

	mu      sync.Mutex
	members []*member
	closed  bool // set by the registry when the room is removed

	logger *slog.Logger
}

func newRoom(name, password string, capacity int, logger *slog.Logger) *Room {
	return &Room{
		name:     name,
		password: password,
		capacity: capacity,
		logger:   logger,
	}
}

// Name returns the room's unique name.
func (r *Room) Name() string { return r.name }

// Capacity returns the maximum number of members.
func (r *Room) Capacity() int { return r.capacity }

// HasPassword reports whether the room is password-protected.
func (r *Room) HasPassword() bool { return r.password != "" }

// Password returns the room's plaintext password, echoed in the room-list
// snapshot per the wire contract.
func (r *Room) Password() string { return r.password }

// passwordMatches checks a supplied password against the room's. An
// unprotected room accepts an empty field or the NO_PASSWORD sentinel.
func (r *Room) passwordMatches(supplied string) bool {
	if r.password == "" {
		return supplied == "" || supplied == protocol.NoPassword
	}
	return supplied == r.password
}

// AddMember joins name to the room and broadcasts a join notice to the
// existing members. Checks run in the contract order: an existing member is
// told ErrExistingUser before a full room is reported, and the password is
// checked last. The whole sequence holds the room lock once, so two joins
// racing for the last slot resolve deterministically. A room the registry
// has already removed rejects the join with ErrNoRoom: the caller holds a
// stale handle from a lookup that raced with the removal.
func (r *Room) AddMember(name string, conn transport.Conn, password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrNoRoom
	}
	if r.findLocked(name) != nil {
		return ErrExistingUser
	}
	if len(r.members) >= r.capacity {
		return ErrRoomFull
	}
	if !r.passwordMatches(password) {
		return ErrInvalidPassword
	}

	r.members = append(r.members, &member{name: name, conn: conn})
	r.broadcastLocked(protocol.EncodeMessage(protocol.ServerSender, name+" has joined "+r.name), name)
	r.logger.Info("room.join", "room", r.name, "member", name, "count", len(r.members))
	return nil
}

// addCreator seats the room's first member. Only the registry calls this,
// on a room no other session can reach yet.
func (r *Room) addCreator(name string, conn transport.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = append(r.members, &member{name: name, conn: conn})
}

// closeIfEmpty marks the room closed if its membership is zero, so a stale
// handle can never seat a member after the registry has dropped the room.
// The check and the flag flip share one lock acquisition; only the registry
// calls this, while holding the registry lock.
func (r *Room) closeIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.members) != 0 {
		return false
	}
	r.closed = true
	return true
}

// RemoveMember removes name from the room, broadcasts a leave notice to the
// remaining members, and returns the resulting member count so the caller can
// trigger registry cleanup when it reaches zero.
func (r *Room) RemoveMember(name string) (remaining int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, m := range r.members {
		if m.name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return len(r.members), ErrNotMember
	}

	r.members = append(r.members[:idx], r.members[idx+1:]...)
	r.broadcastLocked(protocol.EncodeMessage(protocol.ServerSender, name+" has left "+r.name), name)
	r.logger.Info("room.leave", "room", r.name, "member", name, "count", len(r.members))
	return len(r.members), nil
}

// Broadcast writes payload to every member except excludeName. Delivery is
// best effort: a failed write is logged and counted, and never aborts
// delivery to the remaining members. Failed members are removed through the
// normal disconnect path, not from here.
func (r *Room) Broadcast(payload []byte, excludeName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(payload, excludeName)
}

func (r *Room) broadcastLocked(payload []byte, excludeName string) {
	metrics.BroadcastsTotal.Inc()
	for _, m := range r.members {
		if m.name == excludeName {
			continue
		}
		if err := m.conn.WriteMessage(payload); err != nil {
			metrics.BroadcastDropsTotal.Inc()
			r.logger.Warn("room.broadcast.drop", "room", r.name, "member", m.name, "err", err)
			continue
		}
		m.delivered = append(m.delivered, string(payload))
	}
}

// MemberExists reports whether name currently occupies the room.
func (r *Room) MemberExists(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(name) != nil
}

// MemberCount returns the live membership size.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// MemberNames returns the member names in join order.
func (r *Room) MemberNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.members))
	for _, m := range r.members {
		names = append(names, m.name)
	}
	return names
}

// HandleFor returns the transport handle of the named member.
func (r *Room) HandleFor(name string) (transport.Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m := r.findLocked(name); m != nil {
		return m.conn, true
	}
	return nil, false
}

// NameFor returns the member name owning the given handle.
func (r *Room) NameFor(conn transport.Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.conn == conn {
			return m.name, true
		}
	}
	return "", false
}

// MessagesFor returns a copy of the payloads delivered to the named member,
// for diagnostics.
func (r *Room) MessagesFor(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.findLocked(name)
	if m == nil {
		return nil
	}
	out := make([]string, len(m.delivered))
	copy(out, m.delivered)
	return out
}

func (r *Room) findLocked(name string) *member {
	for _, m := range r.members {
		if m.name == name {
			return m
		}
	}
	return nil
}
