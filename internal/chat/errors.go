// Package chat owns the shared mutable state of the server: the room
// registry, the rooms themselves, and the global connection set. It enforces
// the two-level lock hierarchy (registry lock before room lock, never the
// reverse) that keeps concurrent create/join/leave/broadcast linearizable per
// room.
package chat

import "errors"

// Domain errors. Sessions map these to wire replies; callers match them with
// errors.Is.
var (
	ErrRoomExists      = errors.New("chat: room already exists")
	ErrNoRoom          = errors.New("chat: no such room")
	ErrExistingUser    = errors.New("chat: name already taken in room")
	ErrRoomFull        = errors.New("chat: room is full")
	ErrInvalidPassword = errors.New("chat: invalid password")
	ErrNotMember       = errors.New("chat: not a member of room")
	ErrBadCapacity     = errors.New("chat: capacity must be at least 1")
)
