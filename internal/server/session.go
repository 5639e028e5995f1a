package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/haventalk/haven/internal/chat"
	"github.com/haventalk/haven/internal/protocol"
	"github.com/haventalk/haven/internal/transport"
	"github.com/haventalk/haven/pkg/metrics"
)

// Session is one connected client. It starts unjoined, enters a room on a
// successful CREATE_ROOM or JOIN_ROOM, returns to unjoined on
// DISCONNECT_ROOM, and terminates on DISCONNECT or any read failure. A
// session occupies at most one room at a time; moving rooms is leave old,
// then join new.
type Session struct {
	id       string
	conn     transport.Conn
	registry *chat.Registry
	logger   *slog.Logger
	limiter  *rateLimiter

	mu   sync.Mutex // guards room and name; teardown may run on another goroutine
	room *chat.Room
	name string

	torn atomic.Bool
}

// NewSession wraps a registered connection in a session.
func NewSession(id string, conn transport.Conn, registry *chat.Registry, logger *slog.Logger, rl RateLimitConfig) *Session {
	return &Session{
		id:       id,
		conn:     conn,
		registry: registry,
		logger:   logger.With("session", id),
		limiter:  newRateLimiter(rl),
	}
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// Run executes the dispatch loop until the client disconnects, the transport
// fails, or ctx is cancelled. It always finishes with an idempotent teardown.
// No lock is ever held across the blocking read.
func (s *Session) Run(ctx context.Context) {
	defer s.Teardown()

	for {
		if ctx.Err() != nil {
			return
		}

		payload, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Debug("session.read.end", "err", err)
			return
		}
		if len(payload) == 0 {
			s.logger.Debug("session.read.empty")
			return
		}

		// Re-check the termination flag before acting on the command: a
		// shutdown may have started while we were blocked in the read.
		if ctx.Err() != nil {
			return
		}

		cmd, err := protocol.Parse(payload)
		if err != nil {
			metrics.ProtocolErrorsTotal.Inc()
			s.logger.Debug("session.protocol.error", "err", err)
			s.reply(protocol.ReplyProtocolError)
			continue
		}
		metrics.CommandsTotal.WithLabelValues(cmd.Verb()).Inc()

		switch c := cmd.(type) {
		case protocol.CreateRoom:
			s.handleCreate(c)
		case protocol.JoinRoom:
			s.handleJoin(c)
		case protocol.MessageRoom:
			s.handleMessage(c)
		case protocol.LeaveRoom:
			s.handleLeave(c)
		case protocol.Disconnect:
			s.logger.Debug("session.disconnect")
			return
		}
	}
}

func (s *Session) handleCreate(c protocol.CreateRoom) {
	if s.currentRoom() != nil {
		// Already in a room; the client must leave before creating another.
		s.logger.Warn("session.create.in_room", "room", c.Name)
		s.reply(protocol.ReplyProtocolError)
		return
	}

	room, err := s.registry.CreateRoom(c.Name, c.Password, c.MaxUsers, c.ClientName, s.conn)
	switch {
	case errors.Is(err, chat.ErrRoomExists):
		s.reply(protocol.ReplyRoomExists)
		return
	case errors.Is(err, chat.ErrBadCapacity):
		s.logger.Warn("session.create.bad_capacity", "room", c.Name, "capacity", c.MaxUsers)
		s.reply(protocol.ReplyProtocolError)
		return
	case err != nil:
		s.logger.Error("session.create", "room", c.Name, "err", err)
		s.reply(protocol.ReplyProtocolError)
		return
	}

	s.setRoom(room, c.ClientName)
	s.reply(protocol.ReplyCreateSuccess)
	s.broadcastRoomList(s.conn)
}

func (s *Session) handleJoin(c protocol.JoinRoom) {
	if s.currentRoom() != nil {
		s.logger.Warn("session.join.in_room", "room", c.Name)
		s.reply(protocol.ReplyProtocolError)
		return
	}

	room, err := s.registry.Lookup(c.Name)
	if err != nil {
		s.reply(protocol.ReplyNoRoom)
		return
	}

	// Check order is part of the contract: existing member, then capacity,
	// then password. AddMember runs all three under one lock acquisition.
	switch err := room.AddMember(c.ClientName, s.conn, c.Password); {
	case errors.Is(err, chat.ErrNoRoom):
		// The room emptied and was removed between the lookup and the join.
		s.reply(protocol.ReplyNoRoom)
		return
	case errors.Is(err, chat.ErrExistingUser):
		s.reply(protocol.ReplyExistingUser)
		return
	case errors.Is(err, chat.ErrRoomFull):
		s.reply(protocol.ReplyRoomFull)
		return
	case errors.Is(err, chat.ErrInvalidPassword):
		s.reply(protocol.ReplyInvalidPassword)
		return
	case err != nil:
		s.logger.Error("session.join", "room", c.Name, "err", err)
		s.reply(protocol.ReplyProtocolError)
		return
	}

	s.setRoom(room, c.ClientName)
	s.reply(protocol.ReplyJoinSuccess)
	s.broadcastRoomList(s.conn)
}

func (s *Session) handleMessage(c protocol.MessageRoom) {
	room, name := s.current()
	if room == nil || room.Name() != c.Name || name != c.Sender {
		// Not a member of that room under that name; ignored by contract.
		s.logger.Debug("session.message.ignored", "room", c.Name, "sender", c.Sender)
		return
	}

	if !s.limiter.allow() {
		s.logger.Warn("session.message.rate_limited", "room", c.Name)
		return
	}

	room.Broadcast(protocol.EncodeMessage(c.Sender, c.Text), c.Sender)
}

func (s *Session) handleLeave(c protocol.LeaveRoom) {
	room, name := s.current()
	if room == nil || room.Name() != c.Name || name != c.Sender {
		s.logger.Debug("session.leave.ignored", "room", c.Name, "sender", c.Sender)
		return
	}

	s.leaveRoom(room, name)

	// The leaver gets the refreshed room list too.
	s.broadcastRoomList(nil)
}

// leaveRoom removes the member from the room, triggers registry cleanup when
// the room empties, and clears the session's room reference.
func (s *Session) leaveRoom(room *chat.Room, name string) {
	remaining, err := room.RemoveMember(name)
	if err == nil && remaining == 0 {
		s.registry.RemoveIfEmpty(room.Name())
	}
	s.setRoom(nil, "")
}

// Teardown runs the end-of-life sequence exactly once: leave the current room
// if any, deregister from the global connection set, close the transport. A
// concurrent explicit DISCONNECT and a transport error may both call it; the
// flag guarantees only one of them executes the cleanup.
func (s *Session) Teardown() {
	if !s.torn.CompareAndSwap(false, true) {
		return
	}

	room, name := s.current()
	if room != nil {
		s.leaveRoom(room, name)
		s.broadcastRoomList(s.conn)
	}

	s.registry.RemoveConn(s.conn)
	_ = s.conn.Close()
	s.logger.Info("session.close")
}

// reply writes one reply to this session's own client.
func (s *Session) reply(code string) {
	if err := s.conn.WriteMessage([]byte(code)); err != nil {
		s.logger.Warn("session.reply.drop", "reply", code, "err", err)
	}
}

// broadcastRoomList sends the current room-list snapshot to every connected
// client except exclude (nil means everyone).
func (s *Session) broadcastRoomList(exclude transport.Conn) {
	s.registry.BroadcastAll(protocol.EncodeUpdate(s.registry.Snapshot()), exclude)
}

func (s *Session) currentRoom() *chat.Room {
	room, _ := s.current()
	return room
}

func (s *Session) current() (*chat.Room, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.name
}

func (s *Session) setRoom(room *chat.Room, name string) {
	s.mu.Lock()
	s.room = room
	s.name = name
	s.mu.Unlock()

	// A teardown may have run between the join seating the member and this
	// store: it saw no room reference and skipped the leave. Undo the seat
	// here so the member is not stranded in the room map.
	if room != nil && s.torn.Load() {
		s.leaveRoom(room, name)
	}
}
