package chat

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/haventalk/haven/internal/protocol"
	"github.com/haventalk/haven/internal/transport"
	"github.com/haventalk/haven/pkg/metrics"
)

// Registry is the single source of truth for room existence. It owns the
// name→room mapping and the set of all connected transport handles, both
// guarded by one registry-level lock distinct from every room lock.
//
// Lock ordering: the registry lock may be held while acquiring a room lock
// (create, snapshot, remove-if-empty), but a room lock is never held while
// acquiring the registry lock, and no two room locks are ever held together.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	conns map[transport.Conn]string // handle → session ID

	logger *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:  make(map[string]*Room),
		conns:  make(map[transport.Conn]string),
		logger: logger,
	}
}

// CreateRoom inserts a new room and seats the creator as its first member,
// atomically with respect to the name-uniqueness check. Capacity below one is
// an input error, not silently clamped.
func (g *Registry) CreateRoom(name, password string, capacity int, creator string, conn transport.Conn) (*Room, error) {
	if capacity < 1 {
		return nil, ErrBadCapacity
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.rooms[name]; exists {
		return nil, ErrRoomExists
	}

	room := newRoom(name, password, capacity, g.logger)
	room.addCreator(creator, conn)
	g.rooms[name] = room

	metrics.ActiveRooms.Set(float64(len(g.rooms)))
	g.logger.Info("room.create", "room", name, "capacity", capacity, "creator", creator, "protected", password != "")
	return room, nil
}

// Lookup returns the named room, or ErrNoRoom.
func (g *Registry) Lookup(name string) (*Room, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.rooms[name]
	if !ok {
		return nil, ErrNoRoom
	}
	return room, nil
}

// Snapshot returns a point-in-time copy of the room list, ordered by name.
// The registry lock is held only for the duration of the copy.
func (g *Registry) Snapshot() []protocol.RoomInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()

	infos := make([]protocol.RoomInfo, 0, len(g.rooms))
	for _, room := range g.rooms {
		infos = append(infos, protocol.RoomInfo{
			Name:         room.Name(),
			Password:     room.Password(),
			CurrentUsers: room.MemberCount(),
			MaxUsers:     room.Capacity(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// RemoveIfEmpty removes the named room if its membership is zero. The count
// is re-checked under the registry lock: a join may have raced in between the
// triggering leave and this call, in which case the room stays. Removal also
// marks the room closed in the same step, so a session holding a stale handle
// from a pre-removal Lookup cannot seat itself in the orphan. Reports whether
// the room was removed.
func (g *Registry) RemoveIfEmpty(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[name]
	if !ok {
		return false
	}
	if !room.closeIfEmpty() {
		return false
	}

	delete(g.rooms, name)
	metrics.ActiveRooms.Set(float64(len(g.rooms)))
	g.logger.Info("room.remove", "room", name)
	return true
}

// RoomCount returns the number of registered rooms.
func (g *Registry) RoomCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// AddConn registers a transport handle in the global connection set.
func (g *Registry) AddConn(conn transport.Conn, sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[conn] = sessionID
	metrics.ActiveConnections.Set(float64(len(g.conns)))
}

// RemoveConn deletes a handle from the connection set. Reports whether the
// handle was present, so idempotent teardown can tell first from second
// removal.
func (g *Registry) RemoveConn(conn transport.Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.conns[conn]; !ok {
		return false
	}
	delete(g.conns, conn)
	metrics.ActiveConnections.Set(float64(len(g.conns)))
	return true
}

// ConnCount returns the size of the global connection set.
func (g *Registry) ConnCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// BroadcastAll writes payload to every handle in the connection set. When
// exclude is non-nil it is skipped. Writes are buffered enqueues; failures
// are logged and delivery to the rest continues.
func (g *Registry) BroadcastAll(payload []byte, exclude transport.Conn) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for conn, sessionID := range g.conns {
		if conn == exclude {
			continue
		}
		if err := conn.WriteMessage(payload); err != nil {
			g.logger.Warn("registry.broadcast.drop", "session", sessionID, "err", err)
		}
	}
}
