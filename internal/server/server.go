package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/haventalk/haven/internal/chat"
	"github.com/haventalk/haven/internal/protocol"
	"github.com/haventalk/haven/internal/transport"
)

// Server owns the set of live sessions and the listeners feeding them. All
// sessions share one registry; each runs in its own goroutine tracked by the
// server's WaitGroup.
type Server struct {
	cfg      *Config
	logger   *slog.Logger
	registry *chat.Registry

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	sessions  map[*Session]struct{}
	listeners []transport.Listener

	wg sync.WaitGroup

	shuttingDown atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Server ready to accept connections.
func New(cfg *Config, logger *slog.Logger, registry *chat.Registry) *Server {
	cfg.sanitize()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[*Session]struct{}),
	}
}

// Registry exposes the shared room registry.
func (s *Server) Registry() *chat.Registry { return s.registry }

// Serve starts an acceptor for the given listener in its own goroutine and
// returns immediately. The listener is closed during shutdown.
func (s *Server) Serve(l transport.Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	a := &Acceptor{srv: s, listener: l, logger: s.logger}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		a.Run()
	}()
	s.logger.Info("server.listening", "addr", l.Addr())
}

// HandleConn registers a new connection, greets it with the current room-list
// snapshot (or NO_ROOMS), and starts its session goroutine. The WebSocket
// upgrade handler feeds connections in here as well as the TCP acceptor.
func (s *Server) HandleConn(conn transport.Conn) {
	if s.shuttingDown.Load() {
		_ = conn.Close()
		return
	}

	id := uuid.NewString()
	s.registry.AddConn(conn, id)

	if rooms := s.registry.Snapshot(); len(rooms) == 0 {
		if err := conn.WriteMessage([]byte(protocol.ReplyNoRooms)); err != nil {
			s.logger.Warn("server.greet.drop", "session", id, "err", err)
		}
	} else {
		if err := conn.WriteMessage(protocol.EncodeUpdate(rooms)); err != nil {
			s.logger.Warn("server.greet.drop", "session", id, "err", err)
		}
	}

	sess := NewSession(id, conn, s.registry, s.logger, s.cfg.RateLimit)
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("session.open", "session", id, "remote", conn.RemoteAddr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.Run(s.ctx)
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
	}()
}

// ShuttingDown reports whether shutdown has started. The acceptor uses it to
// tell a deliberate listener close from an accept failure.
func (s *Server) ShuttingDown() bool { return s.shuttingDown.Load() }

// Shutdown stops the server: it broadcasts SERVER_SHUTDOWN to every connected
// client, stops the acceptors, tears down every live session (closing its
// transport to unblock any pending read), and waits for all goroutines to
// finish or the timeout to lapse. Safe to invoke more than once; subsequent
// calls are no-ops returning the first result.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("server.shutdown.start")
		s.shuttingDown.Store(true)

		s.registry.BroadcastAll([]byte(protocol.ReplyServerShutdown), nil)

		s.mu.Lock()
		listeners := append([]transport.Listener(nil), s.listeners...)
		sessions := make([]*Session, 0, len(s.sessions))
		for sess := range s.sessions {
			sessions = append(sessions, sess)
		}
		s.mu.Unlock()

		for _, l := range listeners {
			if err := l.Close(); err != nil {
				s.logger.Warn("server.shutdown.listener", "err", err)
			}
		}

		// Cancel first so sessions that are between commands observe the
		// termination flag; teardown then closes each transport to unblock
		// sessions parked in a read.
		s.cancel()
		for _, sess := range sessions {
			sess.Teardown()
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			s.logger.Info("server.shutdown.complete")
		case <-time.After(timeout):
			s.logger.Warn("server.shutdown.timeout")
			s.shutdownErr = context.DeadlineExceeded
		}
	})
	return s.shutdownErr
}
