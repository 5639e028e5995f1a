package server

import (
	"errors"
	"log/slog"
	"net"

	"github.com/haventalk/haven/internal/transport"
)

// Acceptor pulls connections off one listener and hands them to the server.
// An accept failure during shutdown ends the loop cleanly; any other failure
// is logged and the loop continues.
type Acceptor struct {
	srv      *Server
	listener transport.Listener
	logger   *slog.Logger
}

// Run blocks accepting connections until the listener is closed.
func (a *Acceptor) Run() {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if a.srv.ShuttingDown() || errors.Is(err, net.ErrClosed) {
				a.logger.Info("acceptor.stop", "addr", a.listener.Addr())
				return
			}
			a.logger.Error("acceptor.accept", "err", err)
			continue
		}

		a.logger.Debug("acceptor.accept", "remote", conn.RemoteAddr())
		a.srv.HandleConn(conn)
	}
}
