package transport

import (
	"io"
	"sync"
)

// Pipe returns a connected pair of in-memory connections. Messages written to
// one end are read from the other. Tests use this instead of real sockets.
func Pipe() (Conn, Conn) {
	ab := make(chan []byte, outboundQueueSize)
	ba := make(chan []byte, outboundQueueSize)
	a := &pipeConn{name: "pipe-a", recv: ba, send: ab, done: make(chan struct{})}
	b := &pipeConn{name: "pipe-b", recv: ab, send: ba, done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

type pipeConn struct {
	name string
	recv chan []byte
	send chan []byte
	peer *pipeConn

	done      chan struct{}
	closeOnce sync.Once
}

func (p *pipeConn) ReadMessage() ([]byte, error) {
	// Drain anything already delivered before reporting closure.
	select {
	case payload := <-p.recv:
		return payload, nil
	default:
	}
	select {
	case payload := <-p.recv:
		return payload, nil
	case <-p.done:
		return nil, ErrClosed
	case <-p.peer.done:
		return nil, io.EOF
	}
}

func (p *pipeConn) WriteMessage(payload []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	case <-p.peer.done:
		return io.ErrClosedPipe
	default:
	}
	select {
	case p.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (p *pipeConn) RemoteAddr() string { return p.peer.name }

func (p *pipeConn) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
