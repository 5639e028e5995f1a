// Package transport abstracts the byte-stream transports the chat core runs
// on. The core only ever sees the Conn and Listener interfaces; the TCP and
// WebSocket implementations live here, along with an in-memory pipe used by
// tests.
//
// A Conn carries whole protocol messages: one command or reply per
// ReadMessage/WriteMessage call. Writes are enqueued to a buffered outbound
// queue drained by a writer goroutine, so callers may write while holding
// locks without ever blocking on socket I/O.
package transport

import "errors"

var (
	// ErrClosed is returned by operations on a connection closed locally.
	ErrClosed = errors.New("transport: connection closed")

	// ErrSendBufferFull is returned when a connection's outbound queue is
	// saturated. The message is dropped; callers treat this as a failed
	// best-effort delivery, not a fatal condition.
	ErrSendBufferFull = errors.New("transport: send buffer full")
)

// outboundQueueSize bounds the per-connection outbound message queue.
const outboundQueueSize = 256

// Conn is a single client connection. Identity is pointer identity: two Conn
// values are the same connection iff they compare equal.
type Conn interface {
	// ReadMessage blocks until the next complete message arrives. It returns
	// an error once the connection is closed by either side.
	ReadMessage() ([]byte, error)

	// WriteMessage enqueues one message for delivery. It never blocks on
	// socket I/O; it fails with ErrSendBufferFull when the outbound queue is
	// saturated and ErrClosed after Close.
	WriteMessage(payload []byte) error

	// RemoteAddr describes the peer, for logging only.
	RemoteAddr() string

	// Close tears the connection down and unblocks any pending ReadMessage.
	// It is safe to call more than once.
	Close() error
}

// Listener accepts inbound connections.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() string
}
