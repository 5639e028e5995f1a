package transport

import (
	"bufio"
	"net"
	"sync"
)

// ListenTCP starts a TCP listener on addr. maxMessageSize bounds the length
// of a single inbound line.
func ListenTCP(addr string, maxMessageSize int64) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpListener{ln: ln, maxMessageSize: maxMessageSize}, nil
}

type tcpListener struct {
	ln             net.Listener
	maxMessageSize int64
}

func (l *tcpListener) Accept() (Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewTCPConn(conn, l.maxMessageSize), nil
}

func (l *tcpListener) Close() error { return l.ln.Close() }

func (l *tcpListener) Addr() string { return l.ln.Addr().String() }

// NewTCPConn wraps an established net.Conn in the message-framed Conn
// interface and starts its writer goroutine.
func NewTCPConn(conn net.Conn, maxMessageSize int64) Conn {
	c := &tcpConn{
		conn: conn,
		out:  make(chan []byte, outboundQueueSize),
		done: make(chan struct{}),
	}
	c.scanner = bufio.NewScanner(conn)
	if maxMessageSize > 0 {
		c.scanner.Buffer(make([]byte, 0, 4096), int(maxMessageSize))
	}
	go c.writeLoop()
	return c
}

type tcpConn struct {
	conn    net.Conn
	scanner *bufio.Scanner

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *tcpConn) ReadMessage() ([]byte, error) {
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, ErrClosed
	}
	// Copy out of the scanner's buffer; the next Scan invalidates it.
	line := c.scanner.Bytes()
	payload := make([]byte, len(line))
	copy(payload, line)
	return payload, nil
}

func (c *tcpConn) WriteMessage(payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *tcpConn) writeLoop() {
	w := bufio.NewWriter(c.conn)
	for {
		select {
		case payload := <-c.out:
			if _, err := w.Write(payload); err != nil {
				return
			}
			if err := w.WriteByte('\n'); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		case <-c.done:
			// Best-effort flush of whatever is still queued.
			for {
				select {
				case payload := <-c.out:
					if _, err := w.Write(payload); err != nil {
						return
					}
					_ = w.WriteByte('\n')
				default:
					_ = w.Flush()
					return
				}
			}
		}
	}
}

func (c *tcpConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *tcpConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.conn.Close()
}
