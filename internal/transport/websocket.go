package transport

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 54 * time.Second
)

// NewWebSocketConn wraps an upgraded gorilla connection in the Conn interface
// and starts its writer goroutine. maxMessageSize bounds a single inbound
// frame.
func NewWebSocketConn(ws *websocket.Conn, maxMessageSize int64) Conn {
	if maxMessageSize > 0 {
		ws.SetReadLimit(maxMessageSize)
	}
	c := &wsConn{
		ws:   ws,
		out:  make(chan []byte, outboundQueueSize),
		done: make(chan struct{}),
	}
	_ = ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	go c.writeLoop()
	return c
}

type wsConn struct {
	ws *websocket.Conn

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		typ, payload, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			return payload, nil
		}
	}
}

func (c *wsConn) WriteMessage(payload []byte) error {
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

// writeLoop owns all writes to the socket, including pings, and is the only
// goroutine that closes it. On shutdown it flushes whatever is still queued
// before sending the close frame.
func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case payload := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			for {
				select {
				case payload := <-c.out:
					_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
					if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
						return
					}
				default:
					_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
					if err := c.ws.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
						if !isExpectedCloseError(err) {
							log.Printf("transport: error writing close frame: %v", err)
						}
					}
					return
				}
			}
		}
	}
}

func (c *wsConn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

// Close signals the writer, which flushes the queue, sends the close frame,
// and closes the socket. Closing the socket also unblocks a pending read.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
