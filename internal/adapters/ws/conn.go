package ws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/okram/tunesync/internal/core"
)

var ErrBackpressure = errors.New("backpressure")
var errClosed = errors.New("connection closed")

// Conn wraps one websocket with a buffered outbound queue. It implements
// core.SignalConnection: sends never block, a full queue or closed socket
// drops the frame.
type Conn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newConn(conn *websocket.Conn) *Conn {
	return &Conn{
		conn: conn,
		send: make(chan core.Frame, 32),
	}
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}
