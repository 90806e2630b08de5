package signal

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mystline/advisory/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

// wsConn wraps a websocket with a buffered send channel. TrySend never
// blocks: a full buffer or a closed connection is the caller's signal that
// this peer is gone or too slow.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn: conn,
		send: make(chan core.Frame, 32),
	}
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
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
