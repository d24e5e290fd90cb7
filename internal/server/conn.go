package server

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/danieljhkim/coedit/internal/wire"
)

// sendBuffer is the per-connection outbound queue depth. A slow reader
// whose buffer fills up loses frames; delivery is fire-and-forget.
const sendBuffer = 256

// wsConn adapts a websocket connection to session.Conn. Writes are
// serialized through a single pump goroutine so frames from concurrent
// broadcasters never interleave on the wire.
type wsConn struct {
	id     string
	ws     *websocket.Conn
	logger *zap.Logger

	// mu guards closed and the send side of the channel. A broadcaster
	// can hold a reference to a connection that is tearing down; Send
	// must observe the close instead of racing it.
	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func newWSConn(ws *websocket.Conn, logger *zap.Logger) *wsConn {
	c := &wsConn{
		id:     uuid.NewString(),
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		logger: logger,
	}
	go c.writePump()
	return c
}

// ID returns the connection's unique id.
func (c *wsConn) ID() string { return c.id }

// Send encodes a frame and queues it for delivery. It never blocks: a
// full buffer, a closed connection, or an encoding failure drops the
// frame with a log entry.
func (c *wsConn) Send(event string, args ...any) {
	data, err := wire.Encode(event, args...)
	if err != nil {
		c.logger.Error("failed to encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, dropping frame",
			zap.String("conn", c.id),
			zap.String("event", event))
	}
}

func (c *wsConn) writePump() {
	for data := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			c.logger.Debug("write failed", zap.String("conn", c.id), zap.Error(err))
			return
		}
	}
	_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
}

// close stops the write pump. Safe to call more than once and
// concurrently with Send.
func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
