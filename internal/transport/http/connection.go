package http

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quizroom-service/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 64 << 10
)

// connection is one participant's duplex channel. Room events are queued into
// outbox without blocking; a single writer goroutine owns every network write.
type connection struct {
	ws     *websocket.Conn
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	outbox chan domain.Event
	done   chan struct{}
}

func newConnection(ws *websocket.Conn, outboxSize int, logger *zap.Logger) *connection {
	return &connection{
		ws:     ws,
		logger: logger,
		outbox: make(chan domain.Event, outboxSize),
		done:   make(chan struct{}),
	}
}

// Deliver implements app.Sink.
func (c *connection) Deliver(ev domain.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.outbox <- ev:
		return true
	default:
		return false
	}
}

// Close implements app.Sink. Queued events are still flushed by the writer
// before the socket closes.
func (c *connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.outbox)
}

// writeLoop drains the outbox until it is closed, then closes the socket so
// the read loop unblocks.
func (c *connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case ev, ok := <-c.outbox:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				c.logger.Debug("ws write failed", zap.Error(err))
				c.Close()
				c.drain()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				c.drain()
				return
			}
		}
	}
}

func (c *connection) drain() {
	for range c.outbox {
	}
}

// wait blocks until the writer has exited.
func (c *connection) wait() { <-c.done }
