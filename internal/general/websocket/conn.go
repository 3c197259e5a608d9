package websocket

import (
	"sync"
	"time"

	"taxi-tracking/internal/general/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsCloseAckWindow = 2 * time.Second
)

// client is the broker's view of one WebSocket connection. All writes go
// through its single writer goroutine.
type client struct {
	id    string
	conn  *websocket.Conn
	queue *outQueue
	stop  chan struct{}
	once  sync.Once
}

func newClient(conn *websocket.Conn, queueSize int) *client {
	return &client{
		id:    uuid.NewString(),
		conn:  conn,
		queue: newOutQueue(queueSize),
		stop:  make(chan struct{}),
	}
}

func (c *client) ID() string { return c.id }

// Deliver never blocks. Dropped location updates are counted; a client that
// cannot keep up with non-droppable frames is disconnected.
func (c *client) Deliver(frame []byte, droppable bool) bool {
	ok, evicted, stuck := c.queue.push(frame, droppable)
	if evicted {
		metrics.FramesDropped.Inc()
	}
	if stuck {
		c.shutdown()
	}
	return ok
}

func (c *client) writeLoop(pingEvery time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				c.shutdown()
				return
			}
		case <-c.queue.signal:
			for _, frame := range c.queue.drain() {
				_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					c.shutdown()
					return
				}
			}
		}
	}
}

// closeWith sends a close frame and tears the connection down.
func (c *client) closeWith(code int, reason string) {
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsCloseAckWindow),
	)
	c.shutdown()
}

func (c *client) shutdown() {
	c.once.Do(func() {
		close(c.stop)
		c.queue.close()
		_ = c.conn.Close()
		metrics.WSConnections.Dec()
	})
}
