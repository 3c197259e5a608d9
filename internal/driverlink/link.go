package driverlink

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type outbound struct {
	data []byte
	sent chan error
}

// link is one live transport: a connection plus its single writer goroutine.
type link struct {
	conn         *websocket.Conn
	out          chan outbound
	stop         chan struct{}
	done         chan struct{} // closed once the reader exits
	stopOnce     sync.Once
	writeTimeout time.Duration
}

func newLink(conn *websocket.Conn, queue int, writeTimeout time.Duration) *link {
	return &link{
		conn:         conn,
		out:          make(chan outbound, queue),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

func (l *link) writeLoop() {
	for {
		select {
		case <-l.stop:
			return
		case ob := <-l.out:
			_ = l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
			err := l.conn.WriteMessage(websocket.TextMessage, ob.data)
			if ob.sent != nil {
				ob.sent <- err
			}
			if err != nil {
				l.shutdown()
				return
			}
		}
	}
}

// offer enqueues without blocking.
func (l *link) offer(data []byte) error {
	select {
	case <-l.stop:
		return ErrConnectionLost
	default:
	}
	select {
	case l.out <- outbound{data: data}:
		return nil
	default:
		return errQueueFull
	}
}

// send blocks until data is written or ctx ends.
func (l *link) send(ctx context.Context, data []byte) error {
	sent := make(chan error, 1)
	select {
	case l.out <- outbound{data: data, sent: sent}:
	case <-l.stop:
		return ErrConnectionLost
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-sent:
		return err
	case <-l.stop:
		return ErrConnectionLost
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shutdown stops the writer and closes the socket, which unblocks the reader.
func (l *link) shutdown() {
	l.stopOnce.Do(func() {
		close(l.stop)
		_ = l.conn.Close()
	})
}

// closeGracefully sends a close frame before tearing the link down.
func (l *link) closeGracefully() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(l.writeTimeout))
	l.shutdown()
}
