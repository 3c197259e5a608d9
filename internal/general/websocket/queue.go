package websocket

import "sync"

type queued struct {
	frame     []byte
	droppable bool
}

// outQueue buffers frames for one connection. When full, the oldest
// droppable frame makes room; frames that are not droppable are always
// accepted until the hard limit, at which point the consumer is stuck.
type outQueue struct {
	mu     sync.Mutex
	items  []queued
	soft   int
	hard   int
	closed bool
	signal chan struct{}
}

func newOutQueue(size int) *outQueue {
	if size < 1 {
		size = 1
	}
	return &outQueue{soft: size, hard: size * 2, signal: make(chan struct{}, 1)}
}

// push reports whether frame was enqueued and whether an older frame was
// evicted for it. stuck is true once the hard limit is reached and the
// connection should be dropped.
func (q *outQueue) push(frame []byte, droppable bool) (ok, evicted, stuck bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, false, false
	}
	if len(q.items) >= q.soft {
		evicted = q.evictOldestDroppable()
		if !evicted {
			if droppable {
				return false, false, false
			}
			if len(q.items) >= q.hard {
				return false, false, true
			}
		}
	}
	q.items = append(q.items, queued{frame: frame, droppable: droppable})
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true, evicted, false
}

func (q *outQueue) evictOldestDroppable() bool {
	for i, it := range q.items {
		if it.droppable {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// drain takes every queued frame.
func (q *outQueue) drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, len(q.items))
	for i, it := range q.items {
		out[i] = it.frame
	}
	q.items = q.items[:0]
	return out
}

func (q *outQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
}

func (q *outQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
