package broker

import (
	"context"
	"sync"

	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/general/metrics"
)

type sinkJob struct {
	ctx      context.Context
	location *LocationEvent
	plate    string
	online   bool
}

// AsyncSink runs a slow Sink (redis, postgres, rabbitmq) on its own goroutine
// behind a bounded queue. Locations are dropped when the queue is full;
// presence changes wait for room.
type AsyncSink struct {
	name  string
	inner Sink
	log   *logger.Logger
	jobs  chan sinkJob

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsyncSink(name string, inner Sink, size int, log *logger.Logger) *AsyncSink {
	if size <= 0 {
		size = 256
	}
	s := &AsyncSink{
		name:  name,
		inner: inner,
		log:   log,
		jobs:  make(chan sinkJob, size),
		done:  make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *AsyncSink) LocationAccepted(ctx context.Context, ev LocationEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.jobs <- sinkJob{ctx: context.WithoutCancel(ctx), location: &ev}:
	default:
		metrics.SinkErrors.WithLabelValues(s.name + "_overflow").Inc()
	}
}

func (s *AsyncSink) PresenceChanged(ctx context.Context, plate string, online bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	s.jobs <- sinkJob{ctx: context.WithoutCancel(ctx), plate: plate, online: online}
}

// Close stops accepting work and waits until the queue is drained.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.jobs)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *AsyncSink) loop() {
	defer close(s.done)
	for job := range s.jobs {
		if job.location != nil {
			s.inner.LocationAccepted(job.ctx, *job.location)
			continue
		}
		s.inner.PresenceChanged(job.ctx, job.plate, job.online)
	}
	s.log.Debug(context.Background(), "sink_stopped", "sink drained", map[string]any{"sink": s.name})
}
