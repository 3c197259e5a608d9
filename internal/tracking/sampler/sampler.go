package sampler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taxi-tracking/internal/domain/geo"
	"taxi-tracking/internal/general/logger"
)

type Config struct {
	HighAccuracy      bool
	Timeout           time.Duration
	MaximumAge        time.Duration
	RetryCount        int
	MinInterval       time.Duration
	MinDistanceMeters float64
	MaxAccuracyMeters float64
}

func DefaultConfig() Config {
	return Config{
		HighAccuracy:      true,
		Timeout:           10 * time.Second,
		RetryCount:        3,
		MinInterval:       500 * time.Millisecond,
		MinDistanceMeters: 2,
		MaxAccuracyMeters: 20,
	}
}

// Sampler turns device readings into a filtered stream of raw fixes.
type Sampler struct {
	cfg Config
	log *logger.Logger

	mu       sync.Mutex
	gate     gate
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	observer func(Verdict)

	errs chan error
}

func New(cfg Config, log *logger.Logger) *Sampler {
	return &Sampler{
		cfg: cfg,
		log: log,
		gate: gate{
			minInterval: cfg.MinInterval,
			minDistance: cfg.MinDistanceMeters,
			maxAccuracy: cfg.MaxAccuracyMeters,
		},
		errs: make(chan error, 16),
	}
}

// OnVerdict registers a callback invoked for every fix the device reports.
func (s *Sampler) OnVerdict(fn func(Verdict)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = fn
}

// Errors surfaces typed device errors. It stays open across Start/Stop cycles.
func (s *Sampler) Errors() <-chan error {
	return s.errs
}

// Start begins watching src. The returned channel is closed on Stop, when ctx
// is done, when the source ends, or after the retry budget is exhausted.
func (s *Sampler) Start(ctx context.Context, src DeviceSource) (<-chan geo.RawFix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	readings, err := src.Watch(ctx, Options{
		HighAccuracy: s.cfg.HighAccuracy,
		Timeout:      s.cfg.Timeout,
		MaximumAge:   s.cfg.MaximumAge,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch position: %w", err)
	}

	out := make(chan geo.RawFix)
	s.gate.reset()
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, readings, out, s.done)
	return out, nil
}

// Stop halts the stream and waits for the worker to exit.
func (s *Sampler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sampler) run(ctx context.Context, readings <-chan Reading, out chan<- geo.RawFix, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
		close(out)
		close(done)
	}()

	failures := 0
	for {
		var r Reading
		var ok bool
		select {
		case <-ctx.Done():
			return
		case r, ok = <-readings:
			if !ok {
				return
			}
		}

		if r.Err != nil {
			s.surface(ctx, r.Err)
			if !retryable(r.Err) {
				continue
			}
			failures++
			if failures > s.cfg.RetryCount {
				s.surface(ctx, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, failures, r.Err))
				return
			}
			continue
		}
		failures = 0

		s.mu.Lock()
		verdict := s.gate.admit(r.Fix)
		observer := s.observer
		s.mu.Unlock()

		if observer != nil {
			observer(verdict)
		}
		if verdict != VerdictAccepted {
			s.log.Debug(ctx, "fix_dropped", "fix did not pass sampler gates", map[string]any{
				"verdict":  verdict,
				"accuracy": r.Fix.AccuracyMeters,
			})
			continue
		}

		select {
		case out <- r.Fix:
		case <-ctx.Done():
			return
		}
	}
}

// surface never blocks; when nobody drains Errors the oldest error is dropped.
func (s *Sampler) surface(ctx context.Context, err error) {
	s.log.Warn(ctx, "position_error", "device reported an error", err, nil)
	for {
		select {
		case s.errs <- err:
			return
		default:
		}
		select {
		case <-s.errs:
		default:
		}
	}
}
