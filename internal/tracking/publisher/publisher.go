package publisher

import (
	"context"
	"errors"
	"sync"
	"time"

	"taxi-tracking/internal/domain/geo"
	"taxi-tracking/internal/domain/vehicle"
	"taxi-tracking/internal/general/contracts"
	"taxi-tracking/internal/general/logger"
)

// ErrNotReady is returned by an Emitter that cannot send right now
// (not connected or not authenticated). The fix is dropped, never queued.
var ErrNotReady = errors.New("link not ready")

// Emitter sends a taxi:location frame. Implementations must not block on a
// congested link; they drop instead.
type Emitter interface {
	EmitLocation(ctx context.Context, loc contracts.TaxiLocation) error
}

// Outcome of a single Publish call.
type Outcome string

const (
	OutcomeSent        Outcome = "sent"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeNotReady    Outcome = "not_ready"
	OutcomeFailed      Outcome = "failed"
)

// Publisher rate-limits smoothed fixes onto the driver link.
type Publisher struct {
	plate    string
	interval time.Duration
	emitter  Emitter
	log      *logger.Logger
	now      func() time.Time

	mu            sync.Mutex
	status        vehicle.Status
	reservationID string
	lastSent      time.Time
	observer      func(Outcome)
}

func New(plate string, interval time.Duration, emitter Emitter, log *logger.Logger) *Publisher {
	return &Publisher{
		plate:    vehicle.NormalizePlate(plate),
		interval: interval,
		emitter:  emitter,
		log:      log,
		now:      time.Now,
		status:   vehicle.StatusAvailable,
	}
}

// OnOutcome registers a callback invoked after every Publish.
func (p *Publisher) OnOutcome(fn func(Outcome)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = fn
}

// SetStatus changes the estado carried by subsequent emissions.
func (p *Publisher) SetStatus(status vehicle.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

// SetReservation ties subsequent emissions to a reservation; "" clears it.
func (p *Publisher) SetReservation(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reservationID = id
}

// Publish emits fix unless the previous emission was less than the interval ago
// or the link is not ready. Dropped fixes are not retried.
func (p *Publisher) Publish(ctx context.Context, fix geo.SmoothedFix) Outcome {
	p.mu.Lock()
	now := p.now()
	if !p.lastSent.IsZero() && now.Sub(p.lastSent) < p.interval {
		observer := p.observer
		p.mu.Unlock()
		return p.report(observer, OutcomeRateLimited)
	}
	loc := contracts.TaxiLocation{
		Plate:         p.plate,
		Lat:           fix.Lat,
		Lng:           fix.Lng,
		Accuracy:      fix.Accuracy,
		Speed:         fix.Speed,
		Heading:       fix.Heading,
		Timestamp:     fix.TimestampMs,
		Status:        p.status.String(),
		ReservationID: p.reservationID,
	}
	observer := p.observer
	p.mu.Unlock()

	err := p.emitter.EmitLocation(ctx, loc)
	switch {
	case err == nil:
		p.mu.Lock()
		p.lastSent = now
		p.mu.Unlock()
		return p.report(observer, OutcomeSent)
	case errors.Is(err, ErrNotReady):
		return p.report(observer, OutcomeNotReady)
	default:
		p.log.Warn(ctx, "location_emit_failed", "dropping fix", err, map[string]any{"timestamp": fix.TimestampMs})
		return p.report(observer, OutcomeFailed)
	}
}

func (p *Publisher) report(observer func(Outcome), o Outcome) Outcome {
	if observer != nil {
		observer(o)
	}
	return o
}
