package publisher

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"taxi-tracking/internal/domain/geo"
	"taxi-tracking/internal/domain/vehicle"
	"taxi-tracking/internal/general/contracts"
	"taxi-tracking/internal/general/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	err  error
	sent []contracts.TaxiLocation
}

func (r *recordingEmitter) EmitLocation(_ context.Context, loc contracts.TaxiLocation) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, loc)
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestPublisher(em Emitter, clock *fakeClock) *Publisher {
	p := New("abc123", time.Second, em, logger.NewWithWriter("test", io.Discard))
	p.now = clock.Now
	return p
}

func smoothed(ts int64) geo.SmoothedFix {
	speed := 10.0
	return geo.SmoothedFix{Lat: -20.2130, Lng: -70.15, Accuracy: 12, AccuracyLevel: geo.AccuracyMedium, Speed: &speed, TimestampMs: ts}
}

func TestPublishRateLimits(t *testing.T) {
	em := &recordingEmitter{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	p := newTestPublisher(em, clock)

	assert.Equal(t, OutcomeSent, p.Publish(context.Background(), smoothed(1)))
	clock.Advance(400 * time.Millisecond)
	assert.Equal(t, OutcomeRateLimited, p.Publish(context.Background(), smoothed(2)))
	clock.Advance(600 * time.Millisecond)
	assert.Equal(t, OutcomeSent, p.Publish(context.Background(), smoothed(3)))

	require.Len(t, em.sent, 2)
	assert.Equal(t, int64(3), em.sent[1].Timestamp)
}

func TestPublishCarriesIdentityAndStatus(t *testing.T) {
	em := &recordingEmitter{}
	p := newTestPublisher(em, &fakeClock{t: time.Unix(0, 0)})
	p.SetStatus(vehicle.StatusInService)
	p.SetReservation("res-1")

	p.Publish(context.Background(), smoothed(7))
	require.Len(t, em.sent, 1)

	loc := em.sent[0]
	assert.Equal(t, "ABC123", loc.Plate)
	assert.Equal(t, "EN_SERVICIO", loc.Status)
	assert.Equal(t, "res-1", loc.ReservationID)
	assert.Equal(t, 12.0, loc.Accuracy)
	require.NotNil(t, loc.Speed)
	assert.Nil(t, loc.Heading)
}

func TestPublishDropsWhenNotReady(t *testing.T) {
	em := &recordingEmitter{err: ErrNotReady}
	clock := &fakeClock{t: time.Unix(0, 0)}
	p := newTestPublisher(em, clock)

	var outcomes []Outcome
	p.OnOutcome(func(o Outcome) { outcomes = append(outcomes, o) })

	assert.Equal(t, OutcomeNotReady, p.Publish(context.Background(), smoothed(1)))

	// not-ready drops do not consume the rate window
	em.err = nil
	assert.Equal(t, OutcomeSent, p.Publish(context.Background(), smoothed(2)))
	assert.Equal(t, []Outcome{OutcomeNotReady, OutcomeSent}, outcomes)
}

func TestPublishReportsFailures(t *testing.T) {
	em := &recordingEmitter{err: errors.New("broken pipe")}
	p := newTestPublisher(em, &fakeClock{t: time.Unix(0, 0)})
	assert.Equal(t, OutcomeFailed, p.Publish(context.Background(), smoothed(1)))
}
