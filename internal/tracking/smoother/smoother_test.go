package smoother

import (
	"context"
	"io"
	"math"
	"testing"

	"taxi-tracking/internal/domain/geo"
	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/tracking/sampler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(lat, lng, acc float64, ts int64) geo.RawFix {
	return geo.RawFix{Latitude: lat, Longitude: lng, AccuracyMeters: acc, TimestampMs: ts}
}

func TestIngestWarmsUpWithTwoSamples(t *testing.T) {
	s := New()
	assert.Nil(t, s.Ingest(raw(-20.2130, -70.1500, 15, 0)))

	out := s.Ingest(raw(-20.2131, -70.1501, 15, 600))
	require.NotNil(t, out)
	assert.Equal(t, 2, s.Len())
}

func TestKalmanSecondStep(t *testing.T) {
	s := New()
	s.Ingest(raw(10, 20, 5, 0))
	out := s.Ingest(raw(11, 22, 5, 1000))
	require.NotNil(t, out)

	gain := 1.1 / 1.2
	assert.InDelta(t, 10+gain*1, out.Lat, 1e-9)
	assert.InDelta(t, 20+gain*2, out.Lng, 1e-9)
}

func TestKalmanConvergesToConstantMeasurement(t *testing.T) {
	var k kalman1D
	k.update(0)
	var x float64
	for i := 0; i < 20; i++ {
		x = k.update(1)
	}
	assert.InDelta(t, 1.0, x, 1e-3)
}

func TestSmootherConvergesOnStationaryVehicle(t *testing.T) {
	s := New()
	s.Ingest(raw(-20.20, -70.10, 5, 0))
	var out *geo.SmoothedFix
	for i := 1; i <= 20; i++ {
		out = s.Ingest(raw(-20.21, -70.11, 5, int64(i)*1000))
	}
	require.NotNil(t, out)
	assert.InDelta(t, -20.21, out.Lat, 1e-3)
	assert.InDelta(t, -70.11, out.Lng, 1e-3)
}

func TestAxesAreIndependent(t *testing.T) {
	s := New()
	s.Ingest(raw(10, 20, 5, 0))
	s.Ingest(raw(10, 25, 5, 1000))
	out := s.Ingest(raw(10, 30, 5, 2000))
	require.NotNil(t, out)
	assert.InDelta(t, 10, out.Lat, 1e-12)
	assert.Greater(t, out.Lng, 25.0)
}

func TestCarriesNewestFixAttributes(t *testing.T) {
	speed, heading, alt := 8.0, 90.0, 12.0
	s := New()
	s.Ingest(raw(-20.2130, -70.1500, 5, 0))
	newest := raw(-20.2131, -70.1501, 18, 600)
	newest.Speed, newest.Heading, newest.Altitude = &speed, &heading, &alt

	out := s.Ingest(newest)
	require.NotNil(t, out)
	assert.Equal(t, 18.0, out.Accuracy)
	assert.Equal(t, geo.AccuracyMedium, out.AccuracyLevel)
	assert.Equal(t, &speed, out.Speed)
	assert.Equal(t, &heading, out.Heading)
	assert.Equal(t, &alt, out.Altitude)
	assert.Equal(t, int64(600), out.TimestampMs)
}

func TestBufferNeverExceedsCapacity(t *testing.T) {
	s := New()
	for i := 0; i < 40; i++ {
		s.Ingest(raw(-20.2+float64(i)*0.0001, -70.15, 10, int64(i)*1000))
		assert.LessOrEqual(t, s.Len(), Capacity)
	}
	assert.Equal(t, Capacity, s.Len())
}

func TestInvalidFixDoesNotMutateState(t *testing.T) {
	s := New()
	s.Ingest(raw(10, 20, 5, 0))
	s.Ingest(raw(11, 21, 5, 1000))
	before, _ := s.WeightedAverage()

	assert.Nil(t, s.Ingest(raw(math.NaN(), 20, 5, 2000)))
	assert.Nil(t, s.Ingest(raw(10, math.NaN(), 5, 2000)))
	assert.Nil(t, s.Ingest(raw(95, 20, 5, 2000)))

	assert.Equal(t, 2, s.Len())
	after, _ := s.WeightedAverage()
	assert.Equal(t, before, after)

	next := s.Ingest(raw(11, 21, 5, 3000))
	require.NotNil(t, next)
}

func TestWeightedAverageFavoursNewest(t *testing.T) {
	s := New()
	_, ok := s.WeightedAverage()
	assert.False(t, ok)

	s.Ingest(raw(0, 0, 5, 0))
	s.Ingest(raw(1, 1, 5, 1000))
	avg, ok := s.WeightedAverage()
	require.True(t, ok)

	w0 := math.Exp(-0.5)
	assert.InDelta(t, 1/(1+w0), avg.Lat, 1e-12)
	assert.Greater(t, avg.Lat, 0.5)
}

func TestReset(t *testing.T) {
	s := New()
	s.Ingest(raw(10, 20, 5, 0))
	s.Ingest(raw(11, 21, 5, 1000))
	s.Reset()

	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.Ingest(raw(30, 40, 5, 2000)))
	out := s.Ingest(raw(30, 40, 5, 3000))
	require.NotNil(t, out)
	assert.InDelta(t, 30, out.Lat, 1e-12)
}

type scriptedSource struct {
	readings []sampler.Reading
}

func (s scriptedSource) Watch(ctx context.Context, _ sampler.Options) (<-chan sampler.Reading, error) {
	ch := make(chan sampler.Reading)
	go func() {
		defer close(ch)
		for _, r := range s.readings {
			select {
			case ch <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func TestVehicleABC123Pipeline(t *testing.T) {
	first := raw(-20.2130, -70.1500, 15, 1_000)
	second := raw(-20.2131, -70.1501, 15, 1_600)
	// ~5 m north of the second fix, 100 ms later
	third := raw(-20.2131+5.0/111_195, -70.1501, 15, 1_700)

	src := scriptedSource{readings: []sampler.Reading{{Fix: first}, {Fix: second}, {Fix: third}}}
	smp := sampler.New(sampler.DefaultConfig(), logger.NewWithWriter("test", io.Discard))

	var verdicts []sampler.Verdict
	smp.OnVerdict(func(v sampler.Verdict) { verdicts = append(verdicts, v) })

	fixes, err := smp.Start(context.Background(), src)
	require.NoError(t, err)

	sm := New()
	var smoothed []*geo.SmoothedFix
	for f := range fixes {
		smoothed = append(smoothed, sm.Ingest(f))
	}

	assert.Equal(t, []sampler.Verdict{sampler.VerdictAccepted, sampler.VerdictAccepted, sampler.VerdictThrottled}, verdicts)
	assert.Equal(t, 2, sm.Len())
	require.Len(t, smoothed, 2)
	assert.Nil(t, smoothed[0])
	require.NotNil(t, smoothed[1])
	assert.Equal(t, int64(1_600), smoothed[1].TimestampMs)
}
