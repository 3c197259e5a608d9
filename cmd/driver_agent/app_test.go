package driveragent

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"taxi-tracking/internal/domain/geo"
	"taxi-tracking/internal/general/contracts"
	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/tracking/publisher"
	"taxi-tracking/internal/tracking/sampler"
	"taxi-tracking/internal/tracking/smoother"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	sent []contracts.TaxiLocation
}

func (e *recordingEmitter) EmitLocation(_ context.Context, loc contracts.TaxiLocation) error {
	e.sent = append(e.sent, loc)
	return nil
}

func stateFrame(t *testing.T, id, estado string) contracts.Frame {
	t.Helper()
	raw, err := contracts.EncodeFrame(contracts.EventReservationState, contracts.ReservationState{ReservationID: id, State: estado})
	require.NoError(t, err)
	f, err := contracts.DecodeFrame(raw)
	require.NoError(t, err)
	return f
}

func TestReservationStateDrivesPublisherAndSmoother(t *testing.T) {
	log := logger.NewWithWriter("test", io.Discard)
	em := &recordingEmitter{}
	pub := publisher.New("ab1234", 0, em, log)
	sm := smoother.New()
	ctx := context.Background()

	for i := range 3 {
		sm.Ingest(geo.RawFix{Latitude: -20.21 + float64(i)*0.0001, Longitude: -70.15, AccuracyMeters: 5, TimestampMs: int64(1000 * (i + 1))})
	}
	require.Equal(t, 3, sm.Len())

	fix := geo.SmoothedFix{Lat: -20.21, Lng: -70.15, Accuracy: 5, TimestampMs: 1}

	applyReservationState(ctx, stateFrame(t, "res-1", "CONFIRMADO"), sm, pub, log)
	pub.Publish(ctx, fix)
	assert.Equal(t, 3, sm.Len(), "confirmation keeps the window")

	applyReservationState(ctx, stateFrame(t, "res-1", "RECOGIDO"), sm, pub, log)
	assert.Equal(t, 0, sm.Len(), "pickup restarts smoothing")

	applyReservationState(ctx, stateFrame(t, "res-1", "COMPLETADO"), sm, pub, log)
	pub.Publish(ctx, fix)

	require.Len(t, em.sent, 2)
	assert.Equal(t, "EN_SERVICIO", em.sent[0].Status)
	assert.Equal(t, "res-1", em.sent[0].ReservationID)
	assert.Equal(t, "DISPONIBLE", em.sent[1].Status)
	assert.Empty(t, em.sent[1].ReservationID)
}

func TestReservationStateIgnoresGarbage(t *testing.T) {
	log := logger.NewWithWriter("test", io.Discard)
	em := &recordingEmitter{}
	pub := publisher.New("AB1234", 0, em, log)

	applyReservationState(context.Background(), stateFrame(t, "res-2", "VOLANDO"), smoother.New(), pub, log)
	pub.Publish(context.Background(), geo.SmoothedFix{Lat: 1, Lng: 1, TimestampMs: 1})

	require.Len(t, em.sent, 1)
	assert.Equal(t, "DISPONIBLE", em.sent[0].Status)
}

func TestOpenSource(t *testing.T) {
	_, _, err := openSource("", "", false)
	assert.Error(t, err)

	_, _, err = openSource(filepath.Join(t.TempDir(), "missing.ndjson"), "", false)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "fixes.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(`{"latitude":-20.2,"longitude":-70.1,"accuracy":5,"timestamp":1}`+"\n"), 0o600))
	src, closeFn, err := openSource("", path, false)
	require.NoError(t, err)
	defer closeFn()

	readings, err := src.Watch(context.Background(), sampler.Options{})
	require.NoError(t, err)
	r := <-readings
	require.NoError(t, r.Err)
	assert.Equal(t, -20.2, r.Fix.Latitude)
}
