package service

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

type stubLive []vehicle.Vehicle

func (s stubLive) Vehicles() []vehicle.Vehicle { return s }

type stubLatest struct {
	locs []contracts.TaxiLocation
	err  error
}

func (s *stubLatest) Put(context.Context, contracts.TaxiLocation) error { return nil }
func (s *stubLatest) Get(context.Context, string) (*contracts.TaxiLocation, error) {
	return nil, nil
}
func (s *stubLatest) Delete(context.Context, string) error { return nil }
func (s *stubLatest) All(context.Context) ([]contracts.TaxiLocation, error) {
	return s.locs, s.err
}

type inlineUoW struct{}

func (inlineUoW) WithinTx(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }

type stubHistory struct {
	plate string
	limit int
	rows  []geo.LocationHistory
}

func (s *stubHistory) Archive(context.Context, *geo.LocationHistory) error { return nil }
func (s *stubHistory) Recent(_ context.Context, plate string, limit int) ([]geo.LocationHistory, error) {
	s.plate, s.limit = plate, limit
	return s.rows, nil
}

func testLog() *logger.Logger { return logger.NewWithWriter("test", io.Discard) }

func TestOverviewMergesLocalAndShared(t *testing.T) {
	live := stubLive{
		{Plate: "CD5678", DriverID: "drv-2", Status: vehicle.StatusInService, CurrentFix: &geo.SmoothedFix{Lat: -20.22, Lng: -70.14, Accuracy: 8}},
		{Plate: "AB1234", DriverID: "drv-1", Status: vehicle.StatusOffline},
	}
	latest := &stubLatest{locs: []contracts.TaxiLocation{
		{Plate: "cd5678", Lat: -20.3, Lng: -70.2, Status: "EN_SERVICIO", ReservationID: "res-1", Timestamp: 1},
		{Plate: "EF9012", Lat: -20.25, Lng: -70.13, Accuracy: 12, Status: "disponible", Timestamp: 1760000000000},
	}}

	svc := NewFleetService(live, latest, nil, nil, testLog())
	got, err := svc.Overview(context.Background())
	require.NoError(t, err)

	require.Len(t, got.Vehicles, 3)
	assert.Equal(t, []string{"AB1234", "CD5678", "EF9012"}, []string{got.Vehicles[0].Plate, got.Vehicles[1].Plate, got.Vehicles[2].Plate})

	local := got.Vehicles[1]
	assert.True(t, local.Local)
	assert.Equal(t, -20.22, local.Lat, "local fix wins over the shared store")
	assert.Equal(t, "res-1", local.ReservationID)

	remote := got.Vehicles[2]
	assert.False(t, remote.Local)
	assert.Equal(t, "DISPONIBLE", remote.Status)
	assert.Equal(t, time.UnixMilli(1760000000000).UTC(), remote.UpdatedAt)

	assert.Equal(t, 3, got.Counts["total"])
	assert.Equal(t, 1, got.Counts["OFFLINE"])
	assert.Equal(t, 1, got.Counts["EN_SERVICIO"])
	assert.Equal(t, 1, got.Counts["DISPONIBLE"])
}

func TestOverviewDegradesWhenStoreFails(t *testing.T) {
	live := stubLive{{Plate: "AB1234", Status: vehicle.StatusAvailable}}
	svc := NewFleetService(live, &stubLatest{err: errors.New("redis down")}, nil, nil, testLog())

	got, err := svc.Overview(context.Background())
	require.NoError(t, err)
	assert.Len(t, got.Vehicles, 1)
}

func TestVehicleHistory(t *testing.T) {
	acc := 7.0
	hist := &stubHistory{rows: []geo.LocationHistory{{Latitude: -20.2, Longitude: -70.1, AccuracyMeters: &acc, RecordedAt: time.Unix(10, 0)}}}
	svc := NewFleetService(stubLive{}, nil, inlineUoW{}, hist, testLog())

	points, err := svc.VehicleHistory(context.Background(), " ab1234 ", "")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "AB1234", hist.plate)
	assert.Equal(t, defaultHistoryLimit, hist.limit)
	assert.Equal(t, &acc, points[0].Accuracy)

	_, err = svc.VehicleHistory(context.Background(), "AB1234", "100000")
	require.NoError(t, err)
	assert.Equal(t, maxHistoryLimit, hist.limit)

	_, err = svc.VehicleHistory(context.Background(), "  ", "5")
	assert.ErrorIs(t, err, ErrPlateRequired)

	_, err = NewFleetService(stubLive{}, nil, nil, nil, testLog()).VehicleHistory(context.Background(), "AB1234", "5")
	assert.ErrorIs(t, err, ErrHistoryUnavailable)
}
