package service

import (
	"context"
	"strconv"

	"taxi-tracking/internal/domain/geo"
	"taxi-tracking/internal/domain/vehicle"
	"taxi-tracking/internal/ports"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// VehicleHistory returns the newest archived fixes of a vehicle.
func (service *fleetService) VehicleHistory(ctx context.Context, plate, limit string) ([]ports.HistoryPoint, error) {
	if service.history == nil || service.uow == nil {
		return nil, ErrHistoryUnavailable
	}
	plate = vehicle.NormalizePlate(plate)
	if plate == "" {
		return nil, ErrPlateRequired
	}

	// convert limit to an integer with fallback default
	n, err := strconv.Atoi(limit)
	if err != nil || n < 1 {
		n = defaultHistoryLimit
	}
	if n > maxHistoryLimit {
		n = maxHistoryLimit
	}

	var rows []geo.LocationHistory
	err = service.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var err error
		rows, err = service.history.Recent(txCtx, plate, n)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]ports.HistoryPoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, ports.HistoryPoint{
			Lat:           r.Latitude,
			Lng:           r.Longitude,
			Accuracy:      r.AccuracyMeters,
			Speed:         r.Speed,
			Heading:       r.HeadingDegrees,
			ReservationID: r.ReservationID,
			RecordedAt:    r.RecordedAt.UTC(),
		})
	}
	return out, nil
}
