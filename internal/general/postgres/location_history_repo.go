package postgres

import (
	"context"
	"fmt"

	"taxi-tracking/internal/domain/geo"
	"taxi-tracking/internal/domain/vehicle"
	"taxi-tracking/internal/ports"
)

// LocationHistoryRepo archives accepted fixes.
type LocationHistoryRepo struct{}

func NewLocationHistoryRepo() ports.LocationHistoryRepository {
	return &LocationHistoryRepo{}
}

func (repo *LocationHistoryRepo) Archive(ctx context.Context, record *geo.LocationHistory) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}
	if err := record.Validate(); err != nil {
		return err
	}

	return tx.QueryRow(ctx, `
		INSERT INTO location_history (
			patente, conductor_id, latitude, longitude,
			accuracy_meters, speed, heading_degrees, recorded_at, reserva_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id::text
	`,
		record.Plate,
		record.DriverID,
		record.Latitude,
		record.Longitude,
		record.AccuracyMeters,
		record.Speed,
		record.HeadingDegrees,
		record.RecordedAt,
		record.ReservationID,
	).Scan(&record.ID)
}

// Recent returns the newest archived fixes of plate, newest first.
func (repo *LocationHistoryRepo) Recent(ctx context.Context, plate string, limit int) ([]geo.LocationHistory, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id::text, patente, conductor_id, latitude, longitude,
		       accuracy_meters, speed, heading_degrees, recorded_at, reserva_id
		FROM location_history
		WHERE patente = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, vehicle.NormalizePlate(plate), limit)
	if err != nil {
		return nil, fmt.Errorf("query location history: %w", err)
	}
	defer rows.Close()

	var out []geo.LocationHistory
	for rows.Next() {
		var rec geo.LocationHistory
		if err := rows.Scan(
			&rec.ID, &rec.Plate, &rec.DriverID, &rec.Latitude, &rec.Longitude,
			&rec.AccuracyMeters, &rec.Speed, &rec.HeadingDegrees, &rec.RecordedAt, &rec.ReservationID,
		); err != nil {
			return nil, fmt.Errorf("scan location history: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
