package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taxi-tracking/internal/domain/vehicle"
	"taxi-tracking/internal/ports"

	"github.com/jackc/pgx/v5"
)

var ErrVehicleNotFound = errors.New("vehicle not registered")

// VehicleRepo reads the vehiculos registry.
type VehicleRepo struct{}

func NewVehicleRepo() ports.VehicleRepository {
	return &VehicleRepo{}
}

func (repo *VehicleRepo) GetByPlate(ctx context.Context, plate string) (*vehicle.Vehicle, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var out vehicle.Vehicle
	var status string
	err = tx.QueryRow(ctx, `
		SELECT patente, conductor_id, estado, actualizado_en
		FROM vehiculos
		WHERE patente = $1
	`, vehicle.NormalizePlate(plate)).Scan(&out.Plate, &out.DriverID, &status, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVehicleNotFound
	}
	if err != nil {
		return nil, err
	}
	if out.Status, err = vehicle.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("vehicle %s: %w", out.Plate, err)
	}
	return &out, nil
}

func (repo *VehicleRepo) UpdateStatus(ctx context.Context, plate string, status vehicle.Status, at time.Time) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}
	if !status.Valid() {
		return vehicle.ErrInvalidStatus
	}

	tag, err := tx.Exec(ctx, `
		UPDATE vehiculos SET estado = $2, actualizado_en = $3 WHERE patente = $1
	`, vehicle.NormalizePlate(plate), status.String(), at)
	if err != nil {
		return fmt.Errorf("update vehicle status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVehicleNotFound
	}
	return nil
}
