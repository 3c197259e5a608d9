package ports

import (
	"context"
	"time"

	"taxi-tracking/internal/domain/geo"
	"taxi-tracking/internal/domain/reservation"
	"taxi-tracking/internal/domain/vehicle"
	"taxi-tracking/internal/general/contracts"
)

// UnitOfWork interface is used to manage transactions across multiple repository operations.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReservationRepository persists reservations and their lifecycle.
type ReservationRepository interface {
	Create(ctx context.Context, res *reservation.Reservation) error
	GetByID(ctx context.Context, id string) (*reservation.Reservation, error)
	// GetForUpdate locks the row for the rest of the surrounding transaction.
	GetForUpdate(ctx context.Context, id string) (*reservation.Reservation, error)
	SaveState(ctx context.Context, res *reservation.Reservation) error
	CacheCoords(ctx context.Context, id string, kind reservation.TargetKind, point geo.Point) error
	GetActiveForVehicle(ctx context.Context, plate string) (*reservation.Reservation, error)
}

// ReservationEventRepository appends the audit trail of transitions.
type ReservationEventRepository interface {
	Append(ctx context.Context, e *reservation.Event) error
}

// VehicleRepository reads the fleet registry and records presence.
type VehicleRepository interface {
	GetByPlate(ctx context.Context, plate string) (*vehicle.Vehicle, error)
	UpdateStatus(ctx context.Context, plate string, status vehicle.Status, at time.Time) error
}

// LocationHistoryRepository defines the methods for archiving location history data.
type LocationHistoryRepository interface {
	Archive(ctx context.Context, record *geo.LocationHistory) error
	Recent(ctx context.Context, plate string, limit int) ([]geo.LocationHistory, error)
}

// LatestFixStore keeps the last broadcast location per plate across replicas.
type LatestFixStore interface {
	Put(ctx context.Context, loc contracts.TaxiLocation) error
	Get(ctx context.Context, plate string) (*contracts.TaxiLocation, error)
	Delete(ctx context.Context, plate string) error
	All(ctx context.Context) ([]contracts.TaxiLocation, error)
}
