package service

import (
	"errors"

	"taxi-tracking/internal/domain/vehicle"
	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/ports"
)

var (
	ErrHistoryUnavailable = errors.New("location history is not configured")
	ErrPlateRequired      = errors.New("patente is required")
)

// LiveFleet is what this replica sees directly. *broker.Broker implements it.
type LiveFleet interface {
	Vehicles() []vehicle.Vehicle
}

// fleetService encapsulates the fleet board logic and dependencies.
type fleetService struct {
	live    LiveFleet
	latest  ports.LatestFixStore // nil without redis
	uow     ports.UnitOfWork     // nil without postgres
	history ports.LocationHistoryRepository
	log     *logger.Logger
}

// NewFleetService creates the fleet board service. latest, uow and history
// are optional.
func NewFleetService(
	live LiveFleet,
	latest ports.LatestFixStore,
	uow ports.UnitOfWork,
	history ports.LocationHistoryRepository,
	log *logger.Logger,
) ports.FleetService {
	return &fleetService{
		live:    live,
		latest:  latest,
		uow:     uow,
		history: history,
		log:     log,
	}
}
