package service

import (
	"context"
	"errors"

	"taxi-tracking/internal/domain/geo"
	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/ports"
)

// ErrNotFound wraps whatever Deps.IsNotFound recognizes.
var (
	ErrNotFound       = errors.New("reservation not found")
	ErrVehicleBusy    = errors.New("vehicle already serving another reservation")
	ErrUnknownVehicle = errors.New("vehicle not registered")
)

type tripService struct {
	log          *logger.Logger
	uow          ports.UnitOfWork
	reservations ports.ReservationRepository
	events       ports.ReservationEventRepository
	vehicles     ports.VehicleRepository
	fixes        ports.FixLookup
	pub          ports.StatusPublisher // nil in single-process setups
	isNotFound   func(error) bool
	producer     string
}

type Deps struct {
	Log          *logger.Logger
	UoW          ports.UnitOfWork
	Reservations ports.ReservationRepository
	Events       ports.ReservationEventRepository
	Vehicles     ports.VehicleRepository
	Fixes        ports.FixLookup
	Publisher    ports.StatusPublisher
	// IsNotFound recognizes the repository's not-found error.
	IsNotFound func(error) bool
	Producer   string
}

func NewTripService(d Deps) ports.TripService {
	if d.IsNotFound == nil {
		d.IsNotFound = func(error) bool { return false }
	}
	if d.Producer == "" {
		d.Producer = "trip-service"
	}
	return &tripService{
		log:          d.Log,
		uow:          d.UoW,
		reservations: d.Reservations,
		events:       d.Events,
		vehicles:     d.Vehicles,
		fixes:        d.Fixes,
		pub:          d.Publisher,
		isNotFound:   d.IsNotFound,
		producer:     d.Producer,
	}
}

// FixChain asks each lookup in turn and returns the first fix found.
type FixChain []ports.FixLookup

func (chain FixChain) CurrentFix(ctx context.Context, plate string) (*geo.SmoothedFix, error) {
	var firstErr error
	for _, l := range chain {
		if l == nil {
			continue
		}
		fix, err := l.CurrentFix(ctx, plate)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if fix != nil {
			return fix, nil
		}
	}
	return nil, firstErr
}
