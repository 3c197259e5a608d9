package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taxi-tracking/internal/domain/reservation"
	"taxi-tracking/internal/domain/vehicle"
	"taxi-tracking/internal/general/contracts"
	"taxi-tracking/internal/general/metrics"
	"taxi-tracking/internal/ports"

	"github.com/google/uuid"
)

func (service *tripService) Create(ctx context.Context, in ports.CreateReservationInput) (*reservation.Reservation, error) {
	id := strings.TrimSpace(in.ReservationID)
	if id == "" {
		id = uuid.NewString()
	}
	res, err := reservation.New(id, in.OriginAddress, in.DestinationAddress)
	if err != nil {
		return nil, err
	}
	err = service.uow.WithinTx(ctx, func(ctx context.Context) error {
		return service.reservations.Create(ctx, res)
	})
	if err != nil {
		service.log.Error(ctx, "reservation_create_failed", "failed to create reservation", err, map[string]any{"reservation_id": id})
		return nil, err
	}
	service.log.Info(ctx, "reservation_created", "reservation registered", map[string]any{"reservation_id": id})
	return res, nil
}

func (service *tripService) Get(ctx context.Context, id string) (*reservation.Reservation, error) {
	var out *reservation.Reservation
	err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
		res, err := service.reservations.GetByID(ctx, id)
		out = res
		return err
	})
	if err != nil {
		return nil, service.mapErr(err)
	}
	return out, nil
}

func (service *tripService) Approve(ctx context.Context, id string) (ports.TripResult, error) {
	return service.transition(ctx, id, func(_ context.Context, m *reservation.Machine, _ *reservation.Reservation) (reservation.Transition, error) {
		return m.Approve()
	})
}

func (service *tripService) Reject(ctx context.Context, id, reason string) (ports.TripResult, error) {
	return service.transition(ctx, id, func(_ context.Context, m *reservation.Machine, _ *reservation.Reservation) (reservation.Transition, error) {
		return m.Reject(reason)
	})
}

// StartTrip binds the vehicle and confirms the reservation. The vehicle must
// be registered and free.
func (service *tripService) StartTrip(ctx context.Context, in ports.StartTripInput) (ports.TripResult, error) {
	plate := vehicle.NormalizePlate(in.Plate)
	return service.transition(ctx, in.ReservationID, func(ctx context.Context, m *reservation.Machine, res *reservation.Reservation) (reservation.Transition, error) {
		if !res.State.CanTransitionTo(reservation.StateConfirmed) {
			return m.Confirm(plate)
		}
		if plate == "" {
			return reservation.Transition{}, reservation.ErrVehicleRequired
		}
		if _, err := service.vehicles.GetByPlate(ctx, plate); err != nil {
			if service.isNotFound(err) {
				return reservation.Transition{}, fmt.Errorf("%w: %s", ErrUnknownVehicle, plate)
			}
			return reservation.Transition{}, fmt.Errorf("vehicle %s: %w", plate, err)
		}
		busy, err := service.reservations.GetActiveForVehicle(ctx, plate)
		if err != nil {
			return reservation.Transition{}, err
		}
		if busy != nil && busy.ID != in.ReservationID {
			return reservation.Transition{}, fmt.Errorf("%w: vehicle %s is serving %s", ErrVehicleBusy, plate, busy.ID)
		}
		return m.Confirm(plate)
	})
}

// PickUp requires the assigned vehicle's current fix.
func (service *tripService) PickUp(ctx context.Context, id string) (ports.TripResult, error) {
	return service.transition(ctx, id, func(ctx context.Context, m *reservation.Machine, res *reservation.Reservation) (reservation.Transition, error) {
		if !res.State.CanTransitionTo(reservation.StatePickedUp) {
			return m.PickUp(nil)
		}
		fix, err := service.fixes.CurrentFix(ctx, res.AssignedVehicle)
		if err != nil {
			return reservation.Transition{}, fmt.Errorf("current fix of %s: %w", res.AssignedVehicle, err)
		}
		return m.PickUp(fix)
	})
}

func (service *tripService) CompleteTrip(ctx context.Context, in ports.CompleteTripInput) (ports.TripResult, error) {
	return service.transition(ctx, in.ReservationID, func(_ context.Context, m *reservation.Machine, _ *reservation.Reservation) (reservation.Transition, error) {
		if err := in.Metadata.Validate(); err != nil {
			return reservation.Transition{}, err
		}
		return m.Complete(in.Metadata)
	})
}

func (service *tripService) Cancel(ctx context.Context, id, reason string) (ports.TripResult, error) {
	return service.transition(ctx, id, func(_ context.Context, m *reservation.Machine, _ *reservation.Reservation) (reservation.Transition, error) {
		return m.Cancel(reason)
	})
}

type step func(ctx context.Context, m *reservation.Machine, res *reservation.Reservation) (reservation.Transition, error)

// transition loads the reservation under a row lock, applies apply through a
// TripStateMachine, persists state, audit events and vehicle status, then
// announces the change once the transaction committed.
func (service *tripService) transition(ctx context.Context, id string, apply step) (ports.TripResult, error) {
	ctx = service.log.WithReservationID(ctx, id)
	corrID := uuid.NewString()

	var (
		tr   reservation.Transition
		snap *reservation.Reservation
	)
	err := service.uow.WithinTx(ctx, func(ctx context.Context) error {
		res, err := service.reservations.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		m := reservation.NewMachine(res.Clone())
		if tr, err = apply(ctx, m, res); err != nil {
			return err
		}
		snap = m.Snapshot()

		if err := service.reservations.SaveState(ctx, snap); err != nil {
			return err
		}
		for _, ev := range reservation.EventsFor(snap, tr) {
			if err := service.events.Append(ctx, ev); err != nil {
				return err
			}
		}
		if status, ok := vehicleStatusAfter(tr.To); ok && snap.AssignedVehicle != "" {
			if err := service.vehicles.UpdateStatus(ctx, snap.AssignedVehicle, status, tr.At); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		service.log.Warn(ctx, "reservation_transition_failed", "transition not applied", err, map[string]any{"request_id": corrID})
		return ports.TripResult{}, service.mapErr(err)
	}

	metrics.ReservationTransitions.WithLabelValues(tr.To.String()).Inc()
	service.announce(ctx, tr, snap, corrID)

	service.log.Info(ctx, "reservation_transitioned", "reservation state changed", map[string]any{
		"from":    tr.From,
		"to":      tr.To,
		"patente": snap.AssignedVehicle,
	})
	return ports.TripResult{
		ReservationID: snap.ID,
		From:          tr.From.String(),
		State:         tr.To.String(),
		Plate:         snap.AssignedVehicle,
		UpdatedAt:     tr.At.UTC().Format(time.RFC3339Nano),
	}, nil
}

// announce publishes the committed transition. A failure is logged only:
// the transition stays committed.
func (service *tripService) announce(ctx context.Context, tr reservation.Transition, res *reservation.Reservation, corrID string) {
	if service.pub == nil {
		return
	}
	msg := contracts.ReservationStatusMessage{
		ReservationID: res.ID,
		From:          tr.From.String(),
		State:         tr.To.String(),
		Plate:         res.AssignedVehicle,
		Timestamp:     tr.At,
		Envelope: contracts.Envelope{
			CorrelationID: corrID,
			Producer:      service.producer,
			SentAt:        time.Now().UTC(),
		},
	}
	if err := service.pub.PublishReservationStatus(ctx, msg); err != nil {
		service.log.Error(ctx, "reservation_status_publish_failed", "failed to publish reservation status", err, map[string]any{
			"estado":     msg.State,
			"request_id": corrID,
		})
	}
}

func vehicleStatusAfter(state reservation.State) (vehicle.Status, bool) {
	switch state {
	case reservation.StateConfirmed:
		return vehicle.StatusInService, true
	case reservation.StateCompleted, reservation.StateCancelled:
		return vehicle.StatusAvailable, true
	default:
		return "", false
	}
}

func (service *tripService) mapErr(err error) error {
	if errors.Is(err, ErrUnknownVehicle) || !service.isNotFound(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNotFound, err)
}
