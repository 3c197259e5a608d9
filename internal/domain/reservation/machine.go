package reservation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"taxi-tracking/internal/domain/geo"
)

var (
	ErrInvalidTransition = errors.New("invalid reservation transition")
	ErrFixRequired       = errors.New("vehicle has no current fix")
	ErrVehicleRequired   = errors.New("vehicle plate is required")
	ErrMetadataRequired  = errors.New("trip metadata is required")
)

// InvalidTransitionError is returned when a transition is absent from the allowed table.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid reservation transition %s -> %s", e.From, e.To)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// Transition describes one applied state change.
type Transition struct {
	ReservationID string
	From          State
	To            State
	At            time.Time
}

// Input carries what a transition may need besides the target state.
type Input struct {
	Plate      string           // CONFIRMADO
	VehicleFix *geo.SmoothedFix // RECOGIDO
	Metadata   *TripMetadata    // COMPLETADO
	Reason     string           // CANCELADO / RECHAZADO
}

// Machine guards the lifecycle of a single reservation and notifies listeners
// after every applied transition.
type Machine struct {
	mu        sync.Mutex
	res       *Reservation
	listeners []func(Transition)
}

// NewMachine wraps res. The machine owns res from now on.
func NewMachine(res *Reservation) *Machine {
	return &Machine{res: res}
}

// OnTransition registers fn to be called, in registration order, after each transition.
func (m *Machine) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Snapshot returns a copy of the reservation.
func (m *Machine) Snapshot() *Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.res.Clone()
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.res.State
}

// Target returns the route target for the current state.
func (m *Machine) Target() (RouteTarget, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.res.RouteTarget()
}

// CacheCoords stores geocoded coordinates on the owned reservation.
func (m *Machine) CacheCoords(kind TargetKind, point geo.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.res.CacheCoords(kind, point)
}

// Transition moves the reservation to next, or fails with an *InvalidTransitionError
// (or a guard error) leaving the state untouched.
func (m *Machine) Transition(next State, in Input) (Transition, error) {
	return m.apply(next, in, true)
}

// Observe mirrors a transition that was already committed elsewhere, such as
// a reservation:state event. Only the transition table is enforced.
func (m *Machine) Observe(next State, plate string) (Transition, error) {
	return m.apply(next, Input{Plate: plate}, false)
}

func (m *Machine) apply(next State, in Input, guarded bool) (Transition, error) {
	m.mu.Lock()

	from := m.res.State
	if !from.CanTransitionTo(next) {
		m.mu.Unlock()
		return Transition{}, &InvalidTransitionError{From: from, To: next}
	}
	if guarded {
		if err := checkGuards(next, in); err != nil {
			m.mu.Unlock()
			return Transition{}, err
		}
	}

	switch next {
	case StateConfirmed:
		m.res.AssignedVehicle = strings.ToUpper(strings.TrimSpace(in.Plate))
	case StateCompleted:
		if in.Metadata != nil {
			meta := *in.Metadata
			m.res.Metadata = &meta
		}
	case StateCancelled, StateRejected:
		m.res.CancellationReason = strings.TrimSpace(in.Reason)
	}
	m.res.State = next
	m.res.touch()

	tr := Transition{ReservationID: m.res.ID, From: from, To: next, At: m.res.UpdatedAt}
	listeners := append([]func(Transition){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(tr)
	}
	return tr, nil
}

// Approve is the admin validation decision EN_REVISION -> PENDIENTE.
func (m *Machine) Approve() (Transition, error) {
	return m.Transition(StatePending, Input{})
}

// Reject is the admin validation decision EN_REVISION -> RECHAZADO.
func (m *Machine) Reject(reason string) (Transition, error) {
	return m.Transition(StateRejected, Input{Reason: reason})
}

// Confirm binds a vehicle: PENDIENTE -> CONFIRMADO.
func (m *Machine) Confirm(plate string) (Transition, error) {
	return m.Transition(StateConfirmed, Input{Plate: plate})
}

// PickUp marks the passenger on board: CONFIRMADO -> RECOGIDO.
func (m *Machine) PickUp(fix *geo.SmoothedFix) (Transition, error) {
	return m.Transition(StatePickedUp, Input{VehicleFix: fix})
}

// Complete closes the trip: RECOGIDO -> COMPLETADO.
func (m *Machine) Complete(meta TripMetadata) (Transition, error) {
	return m.Transition(StateCompleted, Input{Metadata: &meta})
}

// Cancel is a rider or admin cancellation from any pre-RECOGIDO state.
func (m *Machine) Cancel(reason string) (Transition, error) {
	return m.Transition(StateCancelled, Input{Reason: reason})
}

func checkGuards(next State, in Input) error {
	switch next {
	case StateConfirmed:
		if strings.TrimSpace(in.Plate) == "" {
			return ErrVehicleRequired
		}
	case StatePickedUp:
		if in.VehicleFix == nil {
			return ErrFixRequired
		}
	case StateCompleted:
		if in.Metadata == nil {
			return ErrMetadataRequired
		}
		if err := in.Metadata.Validate(); err != nil {
			return err
		}
	}
	return nil
}
