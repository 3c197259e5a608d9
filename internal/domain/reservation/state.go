package reservation

import (
	"errors"
	"strings"
)

// State is a reservation state as stored in the `reservas.estado` column.
type State string

const (
	StateInReview  State = "EN_REVISION"
	StatePending   State = "PENDIENTE"
	StateConfirmed State = "CONFIRMADO"
	StatePickedUp  State = "RECOGIDO"
	StateCompleted State = "COMPLETADO"
	StateCancelled State = "CANCELADO"
	StateRejected  State = "RECHAZADO"
)

var ErrInvalidState = errors.New("invalid reservation state")

// ParseState normalizes (uppercases+trims) and validates a state string.
func ParseState(in string) (State, error) {
	state := State(strings.ToUpper(strings.TrimSpace(in)))
	if state.Valid() {
		return state, nil
	}
	return "", ErrInvalidState
}

// Valid reports whether the state is one of the allowed constants.
func (state State) Valid() bool {
	switch state {
	case StateInReview, StatePending, StateConfirmed, StatePickedUp,
		StateCompleted, StateCancelled, StateRejected:
		return true
	default:
		return false
	}
}

// String returns the string representation of the State.
func (state State) String() string {
	return string(state)
}

// CanTransitionTo reports whether next is reachable from state in one step.
func (state State) CanTransitionTo(next State) bool {
	switch state {
	case StateInReview:
		return next == StatePending || next == StateRejected || next == StateCancelled

	case StatePending:
		return next == StateConfirmed || next == StateCancelled

	case StateConfirmed:
		return next == StatePickedUp || next == StateCancelled

	case StatePickedUp:
		return next == StateCompleted

	case StateCompleted, StateCancelled, StateRejected:
		return false

	default:
		return false
	}
}

// Terminal indicates that no further transitions are possible.
func (state State) Terminal() bool {
	return state == StateCompleted || state == StateCancelled || state == StateRejected
}

// Active indicates the trip is under way and a vehicle is bound to it.
func (state State) Active() bool {
	return state == StateConfirmed || state == StatePickedUp
}
