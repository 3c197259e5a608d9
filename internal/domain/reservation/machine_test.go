package reservation

import (
	"testing"

	"taxi-tracking/internal/domain/geo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMachine(t *testing.T, state State) *Machine {
	t.Helper()
	res, err := New("42", "Av. Arturo Prat 1200, Iquique", "Aeropuerto Diego Aracena")
	require.NoError(t, err)
	res.State = state
	return NewMachine(res)
}

func TestCanTransitionTo(t *testing.T) {
	allowed := map[State][]State{
		StateInReview:  {StatePending, StateRejected, StateCancelled},
		StatePending:   {StateConfirmed, StateCancelled},
		StateConfirmed: {StatePickedUp, StateCancelled},
		StatePickedUp:  {StateCompleted},
	}
	all := []State{StateInReview, StatePending, StateConfirmed, StatePickedUp, StateCompleted, StateCancelled, StateRejected}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestMachineRejectsPickedUpToConfirmed(t *testing.T) {
	m := newTestMachine(t, StatePickedUp)

	_, err := m.Transition(StateConfirmed, Input{Plate: "ABC123"})
	require.ErrorIs(t, err, ErrInvalidTransition)

	var te *InvalidTransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatePickedUp, te.From)
	assert.Equal(t, StateConfirmed, te.To)
	assert.Equal(t, StatePickedUp, m.State())
}

func TestMachineCancelOnlyBeforePickup(t *testing.T) {
	for _, s := range []State{StateInReview, StatePending, StateConfirmed} {
		m := newTestMachine(t, s)
		_, err := m.Cancel("rider")
		assert.NoError(t, err, s)
		assert.Equal(t, StateCancelled, m.State())
	}

	m := newTestMachine(t, StatePickedUp)
	_, err := m.Cancel("rider")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMachineGuards(t *testing.T) {
	m := newTestMachine(t, StatePending)
	_, err := m.Confirm(" ")
	assert.ErrorIs(t, err, ErrVehicleRequired)

	_, err = m.Confirm("abc123")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", m.Snapshot().AssignedVehicle)

	_, err = m.PickUp(nil)
	assert.ErrorIs(t, err, ErrFixRequired)
	assert.Equal(t, StateConfirmed, m.State())

	_, err = m.PickUp(&geo.SmoothedFix{Lat: -20.2, Lng: -70.1})
	require.NoError(t, err)

	_, err = m.Complete(TripMetadata{DurationMinutes: 12, PassengerCount: 0, PaymentMethod: PaymentCash})
	assert.ErrorIs(t, err, ErrInvalidPassengers)

	_, err = m.Complete(TripMetadata{DurationMinutes: 12, PassengerCount: 2, PaymentMethod: "BITCOIN"})
	assert.ErrorIs(t, err, ErrInvalidPayment)

	tr, err := m.Complete(TripMetadata{DurationMinutes: 12, PassengerCount: 2, PaymentMethod: PaymentCard})
	require.NoError(t, err)
	assert.Equal(t, StatePickedUp, tr.From)
	assert.Equal(t, StateCompleted, tr.To)
	require.NotNil(t, m.Snapshot().Metadata)
}

func TestMachineNotifiesListeners(t *testing.T) {
	m := newTestMachine(t, StateInReview)
	var seen []Transition
	m.OnTransition(func(tr Transition) { seen = append(seen, tr) })

	_, err := m.Approve()
	require.NoError(t, err)
	_, err = m.Confirm("ABC123")
	require.NoError(t, err)
	_, err = m.Approve()
	require.Error(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, StatePending, seen[0].To)
	assert.Equal(t, StateConfirmed, seen[1].To)
	assert.Equal(t, "42", seen[1].ReservationID)
}

func TestTargetFor(t *testing.T) {
	tests := []struct {
		state State
		want  TargetKind
	}{
		{StateInReview, TargetNone},
		{StatePending, TargetNone},
		{StateConfirmed, TargetOrigin},
		{StatePickedUp, TargetDestination},
		{StateCompleted, TargetNone},
		{StateCancelled, TargetNone},
		{StateRejected, TargetNone},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, TargetFor(tt.state))
		})
	}
}

func TestRouteTargetUsesCachedCoords(t *testing.T) {
	m := newTestMachine(t, StateConfirmed)

	target, ok := m.Target()
	require.True(t, ok)
	assert.Equal(t, TargetOrigin, target.Kind)
	assert.Nil(t, target.Coords)

	require.NoError(t, m.CacheCoords(TargetOrigin, geo.Point{Lat: -20.21, Lng: -70.15}))
	assert.ErrorIs(t, m.CacheCoords(TargetOrigin, geo.Point{Lat: -20.0, Lng: -70.0}), ErrCoordsAlreadyCached)

	target, _ = m.Target()
	require.NotNil(t, target.Coords)
	assert.Equal(t, -20.21, target.Coords.Lat)
}

func TestEventsFor(t *testing.T) {
	m := newTestMachine(t, StatePending)
	tr, err := m.Confirm("ABC123")
	require.NoError(t, err)

	events := EventsFor(m.Snapshot(), tr)
	require.Len(t, events, 2)
	assert.Equal(t, EventStateChanged, events[0].Type)
	assert.Equal(t, EventVehicleBound, events[1].Type)
	assert.Equal(t, "ABC123", events[1].Data["patente"])
}

func TestObserveSkipsGuardsButKeepsTable(t *testing.T) {
	m := newTestMachine(t, StateConfirmed)

	tr, err := m.Observe(StatePickedUp, "")
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, tr.From)
	assert.Equal(t, StatePickedUp, m.State())

	_, err = m.Observe(StateConfirmed, "ABC123")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = m.Observe(StateCompleted, "")
	require.NoError(t, err)
	assert.Nil(t, m.Snapshot().Metadata)
}
