package reservation

import (
	"encoding/json"
	"errors"
	"maps"
	"strings"
	"time"
)

// EventType corresponds to the values of `reserva_eventos.tipo`.
type EventType string

const (
	EventStateChanged   EventType = "STATE_CHANGED"
	EventVehicleBound   EventType = "VEHICLE_ASSIGNED"
	EventTripCompleted  EventType = "TRIP_COMPLETED"
	EventCoordsResolved EventType = "COORDS_RESOLVED"
)

var (
	ErrInvalidEventType = errors.New("invalid reservation event type")
	ErrEventDataNil     = errors.New("event data must not be nil")
)

// Valid reports whether eventType is one of the allowed constants.
func (eventType EventType) Valid() bool {
	switch eventType {
	case EventStateChanged, EventVehicleBound, EventTripCompleted, EventCoordsResolved:
		return true
	default:
		return false
	}
}

// Event is an audit row appended for every applied transition.
type Event struct {
	ID            string
	CreatedAt     time.Time
	ReservationID string
	Type          EventType
	Data          map[string]any
}

// NewEvent constructs a new domain Event.
func NewEvent(reservationID string, eventType EventType, data map[string]any) (*Event, error) {
	if reservationID = strings.TrimSpace(reservationID); reservationID == "" {
		return nil, ErrIDRequired
	}
	if !eventType.Valid() {
		return nil, ErrInvalidEventType
	}
	if data == nil {
		return nil, ErrEventDataNil
	}
	return &Event{
		ReservationID: reservationID,
		Type:          eventType,
		Data:          maps.Clone(data),
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// EventsFor returns the audit events describing tr applied to res.
func EventsFor(res *Reservation, tr Transition) []*Event {
	var out []*Event
	if ev, err := NewEvent(tr.ReservationID, EventStateChanged, map[string]any{
		"old_state": tr.From.String(),
		"new_state": tr.To.String(),
	}); err == nil {
		out = append(out, ev)
	}

	switch tr.To {
	case StateConfirmed:
		if ev, err := NewEvent(tr.ReservationID, EventVehicleBound, map[string]any{"patente": res.AssignedVehicle}); err == nil {
			out = append(out, ev)
		}
	case StateCompleted:
		if res.Metadata != nil {
			if ev, err := NewEvent(tr.ReservationID, EventTripCompleted, map[string]any{
				"duracion_minutos":   res.Metadata.DurationMinutes,
				"cantidad_pasajeros": res.Metadata.PassengerCount,
				"metodo_pago":        string(res.Metadata.PaymentMethod),
			}); err == nil {
				out = append(out, ev)
			}
		}
	}
	return out
}

// DataJSON returns event.Data encoded as JSON.
func (event *Event) DataJSON() ([]byte, error) {
	if event.Data == nil {
		return nil, ErrEventDataNil
	}
	return json.Marshal(event.Data)
}
