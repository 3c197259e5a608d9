package contracts

import (
	"encoding/json"
	"errors"
	"fmt"

	"taxi-tracking/internal/domain/geo"
)

// WebSocket event names.
const (
	EventTaxiAuth           = "taxi:auth"
	EventTaxiAuthSuccess    = "taxi:auth:success"
	EventError              = "error"
	EventTaxiLocation       = "taxi:location"
	EventTaxiLocationUpdate = "taxi:location:update"
	EventTaxiOnline         = "taxi:online"
	EventTaxiOffline        = "taxi:offline"
	EventDriverOffline      = "driver:offline"
	EventJoinAdmin          = "join:admin"
	EventLeaveAdmin         = "leave:admin"
	EventJoinReservation    = "join:reservation"
	EventLeaveReservation   = "leave:reservation"
	EventReservationState   = "reservation:state"
)

var ErrBadFrame = errors.New("invalid frame")

// Frame is the envelope every WebSocket message travels in.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame marshals payload into a frame for event. A nil payload yields {}.
func EncodeFrame(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	switch p := payload.(type) {
	case nil:
		data = json.RawMessage("{}")
	case json.RawMessage:
		data = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		data = b
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// DecodeFrame parses a raw message into a frame; the payload stays undecoded.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("%w: missing event", ErrBadFrame)
	}
	return f, nil
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrBadFrame, f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadFrame, f.Event, err)
	}
	return nil
}

// TaxiAuth is the first frame a driver connection must send.
type TaxiAuth struct {
	DriverID  string `json:"driverId"`
	Plate     string `json:"patente"`
	Timestamp int64  `json:"timestamp"`
	Token     string `json:"token,omitempty"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}

// TaxiLocation is both the taxi:location payload and, unchanged, the
// taxi:location:update fan-out payload.
type TaxiLocation struct {
	Plate         string   `json:"patente"`
	Lat           float64  `json:"lat"`
	Lng           float64  `json:"lng"`
	Accuracy      float64  `json:"accuracy"`
	Speed         *float64 `json:"speed"`
	Heading       *float64 `json:"heading"`
	Timestamp     int64    `json:"timestamp"`
	Status        string   `json:"estado"`
	ReservationID string   `json:"reservationId,omitempty"`
}

// Fix is the position carried by loc.
func (loc TaxiLocation) Fix() geo.SmoothedFix {
	return geo.SmoothedFix{
		Lat:           loc.Lat,
		Lng:           loc.Lng,
		Accuracy:      loc.Accuracy,
		AccuracyLevel: geo.LevelFor(loc.Accuracy),
		Speed:         loc.Speed,
		Heading:       loc.Heading,
		TimestampMs:   loc.Timestamp,
	}
}

type TaxiPresence struct {
	Plate string `json:"patente"`
}

type ReservationRoom struct {
	ReservationID string `json:"reservationId"`
}

// ReservationState is relayed to reservation watchers.
type ReservationState struct {
	ReservationID string `json:"reservationId"`
	State         string `json:"estado"`
	Plate         string `json:"patente,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}
