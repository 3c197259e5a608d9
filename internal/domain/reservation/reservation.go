package reservation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"taxi-tracking/internal/domain/geo"
)

// PaymentMethod is how the passenger settled the trip.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "EFECTIVO"
	PaymentCard     PaymentMethod = "TARJETA"
	PaymentTransfer PaymentMethod = "TRANSFERENCIA"
)

// Valid reports whether the payment method is known.
func (method PaymentMethod) Valid() bool {
	switch method {
	case PaymentCash, PaymentCard, PaymentTransfer:
		return true
	default:
		return false
	}
}

// TripMetadata is submitted by the driver when the trip is completed.
type TripMetadata struct {
	DurationMinutes int           `json:"duracionMinutos"`
	PassengerCount  int           `json:"cantidadPasajeros"`
	PaymentMethod   PaymentMethod `json:"metodoPago"`
}

var (
	ErrIDRequired          = errors.New("reservation id is required")
	ErrAddressRequired     = errors.New("origin and destination addresses are required")
	ErrInvalidDuration     = errors.New("trip duration must be positive")
	ErrInvalidPassengers   = errors.New("passenger count must be at least 1")
	ErrInvalidPayment      = errors.New("invalid payment method")
	ErrCoordsAlreadyCached = errors.New("coordinates already resolved")
)

// Validate checks the metadata submitted on completion.
func (meta TripMetadata) Validate() error {
	if meta.DurationMinutes <= 0 {
		return ErrInvalidDuration
	}
	if meta.PassengerCount < 1 {
		return ErrInvalidPassengers
	}
	if !meta.PaymentMethod.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPayment, meta.PaymentMethod)
	}
	return nil
}

// Reservation is the domain entity corresponding to the `reservas` table.
type Reservation struct {
	ID                 string
	OriginAddress      string
	DestinationAddress string
	OriginCoords       *geo.Point
	DestinationCoords  *geo.Point
	State              State
	AssignedVehicle    string
	Metadata           *TripMetadata
	CancellationReason string
	UpdatedAt          time.Time
}

// New creates a reservation awaiting admin review.
func New(id, origin, destination string) (*Reservation, error) {
	if id = strings.TrimSpace(id); id == "" {
		return nil, ErrIDRequired
	}
	origin, destination = strings.TrimSpace(origin), strings.TrimSpace(destination)
	if origin == "" || destination == "" {
		return nil, ErrAddressRequired
	}
	return &Reservation{
		ID:                 id,
		OriginAddress:      origin,
		DestinationAddress: destination,
		State:              StateInReview,
		UpdatedAt:          time.Now().UTC(),
	}, nil
}

// CacheCoords stores geocoded coordinates for one end of the trip. Coordinates are
// resolved once; a second call for the same end fails with ErrCoordsAlreadyCached.
func (res *Reservation) CacheCoords(kind TargetKind, point geo.Point) error {
	if err := point.Validate(); err != nil {
		return err
	}
	switch kind {
	case TargetOrigin:
		if res.OriginCoords != nil {
			return ErrCoordsAlreadyCached
		}
		res.OriginCoords = &point
	case TargetDestination:
		if res.DestinationCoords != nil {
			return ErrCoordsAlreadyCached
		}
		res.DestinationCoords = &point
	default:
		return fmt.Errorf("cache coords: unknown target %q", kind)
	}
	res.touch()
	return nil
}

// AddressFor returns the address of one end of the trip.
func (res *Reservation) AddressFor(kind TargetKind) string {
	switch kind {
	case TargetOrigin:
		return res.OriginAddress
	case TargetDestination:
		return res.DestinationAddress
	default:
		return ""
	}
}

// Clone returns a copy that shares no pointers with res.
func (res *Reservation) Clone() *Reservation {
	out := *res
	if res.OriginCoords != nil {
		p := *res.OriginCoords
		out.OriginCoords = &p
	}
	if res.DestinationCoords != nil {
		p := *res.DestinationCoords
		out.DestinationCoords = &p
	}
	if res.Metadata != nil {
		m := *res.Metadata
		out.Metadata = &m
	}
	return &out
}

func (res *Reservation) touch() {
	res.UpdatedAt = time.Now().UTC()
}
