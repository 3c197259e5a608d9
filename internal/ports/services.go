package ports

import (
	"context"
	"time"

	"taxi-tracking/internal/domain/geo"
	"taxi-tracking/internal/domain/reservation"
	"taxi-tracking/internal/general/contracts"
)

// ----- Collaborators consumed by the trip route tracker -----

// Route is a decoded polyline to a target.
type Route struct {
	Coordinates []geo.Point `json:"decodedCoordinates"`
}

// DirectionsClient fetches a route; it must honour ctx cancellation.
type DirectionsClient interface {
	Directions(ctx context.Context, origin, destination geo.Point) (*Route, error)
}

// Geocoder resolves an address to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geo.Point, error)
}

// ----- Fan-out collaborators of the broker -----

// FixLookup returns the current smoothed position of a vehicle, if any.
type FixLookup interface {
	CurrentFix(ctx context.Context, plate string) (*geo.SmoothedFix, error)
}

// StatusPublisher announces reservation transitions to other processes.
type StatusPublisher interface {
	PublishReservationStatus(ctx context.Context, msg contracts.ReservationStatusMessage) error
}

// ----- Trip service -----

// StartTripInput confirms a reservation with the assigned vehicle.
type StartTripInput struct {
	ReservationID string
	Plate         string
}

// CompleteTripInput closes a trip with its metadata.
type CompleteTripInput struct {
	ReservationID string
	Metadata      reservation.TripMetadata
}

// TripResult is returned by every transition endpoint.
type TripResult struct {
	ReservationID string `json:"reservationId"`
	From          string `json:"from"`
	State         string `json:"estado"`
	Plate         string `json:"patente,omitempty"`
	UpdatedAt     string `json:"updatedAt"`
}

// CreateReservationInput registers a booking made elsewhere.
type CreateReservationInput struct {
	ReservationID      string
	OriginAddress      string
	DestinationAddress string
}

// TripService exposes the reservation transition endpoints.
type TripService interface {
	Create(ctx context.Context, in CreateReservationInput) (*reservation.Reservation, error)
	Get(ctx context.Context, id string) (*reservation.Reservation, error)
	Approve(ctx context.Context, id string) (TripResult, error)
	Reject(ctx context.Context, id, reason string) (TripResult, error)
	StartTrip(ctx context.Context, in StartTripInput) (TripResult, error)
	PickUp(ctx context.Context, id string) (TripResult, error)
	CompleteTrip(ctx context.Context, in CompleteTripInput) (TripResult, error)
	Cancel(ctx context.Context, id, reason string) (TripResult, error)
}

// ----- Fleet board -----

// FleetVehicle is one row of the admin fleet board.
type FleetVehicle struct {
	Plate         string    `json:"patente"`
	DriverID      string    `json:"driverId,omitempty"`
	Status        string    `json:"estado"`
	Lat           float64   `json:"lat"`
	Lng           float64   `json:"lng"`
	Accuracy      float64   `json:"accuracy"`
	ReservationID string    `json:"reservationId,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Local         bool      `json:"local"` // connected to this replica
}

// FleetOverview aggregates what the broker replicas know about the fleet.
type FleetOverview struct {
	Timestamp time.Time      `json:"timestamp"`
	Counts    map[string]int `json:"counts"`
	Vehicles  []FleetVehicle `json:"vehicles"`
}

// HistoryPoint is one archived fix.
type HistoryPoint struct {
	Lat           float64   `json:"lat"`
	Lng           float64   `json:"lng"`
	Accuracy      *float64  `json:"accuracy,omitempty"`
	Speed         *float64  `json:"speed,omitempty"`
	Heading       *float64  `json:"heading,omitempty"`
	ReservationID *string   `json:"reservationId,omitempty"`
	RecordedAt    time.Time `json:"recordedAt"`
}

// FleetService backs the admin fleet board.
type FleetService interface {
	Overview(ctx context.Context) (FleetOverview, error)
	VehicleHistory(ctx context.Context, plate, limit string) ([]HistoryPoint, error)
}
