package broker

import (
	"context"
	"encoding/json"

	"taxi-tracking/internal/general/contracts"
)

// LocationEvent is an accepted location together with what the broker knew
// about it at fan-out time.
type LocationEvent struct {
	DriverID      string
	ReservationID string
	Location      contracts.TaxiLocation
	Raw           json.RawMessage
}

// Sink observes accepted locations and presence changes. Implementations
// must return quickly; slow work belongs on their own goroutines.
type Sink interface {
	LocationAccepted(ctx context.Context, ev LocationEvent)
	PresenceChanged(ctx context.Context, plate string, online bool)
}
