package contracts

import "time"

// ReservationStatusMessage is published by the trip service on every transition.
// Routing key: "reservation.status.{estado}" on ExchangeReservationTopic.
type ReservationStatusMessage struct {
	ReservationID string    `json:"reservation_id"`
	From          string    `json:"from"`
	State         string    `json:"estado"`
	Plate         string    `json:"patente,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Envelope
}

// TaxiLocationMessage carries an accepted taxi:location frame to the other
// broker replicas. Exchange: ExchangeTaxiLocationFanout (no routing key).
type TaxiLocationMessage struct {
	Location TaxiLocation `json:"location"`
	Envelope
}

// TaxiPresenceMessage carries online/offline presence between replicas over
// the same fanout exchange.
type TaxiPresenceMessage struct {
	Plate  string `json:"patente"`
	Online bool   `json:"online"`
	Envelope
}
