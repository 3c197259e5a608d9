package contracts

// Exchanges
const (
	ExchangeReservationTopic   = "reservation_topic"
	ExchangeTaxiLocationFanout = "taxi_location_fanout"
)

// Queues
const (
	QueueReservationStatus = "reservation_status" // suffixed with the broker instance id
	QueueTaxiLocations     = "taxi_locations"     // suffixed with the broker instance id
)

// Message types on the fanout exchange
const (
	MessageTaxiLocation = "taxi.location"
	MessageTaxiPresence = "taxi.presence"
)

// Routing patterns
const (
	RouteReservationStatusPrefix = "reservation.status." // {estado}
	RouteReservationStatusAll    = "reservation.status.*"
)
