package rabbitmq

import (
	"fmt"

	"taxi-tracking/internal/general/contracts"

	amqp "github.com/rabbitmq/amqp091-go"
)

// replicaQueueTTL removes the queues of a replica that went away for good.
const replicaQueueTTL = 60_000 // ms

// InstanceQueues returns the per-replica queue names for instanceID.
func InstanceQueues(instanceID string) (locations, status string) {
	return contracts.QueueTaxiLocations + "." + instanceID, contracts.QueueReservationStatus + "." + instanceID
}

func declareTopology(ch *amqp.Channel, instanceID string) error {
	exchanges := []struct {
		name string
		kind string
	}{
		{contracts.ExchangeReservationTopic, amqp.ExchangeTopic},
		{contracts.ExchangeTaxiLocationFanout, amqp.ExchangeFanout},
	}
	for _, ex := range exchanges {
		if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	// publishers only need the exchanges
	if instanceID == "" {
		return nil
	}

	locQueue, statusQueue := InstanceQueues(instanceID)
	bindings := []struct {
		queue      string
		exchange   string
		routingKey string
	}{
		{locQueue, contracts.ExchangeTaxiLocationFanout, ""},
		{statusQueue, contracts.ExchangeReservationTopic, contracts.RouteReservationStatusAll},
	}
	for _, b := range bindings {
		if _, err := ch.QueueDeclare(b.queue, false, true, false, false, amqp.Table{"x-expires": replicaQueueTTL}); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.queue, err)
		}
		if err := ch.QueueBind(b.queue, b.routingKey, b.exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}
	return nil
}
