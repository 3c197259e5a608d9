package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"taxi-tracking/internal/broker"
	"taxi-tracking/internal/general/contracts"
	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/general/metrics"
	"taxi-tracking/internal/ports"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Applier receives what other replicas and the trip service announce.
// *broker.Broker implements it.
type Applier interface {
	ApplyRemoteLocation(ctx context.Context, loc contracts.TaxiLocation)
	ApplyRemotePresence(ctx context.Context, plate string, online bool)
	ApplyReservationStatus(ctx context.Context, msg contracts.ReservationStatusMessage)
}

// bus is the publishing side of Client, narrowed for tests.
type bus interface {
	Publish(ctx context.Context, exchange, routingKey, msgType string, persistent bool, msg any) error
}

// Replicator links one broker replica to the others: it publishes accepted
// locations and presence to the fanout exchange and applies what the other
// replicas publish. It also relays reservation status events.
type Replicator struct {
	bus        bus
	client     *Client
	instanceID string
	target     Applier
	log        *logger.Logger
	now        func() time.Time
}

var _ broker.Sink = (*Replicator)(nil)

func NewReplicator(client *Client, instanceID string, target Applier, log *logger.Logger) *Replicator {
	return &Replicator{
		bus:        client,
		client:     client,
		instanceID: instanceID,
		target:     target,
		log:        log,
		now:        time.Now,
	}
}

func (r *Replicator) envelope() contracts.Envelope {
	return contracts.Envelope{Producer: r.instanceID, SentAt: r.now().UTC()}
}

func (r *Replicator) LocationAccepted(ctx context.Context, ev broker.LocationEvent) {
	msg := contracts.TaxiLocationMessage{Location: ev.Location, Envelope: r.envelope()}
	if ev.Location.ReservationID == "" {
		msg.Location.ReservationID = ev.ReservationID
	}
	if err := r.bus.Publish(ctx, contracts.ExchangeTaxiLocationFanout, "", contracts.MessageTaxiLocation, false, msg); err != nil {
		metrics.SinkErrors.WithLabelValues("rabbitmq").Inc()
		r.log.Warn(ctx, "replicate_location_failed", "location not replicated", err, map[string]any{"patente": ev.Location.Plate})
	}
}

func (r *Replicator) PresenceChanged(ctx context.Context, plate string, online bool) {
	msg := contracts.TaxiPresenceMessage{Plate: plate, Online: online, Envelope: r.envelope()}
	if err := r.bus.Publish(ctx, contracts.ExchangeTaxiLocationFanout, "", contracts.MessageTaxiPresence, false, msg); err != nil {
		metrics.SinkErrors.WithLabelValues("rabbitmq").Inc()
		r.log.Warn(ctx, "replicate_presence_failed", "presence not replicated", err, map[string]any{"patente": plate})
	}
}

// Run consumes this replica's queues until ctx ends.
func (r *Replicator) Run(ctx context.Context, prefetch int) {
	locQueue, statusQueue := InstanceQueues(r.instanceID)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.client.ConsumeForever(ctx, locQueue, "fanout-"+r.instanceID, prefetch, r.handleFanout)
	}()
	go func() {
		defer wg.Done()
		r.client.ConsumeForever(ctx, statusQueue, "status-"+r.instanceID, prefetch, r.handleStatus)
	}()
	wg.Wait()
}

func (r *Replicator) handleFanout(ctx context.Context, d amqp.Delivery) error {
	switch d.Type {
	case contracts.MessageTaxiLocation:
		var msg contracts.TaxiLocationMessage
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			return fmt.Errorf("decode %s: %w", d.Type, err)
		}
		if msg.Producer == r.instanceID {
			return nil
		}
		r.target.ApplyRemoteLocation(ctx, msg.Location)

	case contracts.MessageTaxiPresence:
		var msg contracts.TaxiPresenceMessage
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			return fmt.Errorf("decode %s: %w", d.Type, err)
		}
		if msg.Producer == r.instanceID {
			return nil
		}
		r.target.ApplyRemotePresence(ctx, msg.Plate, msg.Online)

	default:
		return fmt.Errorf("unknown message type %q", d.Type)
	}
	return nil
}

func (r *Replicator) handleStatus(ctx context.Context, d amqp.Delivery) error {
	var msg contracts.ReservationStatusMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return fmt.Errorf("decode reservation status: %w", err)
	}
	if msg.ReservationID == "" || msg.State == "" {
		return fmt.Errorf("reservation status without id or estado")
	}
	r.target.ApplyReservationStatus(r.log.WithReservationID(ctx, msg.ReservationID), msg)
	return nil
}

// StatusPublisher announces reservation transitions on the topic exchange.
type StatusPublisher struct {
	bus      bus
	producer string
}

var _ ports.StatusPublisher = (*StatusPublisher)(nil)

func NewStatusPublisher(client *Client, producer string) *StatusPublisher {
	return &StatusPublisher{bus: client, producer: producer}
}

func (p *StatusPublisher) PublishReservationStatus(ctx context.Context, msg contracts.ReservationStatusMessage) error {
	if msg.Producer == "" {
		msg.Producer = p.producer
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	return p.bus.Publish(ctx, contracts.ExchangeReservationTopic,
		contracts.RouteReservationStatusPrefix+msg.State, "reservation.status", true, msg)
}
