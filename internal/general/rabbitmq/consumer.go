package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one delivery. A returned error nacks it without requeue.
type Handler func(context.Context, amqp.Delivery) error

func (client *Client) newConsumerChannel(prefetch int) (*amqp.Channel, error) {
	client.mu.RLock()
	conn := client.conn
	client.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, ErrNotReady
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("rabbitmq: set QoS (prefetch=%d): %w", prefetch, err)
		}
	}
	return ch, nil
}

// Consume reads queue with manual acks until ctx ends or the channel closes.
func (client *Client) Consume(ctx context.Context, queue, consumerTag string, prefetch int, handler Handler) error {
	ch, err := client.newConsumerChannel(prefetch)
	if err != nil {
		return err
	}
	defer ch.Close()

	deliveries, err := ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume(%s): %w", queue, err)
	}
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			_ = ch.Cancel(consumerTag, false)
			return nil

		case cerr := <-chClosed:
			if cerr != nil {
				return fmt.Errorf("rabbitmq: channel closed while consuming %s: %w", queue, cerr)
			}
			return ErrNotReady

		case d, ok := <-deliveries:
			if !ok {
				return ErrNotReady
			}
			hCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := handler(hCtx, d)
			cancel()

			if err != nil {
				client.log.Warn(hCtx, "rabbitmq_message_rejected", "dropping message", err, map[string]any{
					"queue": queue,
					"type":  d.Type,
				})
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// ConsumeForever re-subscribes after connection loss until ctx ends.
func (client *Client) ConsumeForever(ctx context.Context, queue, consumerTag string, prefetch int, handler Handler) {
	backoff := time.Second
	for {
		err := client.Consume(ctx, queue, consumerTag, prefetch, handler)
		if ctx.Err() != nil {
			return
		}
		client.log.Warn(ctx, "rabbitmq_consume_restart", "consumer stopped, resubscribing", err, map[string]any{"queue": queue})

		select {
		case <-ctx.Done():
			return
		case <-client.closed:
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxReconnectBackoff)
	}
}
