package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrNacked = errors.New("rabbitmq: publish not acknowledged")

const publishTimeout = 5 * time.Second

// Publish marshals msg as JSON and publishes it with confirms. Persistent
// marks the message durable; transient location traffic skips it.
func (client *Client) Publish(ctx context.Context, exchange, routingKey, msgType string, persistent bool, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal %s: %w", msgType, err)
	}

	client.mu.RLock()
	ch, conn := client.pubChan, client.conn
	client.mu.RUnlock()
	if conn == nil || conn.IsClosed() || ch == nil || ch.IsClosed() {
		return ErrNotReady
	}

	mode := amqp.Transient
	if persistent {
		mode = amqp.Persistent
	}

	client.pubMu.Lock()
	defer client.pubMu.Unlock()
	confirms := client.pubConfirms

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		DeliveryMode: mode,
		ContentType:  "application/json",
		Type:         msgType,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return err
	}

	select {
	case c, ok := <-confirms:
		if !ok {
			return ErrNotReady
		}
		if !c.Ack {
			return ErrNacked
		}
		return nil
	case <-ctx.Done():
		// keep the confirm stream aligned with publishes
		select {
		case <-confirms:
		case <-time.After(2 * time.Second):
		}
		return ctx.Err()
	}
}
