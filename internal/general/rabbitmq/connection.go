package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"taxi-tracking/internal/general/config"
	"taxi-tracking/internal/general/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrNotReady = errors.New("rabbitmq: connection is not ready")

const maxReconnectBackoff = 30 * time.Second

// Client is a RabbitMQ connection that re-dials and re-declares its topology
// whenever the connection or the publishing channel closes.
type Client struct {
	url        string
	instanceID string
	log        *logger.Logger
	logCtx     context.Context

	mu      sync.RWMutex
	conn    *amqp.Connection
	pubChan *amqp.Channel

	pubMu       sync.Mutex
	pubConfirms chan amqp.Confirmation

	closeOnce sync.Once
	closed    chan struct{}
	reconnect chan struct{}
}

// ConnectRabbitMQ dials once and starts the reconnect watcher. A non-empty
// instanceID also declares this replica's consumer queues.
func ConnectRabbitMQ(ctx context.Context, cfg config.RabbitMQ, instanceID string, log *logger.Logger) (*Client, error) {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/",
	}
	client := &Client{
		url:        u.String(),
		instanceID: instanceID,
		log:        log,
		logCtx:     context.WithoutCancel(ctx),
		closed:     make(chan struct{}),
		reconnect:  make(chan struct{}, 1),
	}

	if err := client.connectOnce(); err != nil {
		return nil, err
	}
	go client.watch()
	return client, nil
}

// Close stops the watcher and closes the connection.
func (client *Client) Close() {
	client.closeOnce.Do(func() { close(client.closed) })

	client.mu.Lock()
	if client.pubChan != nil {
		_ = client.pubChan.Close()
		client.pubChan = nil
	}
	if client.conn != nil {
		_ = client.conn.Close()
		client.conn = nil
	}
	client.mu.Unlock()
}

// Ready reports whether the connection is currently open.
func (client *Client) Ready() bool {
	client.mu.RLock()
	defer client.mu.RUnlock()
	return client.conn != nil && !client.conn.IsClosed()
}

func (client *Client) connectOnce() (err error) {
	conn, err := amqp.DialConfig(client.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(30 * time.Second),
	})
	if err != nil {
		client.log.Error(client.logCtx, "rabbitmq_dial_failed", "failed to dial RabbitMQ", err, nil)
		return fmt.Errorf("rabbitmq dial failed: %w", err)
	}
	defer func() {
		if err != nil {
			_ = conn.Close()
		}
	}()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	if err = declareTopology(ch, client.instanceID); err != nil {
		client.log.Error(client.logCtx, "rabbitmq_declare_topology_failed", "failed to declare topology", err, nil)
		return fmt.Errorf("rabbitmq: declare topology: %w", err)
	}
	if err = ch.Confirm(false); err != nil {
		return fmt.Errorf("rabbitmq: enable confirms: %w", err)
	}

	client.pubMu.Lock()
	client.pubConfirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	client.pubMu.Unlock()

	returns := ch.NotifyReturn(make(chan amqp.Return, 1))
	go func() {
		for r := range returns {
			client.log.Warn(client.logCtx, "rabbitmq_returned", "message was returned (unroutable)",
				fmt.Errorf("code=%d text=%s", r.ReplyCode, r.ReplyText),
				map[string]any{"exchange": r.Exchange, "routingKey": r.RoutingKey})
		}
	}()

	client.mu.Lock()
	if client.pubChan != nil && !client.pubChan.IsClosed() {
		_ = client.pubChan.Close()
	}
	client.conn = conn
	client.pubChan = ch
	client.mu.Unlock()

	go func() {
		connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
		chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-client.closed:
			return
		case <-connClosed:
		case <-chClosed:
		}
		select {
		case client.reconnect <- struct{}{}:
		default:
		}
	}()

	client.log.Info(client.logCtx, "rabbitmq_connected", "RabbitMQ connection established", map[string]any{"instance": client.instanceID})
	return nil
}

// watch re-dials with exponential backoff (1s doubling, capped at 30s).
func (client *Client) watch() {
	for {
		select {
		case <-client.closed:
			return
		case <-client.reconnect:
		}

		backoff := time.Second
		for {
			err := client.connectOnce()
			if err == nil {
				client.log.Info(client.logCtx, "rabbitmq_reconnected", "reconnected to RabbitMQ", nil)
				break
			}
			client.log.Warn(client.logCtx, "rabbitmq_retry", "reconnect failed", err, map[string]any{"backoff_ms": backoff.Milliseconds()})

			select {
			case <-client.closed:
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxReconnectBackoff)
		}
	}
}
