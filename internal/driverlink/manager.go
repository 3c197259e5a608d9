package driverlink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"taxi-tracking/internal/general/contracts"
	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/tracking/publisher"

	"github.com/gorilla/websocket"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultSendQueue    = 16
)

// Dialer opens the WebSocket transport. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Identity is what the driver presents in taxi:auth.
type Identity struct {
	DriverID string
	Plate    string
	Token    string
}

type Config struct {
	URL          string
	Identity     Identity
	AuthTimeout  time.Duration
	Retry        RetryPolicy
	WriteTimeout time.Duration
	PongWait     time.Duration
	SendQueue    int
}

// Manager owns the driver's connection to the broker: dialing, the auth
// handshake, bounded reconnection and the graceful offline signal.
type Manager struct {
	cfg    Config
	dialer Dialer
	log    *logger.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	link        *link
	closed      bool
	handshaking bool
	authGen     uint64
	authTimer   *time.Timer
	authResult  chan error
	listeners   []func(State)
	handlers    map[string][]func(contracts.Frame)

	errs    chan error
	nudge   chan struct{}
	closing chan struct{}
}

func NewManager(cfg Config, dialer Dialer, log *logger.Logger) *Manager {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = defaultSendQueue
	}
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	return &Manager{
		cfg:     cfg,
		dialer:  dialer,
		log:     log,
		now:     time.Now,
		errs:    make(chan error, 16),
		nudge:   make(chan struct{}, 1),
		closing: make(chan struct{}),
	}
}

// OnStateChange registers a listener called after every state change.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// OnEvent registers fn for inbound frames of the given event. Handlers run on
// the read goroutine and must not block.
func (m *Manager) OnEvent(event string, fn func(contracts.Frame)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers == nil {
		m.handlers = make(map[string][]func(contracts.Frame))
	}
	m.handlers[event] = append(m.handlers[event], fn)
}

// State returns the current link state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Errors surfaces typed failures: AuthTimeout, AuthRejected, ConnectionLost,
// MaxRetriesExceeded.
func (m *Manager) Errors() <-chan error {
	return m.errs
}

// Nudge asks a backing-off Run loop to try reconnecting now. Use it when the
// process regains foreground or network connectivity.
func (m *Manager) Nudge() {
	select {
	case m.nudge <- struct{}{}:
	default:
	}
}

// Connect dials the broker once. On success the state is Connected.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.mu.Unlock()
	m.notify(StateConnecting)

	conn, _, err := m.dialer.DialContext(ctx, m.cfg.URL, nil)
	if err != nil {
		m.setState(StateDisconnected)
		return fmt.Errorf("dial %s: %w", m.cfg.URL, err)
	}

	l := newLink(conn, m.cfg.SendQueue, m.cfg.WriteTimeout)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		l.shutdown()
		m.setState(StateDisconnected)
		return ErrClosed
	}
	m.link = l
	m.state = StateConnected
	m.mu.Unlock()

	go l.writeLoop()
	go m.readLoop(l)

	m.log.Info(ctx, "link_connected", "connected to broker", map[string]any{"url": m.cfg.URL})
	m.notify(StateConnected)
	return nil
}

// Authenticate runs the taxi:auth handshake on the current connection. It
// never retries by itself; a second call while one is outstanding fails with
// ErrHandshakeInProgress.
func (m *Manager) Authenticate(ctx context.Context) error {
	m.mu.Lock()
	if m.handshaking {
		m.mu.Unlock()
		return ErrHandshakeInProgress
	}
	switch m.state {
	case StateAuthenticated:
		m.mu.Unlock()
		return nil
	case StateConnected:
	default:
		m.mu.Unlock()
		return ErrNotConnected
	}

	l := m.link
	m.handshaking = true
	m.authGen++
	gen := m.authGen
	result := make(chan error, 1)
	m.authResult = result
	m.state = StateAuthPending
	m.authTimer = time.AfterFunc(m.cfg.AuthTimeout, func() {
		m.finishAuth(gen, ErrAuthTimeout)
	})
	m.mu.Unlock()
	m.notify(StateAuthPending)

	frame, err := contracts.EncodeFrame(contracts.EventTaxiAuth, contracts.TaxiAuth{
		DriverID:  m.cfg.Identity.DriverID,
		Plate:     strings.ToUpper(strings.TrimSpace(m.cfg.Identity.Plate)),
		Timestamp: m.now().UnixMilli(),
		Token:     m.cfg.Identity.Token,
	})
	if err == nil {
		err = l.send(ctx, frame)
	}
	if err != nil {
		m.finishAuth(gen, fmt.Errorf("send taxi:auth: %w", err))
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		m.finishAuth(gen, ctx.Err())
		return <-result
	}
}

// finishAuth resolves handshake gen exactly once.
func (m *Manager) finishAuth(gen uint64, err error) {
	m.mu.Lock()
	if !m.handshaking || gen != m.authGen {
		m.mu.Unlock()
		return
	}
	m.handshaking = false
	if m.authTimer != nil {
		m.authTimer.Stop()
		m.authTimer = nil
	}
	result := m.authResult
	m.authResult = nil

	next := m.state
	if m.state == StateAuthPending {
		if err == nil {
			next = StateAuthenticated
		} else {
			next = StateConnected
		}
	}
	changed := next != m.state
	m.state = next
	m.mu.Unlock()

	if changed {
		m.notify(next)
	}
	if errors.Is(err, ErrAuthTimeout) || errors.Is(err, ErrAuthRejected) {
		m.log.Warn(context.Background(), "auth_failed", "handshake failed", err, map[string]any{"patente": m.cfg.Identity.Plate})
		m.surface(err)
	} else if err == nil {
		m.log.Info(context.Background(), "auth_success", "driver authenticated", map[string]any{"patente": m.cfg.Identity.Plate})
	}
	result <- err
}

// EmitLocation queues a taxi:location frame. It never blocks: when the link
// is not authenticated or the queue is full the fix is dropped.
func (m *Manager) EmitLocation(_ context.Context, loc contracts.TaxiLocation) error {
	m.mu.Lock()
	state, l := m.state, m.link
	m.mu.Unlock()

	if state != StateAuthenticated || l == nil {
		return fmt.Errorf("%w: %s", publisher.ErrNotReady, state)
	}
	frame, err := contracts.EncodeFrame(contracts.EventTaxiLocation, loc)
	if err != nil {
		return err
	}
	if err := l.offer(frame); err != nil {
		return fmt.Errorf("%w: %v", publisher.ErrNotReady, err)
	}
	return nil
}

// Close emits driver:offline when authenticated, then closes the connection.
// After Close the manager does not reconnect.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	l, state := m.link, m.state
	m.mu.Unlock()
	close(m.closing)

	if l == nil {
		return nil
	}

	var sendErr error
	if state == StateAuthenticated {
		frame, _ := contracts.EncodeFrame(contracts.EventDriverOffline, nil)
		sendErr = l.send(ctx, frame)
		if sendErr != nil {
			m.log.Warn(ctx, "driver_offline_failed", "could not signal offline before close", sendErr, nil)
		}
	}
	l.closeGracefully()

	select {
	case <-l.done:
	case <-ctx.Done():
	}
	m.setState(StateDisconnected)
	return sendErr
}

// Run keeps the link up until ctx ends or Close is called. After an
// unexpected drop it retries per the policy; when attempts run out it
// returns ErrMaxRetriesExceeded and tracking must be restarted explicitly.
func (m *Manager) Run(ctx context.Context) error {
	attempt := 0
	for {
		if attempt > 0 {
			if attempt > m.cfg.Retry.MaxAttempts {
				err := fmt.Errorf("%w (%d attempts)", ErrMaxRetriesExceeded, m.cfg.Retry.MaxAttempts)
				m.log.Error(ctx, "reconnect_exhausted", "giving up on broker", err, nil)
				m.surface(err)
				return err
			}
			delay := m.cfg.Retry.Delay(attempt)
			m.log.Info(ctx, "reconnect_scheduled", "reconnecting", map[string]any{"attempt": attempt, "delay_ms": delay.Milliseconds()})
			if err := m.wait(ctx, delay); err != nil {
				return err
			}
		}

		err := m.Connect(ctx)
		switch {
		case errors.Is(err, ErrClosed):
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Warn(ctx, "connect_failed", "could not reach broker", err, map[string]any{"attempt": attempt})
			attempt++
			continue
		}

		attempt = 0
		m.mu.Lock()
		l := m.link
		m.mu.Unlock()
		if l == nil {
			attempt = 1
			continue
		}

		select {
		case <-ctx.Done():
			_ = m.Close(context.Background())
			return ctx.Err()
		case <-m.closing:
			return nil
		case <-l.done:
		}

		if m.isClosed() {
			return nil
		}
		attempt = 1
	}
}

func (m *Manager) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-m.nudge:
		return nil
	case <-m.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) readLoop(l *link) {
	defer close(l.done)

	_ = l.conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
	l.conn.SetPingHandler(func(appData string) error {
		_ = l.conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))
		return l.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(m.cfg.WriteTimeout))
	})

	for {
		_, raw, err := l.conn.ReadMessage()
		if err != nil {
			m.linkLost(l, err)
			return
		}
		_ = l.conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait))

		frame, err := contracts.DecodeFrame(raw)
		if err != nil {
			m.log.Warn(context.Background(), "bad_frame", "ignoring malformed frame", err, nil)
			continue
		}
		m.dispatch(frame)
	}
}

func (m *Manager) dispatch(frame contracts.Frame) {
	m.mu.Lock()
	gen, pending := m.authGen, m.handshaking
	handlers := append([]func(contracts.Frame){}, m.handlers[frame.Event]...)
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(frame)
	}

	switch frame.Event {
	case contracts.EventTaxiAuthSuccess:
		if pending {
			m.finishAuth(gen, nil)
		}
	case contracts.EventError:
		var msg contracts.ErrorMessage
		_ = frame.Decode(&msg)
		if pending {
			m.finishAuth(gen, fmt.Errorf("%w: %s", ErrAuthRejected, msg.Message))
			return
		}
		m.log.Warn(context.Background(), "server_error", msg.Message, nil, nil)
	default:
		if len(handlers) == 0 {
			m.log.Debug(context.Background(), "frame_ignored", "unhandled event", map[string]any{"event": frame.Event})
		}
	}
}

func (m *Manager) linkLost(l *link, cause error) {
	l.shutdown()

	m.mu.Lock()
	if m.link != l {
		m.mu.Unlock()
		return
	}
	m.link = nil
	m.state = StateDisconnected
	gen, pending, closed := m.authGen, m.handshaking, m.closed
	m.mu.Unlock()

	m.notify(StateDisconnected)
	if pending {
		m.finishAuth(gen, fmt.Errorf("%w: %v", ErrConnectionLost, cause))
	}
	if closed {
		return
	}
	m.log.Warn(context.Background(), "link_lost", "connection to broker dropped", cause, nil)
	m.surface(fmt.Errorf("%w: %v", ErrConnectionLost, cause))
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if changed {
		m.notify(s)
	}
}

func (m *Manager) notify(s State) {
	m.mu.Lock()
	listeners := append([]func(State){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

// surface never blocks; the oldest unread error is dropped on overflow.
func (m *Manager) surface(err error) {
	for {
		select {
		case m.errs <- err:
			return
		default:
		}
		select {
		case <-m.errs:
		default:
		}
	}
}
