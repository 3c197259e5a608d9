package driverlink

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"taxi-tracking/internal/general/contracts"
	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/tracking/publisher"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBroker answers taxi:auth according to reply and records every event.
type fakeBroker struct {
	reply    string // "success", "error" or "" for silence
	followUp []byte // sent after a successful auth reply

	mu     sync.Mutex
	events []string
	conns  int32
	live   []*websocket.Conn
}

func (b *fakeBroker) handler(t *testing.T) http.HandlerFunc {
	up := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		atomic.AddInt32(&b.conns, 1)
		b.mu.Lock()
		b.live = append(b.live, conn)
		b.mu.Unlock()
		defer conn.Close()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, err := contracts.DecodeFrame(raw)
			if err != nil {
				continue
			}
			b.mu.Lock()
			b.events = append(b.events, f.Event)
			b.mu.Unlock()

			if f.Event != contracts.EventTaxiAuth {
				continue
			}
			switch b.reply {
			case "success":
				out, _ := contracts.EncodeFrame(contracts.EventTaxiAuthSuccess, nil)
				_ = conn.WriteMessage(websocket.TextMessage, out)
			case "error":
				out, _ := contracts.EncodeFrame(contracts.EventError, contracts.ErrorMessage{Message: "unknown vehicle"})
				_ = conn.WriteMessage(websocket.TextMessage, out)
			}
		}
	}
}

func (b *fakeBroker) recorded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

// dropAll closes every server-side connection abruptly.
func (b *fakeBroker) dropAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.live {
		_ = c.Close()
	}
	b.live = nil
}

func startBroker(t *testing.T, reply string) (*fakeBroker, string) {
	b := &fakeBroker{reply: reply}
	srv := httptest.NewServer(b.handler(t))
	t.Cleanup(srv.Close)
	return b, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(url string) Config {
	return Config{
		URL:         url,
		Identity:    Identity{DriverID: "7", Plate: "abc123"},
		AuthTimeout: 200 * time.Millisecond,
		Retry:       RetryPolicy{MaxAttempts: 5, InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond},
	}
}

func newTestManager(cfg Config, d Dialer) *Manager {
	return NewManager(cfg, d, logger.NewWithWriter("test", io.Discard))
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (s *stateLog) record(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
}

func (s *stateLog) snapshot() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.states...)
}

func TestHandshakeSuccess(t *testing.T) {
	_, url := startBroker(t, "success")
	m := newTestManager(testConfig(url), nil)
	log := &stateLog{}
	m.OnStateChange(log.record)

	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.Authenticate(ctx))

	assert.Equal(t, StateAuthenticated, m.State())
	assert.Equal(t, []State{StateConnecting, StateConnected, StateAuthPending, StateAuthenticated}, log.snapshot())
	require.NoError(t, m.Close(ctx))
}

func TestHandshakeRejected(t *testing.T) {
	_, url := startBroker(t, "error")
	m := newTestManager(testConfig(url), nil)
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))

	err := m.Authenticate(ctx)
	require.ErrorIs(t, err, ErrAuthRejected)
	assert.Contains(t, err.Error(), "unknown vehicle")
	assert.Equal(t, StateConnected, m.State())

	select {
	case e := <-m.Errors():
		assert.ErrorIs(t, e, ErrAuthRejected)
	default:
		t.Fatal("rejection was not surfaced")
	}
	_ = m.Close(ctx)
}

func TestHandshakeTimeoutRaisedOnce(t *testing.T) {
	_, url := startBroker(t, "")
	m := newTestManager(testConfig(url), nil)
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))

	first := make(chan error, 1)
	go func() { first <- m.Authenticate(ctx) }()

	require.Eventually(t, func() bool { return m.State() == StateAuthPending }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, m.Authenticate(ctx), ErrHandshakeInProgress)
	assert.ErrorIs(t, m.Authenticate(ctx), ErrHandshakeInProgress)

	assert.ErrorIs(t, <-first, ErrAuthTimeout)
	assert.Equal(t, StateConnected, m.State())

	time.Sleep(300 * time.Millisecond)
	var surfaced []error
	for len(m.Errors()) > 0 {
		surfaced = append(surfaced, <-m.Errors())
	}
	require.Len(t, surfaced, 1)
	assert.ErrorIs(t, surfaced[0], ErrAuthTimeout)
	_ = m.Close(ctx)
}

func TestAuthenticateRequiresConnection(t *testing.T) {
	m := newTestManager(testConfig("ws://127.0.0.1:1/ws"), nil)
	assert.ErrorIs(t, m.Authenticate(context.Background()), ErrNotConnected)
}

func TestEmitLocationOnlyWhenAuthenticated(t *testing.T) {
	b, url := startBroker(t, "success")
	m := newTestManager(testConfig(url), nil)
	ctx := context.Background()

	loc := contracts.TaxiLocation{Plate: "ABC123", Lat: -20.213, Lng: -70.15, Accuracy: 10, Timestamp: 1}
	assert.ErrorIs(t, m.EmitLocation(ctx, loc), publisher.ErrNotReady)

	require.NoError(t, m.Connect(ctx))
	assert.ErrorIs(t, m.EmitLocation(ctx, loc), publisher.ErrNotReady)

	require.NoError(t, m.Authenticate(ctx))
	require.NoError(t, m.EmitLocation(ctx, loc))

	require.Eventually(t, func() bool {
		ev := b.recorded()
		return len(ev) == 2 && ev[1] == contracts.EventTaxiLocation
	}, time.Second, 5*time.Millisecond)
	_ = m.Close(ctx)
}

func TestCloseSendsDriverOfflineFirst(t *testing.T) {
	b, url := startBroker(t, "success")
	m := newTestManager(testConfig(url), nil)
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.Authenticate(ctx))

	require.NoError(t, m.Close(ctx))
	assert.Equal(t, StateDisconnected, m.State())

	require.Eventually(t, func() bool {
		ev := b.recorded()
		return len(ev) == 2 && ev[1] == contracts.EventDriverOffline
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, m.Connect(ctx), ErrClosed)
}

func TestRunReconnectsAfterDrop(t *testing.T) {
	b, url := startBroker(t, "success")
	m := newTestManager(testConfig(url), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.State() == StateConnected }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Authenticate(ctx))

	b.dropAll()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&b.conns) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return m.State() == StateConnected }, time.Second, 5*time.Millisecond)

	var lost bool
	for len(m.Errors()) > 0 {
		if errors.Is(<-m.Errors(), ErrConnectionLost) {
			lost = true
		}
	}
	assert.True(t, lost)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type failingDialer struct {
	calls  atomic.Int32
	dialed chan struct{}
}

func (d *failingDialer) DialContext(ctx context.Context, _ string, _ http.Header) (*websocket.Conn, *http.Response, error) {
	d.calls.Add(1)
	if d.dialed != nil {
		select {
		case d.dialed <- struct{}{}:
		default:
		}
	}
	return nil, nil, errors.New("connection refused")
}

func TestRunGivesUpAfterMaxAttempts(t *testing.T) {
	d := &failingDialer{}
	m := newTestManager(testConfig("ws://unused"), d)

	err := m.Run(context.Background())
	require.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Equal(t, int32(6), d.calls.Load()) // initial dial + 5 retries
	assert.Equal(t, StateDisconnected, m.State())
}

func TestNudgeSkipsBackoff(t *testing.T) {
	d := &failingDialer{dialed: make(chan struct{}, 1)}
	cfg := testConfig("ws://unused")
	cfg.Retry = RetryPolicy{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour}
	m := newTestManager(cfg, d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	<-d.dialed
	m.Nudge()
	select {
	case <-d.dialed:
	case <-time.After(time.Second):
		t.Fatal("nudge did not trigger a reconnect")
	}
	assert.Equal(t, int32(2), d.calls.Load())
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: 5 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{5, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}

	jittered := DefaultRetryPolicy()
	for attempt := 1; attempt <= 5; attempt++ {
		for i := 0; i < 50; i++ {
			d := jittered.Delay(attempt)
			assert.LessOrEqual(t, d, 5*time.Second)
			assert.GreaterOrEqual(t, d, 799*time.Millisecond)
		}
	}

	low := p
	low.Jitter = 0.2
	low.rand = func() float64 { return 0 }
	assert.InDelta(t, float64(800*time.Millisecond), float64(low.Delay(1)), float64(time.Microsecond))
}

func TestOnEventReceivesServerFrames(t *testing.T) {
	b := &fakeBroker{reply: "success"}
	b.followUp, _ = contracts.EncodeFrame(contracts.EventReservationState, contracts.ReservationState{
		ReservationID: "r-1", State: "RECOGIDO", Plate: "ABC123",
	})
	srv := httptest.NewServer(b.handler(t))
	t.Cleanup(srv.Close)

	m := newTestManager(testConfig("ws"+strings.TrimPrefix(srv.URL, "http")), nil)
	got := make(chan contracts.ReservationState, 1)
	m.OnEvent(contracts.EventReservationState, func(f contracts.Frame) {
		var st contracts.ReservationState
		if f.Decode(&st) == nil {
			got <- st
		}
	})

	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.Authenticate(ctx))

	select {
	case st := <-got:
		assert.Equal(t, "r-1", st.ReservationID)
		assert.Equal(t, "RECOGIDO", st.State)
	case <-time.After(time.Second):
		t.Fatal("reservation:state not delivered")
	}
	_ = m.Close(ctx)
}
