package tripwatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"taxi-tracking/internal/domain/reservation"
	"taxi-tracking/internal/driverlink"
	"taxi-tracking/internal/general/config"
	"taxi-tracking/internal/general/contracts"
	"taxi-tracking/internal/general/directions"
	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/trip"

	"github.com/gorilla/websocket"
)

type Options struct {
	ConfigPath    string
	BrokerURL     string // ws://host:port/ws
	APIURL        string // http://host:port
	ReservationID string
	Token         string
	Debug         bool
}

// Run follows one reservation until it ends or ctx is cancelled. Every
// (re)connection starts from a fresh snapshot of the reservation.
func Run(ctx context.Context, opts Options) error {
	log := logger.New("trip-watcher")
	log.SetDebug(opts.Debug)
	ctx = log.WithReservationID(log.WithRequestID(ctx, "startup-001"), opts.ReservationID)

	cfg, err := config.LoadFromFile(opts.ConfigPath)
	if err != nil {
		log.Error(ctx, "config_load_failed", "Failed to load configuration", err, map[string]any{"path": opts.ConfigPath})
		return err
	}
	if cfg.Directions.BaseURL == "" {
		err := errors.New("directions.base_url is required")
		log.Error(ctx, "config_invalid", "Route tracking needs a directions service", err, nil)
		return err
	}
	if opts.BrokerURL == "" {
		opts.BrokerURL = cfg.Driver.BrokerURL
	}

	maps := directions.NewClient(cfg.Directions.BaseURL, cfg.Directions.Timeout, log)
	httpClient := &http.Client{Timeout: 10 * time.Second}

	return reconnectLoop(ctx, driverlink.DefaultRetryPolicy(), log, func(ctx context.Context) (bool, bool, error) {
		return session(ctx, opts, cfg, maps, httpClient, log)
	})
}

// sessionFunc runs one connection. joined reports that the room was joined,
// which resets the retry budget.
type sessionFunc func(ctx context.Context) (done, joined bool, err error)

// reconnectLoop reruns session until it reports done, ctx ends or
// retry.MaxAttempts consecutive sessions fail without joining.
func reconnectLoop(ctx context.Context, retry driverlink.RetryPolicy, log *logger.Logger, session sessionFunc) error {
	attempt := 0
	for {
		done, joined, err := session(ctx)
		if done || ctx.Err() != nil {
			return nil
		}
		if joined {
			attempt = 0
		}
		attempt++
		if attempt > retry.MaxAttempts {
			log.Error(ctx, "watch_abandoned", "giving up on the broker", err, map[string]any{"attempts": retry.MaxAttempts})
			return err
		}
		delay := retry.Delay(attempt)
		log.Warn(ctx, "watch_interrupted", "reconnecting", err, map[string]any{"attempt": attempt, "delay_ms": delay.Milliseconds()})
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// session runs one connection. done reports that the reservation reached a
// terminal state and there is nothing left to watch.
func session(ctx context.Context, opts Options, cfg *config.Config, maps *directions.Client, httpClient *http.Client, log *logger.Logger) (done, joined bool, err error) {
	res, err := fetchSnapshot(ctx, httpClient, opts.APIURL, opts.ReservationID, opts.Token)
	if err != nil {
		return false, false, err
	}
	if res.State.Terminal() {
		log.Info(ctx, "reservation_closed", "reservation already finished", map[string]any{"estado": res.State.String()})
		return true, false, nil
	}

	machine := reservation.NewMachine(res)
	tracker := trip.NewTracker(machine, maps, log, trip.Options{
		Geocoder: maps,
		Debounce: cfg.Directions.Debounce,
	})
	defer tracker.Close()
	tracker.OnChange(func(v trip.View) { logView(ctx, log, v) })

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, opts.BrokerURL, header)
	if err != nil {
		return false, false, fmt.Errorf("dial %s: %w", opts.BrokerURL, err)
	}
	defer conn.Close()

	join, err := contracts.EncodeFrame(contracts.EventJoinReservation, contracts.ReservationRoom{ReservationID: res.ID})
	if err != nil {
		return false, false, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		return false, false, fmt.Errorf("join reservation room: %w", err)
	}
	log.Info(ctx, "watch_started", "following reservation", map[string]any{"estado": res.State.String(), "patente": res.AssignedVehicle})
	tracker.Refresh(ctx)

	// unblock ReadMessage on cancellation
	stop := context.AfterFunc(ctx, func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "watcher stopping")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	w := &watcher{machine: machine, tracker: tracker, log: log}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, true, nil
			}
			return false, true, fmt.Errorf("read: %w", err)
		}
		frame, err := contracts.DecodeFrame(raw)
		if err != nil {
			log.Warn(ctx, "bad_frame", "ignoring malformed frame", err, nil)
			continue
		}
		w.handle(ctx, frame)
		if machine.State().Terminal() {
			log.Info(ctx, "reservation_closed", "reservation finished", map[string]any{"estado": machine.State().String()})
			return true, true, nil
		}
	}
}
