package driveragent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"taxi-tracking/internal/domain/reservation"
	"taxi-tracking/internal/domain/vehicle"
	"taxi-tracking/internal/driverlink"
	"taxi-tracking/internal/general/config"
	"taxi-tracking/internal/general/contracts"
	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/general/metrics"
	"taxi-tracking/internal/tracking/publisher"
	"taxi-tracking/internal/tracking/sampler"
	"taxi-tracking/internal/tracking/smoother"
)

type Options struct {
	ConfigPath  string
	FixSource   string // overrides driver.fix_source; "-" reads stdin
	Paced       bool
	MetricsPort int // 0 disables /metrics
	Debug       bool
}

// Run drives one vehicle: device fixes flow through the sampler, smoother and
// publisher onto the broker link until ctx ends or the source is exhausted.
func Run(ctx context.Context, opts Options) error {
	log := logger.New("driver-agent")
	log.SetDebug(opts.Debug)
	ctx = log.WithRequestID(ctx, "startup-001")

	cfg, err := config.LoadFromFile(opts.ConfigPath)
	if err != nil {
		log.Error(ctx, "config_load_failed", "Failed to load configuration", err, map[string]any{"path": opts.ConfigPath})
		return err
	}
	if err := cfg.DriverIdentityComplete(); err != nil {
		log.Error(ctx, "driver_config_incomplete", "Driver section cannot start tracking", err, nil)
		return err
	}
	ctx = log.WithPlate(ctx, vehicle.NormalizePlate(cfg.Driver.Plate))

	src, closeSrc, err := openSource(opts.FixSource, cfg.Driver.FixSource, opts.Paced)
	if err != nil {
		log.Error(ctx, "fix_source_failed", "Failed to open fix source", err, nil)
		return err
	}
	defer closeSrc()

	manager := driverlink.NewManager(driverlink.Config{
		URL: cfg.Driver.BrokerURL,
		Identity: driverlink.Identity{
			DriverID: cfg.Driver.DriverID,
			Plate:    cfg.Driver.Plate,
			Token:    cfg.Driver.Token,
		},
		AuthTimeout: cfg.Driver.AuthTimeout,
		Retry: driverlink.RetryPolicy{
			MaxAttempts:  cfg.Driver.MaxAttempts,
			InitialDelay: cfg.Driver.InitialDelay,
			MaxDelay:     cfg.Driver.MaxDelay,
			Jitter:       0.2,
		},
	}, nil, log)

	smooth := smoother.New()
	pub := publisher.New(cfg.Driver.Plate, cfg.Tracking.EmitInterval, manager, log)
	pub.OnOutcome(func(o publisher.Outcome) {
		metrics.PublishOutcomes.WithLabelValues(string(o)).Inc()
	})

	samp := sampler.New(sampler.Config{
		HighAccuracy:      cfg.Tracking.HighAccuracy,
		Timeout:           cfg.Tracking.Timeout,
		MaximumAge:        cfg.Tracking.MaximumAge,
		RetryCount:        cfg.Tracking.RetryCount,
		MinInterval:       cfg.Tracking.MinInterval,
		MinDistanceMeters: cfg.Tracking.MinDistanceMeters,
		MaxAccuracyMeters: cfg.Tracking.MaxAccuracyMeters,
	}, log)
	samp.OnVerdict(func(v sampler.Verdict) {
		metrics.FixVerdicts.WithLabelValues(string(v)).Inc()
	})

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	// a fresh transport authenticates once; a rejected handshake is not retried
	manager.OnStateChange(authOnConnect(runCtx, manager, log))
	manager.OnEvent(contracts.EventReservationState, func(f contracts.Frame) {
		applyReservationState(runCtx, f, smooth, pub, log)
	})

	if opts.MetricsPort > 0 {
		go serveMetrics(runCtx, opts.MetricsPort, log)
	}

	var wg sync.WaitGroup
	linkErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		linkErr <- manager.Run(runCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		drainErrors(runCtx, manager.Errors(), samp.Errors(), log)
	}()

	fixes, err := samp.Start(runCtx, src)
	if err != nil {
		log.Error(ctx, "sampler_start_failed", "Failed to start position sampler", err, nil)
		stop()
		wg.Wait()
		return err
	}

	log.Info(ctx, "agent_started", "Driver agent tracking", map[string]any{
		"broker_url":    cfg.Driver.BrokerURL,
		"driver_id":     cfg.Driver.DriverID,
		"emit_interval": cfg.Tracking.EmitInterval.String(),
	})

	var runErr error
loop:
	for {
		select {
		case raw, ok := <-fixes:
			if !ok {
				log.Info(ctx, "fix_source_ended", "No more fixes from the device", nil)
				break loop
			}
			if fix := smooth.Ingest(raw); fix != nil {
				pub.Publish(runCtx, *fix)
			}
		case err := <-linkErr:
			// Run only returns on give-up or cancellation
			if err != nil && !errors.Is(err, context.Canceled) {
				runErr = err
			}
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	samp.Stop()
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := manager.Close(closeCtx); err != nil {
		log.Warn(ctx, "link_close_failed", "Link did not close cleanly", err, nil)
	}
	stop()
	wg.Wait()

	log.Info(ctx, "agent_stopped", "Driver agent stopped", nil)
	return runErr
}

// authOnConnect starts the handshake whenever a dial succeeds. Falling back
// from AuthPending to Connected means the handshake failed and is left alone.
func authOnConnect(ctx context.Context, m *driverlink.Manager, log *logger.Logger) func(driverlink.State) {
	var mu sync.Mutex
	prev := driverlink.StateDisconnected
	return func(s driverlink.State) {
		mu.Lock()
		fresh := s == driverlink.StateConnected && prev == driverlink.StateConnecting
		prev = s
		mu.Unlock()

		log.Debug(ctx, "link_state", s.String(), nil)
		if !fresh {
			return
		}
		go func() {
			if err := m.Authenticate(ctx); err != nil && ctx.Err() == nil {
				log.Warn(ctx, "handshake_failed", "taxi:auth was not accepted", err, nil)
			}
		}()
	}
}

// applyReservationState keeps the emitted estado and reservation in step with
// the trip. Pickup restarts smoothing so the old approach path does not bleed
// into the trip.
func applyReservationState(ctx context.Context, f contracts.Frame, smooth *smoother.Smoother, pub *publisher.Publisher, log *logger.Logger) {
	var msg contracts.ReservationState
	if err := f.Decode(&msg); err != nil {
		log.Warn(ctx, "reservation_state_invalid", "ignoring reservation:state", err, nil)
		return
	}
	state, err := reservation.ParseState(msg.State)
	if err != nil {
		log.Warn(ctx, "reservation_state_invalid", "ignoring reservation:state", err, map[string]any{"estado": msg.State})
		return
	}
	ctx = log.WithReservationID(ctx, msg.ReservationID)

	switch {
	case state.Active():
		pub.SetStatus(vehicle.StatusInService)
		pub.SetReservation(msg.ReservationID)
		if state == reservation.StatePickedUp {
			smooth.Reset()
		}
	case state.Terminal():
		pub.SetStatus(vehicle.StatusAvailable)
		pub.SetReservation("")
	}
	log.Info(ctx, "reservation_state", "trip state changed", map[string]any{"estado": state.String()})
}

func drainErrors(ctx context.Context, link <-chan error, device <-chan error, log *logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-link:
			log.Warn(ctx, "link_error", "broker link reported an error", err, nil)
		case err := <-device:
			log.Warn(ctx, "device_error", "position source reported an error", err, nil)
		}
	}
}

func openSource(override, configured string, paced bool) (sampler.DeviceSource, func(), error) {
	path := override
	if path == "" {
		path = configured
	}
	if path == "" {
		return nil, nil, errors.New("no fix source: set driver.fix_source or --fixes")
	}
	var r io.ReadCloser = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open fix source: %w", err)
		}
		r = f
	}
	return sampler.NewReplaySource(r, paced), func() { _ = r.Close() }, nil
}

func serveMetrics(ctx context.Context, port int, log *logger.Logger) {
	mux := http.NewServeMux()
	metrics.Register(mux, nil)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error(ctx, "metrics_server_error", "Metrics server terminated", err, map[string]any{"port": port})
	}
}
