package brokerservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"taxi-tracking/internal/broker"
	"taxi-tracking/internal/general/config"
	"taxi-tracking/internal/general/contracts"
	"taxi-tracking/internal/general/health"
	"taxi-tracking/internal/general/jwt"
	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/general/metrics"
	"taxi-tracking/internal/general/postgres"
	"taxi-tracking/internal/general/rabbitmq"
	"taxi-tracking/internal/general/redisstore"
	"taxi-tracking/internal/general/websocket"
	"taxi-tracking/internal/ports"
	fleethandler "taxi-tracking/internal/software/fleet/handler"
	fleetsvc "taxi-tracking/internal/software/fleet/service"
	"taxi-tracking/internal/software/trip/handler"
	"taxi-tracking/internal/software/trip/service"

	"github.com/google/uuid"
)

const sinkQueueSize = 1024

// Options are the per-process knobs that do not belong in the config file.
type Options struct {
	ConfigPath string
	InstanceID string
	Debug      bool
}

// Run wires the broker and blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	// set up a new logger with a static request ID for startup logs
	log := logger.New("broker-service")
	log.SetDebug(opts.Debug)
	ctx = log.WithRequestID(ctx, "startup-001")

	// load configuration
	cfg, err := config.LoadFromFile(opts.ConfigPath)
	if err != nil {
		log.Error(ctx, "config_load_failed", "Failed to load configuration", err, map[string]any{"path": opts.ConfigPath})
		return err
	}

	instanceID := opts.InstanceID
	if instanceID == "" {
		instanceID = defaultInstanceID()
	}

	readiness := &metrics.Readiness{}

	var tokens *jwt.Manager
	if cfg.JWTEnabled() {
		tokens = jwt.NewManager(cfg.JWT.SecretKey, cfg.JWT.TTL)
	} else {
		log.Warn(ctx, "jwt_disabled", "No JWT secret configured: taxi:auth is accepted on identity alone", nil, nil)
	}

	var (
		sinks    []broker.Sink
		closers  []func()
		fixStore *redisstore.Store
		pgDeps   *storage
	)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// latest fix per plate
	if cfg.RedisEnabled() {
		fixStore, err = redisstore.Connect(ctx, cfg.Redis.Addr, cfg.Redis.DB, cfg.Redis.LatestFixTTL, log)
		if err != nil {
			log.Error(ctx, "redis_connection_failed", "Failed to connect to Redis", err, nil)
			return err
		}
		closers = append(closers, func() { _ = fixStore.Close() })
		sink := broker.NewAsyncSink("redis", fixStore, sinkQueueSize, log)
		closers = append(closers, sink.Close)
		sinks = append(sinks, sink)
	}

	// location history, vehicle registry and reservations
	if cfg.DatabaseEnabled() {
		pgDeps, err = openStorage(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		closers = append(closers, pgDeps.pool.Close)
		sink := broker.NewAsyncSink("postgres", postgres.NewArchiver(pgDeps.uow, pgDeps.history, pgDeps.vehicles, log), sinkQueueSize, log)
		closers = append(closers, sink.Close)
		sinks = append(sinks, sink)
	}

	// cross-replica fan-out and reservation status events
	var rmq *rabbitmq.Client
	var replicator *rabbitmq.Replicator
	if cfg.RabbitMQEnabled() {
		rmq, err = rabbitmq.ConnectRabbitMQ(ctx, cfg.RabbitMQ, instanceID, log)
		if err != nil {
			log.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
			return err
		}
		closers = append(closers, rmq.Close)
	}

	brokerOpts := broker.Options{Tokens: tokens}
	if pgDeps != nil {
		brokerOpts.Directory = postgres.NewDirectory(pgDeps.uow, pgDeps.vehicles)
	}

	// the replicator needs the broker and the broker needs its sinks
	var b *broker.Broker
	if rmq != nil {
		replicator = rabbitmq.NewReplicator(rmq, instanceID, applierFunc(func() rabbitmq.Applier { return b }), log)
		sink := broker.NewAsyncSink("rabbitmq", replicator, sinkQueueSize, log)
		closers = append(closers, sink.Close)
		sinks = append(sinks, sink)
	}
	brokerOpts.Sinks = sinks
	b = broker.New(log, brokerOpts)

	// HTTP surface: WebSocket, metrics, health and the trip API
	wsServer := websocket.NewServer(b, log, tokens, websocket.Config{
		QueueSize:     cfg.Broker.ClientQueueSize,
		PongWait:      cfg.Broker.PongWait,
		MaxConcurrent: cfg.Broker.MaxConcurrent,
	})
	mux := http.NewServeMux()
	mux.Handle("GET /ws", wsServer)
	metrics.Register(mux, readiness)

	if pgDeps != nil {
		var fixes service.FixChain
		fixes = append(fixes, b)
		if fixStore != nil {
			fixes = append(fixes, fixStore)
		}
		var pub ports.StatusPublisher = localStatus{b: b}
		if rmq != nil {
			pub = rabbitmq.NewStatusPublisher(rmq, "broker-"+instanceID)
		}
		svc := service.NewTripService(service.Deps{
			Log:          log,
			UoW:          pgDeps.uow,
			Reservations: pgDeps.reservations,
			Events:       pgDeps.events,
			Vehicles:     pgDeps.vehicles,
			Fixes:        fixes,
			Publisher:    pub,
			IsNotFound: func(err error) bool {
				return errors.Is(err, postgres.ErrReservationNotFound) || errors.Is(err, postgres.ErrVehicleNotFound)
			},
			Producer: "broker-" + instanceID,
		})
		handler.NewTripHTTPHandler(svc, log, tokens).RegisterRoutes(mux)
	} else {
		log.Info(ctx, "trip_api_disabled", "No database configured: reservation endpoints are not served", nil)
	}

	// fleet board; interfaces stay nil when the backing store is absent
	var (
		latest  ports.LatestFixStore
		uow     ports.UnitOfWork
		history ports.LocationHistoryRepository
	)
	if fixStore != nil {
		latest = fixStore
	}
	if pgDeps != nil {
		uow, history = pgDeps.uow, pgDeps.history
	}
	fleethandler.NewFleetHTTPHandler(fleetsvc.NewFleetService(b, latest, uow, history, log), log, tokens).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Broker.WSPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	grpcHealth := health.NewGRPCServer(func() bool {
		return readiness.Ready() && (rmq == nil || rmq.Ready())
	}, 2*time.Second, log)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	if replicator != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			replicator.Run(runCtx, cfg.RabbitMQ.Prefetch)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := grpcHealth.ListenAndServe(runCtx, cfg.Broker.GRPCPort); err != nil {
			errCh <- err
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	readiness.Set(true)
	log.Info(ctx, "service_started",
		fmt.Sprintf("Broker started on port %d", cfg.Broker.WSPort),
		map[string]any{
			"ws_port":     cfg.Broker.WSPort,
			"grpc_port":   cfg.Broker.GRPCPort,
			"instance_id": instanceID,
			"database":    pgDeps != nil,
			"redis":       fixStore != nil,
			"rabbitmq":    rmq != nil,
			"jwt":         tokens != nil,
		},
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		log.Error(ctx, "server_error", "Server terminated with error", runErr, nil)
	}

	// graceful shutdown: stop accepting, close sockets, then drain the sinks
	readiness.Set(false)
	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil && err != http.ErrServerClosed {
		log.Error(ctx, "http_shutdown_failed", "Failed to gracefully shut down HTTP server", err, nil)
	}
	wsServer.CloseAll()
	stop()
	wg.Wait()

	log.Info(ctx, "service_stopped", "Broker stopped", nil)
	return runErr
}

// storage bundles the Postgres-backed repositories.
type storage struct {
	pool         interface{ Close() }
	uow          ports.UnitOfWork
	reservations ports.ReservationRepository
	events       ports.ReservationEventRepository
	vehicles     ports.VehicleRepository
	history      ports.LocationHistoryRepository
}

func openStorage(ctx context.Context, db config.Database, log *logger.Logger) (*storage, error) {
	pool, err := postgres.NewPool(ctx, db, log)
	if err != nil {
		log.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err, nil)
		return nil, err
	}
	if err := postgres.Migrate(ctx, pool, log); err != nil {
		pool.Close()
		log.Error(ctx, "db_migration_failed", "Failed to apply migrations", err, nil)
		return nil, err
	}
	return &storage{
		pool:         pool,
		uow:          postgres.NewUnitOfWork(pool),
		reservations: postgres.NewReservationRepo(),
		events:       postgres.NewReservationEventRepo(),
		vehicles:     postgres.NewVehicleRepo(),
		history:      postgres.NewLocationHistoryRepo(),
	}, nil
}

// localStatus hands transitions straight to this broker when there is no
// RabbitMQ to carry them.
type localStatus struct {
	b *broker.Broker
}

func (l localStatus) PublishReservationStatus(ctx context.Context, msg contracts.ReservationStatusMessage) error {
	l.b.ApplyReservationStatus(ctx, msg)
	return nil
}

// applierFunc resolves the broker lazily; deliveries only start after Run.
type applierFunc func() rabbitmq.Applier

func (f applierFunc) ApplyRemoteLocation(ctx context.Context, loc contracts.TaxiLocation) {
	f().ApplyRemoteLocation(ctx, loc)
}

func (f applierFunc) ApplyRemotePresence(ctx context.Context, plate string, online bool) {
	f().ApplyRemotePresence(ctx, plate, online)
}

func (f applierFunc) ApplyReservationStatus(ctx context.Context, msg contracts.ReservationStatusMessage) {
	f().ApplyReservationStatus(ctx, msg)
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "broker"
	}
	return host + "-" + uuid.NewString()[:8]
}
