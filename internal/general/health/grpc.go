package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"taxi-tracking/internal/general/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Probe reports whether the process can serve traffic.
type Probe func() bool

// GRPCServer exposes grpc.health.v1 for the whole process ("" service name)
// and keeps it in step with a readiness probe.
type GRPCServer struct {
	srv    *grpc.Server
	health *health.Server
	probe  Probe
	every  time.Duration
	log    *logger.Logger
}

func NewGRPCServer(probe Probe, every time.Duration, log *logger.Logger) *GRPCServer {
	if every <= 0 {
		every = 2 * time.Second
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &GRPCServer{srv: srv, health: hs, probe: probe, every: every, log: log}
}

// Serve blocks until ctx ends or the listener fails.
func (g *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go g.watch(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- g.srv.Serve(lis) }()

	select {
	case <-ctx.Done():
		g.health.Shutdown()
		g.srv.GracefulStop()
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	}
}

// ListenAndServe is Serve on a TCP port.
func (g *GRPCServer) ListenAndServe(ctx context.Context, port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	g.log.Info(ctx, "grpc_health_started", "gRPC health service listening", map[string]any{"port": port})
	return g.Serve(ctx, lis)
}

func (g *GRPCServer) watch(ctx context.Context) {
	ticker := time.NewTicker(g.every)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_NOT_SERVING
	for {
		next := healthpb.HealthCheckResponse_NOT_SERVING
		if g.probe == nil || g.probe() {
			next = healthpb.HealthCheckResponse_SERVING
		}
		if next != last {
			g.health.SetServingStatus("", next)
			g.log.Info(ctx, "health_changed", "serving status changed", map[string]any{"status": next.String()})
			last = next
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
