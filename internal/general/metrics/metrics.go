package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taxi_ws_connections",
		Help: "Open WebSocket connections on this broker",
	})
	Handshakes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxi_handshakes_total",
		Help: "taxi:auth handshakes by result",
	}, []string{"result"})
	LocationsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taxi_locations_accepted_total",
		Help: "taxi:location frames accepted and fanned out",
	})
	LocationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxi_locations_dropped_total",
		Help: "taxi:location frames dropped by reason",
	}, []string{"reason"})
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taxi_outbound_frames_dropped_total",
		Help: "Outbound location updates dropped on slow subscribers",
	})
	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxi_broadcasts_total",
		Help: "Frames fanned out by event",
	}, []string{"event"})
	OnlineVehicles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taxi_online_vehicles",
		Help: "Authenticated vehicles on this broker",
	})
	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxi_sink_errors_total",
		Help: "Errors writing to downstream stores by sink",
	}, []string{"sink"})
	FixVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxi_driver_fix_verdicts_total",
		Help: "Sampler gate verdicts on the driver agent",
	}, []string{"verdict"})
	PublishOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxi_driver_publish_outcomes_total",
		Help: "LocationPublisher outcomes on the driver agent",
	}, []string{"outcome"})
	RouteFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxi_route_fetches_total",
		Help: "Directions requests by result",
	}, []string{"result"})
	RouteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "taxi_route_fetch_seconds",
		Help:    "Directions request latency",
		Buckets: prometheus.DefBuckets,
	})
	ReservationTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taxi_reservation_transitions_total",
		Help: "Reservation state transitions by target state",
	}, []string{"estado"})
)

func ObserveRouteLatency(start time.Time) {
	RouteLatency.Observe(time.Since(start).Seconds())
}

// Readiness is flipped by the owning service once its dependencies are up.
type Readiness struct {
	ready atomic.Bool
}

func (r *Readiness) Set(v bool)  { r.ready.Store(v) }
func (r *Readiness) Ready() bool { return r.ready.Load() }

// Register mounts /metrics and /healthz on mux.
func Register(mux *http.ServeMux, readiness *Readiness) {
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		if readiness != nil && !readiness.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("starting"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
