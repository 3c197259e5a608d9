package trip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"taxi-tracking/internal/domain/geo"
	"taxi-tracking/internal/domain/reservation"
	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/general/metrics"
	"taxi-tracking/internal/ports"
)

// RouteStatus is what an observer should display for the trip route.
type RouteStatus string

const (
	RouteNone    RouteStatus = "none"    // state has no target
	RoutePending RouteStatus = "pending" // target known, route not (yet) available
	RouteReady   RouteStatus = "ready"
)

// View is a snapshot of the tracker's output.
type View struct {
	State  reservation.State
	Status RouteStatus
	Target reservation.RouteTarget
	Route  *ports.Route
	Err    error
}

// CoordsSink persists coordinates resolved by the geocoder.
type CoordsSink func(ctx context.Context, reservationID string, kind reservation.TargetKind, point geo.Point) error

type Options struct {
	Geocoder ports.Geocoder
	Persist  CoordsSink
	Debounce time.Duration
}

// Tracker keeps the route of one reservation in step with its state and the
// vehicle position. At most one directions request is in flight; a newer fix
// or any transition cancels it.
type Tracker struct {
	machine    *reservation.Machine
	directions ports.DirectionsClient
	opts       Options
	log        *logger.Logger

	mu        sync.Mutex
	fix       *geo.SmoothedFix
	view      View
	gen       uint64
	cancel    context.CancelFunc
	listeners []func(View)
	closed    bool
	wg        sync.WaitGroup
}

func NewTracker(m *reservation.Machine, dir ports.DirectionsClient, log *logger.Logger, opts Options) *Tracker {
	t := &Tracker{
		machine:    m,
		directions: dir,
		opts:       opts,
		log:        log,
	}
	t.view = t.emptyView()
	m.OnTransition(t.onTransition)
	return t
}

// OnChange registers a listener invoked after every view change.
func (t *Tracker) OnChange(fn func(View)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// View returns the current snapshot.
func (t *Tracker) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view
}

// UpdateFix records the vehicle position and refreshes the route.
func (t *Tracker) UpdateFix(ctx context.Context, fix geo.SmoothedFix) {
	t.mu.Lock()
	f := fix
	t.fix = &f
	t.mu.Unlock()
	t.refresh(ctx, false)
}

// Refresh re-evaluates the target without discarding the current route.
func (t *Tracker) Refresh(ctx context.Context) {
	t.refresh(ctx, false)
}

// Close cancels the in-flight request and waits for it to finish.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *Tracker) onTransition(tr reservation.Transition) {
	t.log.Info(context.Background(), "route_target_changed", "reservation transitioned", map[string]any{
		"reservation_id": tr.ReservationID,
		"from":           tr.From,
		"to":             tr.To,
	})
	t.refresh(context.Background(), true)
}

func (t *Tracker) emptyView() View {
	return View{State: t.machine.State(), Status: RouteNone}
}

// refresh cancels whatever is in flight and, when the state has a target
// and a vehicle position is known, starts exactly one new request.
func (t *Tracker) refresh(ctx context.Context, discard bool) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	// read under mu so the newest generation always sees the newest state;
	// the machine never calls back into the tracker while holding its lock
	target, hasTarget := t.machine.Target()
	state := t.machine.State()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.gen++
	gen := t.gen

	prev := t.view
	next := View{State: state, Target: target}
	switch {
	case !hasTarget:
		next.Status = RouteNone
	case !discard && prev.Route != nil && prev.Target.Kind == target.Kind:
		next.Status = RouteReady
		next.Route = prev.Route
	default:
		next.Status = RoutePending
	}
	t.view = next

	var origin *geo.SmoothedFix
	if t.fix != nil {
		f := *t.fix
		origin = &f
	}

	var reqCtx context.Context
	if hasTarget && origin != nil {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
		t.cancel = cancel
		t.wg.Add(1)
	}
	listeners := append([]func(View){}, t.listeners...)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	if reqCtx != nil {
		go t.fetch(reqCtx, gen, target, origin.Point())
	}
}

func (t *Tracker) fetch(ctx context.Context, gen uint64, target reservation.RouteTarget, origin geo.Point) {
	defer t.wg.Done()

	if t.opts.Debounce > 0 {
		timer := time.NewTimer(t.opts.Debounce)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			t.finish(gen, target, nil, ErrRouteFetchAborted)
			return
		}
	}

	dest, err := t.resolve(ctx, target)
	if err != nil {
		t.finish(gen, target, nil, t.classify(ctx, err))
		return
	}

	start := time.Now()
	route, err := t.directions.Directions(ctx, origin, dest)
	metrics.ObserveRouteLatency(start)
	if err != nil {
		t.finish(gen, target, nil, t.classify(ctx, err))
		return
	}
	t.finish(gen, target, route, nil)
}

// resolve returns the target coordinates, geocoding and caching them once.
func (t *Tracker) resolve(ctx context.Context, target reservation.RouteTarget) (geo.Point, error) {
	if target.Coords != nil {
		return *target.Coords, nil
	}
	if t.opts.Geocoder == nil {
		return geo.Point{}, ErrNoCoordinates
	}

	point, err := t.opts.Geocoder.Geocode(ctx, target.Address)
	if err != nil {
		return geo.Point{}, fmt.Errorf("geocode %q: %w", target.Address, err)
	}
	if err := t.machine.CacheCoords(target.Kind, point); err != nil && !errors.Is(err, reservation.ErrCoordsAlreadyCached) {
		return geo.Point{}, err
	}
	if t.opts.Persist != nil {
		id := t.machine.Snapshot().ID
		if err := t.opts.Persist(ctx, id, target.Kind, point); err != nil {
			t.log.Warn(ctx, "coords_persist_failed", "geocoded coordinates not persisted", err, map[string]any{"reservation_id": id})
		}
	}
	return point, nil
}

func (t *Tracker) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ErrRouteFetchAborted
	}
	return fmt.Errorf("%w: %v", ErrRouteFetchFailed, err)
}

// finish applies a result only if no newer refresh has started since.
func (t *Tracker) finish(gen uint64, target reservation.RouteTarget, route *ports.Route, err error) {
	if errors.Is(err, ErrRouteFetchAborted) {
		metrics.RouteFetches.WithLabelValues("aborted").Inc()
		t.log.Debug(context.Background(), "route_fetch_aborted", "superseded", nil)
		return
	}

	t.mu.Lock()
	if gen != t.gen || t.closed {
		t.mu.Unlock()
		metrics.RouteFetches.WithLabelValues("stale").Inc()
		return
	}
	t.cancel = nil

	next := t.view
	if err != nil {
		// keep a previous route to the same target, else stay pending
		next.Err = err
		metrics.RouteFetches.WithLabelValues("failed").Inc()
	} else {
		next.Status = RouteReady
		next.Route = route
		next.Err = nil
		metrics.RouteFetches.WithLabelValues("ok").Inc()
	}
	if next.Target.Kind == target.Kind && next.Target.Coords == nil {
		next.Target, _ = t.machine.Target()
	}
	t.view = next
	listeners := append([]func(View){}, t.listeners...)
	t.mu.Unlock()

	if err != nil {
		t.log.Warn(context.Background(), "route_fetch_failed", "route unavailable", err, map[string]any{"target": target.Kind})
	}
	for _, fn := range listeners {
		fn(next)
	}
}
