package trip

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"taxi-tracking/internal/domain/geo"
	"taxi-tracking/internal/domain/reservation"
	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pickup  = geo.Point{Lat: -20.2141, Lng: -70.1522}
	dropoff = geo.Point{Lat: -20.2433, Lng: -70.1391}
)

type fakeGeocoder struct {
	calls atomic.Int32
}

func (g *fakeGeocoder) Geocode(_ context.Context, address string) (geo.Point, error) {
	g.calls.Add(1)
	switch address {
	case "Baquedano 100":
		return pickup, nil
	case "Playa Cavancha":
		return dropoff, nil
	}
	return geo.Point{}, errors.New("no match")
}

// fakeDirections answers with a two-point route unless block or fail is set.
type fakeDirections struct {
	block bool
	fail  atomic.Bool

	mu      sync.Mutex
	dests   []geo.Point
	ctxs    []context.Context
	maxLive int
	aborted int
}

func (d *fakeDirections) Directions(ctx context.Context, origin, dest geo.Point) (*ports.Route, error) {
	d.mu.Lock()
	d.dests = append(d.dests, dest)
	d.ctxs = append(d.ctxs, ctx)
	live := 0
	for _, c := range d.ctxs {
		if c.Err() == nil {
			live++
		}
	}
	d.maxLive = max(d.maxLive, live)
	d.mu.Unlock()

	if d.block {
		<-ctx.Done()
		d.mu.Lock()
		d.aborted++
		d.mu.Unlock()
		return nil, ctx.Err()
	}
	if d.fail.Load() {
		return nil, errors.New("upstream 502")
	}
	return &ports.Route{Coordinates: []geo.Point{origin, dest}}, nil
}

func (d *fakeDirections) lastDest() geo.Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dests[len(d.dests)-1]
}

func (d *fakeDirections) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dests)
}

func newMachine(t *testing.T) *reservation.Machine {
	t.Helper()
	res, err := reservation.New("r-1", "Baquedano 100", "Playa Cavancha")
	require.NoError(t, err)
	m := reservation.NewMachine(res)
	_, err = m.Approve()
	require.NoError(t, err)
	return m
}

func vehicleFix(lat, lng float64, ts int64) geo.SmoothedFix {
	return geo.SmoothedFix{Lat: lat, Lng: lng, Accuracy: 8, AccuracyLevel: geo.LevelFor(8), TimestampMs: ts}
}

func newTracker(m *reservation.Machine, d ports.DirectionsClient, g ports.Geocoder) *Tracker {
	return NewTracker(m, d, logger.NewWithWriter("test", io.Discard), Options{Geocoder: g})
}

func TestTrackerNoTargetBeforeConfirmation(t *testing.T) {
	dir := &fakeDirections{}
	tr := newTracker(newMachine(t), dir, &fakeGeocoder{})
	defer tr.Close()

	tr.UpdateFix(context.Background(), vehicleFix(-20.22, -70.14, 1))
	assert.Equal(t, RouteNone, tr.View().Status)
	assert.Equal(t, 0, dir.calls())
}

func TestTrackerRoutesToPickupThenDestination(t *testing.T) {
	m := newMachine(t)
	dir := &fakeDirections{}
	geoc := &fakeGeocoder{}
	tr := newTracker(m, dir, geoc)
	defer tr.Close()

	ctx := context.Background()
	tr.UpdateFix(ctx, vehicleFix(-20.22, -70.14, 1))
	_, err := m.Confirm("ABC123")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return tr.View().Status == RouteReady }, time.Second, 5*time.Millisecond)
	v := tr.View()
	assert.Equal(t, reservation.TargetOrigin, v.Target.Kind)
	assert.Equal(t, pickup, dir.lastDest())
	require.NotNil(t, v.Target.Coords)
	assert.Equal(t, pickup, *v.Target.Coords)

	fix := vehicleFix(-20.2141, -70.1522, 2)
	seen := make(chan View, 16)
	tr.OnChange(func(v View) { seen <- v })
	_, err = m.PickUp(&fix)
	require.NoError(t, err)

	// the origin route is discarded at once
	first := <-seen
	assert.Equal(t, reservation.StatePickedUp, first.State)
	assert.Equal(t, RoutePending, first.Status)
	assert.Nil(t, first.Route)
	assert.Equal(t, reservation.TargetDestination, first.Target.Kind)

	require.Eventually(t, func() bool { return tr.View().Status == RouteReady }, time.Second, 5*time.Millisecond)
	assert.Equal(t, dropoff, dir.lastDest())

	// addresses are geocoded once each
	tr.UpdateFix(ctx, vehicleFix(-20.23, -70.14, 3))
	require.Eventually(t, func() bool { return dir.calls() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), geoc.calls.Load())
}

func TestTrackerCancelsSupersededRequest(t *testing.T) {
	m := newMachine(t)
	_, err := m.Confirm("ABC123")
	require.NoError(t, err)
	require.NoError(t, m.CacheCoords(reservation.TargetOrigin, pickup))

	dir := &fakeDirections{block: true}
	tr := newTracker(m, dir, nil)

	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		tr.UpdateFix(ctx, vehicleFix(-20.22+float64(i)*0.001, -70.14, i))
	}
	require.Eventually(t, func() bool {
		dir.mu.Lock()
		defer dir.mu.Unlock()
		return dir.aborted >= 4
	}, time.Second, 5*time.Millisecond)

	tr.Close()
	dir.mu.Lock()
	defer dir.mu.Unlock()
	assert.Equal(t, 1, dir.maxLive)
	assert.Equal(t, RoutePending, tr.View().Status)
}

func TestTrackerKeepsRouteOnFailureForSameTarget(t *testing.T) {
	m := newMachine(t)
	_, err := m.Confirm("ABC123")
	require.NoError(t, err)
	require.NoError(t, m.CacheCoords(reservation.TargetOrigin, pickup))

	dir := &fakeDirections{}
	tr := newTracker(m, dir, nil)
	defer tr.Close()

	ctx := context.Background()
	tr.UpdateFix(ctx, vehicleFix(-20.22, -70.14, 1))
	require.Eventually(t, func() bool { return tr.View().Status == RouteReady }, time.Second, 5*time.Millisecond)
	route := tr.View().Route

	dir.fail.Store(true)
	tr.UpdateFix(ctx, vehicleFix(-20.221, -70.14, 2))
	require.Eventually(t, func() bool { return tr.View().Err != nil }, time.Second, 5*time.Millisecond)

	v := tr.View()
	assert.ErrorIs(t, v.Err, ErrRouteFetchFailed)
	assert.Equal(t, RouteReady, v.Status)
	assert.Same(t, route, v.Route)
}

func TestTrackerFailureWithoutRouteStaysPending(t *testing.T) {
	m := newMachine(t)
	_, err := m.Confirm("ABC123")
	require.NoError(t, err)

	dir := &fakeDirections{}
	tr := newTracker(m, dir, &fakeGeocoder{})
	defer tr.Close()

	dir.fail.Store(true)

	tr.UpdateFix(context.Background(), vehicleFix(-20.22, -70.14, 1))
	require.Eventually(t, func() bool { return tr.View().Err != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, RoutePending, tr.View().Status)
	assert.Nil(t, tr.View().Route)
}

func TestTrackerTerminalStateClearsRoute(t *testing.T) {
	m := newMachine(t)
	_, err := m.Confirm("ABC123")
	require.NoError(t, err)
	require.NoError(t, m.CacheCoords(reservation.TargetOrigin, pickup))

	tr := newTracker(m, &fakeDirections{}, nil)
	defer tr.Close()

	tr.UpdateFix(context.Background(), vehicleFix(-20.22, -70.14, 1))
	require.Eventually(t, func() bool { return tr.View().Status == RouteReady }, time.Second, 5*time.Millisecond)

	_, err = m.Cancel("passenger no-show")
	require.NoError(t, err)
	v := tr.View()
	assert.Equal(t, RouteNone, v.Status)
	assert.Nil(t, v.Route)
}

func TestTrackerViewFollowsLatestStateUnderConcurrentFixes(t *testing.T) {
	for i := 0; i < 200; i++ {
		m := newMachine(t)
		tr := newTracker(m, &fakeDirections{}, &fakeGeocoder{})

		ctx := context.Background()
		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ts := int64(1); ; ts++ {
				select {
				case <-stop:
					return
				default:
				}
				tr.UpdateFix(ctx, vehicleFix(-20.22, -70.14, ts))
			}
		}()

		_, err := m.Confirm("ABC123")
		require.NoError(t, err)
		fix := vehicleFix(-20.2141, -70.1522, 0)
		_, err = m.PickUp(&fix)
		require.NoError(t, err)
		close(stop)
		wg.Wait()

		v := tr.View()
		assert.Equal(t, reservation.StatePickedUp, v.State)
		assert.Equal(t, reservation.TargetDestination, v.Target.Kind)
		tr.Close()
	}
}
