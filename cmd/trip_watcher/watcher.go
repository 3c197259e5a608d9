package tripwatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taxi-tracking/internal/domain/reservation"
	"taxi-tracking/internal/domain/vehicle"
	"taxi-tracking/internal/general/contracts"
	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/trip"
)

var ErrSnapshotUnavailable = errors.New("reservation snapshot unavailable")

// watcher mirrors one reservation from broker frames into a state machine
// and feeds its vehicle's fixes to the route tracker.
type watcher struct {
	machine *reservation.Machine
	tracker *trip.Tracker
	log     *logger.Logger
}

func (w *watcher) handle(ctx context.Context, f contracts.Frame) {
	switch f.Event {
	case contracts.EventReservationState:
		var msg contracts.ReservationState
		if err := f.Decode(&msg); err != nil {
			w.log.Warn(ctx, "bad_reservation_state", "ignoring frame", err, nil)
			return
		}
		w.observe(ctx, msg)

	case contracts.EventTaxiLocationUpdate:
		var loc contracts.TaxiLocation
		if err := f.Decode(&loc); err != nil {
			w.log.Warn(ctx, "bad_location_update", "ignoring frame", err, nil)
			return
		}
		res := w.machine.Snapshot()
		if res.AssignedVehicle == "" || vehicle.NormalizePlate(loc.Plate) != res.AssignedVehicle {
			return
		}
		w.tracker.UpdateFix(ctx, loc.Fix())

	case contracts.EventTaxiOffline:
		var p contracts.TaxiPresence
		if err := f.Decode(&p); err == nil && vehicle.NormalizePlate(p.Plate) == w.machine.Snapshot().AssignedVehicle {
			w.log.Warn(ctx, "vehicle_offline", "assigned vehicle went offline", nil, map[string]any{"patente": p.Plate})
		}

	case contracts.EventError:
		var msg contracts.ErrorMessage
		_ = f.Decode(&msg)
		w.log.Warn(ctx, "broker_error", msg.Message, nil, nil)
	}
}

func (w *watcher) observe(ctx context.Context, msg contracts.ReservationState) {
	res := w.machine.Snapshot()
	if msg.ReservationID != res.ID {
		return
	}
	next, err := reservation.ParseState(msg.State)
	if err != nil {
		w.log.Warn(ctx, "bad_reservation_state", "unknown estado", err, map[string]any{"estado": msg.State})
		return
	}
	if next == res.State {
		return
	}
	if _, err := w.machine.Observe(next, msg.Plate); err != nil {
		// a missed intermediate event; the snapshot taken on reconnect resyncs
		w.log.Warn(ctx, "reservation_state_skipped", "cannot mirror transition", err, map[string]any{
			"from": res.State.String(),
			"to":   next.String(),
		})
	}
}

func logView(ctx context.Context, log *logger.Logger, v trip.View) {
	details := map[string]any{
		"estado": v.State.String(),
		"status": string(v.Status),
		"target": string(v.Target.Kind),
	}
	if v.Route != nil {
		details["points"] = len(v.Route.Coordinates)
	}
	if v.Err != nil {
		log.Warn(ctx, "route_view", "route unavailable", v.Err, details)
		return
	}
	log.Info(ctx, "route_view", "route updated", details)
}

type snapshot struct {
	ID          string `json:"id"`
	Origin      string `json:"origen"`
	Destination string `json:"destino"`
	State       string `json:"estado"`
	Plate       string `json:"patente"`
}

// fetchSnapshot loads the reservation from the broker's REST API.
func fetchSnapshot(ctx context.Context, client *http.Client, apiBase, id, token string) (*reservation.Reservation, error) {
	url := strings.TrimRight(apiBase, "/") + "/reservations/" + id
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrSnapshotUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var s snapshot
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotUnavailable, err)
	}
	res, err := reservation.New(s.ID, s.Origin, s.Destination)
	if err != nil {
		return nil, err
	}
	state, err := reservation.ParseState(s.State)
	if err != nil {
		return nil, err
	}
	res.State = state
	res.AssignedVehicle = vehicle.NormalizePlate(s.Plate)
	res.UpdatedAt = time.Now()
	return res, nil
}
