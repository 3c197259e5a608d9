package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"taxi-tracking/internal/domain/geo"
	"taxi-tracking/internal/domain/reservation"
	"taxi-tracking/internal/domain/vehicle"
	"taxi-tracking/internal/general/contracts"
	"taxi-tracking/internal/general/jwt"
	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/general/metrics"
)

var (
	ErrUnknownClient    = errors.New("unknown client")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrAuthRejected     = errors.New("authentication rejected")
	ErrAlreadyAuthed    = errors.New("already authenticated")
	ErrPlateMismatch    = errors.New("patente does not match the authenticated vehicle")
	ErrStaleFix         = errors.New("fix older than the last committed one")
	ErrInvalidFix       = errors.New("invalid location payload")
)

// Client is one connection as seen by the broker. Deliver must not block;
// droppable frames may be discarded by the transport under pressure.
type Client interface {
	ID() string
	Deliver(frame []byte, droppable bool) bool
}

// VehicleDirectory optionally checks that a driver may report for a plate.
type VehicleDirectory interface {
	GetByPlate(ctx context.Context, plate string) (*vehicle.Vehicle, error)
}

type session struct {
	client        Client
	authenticated bool
	offlineSent   bool
	driverID      string
	plate         string
	rooms         map[Room]struct{}
}

type tracked struct {
	vehicle       *vehicle.Vehicle
	clientID      string
	lastTs        int64
	reservationID string
}

type Options struct {
	Tokens    *jwt.Manager     // nil accepts taxi:auth on identity alone
	Directory VehicleDirectory // nil skips the registry check
	Sinks     []Sink
	Now       func() time.Time
}

// Broker routes authenticated vehicle locations to observer rooms.
type Broker struct {
	log  *logger.Logger
	opts Options

	mu       sync.Mutex
	sessions map[string]*session
	vehicles map[string]*tracked
	// plate -> reservation learned from reservation status events
	assignments map[string]string

	roomsMu sync.RWMutex
	rooms   map[Room]map[string]Client
}

func New(log *logger.Logger, opts Options) *Broker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Broker{
		log:         log,
		opts:        opts,
		sessions:    make(map[string]*session),
		vehicles:    make(map[string]*tracked),
		assignments: make(map[string]string),
		rooms:       make(map[Room]map[string]Client),
	}
}

// Connect registers a new, unauthenticated connection.
func (b *Broker) Connect(c Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[c.ID()] = &session{client: c, rooms: make(map[Room]struct{})}
}

// Authenticate completes the server half of the taxi:auth handshake. The
// reply (taxi:auth:success or error) is delivered to the client.
func (b *Broker) Authenticate(ctx context.Context, clientID string, auth contracts.TaxiAuth) error {
	plate := vehicle.NormalizePlate(auth.Plate)
	driverID := strings.TrimSpace(auth.DriverID)

	b.mu.Lock()
	s, ok := b.sessions[clientID]
	if !ok {
		b.mu.Unlock()
		return ErrUnknownClient
	}
	if s.authenticated {
		b.mu.Unlock()
		b.reject(ctx, s.client, "already authenticated")
		return ErrAlreadyAuthed
	}
	b.mu.Unlock()

	if err := b.verify(ctx, driverID, plate, auth.Token); err != nil {
		metrics.Handshakes.WithLabelValues("rejected").Inc()
		b.log.Warn(ctx, "taxi_auth_rejected", "handshake rejected", err, map[string]any{"patente": plate, "driver_id": driverID})
		b.reject(ctx, s.client, err.Error())
		return fmt.Errorf("%w: %v", ErrAuthRejected, err)
	}

	b.mu.Lock()
	if _, still := b.sessions[clientID]; !still {
		b.mu.Unlock()
		return ErrUnknownClient
	}
	var displaced *session
	if prev, ok := b.vehicles[plate]; ok && prev.clientID != clientID {
		displaced = b.sessions[prev.clientID]
	}
	s.authenticated = true
	s.offlineSent = false
	s.driverID = driverID
	s.plate = plate

	t, ok := b.vehicles[plate]
	if !ok {
		v, _ := vehicle.New(plate, driverID)
		t = &tracked{vehicle: v}
		b.vehicles[plate] = t
	}
	t.clientID = clientID
	t.vehicle.DriverID = driverID
	if resID, ok := b.assignments[plate]; ok {
		t.reservationID = resID
	}
	if displaced != nil {
		// the newer connection owns the plate; the old one must not mark it offline
		displaced.authenticated = false
	}
	online := b.onlineCountLocked()
	b.mu.Unlock()

	metrics.Handshakes.WithLabelValues("ok").Inc()
	metrics.OnlineVehicles.Set(float64(online))

	success, _ := contracts.EncodeFrame(contracts.EventTaxiAuthSuccess, nil)
	s.client.Deliver(success, false)

	b.log.Info(ctx, "taxi_online", "vehicle authenticated", map[string]any{"patente": plate, "driver_id": driverID})
	b.broadcastPresence(ctx, plate, true)
	return nil
}

func (b *Broker) verify(ctx context.Context, driverID, plate, token string) error {
	if driverID == "" || plate == "" {
		return errors.New("driverId and patente are required")
	}
	if _, err := jwt.ValidateTaxiAuth(b.opts.Tokens, token, driverID, plate); err != nil {
		return err
	}
	if b.opts.Directory != nil {
		v, err := b.opts.Directory.GetByPlate(ctx, plate)
		if err != nil {
			return fmt.Errorf("unknown vehicle %s", plate)
		}
		if v.DriverID != "" && v.DriverID != driverID {
			return fmt.Errorf("vehicle %s is not assigned to driver %s", plate, driverID)
		}
	}
	return nil
}

func (b *Broker) reject(ctx context.Context, c Client, msg string) {
	frame, err := contracts.EncodeFrame(contracts.EventError, contracts.ErrorMessage{Message: msg})
	if err != nil {
		b.log.Error(ctx, "encode_error_frame", "failed to encode error frame", err, nil)
		return
	}
	c.Deliver(frame, false)
}

// HandleLocation validates a taxi:location payload from clientID and fans it
// out verbatim as taxi:location:update.
func (b *Broker) HandleLocation(ctx context.Context, clientID string, raw json.RawMessage) error {
	var loc contracts.TaxiLocation
	if err := json.Unmarshal(raw, &loc); err != nil {
		metrics.LocationsDropped.WithLabelValues("malformed").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidFix, err)
	}
	if err := (geo.Point{Lat: loc.Lat, Lng: loc.Lng}).Validate(); err != nil {
		metrics.LocationsDropped.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidFix, err)
	}

	b.mu.Lock()
	s, ok := b.sessions[clientID]
	// a session that signalled driver:offline or lost its plate to a newer
	// connection no longer speaks for the vehicle
	if !ok || !s.authenticated || s.offlineSent {
		b.mu.Unlock()
		metrics.LocationsDropped.WithLabelValues("unauthenticated").Inc()
		return ErrNotAuthenticated
	}
	if vehicle.NormalizePlate(loc.Plate) != s.plate {
		b.mu.Unlock()
		metrics.LocationsDropped.WithLabelValues("plate_mismatch").Inc()
		return ErrPlateMismatch
	}
	t, ok := b.vehicles[s.plate]
	if !ok || t.clientID != clientID {
		b.mu.Unlock()
		metrics.LocationsDropped.WithLabelValues("unauthenticated").Inc()
		return ErrNotAuthenticated
	}
	if t.lastTs != 0 && loc.Timestamp < t.lastTs {
		b.mu.Unlock()
		metrics.LocationsDropped.WithLabelValues("stale").Inc()
		return ErrStaleFix
	}
	t.lastTs = loc.Timestamp
	t.vehicle.UpdateFix(loc.Fix())
	if st, err := vehicle.ParseStatus(loc.Status); err == nil && st != vehicle.StatusOffline {
		t.vehicle.Status = st
	}
	if loc.ReservationID != "" {
		t.reservationID = loc.ReservationID
	}
	resID := t.reservationID
	driverID := s.driverID

	// fan out while holding mu so that a later fix of this plate cannot
	// overtake an earlier one
	frame, err := contracts.EncodeFrame(contracts.EventTaxiLocationUpdate, raw)
	if err == nil {
		b.fanOut(frame, true, AdminRoom, reservationRoomOrNone(resID))
	}
	b.mu.Unlock()
	if err != nil {
		return err
	}

	metrics.LocationsAccepted.Inc()
	metrics.Broadcasts.WithLabelValues(contracts.EventTaxiLocationUpdate).Inc()

	for _, sink := range b.opts.Sinks {
		sink.LocationAccepted(ctx, LocationEvent{
			DriverID:      driverID,
			ReservationID: resID,
			Location:      loc,
			Raw:           raw,
		})
	}
	return nil
}

// HandleDriverOffline processes an explicit driver:offline.
func (b *Broker) HandleDriverOffline(ctx context.Context, clientID string) error {
	b.mu.Lock()
	s, ok := b.sessions[clientID]
	if !ok || !s.authenticated {
		b.mu.Unlock()
		return ErrNotAuthenticated
	}
	plate := b.markOfflineLocked(s)
	b.mu.Unlock()

	if plate != "" {
		b.log.Info(ctx, "driver_offline", "driver went offline", map[string]any{"patente": plate})
		b.broadcastPresence(ctx, plate, false)
	}
	return nil
}

// Disconnect removes a connection. An authenticated driver that did not
// already signal driver:offline is announced offline now.
func (b *Broker) Disconnect(ctx context.Context, clientID string) {
	b.mu.Lock()
	s, ok := b.sessions[clientID]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.sessions, clientID)
	plate := ""
	if s.authenticated && !s.offlineSent {
		plate = b.markOfflineLocked(s)
	}
	rooms := make([]Room, 0, len(s.rooms))
	for r := range s.rooms {
		rooms = append(rooms, r)
	}
	b.mu.Unlock()

	b.roomsMu.Lock()
	for _, r := range rooms {
		b.removeMemberLocked(r, clientID)
	}
	b.roomsMu.Unlock()

	if plate != "" {
		b.log.Info(ctx, "taxi_offline", "driver connection closed", map[string]any{"patente": plate})
		b.broadcastPresence(ctx, plate, false)
	}
}

// markOfflineLocked returns the plate that went offline, or "" when the
// plate has meanwhile been taken over by another connection.
func (b *Broker) markOfflineLocked(s *session) string {
	s.offlineSent = true
	t, ok := b.vehicles[s.plate]
	if !ok || t.clientID != s.client.ID() {
		return ""
	}
	t.vehicle.GoOffline()
	t.clientID = ""
	t.lastTs = 0
	metrics.OnlineVehicles.Set(float64(b.onlineCountLocked()))
	return s.plate
}

func (b *Broker) onlineCountLocked() int {
	n := 0
	for _, t := range b.vehicles {
		if t.clientID != "" {
			n++
		}
	}
	return n
}

// Join adds clientID to room.
func (b *Broker) Join(clientID string, room Room) error {
	b.mu.Lock()
	s, ok := b.sessions[clientID]
	if ok {
		s.rooms[room] = struct{}{}
	}
	b.mu.Unlock()
	if !ok {
		return ErrUnknownClient
	}

	b.roomsMu.Lock()
	defer b.roomsMu.Unlock()
	members, ok := b.rooms[room]
	if !ok {
		members = make(map[string]Client)
		b.rooms[room] = members
	}
	members[clientID] = s.client
	return nil
}

// Leave removes clientID from room.
func (b *Broker) Leave(clientID string, room Room) {
	b.mu.Lock()
	if s, ok := b.sessions[clientID]; ok {
		delete(s.rooms, room)
	}
	b.mu.Unlock()

	b.roomsMu.Lock()
	defer b.roomsMu.Unlock()
	b.removeMemberLocked(room, clientID)
}

func (b *Broker) removeMemberLocked(room Room, clientID string) {
	members, ok := b.rooms[room]
	if !ok {
		return
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(b.rooms, room)
	}
}

// Members returns the number of clients in room.
func (b *Broker) Members(room Room) int {
	b.roomsMu.RLock()
	defer b.roomsMu.RUnlock()
	return len(b.rooms[room])
}

// ApplyReservationStatus learns which reservation a plate is serving and
// relays the new state to that reservation's watchers.
func (b *Broker) ApplyReservationStatus(ctx context.Context, msg contracts.ReservationStatusMessage) {
	state, err := reservation.ParseState(msg.State)
	if err != nil {
		b.log.Warn(ctx, "reservation_status_ignored", "unknown state", err, map[string]any{"estado": msg.State})
		return
	}
	plate := vehicle.NormalizePlate(msg.Plate)

	var driver Client
	b.mu.Lock()
	if plate != "" {
		t := b.vehicles[plate]
		if t != nil && t.clientID != "" {
			if s, ok := b.sessions[t.clientID]; ok {
				driver = s.client
			}
		}
		if state.Active() {
			b.assignments[plate] = msg.ReservationID
			if t != nil {
				t.reservationID = msg.ReservationID
				_ = t.vehicle.MarkInService()
			}
		} else if b.assignments[plate] == msg.ReservationID {
			delete(b.assignments, plate)
			if t != nil {
				t.reservationID = ""
				_ = t.vehicle.MarkAvailable()
			}
		}
	}
	b.mu.Unlock()

	frame, err := contracts.EncodeFrame(contracts.EventReservationState, contracts.ReservationState{
		ReservationID: msg.ReservationID,
		State:         state.String(),
		Plate:         plate,
		Timestamp:     msg.Timestamp.UnixMilli(),
	})
	if err != nil {
		return
	}
	b.fanOut(frame, false, ReservationRoom(msg.ReservationID), AdminRoom)
	// the assigned driver follows its own trip without joining the room
	if driver != nil && !b.inRooms(driver.ID(), ReservationRoom(msg.ReservationID), AdminRoom) {
		driver.Deliver(frame, false)
	}
	metrics.Broadcasts.WithLabelValues(contracts.EventReservationState).Inc()
}

func (b *Broker) inRooms(clientID string, rooms ...Room) bool {
	b.roomsMu.RLock()
	defer b.roomsMu.RUnlock()
	for _, r := range rooms {
		if _, ok := b.rooms[r][clientID]; ok {
			return true
		}
	}
	return false
}

// ApplyRemoteLocation fans out a location accepted by another broker replica
// to local subscribers only.
func (b *Broker) ApplyRemoteLocation(ctx context.Context, loc contracts.TaxiLocation) {
	plate := vehicle.NormalizePlate(loc.Plate)

	b.mu.Lock()
	if t, ok := b.vehicles[plate]; ok && t.clientID != "" {
		// the vehicle is connected here; the local copy already went out
		b.mu.Unlock()
		return
	}
	resID := loc.ReservationID
	if resID == "" {
		resID = b.assignments[plate]
	}
	frame, err := contracts.EncodeFrame(contracts.EventTaxiLocationUpdate, loc)
	if err == nil {
		b.fanOut(frame, true, AdminRoom, reservationRoomOrNone(resID))
	}
	b.mu.Unlock()
	if err != nil {
		b.log.Warn(ctx, "remote_location_encode", "dropping remote location", err, nil)
	}
}

// ApplyRemotePresence relays presence published by another replica.
func (b *Broker) ApplyRemotePresence(ctx context.Context, plate string, online bool) {
	plate = vehicle.NormalizePlate(plate)
	b.mu.Lock()
	t, local := b.vehicles[plate]
	connectedHere := local && t.clientID != ""
	b.mu.Unlock()
	if connectedHere {
		return
	}
	b.deliverPresence(ctx, plate, online)
}

// CurrentFix returns the last fix of a vehicle connected to this broker.
func (b *Broker) CurrentFix(_ context.Context, plate string) (*geo.SmoothedFix, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.vehicles[vehicle.NormalizePlate(plate)]
	if !ok || !t.vehicle.HasFix() {
		return nil, nil
	}
	fix := *t.vehicle.CurrentFix
	return &fix, nil
}

// Vehicles returns a copy of every vehicle seen since start.
func (b *Broker) Vehicles() []vehicle.Vehicle {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]vehicle.Vehicle, 0, len(b.vehicles))
	for _, t := range b.vehicles {
		v := *t.vehicle
		if v.CurrentFix != nil {
			fix := *v.CurrentFix
			v.CurrentFix = &fix
		}
		out = append(out, v)
	}
	return out
}

func (b *Broker) broadcastPresence(ctx context.Context, plate string, online bool) {
	b.deliverPresence(ctx, plate, online)
	for _, sink := range b.opts.Sinks {
		sink.PresenceChanged(ctx, plate, online)
	}
}

func (b *Broker) deliverPresence(ctx context.Context, plate string, online bool) {
	event := contracts.EventTaxiOffline
	if online {
		event = contracts.EventTaxiOnline
	}
	frame, err := contracts.EncodeFrame(event, contracts.TaxiPresence{Plate: plate})
	if err != nil {
		b.log.Error(ctx, "encode_presence", "failed to encode presence", err, nil)
		return
	}
	b.fanOut(frame, false, AdminRoom)
	metrics.Broadcasts.WithLabelValues(event).Inc()
}

// fanOut delivers frame once to every member of the given rooms.
func (b *Broker) fanOut(frame []byte, droppable bool, rooms ...Room) {
	b.roomsMu.RLock()
	seen := make(map[string]struct{})
	targets := make([]Client, 0, 8)
	for _, r := range rooms {
		if r == "" {
			continue
		}
		for id, c := range b.rooms[r] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			targets = append(targets, c)
		}
	}
	b.roomsMu.RUnlock()

	for _, c := range targets {
		if !c.Deliver(frame, droppable) {
			metrics.FramesDropped.Inc()
		}
	}
}
