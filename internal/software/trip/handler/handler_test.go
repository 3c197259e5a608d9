package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taxi-tracking/internal/domain/reservation"
	"taxi-tracking/internal/domain/user"
	"taxi-tracking/internal/general/jwt"
	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/ports"
	"taxi-tracking/internal/software/trip/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubService returns err when set, otherwise echoes the call.
type stubService struct {
	err   error
	calls []string
	last  any
}

func (s *stubService) result(action, id string) (ports.TripResult, error) {
	s.calls = append(s.calls, action+":"+id)
	if s.err != nil {
		return ports.TripResult{}, s.err
	}
	return ports.TripResult{ReservationID: id, State: action}, nil
}

func (s *stubService) Create(_ context.Context, in ports.CreateReservationInput) (*reservation.Reservation, error) {
	s.last = in
	if s.err != nil {
		return nil, s.err
	}
	return reservation.New("r-new", in.OriginAddress, in.DestinationAddress)
}

func (s *stubService) Get(_ context.Context, id string) (*reservation.Reservation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return reservation.New(id, "A", "B")
}

func (s *stubService) Approve(_ context.Context, id string) (ports.TripResult, error) {
	return s.result("approve", id)
}

func (s *stubService) Reject(_ context.Context, id, reason string) (ports.TripResult, error) {
	s.last = reason
	return s.result("reject", id)
}

func (s *stubService) StartTrip(_ context.Context, in ports.StartTripInput) (ports.TripResult, error) {
	s.last = in
	return s.result("start", in.ReservationID)
}

func (s *stubService) PickUp(_ context.Context, id string) (ports.TripResult, error) {
	return s.result("pickup", id)
}

func (s *stubService) CompleteTrip(_ context.Context, in ports.CompleteTripInput) (ports.TripResult, error) {
	s.last = in
	return s.result("complete", in.ReservationID)
}

func (s *stubService) Cancel(_ context.Context, id, reason string) (ports.TripResult, error) {
	s.last = reason
	return s.result("cancel", id)
}

func newServer(svc ports.TripService, auth *jwt.Manager) *httptest.Server {
	mux := http.NewServeMux()
	NewTripHTTPHandler(svc, logger.NewWithWriter("test", io.Discard), auth).RegisterRoutes(mux)
	return httptest.NewServer(mux)
}

func post(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestTransitionRoutes(t *testing.T) {
	svc := &stubService{}
	srv := newServer(svc, nil)
	defer srv.Close()

	tests := []struct {
		path, body string
		want       string
	}{
		{"/reservations/r-1/approve", "", "approve:r-1"},
		{"/reservations/r-1/reject", `{"motivo":"duplicado"}`, "reject:r-1"},
		{"/reservations/r-1/start-trip", `{"patente":"ABC123"}`, "start:r-1"},
		{"/reservations/r-1/pickup", "", "pickup:r-1"},
		{"/reservations/r-1/complete-trip", `{"duracionMinutos":12,"cantidadPasajeros":1,"metodoPago":"EFECTIVO"}`, "complete:r-1"},
		{"/reservations/r-1/cancel", "", "cancel:r-1"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp := post(t, srv.URL+tt.path, "", tt.body)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.want, svc.calls[len(svc.calls)-1])
		})
	}

	in, ok := svc.last.(string)
	require.True(t, ok)
	assert.Empty(t, in)
}

func TestRequestValidation(t *testing.T) {
	srv := newServer(&stubService{}, nil)
	defer srv.Close()

	tests := []struct {
		name, path, body string
	}{
		{"missing patente", "/reservations/r-1/start-trip", `{}`},
		{"bad payment", "/reservations/r-1/complete-trip", `{"duracionMinutos":12,"cantidadPasajeros":1,"metodoPago":"CHEQUE"}`},
		{"zero passengers", "/reservations/r-1/complete-trip", `{"duracionMinutos":12,"cantidadPasajeros":0,"metodoPago":"TARJETA"}`},
		{"unknown field", "/reservations/r-1/start-trip", `{"patente":"ABC123","extra":1}`},
		{"missing addresses", "/reservations", `{"origen":"A"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv.URL+tt.path, "", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: r-9", service.ErrNotFound), http.StatusNotFound},
		{&reservation.InvalidTransitionError{From: reservation.StateInReview, To: reservation.StatePickedUp}, http.StatusConflict},
		{reservation.ErrFixRequired, http.StatusConflict},
		{service.ErrVehicleBusy, http.StatusConflict},
		{service.ErrUnknownVehicle, http.StatusUnprocessableEntity},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			srv := newServer(&stubService{err: tt.err}, nil)
			defer srv.Close()

			resp := post(t, srv.URL+"/reservations/r-9/pickup", "", "")
			assert.Equal(t, tt.want, resp.StatusCode)

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestRolesAreEnforced(t *testing.T) {
	mgr := jwt.NewManager("secret", time.Hour)
	srv := newServer(&stubService{}, mgr)
	defer srv.Close()

	customer, _, err := mgr.IssueUserToken("u-1", user.RoleCustomer)
	require.NoError(t, err)
	admin, _, err := mgr.IssueUserToken("a-1", user.RoleAdmin)
	require.NoError(t, err)
	driver, _, err := mgr.IssueDriverToken("7", "ABC123")
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, post(t, srv.URL+"/reservations/r-1/approve", "", "").StatusCode)
	assert.Equal(t, http.StatusForbidden, post(t, srv.URL+"/reservations/r-1/approve", customer, "").StatusCode)
	assert.Equal(t, http.StatusOK, post(t, srv.URL+"/reservations/r-1/approve", admin, "").StatusCode)

	// drivers may only bind their own vehicle
	assert.Equal(t, http.StatusOK, post(t, srv.URL+"/reservations/r-1/start-trip", driver, `{"patente":"ABC123"}`).StatusCode)
	assert.Equal(t, http.StatusForbidden, post(t, srv.URL+"/reservations/r-1/start-trip", driver, `{"patente":"XYZ999"}`).StatusCode)

	assert.Equal(t, http.StatusOK, post(t, srv.URL+"/reservations/r-1/cancel", customer, "").StatusCode)
}

func TestCreateAndGet(t *testing.T) {
	svc := &stubService{}
	srv := newServer(svc, nil)
	defer srv.Close()

	resp := post(t, srv.URL+"/reservations", "", `{"origen":"Baquedano 100","destino":"Playa Cavancha"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created reservationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "EN_REVISION", created.State)

	get, err := http.Get(srv.URL + "/reservations/r-7")
	require.NoError(t, err)
	defer get.Body.Close()
	require.Equal(t, http.StatusOK, get.StatusCode)
	var got reservationResponse
	require.NoError(t, json.NewDecoder(get.Body).Decode(&got))
	assert.Equal(t, "r-7", got.ID)
}
