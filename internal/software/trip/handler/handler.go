package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"taxi-tracking/internal/domain/reservation"
	"taxi-tracking/internal/domain/user"
	"taxi-tracking/internal/general/jwt"
	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/ports"
	"taxi-tracking/internal/software/trip/service"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxBody = 1 << 20 // 1 MiB

// TripHTTPHandler adapts HTTP requests to the TripService.
type TripHTTPHandler struct {
	svc      ports.TripService
	log      *logger.Logger
	auth     *jwt.Manager // nil leaves the routes open
	validate *validator.Validate
}

func NewTripHTTPHandler(svc ports.TripService, log *logger.Logger, auth *jwt.Manager) *TripHTTPHandler {
	return &TripHTTPHandler{svc: svc, log: log, auth: auth, validate: validator.New()}
}

// RegisterRoutes mounts the reservation endpoints on mux.
func (handler *TripHTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	admin := jwt.AuthMiddlewareFunc(handler.auth, user.RoleAdmin)
	driver := jwt.AuthMiddlewareFunc(handler.auth, user.RoleDriver, user.RoleAdmin)
	anyone := jwt.AuthMiddlewareFunc(handler.auth, user.RoleCustomer, user.RoleDriver, user.RoleAdmin)

	mux.HandleFunc("POST /reservations", admin(handler.handleCreate))
	mux.HandleFunc("GET /reservations/{id}", anyone(handler.handleGet))
	mux.HandleFunc("POST /reservations/{id}/approve", admin(handler.handleApprove))
	mux.HandleFunc("POST /reservations/{id}/reject", admin(handler.handleReject))
	mux.HandleFunc("POST /reservations/{id}/start-trip", driver(handler.handleStartTrip))
	mux.HandleFunc("POST /reservations/{id}/pickup", driver(handler.handlePickUp))
	mux.HandleFunc("POST /reservations/{id}/complete-trip", driver(handler.handleCompleteTrip))
	mux.HandleFunc("POST /reservations/{id}/cancel", anyone(handler.handleCancel))
}

// decode reads a JSON body strictly and validates it. An empty body is
// accepted when allowEmpty is set.
func (handler *TripHTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return err
		}
	}
	return handler.validate.Struct(dst)
}

// statusFor maps service and domain errors to HTTP status codes.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, reservation.ErrInvalidTransition),
		errors.Is(err, reservation.ErrFixRequired),
		errors.Is(err, service.ErrVehicleBusy):
		return http.StatusConflict
	case errors.Is(err, service.ErrUnknownVehicle):
		return http.StatusUnprocessableEntity
	case errors.As(err, &verrs),
		errors.Is(err, reservation.ErrVehicleRequired),
		errors.Is(err, reservation.ErrMetadataRequired),
		errors.Is(err, reservation.ErrInvalidDuration),
		errors.Is(err, reservation.ErrInvalidPassengers),
		errors.Is(err, reservation.ErrInvalidPayment),
		errors.Is(err, reservation.ErrIDRequired),
		errors.Is(err, reservation.ErrAddressRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (handler *TripHTTPHandler) jsonResponse(ctx context.Context, w http.ResponseWriter, status int, data any) {
	buf := []byte("{}")
	if data != nil {
		var err error
		if buf, err = json.Marshal(data); err != nil {
			handler.log.Error(ctx, "response_encode_failed", "failed to encode response", err, nil)
			http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}

func (handler *TripHTTPHandler) httpError(ctx context.Context, w http.ResponseWriter, status int, msg string, err error) {
	switch {
	case status >= 500:
		handler.log.Error(ctx, "http_internal_error", msg, err, nil)
	case status == http.StatusBadRequest:
		handler.log.Warn(ctx, "validation_failed", msg, err, nil)
	default:
		handler.log.Warn(ctx, "request_failed", msg, err, nil)
	}
	handler.jsonResponse(ctx, w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}

func (handler *TripHTTPHandler) withReqID(r *http.Request) context.Context {
	reqID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if reqID == "" {
		reqID = uuid.NewString()
	}
	return handler.log.WithRequestID(r.Context(), reqID)
}
