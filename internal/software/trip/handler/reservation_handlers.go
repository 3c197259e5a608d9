package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"taxi-tracking/internal/domain/reservation"
	"taxi-tracking/internal/domain/user"
	"taxi-tracking/internal/general/jwt"
	"taxi-tracking/internal/ports"
)

const serviceTimeout = 5 * time.Second

type createRequest struct {
	ID          string `json:"id"`
	Origin      string `json:"origen" validate:"required"`
	Destination string `json:"destino" validate:"required"`
}

type reasonRequest struct {
	Reason string `json:"motivo" validate:"max=500"`
}

type startTripRequest struct {
	Plate string `json:"patente" validate:"required,alphanum,min=5,max=8"`
}

type completeTripRequest struct {
	DurationMinutes int    `json:"duracionMinutos" validate:"gt=0"`
	PassengerCount  int    `json:"cantidadPasajeros" validate:"gte=1"`
	PaymentMethod   string `json:"metodoPago" validate:"required,oneof=EFECTIVO TARJETA TRANSFERENCIA"`
}

type reservationResponse struct {
	ID          string                    `json:"id"`
	Origin      string                    `json:"origen"`
	Destination string                    `json:"destino"`
	State       string                    `json:"estado"`
	Plate       string                    `json:"patente,omitempty"`
	Metadata    *reservation.TripMetadata `json:"metadata,omitempty"`
	UpdatedAt   time.Time                 `json:"updatedAt"`
}

func toResponse(res *reservation.Reservation) reservationResponse {
	return reservationResponse{
		ID:          res.ID,
		Origin:      res.OriginAddress,
		Destination: res.DestinationAddress,
		State:       res.State.String(),
		Plate:       res.AssignedVehicle,
		Metadata:    res.Metadata,
		UpdatedAt:   res.UpdatedAt,
	}
}

// ----- POST /reservations -----

func (handler *TripHTTPHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r)
	var req createRequest
	if err := handler.decode(w, r, &req, false); err != nil {
		handler.httpError(ctx, w, http.StatusBadRequest, "invalid reservation body", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()
	res, err := handler.svc.Create(ctx, ports.CreateReservationInput{
		ReservationID:      req.ID,
		OriginAddress:      req.Origin,
		DestinationAddress: req.Destination,
	})
	if err != nil {
		handler.httpError(ctx, w, statusFor(err), "failed to create reservation", err)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusCreated, toResponse(res))
}

// ----- GET /reservations/{id} -----

func (handler *TripHTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r)
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	res, err := handler.svc.Get(ctx, r.PathValue("id"))
	if err != nil {
		handler.httpError(ctx, w, statusFor(err), "failed to load reservation", err)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusOK, toResponse(res))
}

// ----- transitions -----

func (handler *TripHTTPHandler) handleApprove(w http.ResponseWriter, r *http.Request) {
	handler.run(w, r, func(ctx context.Context, id string) (ports.TripResult, error) {
		return handler.svc.Approve(ctx, id)
	})
}

func (handler *TripHTTPHandler) handleReject(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := handler.decode(w, r, &req, true); err != nil {
		handler.httpError(handler.withReqID(r), w, http.StatusBadRequest, "invalid body", err)
		return
	}
	handler.run(w, r, func(ctx context.Context, id string) (ports.TripResult, error) {
		return handler.svc.Reject(ctx, id, req.Reason)
	})
}

func (handler *TripHTTPHandler) handleStartTrip(w http.ResponseWriter, r *http.Request) {
	var req startTripRequest
	if err := handler.decode(w, r, &req, false); err != nil {
		handler.httpError(handler.withReqID(r), w, http.StatusBadRequest, "patente is required", err)
		return
	}
	// drivers may only start trips with their own vehicle
	if claims := jwt.RequireClaims(r); claims != nil && claims.Role == user.RoleDriver &&
		!strings.EqualFold(claims.Plate, req.Plate) {
		handler.httpError(handler.withReqID(r), w, http.StatusForbidden, "patente does not match token", nil)
		return
	}
	handler.run(w, r, func(ctx context.Context, id string) (ports.TripResult, error) {
		return handler.svc.StartTrip(ctx, ports.StartTripInput{ReservationID: id, Plate: req.Plate})
	})
}

func (handler *TripHTTPHandler) handlePickUp(w http.ResponseWriter, r *http.Request) {
	handler.run(w, r, func(ctx context.Context, id string) (ports.TripResult, error) {
		return handler.svc.PickUp(ctx, id)
	})
}

func (handler *TripHTTPHandler) handleCompleteTrip(w http.ResponseWriter, r *http.Request) {
	var req completeTripRequest
	if err := handler.decode(w, r, &req, false); err != nil {
		handler.httpError(handler.withReqID(r), w, http.StatusBadRequest, "invalid trip metadata", err)
		return
	}
	handler.run(w, r, func(ctx context.Context, id string) (ports.TripResult, error) {
		return handler.svc.CompleteTrip(ctx, ports.CompleteTripInput{
			ReservationID: id,
			Metadata: reservation.TripMetadata{
				DurationMinutes: req.DurationMinutes,
				PassengerCount:  req.PassengerCount,
				PaymentMethod:   reservation.PaymentMethod(req.PaymentMethod),
			},
		})
	})
}

func (handler *TripHTTPHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := handler.decode(w, r, &req, true); err != nil {
		handler.httpError(handler.withReqID(r), w, http.StatusBadRequest, "invalid body", err)
		return
	}
	handler.run(w, r, func(ctx context.Context, id string) (ports.TripResult, error) {
		return handler.svc.Cancel(ctx, id, req.Reason)
	})
}

func (handler *TripHTTPHandler) run(w http.ResponseWriter, r *http.Request, call func(ctx context.Context, id string) (ports.TripResult, error)) {
	ctx := handler.withReqID(r)
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		handler.httpError(ctx, w, http.StatusBadRequest, "missing reservation id in path", nil)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()
	out, err := call(ctx, id)
	if err != nil {
		handler.httpError(ctx, w, statusFor(err), err.Error(), err)
		return
	}
	handler.jsonResponse(ctx, w, http.StatusOK, out)
}
