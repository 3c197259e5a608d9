package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"taxi-tracking/internal/software/fleet/service"

	"github.com/jackc/pgx/v5/pgconn"
)

// --- Handler: GET /admin/fleet ---

func (handler *FleetHTTPHandler) handleOverview(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	overview, err := handler.svc.Overview(ctxWithTimeout)
	if err != nil {
		handler.httpError(ctxWithTimeout, w, http.StatusInternalServerError, "failed to fetch fleet overview", err)
		return
	}
	handler.jsonResponse(ctxWithTimeout, w, http.StatusOK, overview)
}

// --- Handler: GET /admin/vehicles/{patente}/history?limit=N ---

func (handler *FleetHTTPHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	points, err := handler.svc.VehicleHistory(ctxWithTimeout, r.PathValue("patente"), r.URL.Query().Get("limit"))
	if err != nil {
		// distinguish DB failures from validation errors
		var pgErr *pgconn.PgError
		switch {
		case errors.Is(err, service.ErrPlateRequired):
			handler.httpError(ctxWithTimeout, w, http.StatusBadRequest, err.Error(), err)
		case errors.Is(err, service.ErrHistoryUnavailable):
			handler.httpError(ctxWithTimeout, w, http.StatusNotImplemented, err.Error(), err)
		case errors.As(err, &pgErr):
			handler.httpError(ctxWithTimeout, w, http.StatusInternalServerError, "database error", err)
		default:
			handler.httpError(ctxWithTimeout, w, http.StatusInternalServerError, "failed to fetch vehicle history", err)
		}
		return
	}

	handler.jsonResponse(ctxWithTimeout, w, http.StatusOK, map[string]any{
		"patente": r.PathValue("patente"),
		"points":  points,
	})
}
