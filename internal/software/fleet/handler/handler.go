package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"taxi-tracking/internal/domain/user"
	"taxi-tracking/internal/general/jwt"
	"taxi-tracking/internal/general/logger"
	"taxi-tracking/internal/ports"

	"github.com/google/uuid"
)

// FleetHTTPHandler adapts HTTP requests to the FleetService.
type FleetHTTPHandler struct {
	svc    ports.FleetService
	logger *logger.Logger
	auth   *jwt.Manager
}

// NewFleetHTTPHandler wires an HTTP handler around the FleetService.
func NewFleetHTTPHandler(svc ports.FleetService, logger *logger.Logger, auth *jwt.Manager) *FleetHTTPHandler {
	return &FleetHTTPHandler{svc: svc, logger: logger, auth: auth}
}

// RegisterRoutes mounts admin endpoints on the provided mux.
func (handler *FleetHTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /admin/fleet",
		jwt.AuthMiddlewareFunc(handler.auth, user.RoleAdmin)(handler.handleOverview),
	)
	mux.HandleFunc("GET /admin/vehicles/{patente}/history",
		jwt.AuthMiddlewareFunc(handler.auth, user.RoleAdmin)(handler.handleHistory),
	)
}

// ----- general helpers -----

// jsonResponse takes any type of data and encode it to HTTP response.
func (handler *FleetHTTPHandler) jsonResponse(ctx context.Context, w http.ResponseWriter, status int, data any) {
	// encode to buffer first so we can control status on failure
	var buf []byte
	var err error

	if data != nil {
		buf, err = json.Marshal(data)
		if err != nil {
			handler.logger.Error(ctx, "response_encode_failed", "Failed to encode response", err, nil)
			http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
			return
		}
	} else {
		buf = []byte("{}")
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}

// httpError sends a JSON error response with a message.
func (handler *FleetHTTPHandler) httpError(ctx context.Context, w http.ResponseWriter, status int, msg string, err error) {
	action := "request_failed"
	if status >= 500 {
		action = "http_internal_error"
	} else if status == http.StatusBadRequest {
		action = "validation_failed"
	}
	handler.logger.Error(ctx, action, msg, err, nil)

	type errBody struct {
		Error string `json:"error"`
	}
	handler.jsonResponse(ctx, w, status, errBody{Error: msg})
}

// withReqID extracts or generates a request ID and adds it to the context.
func (handler *FleetHTTPHandler) withReqID(ctx context.Context, r *http.Request) context.Context {
	reqID := r.Header.Get("X-Request-ID")
	if strings.TrimSpace(reqID) == "" {
		reqID = uuid.NewString()
	}
	return handler.logger.WithRequestID(ctx, reqID)
}
