package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/smartflow/crm-chat/internal/middleware"
	"github.com/smartflow/crm-chat/internal/model"
	"github.com/smartflow/crm-chat/internal/store"
	"github.com/smartflow/crm-chat/pkg/logger"
)

// requestLogger scopes log to the request's correlation id and user.
func requestLogger(log *logger.Logger, r *http.Request) *logger.Logger {
	ctx := r.Context()
	return log.WithContext(middleware.GetCorrelationID(ctx), middleware.GetUserID(ctx))
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrInvalidMessage),
		errors.Is(err, model.ErrInvalidIdentity),
		errors.Is(err, model.ErrSameParticipant):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
