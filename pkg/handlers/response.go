package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeServiceError maps sentinel errors from the service layer onto HTTP
// statuses. Anything unmapped is a 500 with the detail kept in the logs.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "Resource not found")
	case errors.Is(err, apperrors.ErrTooManyQueries):
		_ = ErrorResponse(w, http.StatusTooManyRequests, "too_many_queries",
			"The engine is at its concurrent query limit. Try again shortly.")
	case errors.Is(err, apperrors.ErrCacheDisabled):
		_ = ErrorResponse(w, http.StatusConflict, "cache_disabled", "The query cache is disabled")
	case errors.Is(err, apperrors.ErrSignatureMismatch), errors.Is(err, apperrors.ErrChecksumMismatch):
		_ = ErrorResponse(w, http.StatusConflict, "integrity_failure", err.Error())
	case errors.Is(err, apperrors.ErrMaintenanceMode):
		_ = ErrorResponse(w, http.StatusServiceUnavailable, "maintenance", "Service is in maintenance mode")
	default:
		logger.Error("Request failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}
