package api

import (
	"encoding/json"
	"errors"
	"net/http"

	syncerrors "github.com/judicial-sync/internal/errors"
)

// ErrorResponse is the envelope for API error bodies.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries a machine-readable code alongside the message.
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses a JSON request body, rejecting unknown fields.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// Common error codes
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// mapSyncError maps domain errors to HTTP status codes.
func mapSyncError(err error) (int, string, string) {
	var syncErr *syncerrors.SyncError
	if errors.As(err, &syncErr) {
		switch syncErr.Kind {
		case syncerrors.KindPermanent:
			if syncErr.Code == "NOT_FOUND" {
				return http.StatusNotFound, ErrCodeNotFound, syncErr.Message
			}
			return http.StatusBadRequest, ErrCodeInvalidInput, syncErr.Message
		case syncerrors.KindRateLimit:
			return http.StatusTooManyRequests, ErrCodeRateLimited, syncErr.Message
		case syncerrors.KindCircuitOpen:
			return http.StatusServiceUnavailable, ErrCodeServiceUnavailable, syncErr.Message
		case syncerrors.KindPersistence, syncerrors.KindTransient:
			return http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "A backing service is unavailable"
		}
	}

	return http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred"
}
