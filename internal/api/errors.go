package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/tankwatch/internal/bridges/opcua"
	"github.com/nerrad567/tankwatch/internal/remoteaccess"
	"github.com/nerrad567/tankwatch/internal/supervisor"
	"github.com/nerrad567/tankwatch/internal/tank"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnavailable  = "tank_unavailable"
	ErrCodeDevice       = "device_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps a sentinel error from the core packages to a response.
// Unrecognised errors are logged by the caller and reported as 500.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	writeError(w, status, code, message)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, tank.ErrTankNotFound), errors.Is(err, supervisor.ErrTankNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, tank.ErrInvalidTank),
		errors.Is(err, remoteaccess.ErrUnknownCommand):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, tank.ErrTankExists),
		errors.Is(err, tank.ErrAddressInUse),
		errors.Is(err, supervisor.ErrTankExists),
		errors.Is(err, remoteaccess.ErrSessionActive),
		errors.Is(err, remoteaccess.ErrNoActiveSession),
		errors.Is(err, remoteaccess.ErrNotGranted):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, supervisor.ErrNotConnected),
		errors.Is(err, supervisor.ErrSessionLost),
		errors.Is(err, supervisor.ErrStopped):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	case errors.Is(err, remoteaccess.ErrRequestRejected),
		errors.Is(err, remoteaccess.ErrCommandNotAcknowledged),
		opcua.IsStatusError(err):
		return http.StatusBadGateway, ErrCodeDevice
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
