package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sipico/sqld-gateway/internal/errs"
)

// Standard error codes for API responses.
const (
	// ErrCodeInvalidRequest indicates a malformed request body.
	ErrCodeInvalidRequest = "invalid_request"

	// ErrCodeInvalidCredentials indicates a missing or wrong operator token.
	ErrCodeInvalidCredentials = "invalid_credentials"

	// ErrCodeInvalidCredential indicates a malformed server credential or key.
	ErrCodeInvalidCredential = "invalid_credential"

	// ErrCodeNotFound indicates a server or namespace was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeConflict indicates a duplicate server name or namespace.
	ErrCodeConflict = "conflict"

	// ErrCodeBodyTooLarge indicates the request body exceeded the limit.
	ErrCodeBodyTooLarge = "body_too_large"

	// ErrCodeRemoteUnreachable indicates the sqld server could not be reached.
	ErrCodeRemoteUnreachable = "remote_unreachable"

	// ErrCodeRemoteRejected indicates the sqld server answered with an error.
	ErrCodeRemoteRejected = "remote_rejected"

	// ErrCodeInternalError indicates a server error.
	ErrCodeInternalError = "internal_error"
)

// APIError is the standard error response format for JSON APIs.
type APIError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// WriteError writes a JSON error response with the given status code, error code, and message.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteErrorWithHint(w, status, code, message, "")
}

// WriteErrorWithHint writes a JSON error response with an optional hint for resolving the error.
func WriteErrorWithHint(w http.ResponseWriter, status int, code, message, hint string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Response already started
	json.NewEncoder(w).Encode(APIError{
		Error:   code,
		Message: message,
		Hint:    hint,
	})
}

// StatusFor maps an error to its HTTP status and API error code.
func StatusFor(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, ErrCodeBodyTooLarge
	}

	switch errs.Kind(err) {
	case errs.ErrNotFound:
		return http.StatusNotFound, ErrCodeNotFound
	case errs.ErrConflict:
		return http.StatusConflict, ErrCodeConflict
	case errs.ErrInvalidInput:
		return http.StatusBadRequest, ErrCodeInvalidRequest
	case errs.ErrInvalidCredential:
		return http.StatusBadRequest, ErrCodeInvalidCredential
	case errs.ErrRemoteUnreachable:
		return http.StatusBadGateway, ErrCodeRemoteUnreachable
	case errs.ErrRemoteRejected:
		return http.StatusBadGateway, ErrCodeRemoteRejected
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}

// writeFailure writes err using StatusFor. Remote failures keep the remote
// message; internal errors are logged and their details withheld.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusFor(err)
	switch {
	case status == http.StatusBadGateway:
		h.requestLogger(r).Warn("remote call failed", "error", err)
	case status >= http.StatusInternalServerError:
		h.requestLogger(r).Error("request failed", "error", err)
		WriteError(w, status, code, "Internal error")
		return
	}
	WriteError(w, status, code, err.Error())
}

// writeJSON encodes v with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Response write errors are unrecoverable
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON body into v, writing a 400 or 413 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, ErrCodeBodyTooLarge, "Request body too large")
			return false
		}
		if errs.Kind(err) == errs.ErrInvalidInput {
			WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
			return false
		}
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON")
		return false
	}
	return true
}
