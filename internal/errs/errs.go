// Package errs defines the error kinds shared by every gateway component.
//
// Components wrap one of the sentinel kinds with %w so that callers can
// classify any failure with errors.Is, regardless of which layer produced it.
package errs

import (
	"errors"
	"fmt"
)

// Error kinds.
var (
	// ErrNotFound indicates a database server or namespace does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a duplicate server name or an existing namespace.
	ErrConflict = errors.New("already exists")

	// ErrInvalidCredential indicates a malformed key or an empty token.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrInvalidInput indicates a request that failed validation before any remote call.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRemoteUnreachable indicates a transport failure: timeout, DNS, TLS or refused connection.
	ErrRemoteUnreachable = errors.New("remote unreachable")

	// ErrRemoteRejected indicates the remote server answered with an error.
	ErrRemoteRejected = errors.New("remote rejected request")

	// ErrSigningFailure indicates a private key could not be parsed or used for signing.
	ErrSigningFailure = errors.New("signing failure")
)

var kinds = []error{
	ErrNotFound,
	ErrConflict,
	ErrInvalidCredential,
	ErrInvalidInput,
	ErrRemoteUnreachable,
	ErrRemoteRejected,
	ErrSigningFailure,
}

// Kind returns the sentinel kind err belongs to, or nil if it matches none.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Invalid returns an ErrInvalidInput error with a formatted description.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// RemoteError is a failure reported by a remote sqld server.
// It unwraps to its Kind so errors.Is(err, ErrConflict) and friends work.
type RemoteError struct {
	Kind       error
	StatusCode int // 0 when the failure came from the SQL layer rather than HTTP
	Message    string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return e.Message
	}
	if e.Message == "" {
		return fmt.Sprintf("remote returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, e.Message)
}

// Unwrap returns the error kind.
func (e *RemoteError) Unwrap() error {
	if e.Kind == nil {
		return ErrRemoteRejected
	}
	return e.Kind
}

// Unreachable wraps a transport failure as ErrRemoteUnreachable.
func Unreachable(err error) error {
	return fmt.Errorf("%w: %w", ErrRemoteUnreachable, err)
}
