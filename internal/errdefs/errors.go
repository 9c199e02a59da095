// Package errdefs defines the error taxonomy shared by the orchestration
// engine and the API layer.
package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Callers classify with errors.Is or the Is* helpers below;
// context is attached by wrapping with the *f constructors.
var (
	// ErrNotFound indicates the referenced job, backup, schedule, or server
	// is unknown.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the requester does not own the target resource.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates an invariant violation, such as a second active
	// backup job for the same server.
	ErrConflict = errors.New("conflict")

	// ErrInvalidState indicates the operation is illegal for the current
	// lifecycle state, such as cancelling a terminal job.
	ErrInvalidState = errors.New("invalid state")

	// ErrBrokenChain indicates a backup chain ancestor is missing or not
	// completed.
	ErrBrokenChain = errors.New("broken chain")

	// ErrTransientStorage indicates a retryable I/O failure from the storage
	// backend.
	ErrTransientStorage = errors.New("transient storage error")

	// ErrFatal indicates an unexpected invariant breach. Never swallowed.
	ErrFatal = errors.New("fatal")
)

// NotFoundf returns an error wrapping ErrNotFound with a formatted message.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Forbiddenf returns an error wrapping ErrForbidden.
func Forbiddenf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrForbidden)...)
}

// Conflictf returns an error wrapping ErrConflict.
func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

// InvalidStatef returns an error wrapping ErrInvalidState.
func InvalidStatef(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidState)...)
}

// BrokenChainf returns an error wrapping ErrBrokenChain.
func BrokenChainf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrBrokenChain)...)
}

// TransientStoragef returns an error wrapping ErrTransientStorage.
func TransientStoragef(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrTransientStorage)...)
}

// Fatalf returns an error wrapping ErrFatal.
func Fatalf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrFatal)...)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsForbidden reports whether err wraps ErrForbidden.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// IsConflict reports whether err wraps ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsInvalidState reports whether err wraps ErrInvalidState.
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }

// IsBrokenChain reports whether err wraps ErrBrokenChain.
func IsBrokenChain(err error) bool { return errors.Is(err, ErrBrokenChain) }

// IsTransientStorage reports whether err wraps ErrTransientStorage.
func IsTransientStorage(err error) bool { return errors.Is(err, ErrTransientStorage) }

// HTTPStatus maps an error to the HTTP status code the API layer returns.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case IsForbidden(err):
		return http.StatusForbidden
	case IsConflict(err), IsBrokenChain(err):
		return http.StatusConflict
	case IsInvalidState(err):
		return http.StatusUnprocessableEntity
	case IsTransientStorage(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
