package passbook

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// Publish errors, one per precondition.
	ErrInvalidInput            = errors.New("passbook: invalid input")
	ErrMissingGroupAssociation = errors.New("passbook: missing group association")
	ErrUnauthorized            = errors.New("passbook: unauthorized")
	ErrSubscriptionInactive    = errors.New("passbook: subscription inactive")
	ErrInsufficientCredits     = errors.New("passbook: insufficient credits")

	// Store errors
	ErrStoreUnavailable = errors.New("passbook: store unavailable")
	ErrAccountNotFound  = errors.New("passbook: account not found")
	ErrGroupNotFound    = errors.New("passbook: group not found")
	ErrEventNotFound    = errors.New("passbook: event not found")
	ErrAlreadyExists    = errors.New("passbook: already exists")
	ErrStoreClosed      = errors.New("passbook: store is closed")
	ErrMigrationFailed  = errors.New("passbook: migration failed")
)

// ValidationError represents a validation failure with details. It matches
// ErrInvalidInput under errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("passbook: validation failed for %s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "passbook: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("passbook: %d errors occurred", len(e.Errors))
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrorOrNil returns e when it holds errors and nil otherwise.
func (e MultiError) ErrorOrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrGroupNotFound) ||
		errors.Is(err, ErrEventNotFound)
}

// IsCallerError reports whether err is caused by the request rather than the
// system. Callers map these to client-facing messages and never retry them.
func IsCallerError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrMissingGroupAssociation) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrSubscriptionInactive) ||
		errors.Is(err, ErrInsufficientCredits)
}

// IsRetryable returns true if the error is temporary and the operation can
// be retried by the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// Code returns a stable category name for err, suitable for API responses
// and metric labels. Unknown errors map to "internal".
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientCredits):
		return "insufficient_credits"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrSubscriptionInactive):
		return "subscription_inactive"
	case errors.Is(err, ErrMissingGroupAssociation):
		return "missing_group_association"
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}
