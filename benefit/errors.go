/*
errors.go - Centralized error types for the benefit engine

ERROR CATEGORIES:
  1. ValidationError   - Bad numeric or enum input (names the field)
  2. InvalidStateError - Illegal status transition (names the transition)
  3. ConflictError     - Duplicate create or stale version
  4. NotFoundError     - Unknown employee, record or provider reference
  5. ProviderError     - Payment submission failure or timeout

Every structured error unwraps to a sentinel so callers can use errors.Is
without caring about the concrete type:

    if errors.Is(err, benefit.ErrInvalidState) { ... }

SEE ALSO:
  - api/handlers.go: Maps these errors to HTTP statuses
*/
package benefit

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation   = errors.New("validation failed")
	ErrInvalidState = errors.New("invalid state transition")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrProvider     = errors.New("payment provider error")

	// ErrProviderTimeout marks a submission that ran past its deadline.
	// It also matches ErrProvider.
	ErrProviderTimeout = fmt.Errorf("%w: timeout", ErrProvider)
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvalidStateError names the attempted operation and the state it was
// attempted from.
type InvalidStateError struct {
	Key       Key
	Operation string
	From      Status
	Allowed   []Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: cannot %s record in status %s (allowed: %v)",
		e.Key, e.Operation, e.From, e.Allowed)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// ConflictError is returned on duplicate creation or on a version mismatch.
// Callers refetch and retry; the engine never retries internally.
type ConflictError struct {
	Key             Key
	ExpectedVersion int64
	ActualVersion   int64
	Duplicate       bool
}

func (e *ConflictError) Error() string {
	if e.Duplicate {
		return fmt.Sprintf("%s: record already exists", e.Key)
	}
	return fmt.Sprintf("%s: version mismatch (expected %d, stored %d)",
		e.Key, e.ExpectedVersion, e.ActualVersion)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError names what was looked up.
type NotFoundError struct {
	Kind string // "record", "employee", "reference"
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ProviderError is a failed or timed-out submission for one record.
type ProviderError struct {
	Key       Key
	Reference string
	Reason    string
	Timeout   bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: payment submission timed out", e.Key)
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s: payment provider rejected submission: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("%s: payment provider error: %v", e.Key, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	errs := []error{ErrProvider}
	if e.Timeout {
		errs = append(errs, ErrProviderTimeout)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if refetching and retrying may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrProviderTimeout)
}

// IsClientError returns true if the error is due to caller input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrConflict)
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func invalidState(key Key, op string, from Status, allowed ...Status) error {
	return &InvalidStateError{Key: key, Operation: op, From: from, Allowed: allowed}
}
