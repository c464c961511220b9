package shared

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/stay-revenue/internal/platform/httpx"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = httpx.ErrNotFound
	// ErrValidation classifies malformed input.
	ErrValidation = httpx.ErrValidation
)

// ValidationError rejects malformed input before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return httpx.ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports an unknown entity.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

func (e *NotFoundError) Unwrap() error { return httpx.ErrNotFound }

// UnauthorizedError rejects a caller before any processing.
type UnauthorizedError struct {
	Reason string
}

func (e *UnauthorizedError) Error() string {
	if e.Reason == "" {
		return "unauthorized"
	}
	return "unauthorized: " + e.Reason
}

func (e *UnauthorizedError) Unwrap() error { return httpx.ErrUnauthorized }

// UpstreamIntegrationError wraps a failed call to an external channel. The
// job runner retries it; callers never retry internally.
type UpstreamIntegrationError struct {
	Source string
	Err    error
}

func (e *UpstreamIntegrationError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Source, e.Err)
}

// Is lets errors.Is match the upstream sentinel.
func (e *UpstreamIntegrationError) Is(target error) bool {
	return target == httpx.ErrUpstream
}

func (e *UpstreamIntegrationError) Unwrap() error { return e.Err }

// RevenueComputationFailure is recorded when bookkeeping after a successful
// reservation mutation fails. It is reported, never returned to the caller.
type RevenueComputationFailure struct {
	ReservationID int64
	ListingID     int64
	Err           error
}

func (e *RevenueComputationFailure) Error() string {
	return fmt.Sprintf("revenue computation for reservation %d (listing %d): %v", e.ReservationID, e.ListingID, e.Err)
}

func (e *RevenueComputationFailure) Unwrap() error { return e.Err }

// IsValidation reports whether err belongs to the validation class.
func IsValidation(err error) bool {
	return errors.Is(err, httpx.ErrValidation)
}
