// Package errors defines the failure taxonomy for the sync pipeline.
//
// The retry path keys off Kind: transient failures re-enter the queue with
// backoff, permanent failures terminate the job immediately regardless of
// remaining retries.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind categorizes a sync failure.
type Kind string

const (
	// KindRateLimit means the local quota tracker rejected the call before
	// it reached the network. Treated as transient; the retry should land
	// past the window reset.
	KindRateLimit Kind = "rate_limit"
	// KindCircuitOpen means the circuit breaker failed the call fast.
	KindCircuitOpen Kind = "circuit_open"
	// KindTransient covers timeouts, 5xx, and upstream 429s.
	KindTransient Kind = "transient"
	// KindPermanent covers 4xx other than 429 and malformed requests.
	KindPermanent Kind = "permanent"
	// KindPersistence covers failures writing a progress update for a
	// single item; recorded in the job result, does not abort the batch.
	KindPersistence Kind = "persistence"
)

// SyncError carries the failure category plus an optional retry hint.
type SyncError struct {
	Kind       Kind
	Code       string
	Message    string
	RetryAfter time.Duration // lower bound on backoff, from upstream hints
	Cause      error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the error should re-enter the retry path.
func (e *SyncError) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindCircuitOpen, KindTransient:
		return true
	}
	return false
}

// NewRateLimitExceeded creates the local quota-rejection error. resetAt tells
// the scheduler when the window rolls over.
func NewRateLimitExceeded(remaining int, resetAt time.Time) *SyncError {
	retryAfter := time.Until(resetAt)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &SyncError{
		Kind:       KindRateLimit,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    fmt.Sprintf("request quota exhausted (remaining: %d)", remaining),
		RetryAfter: retryAfter,
	}
}

// NewCircuitOpen creates the fail-fast error raised while the breaker is open.
func NewCircuitOpen(name string, cooldownLeft time.Duration) *SyncError {
	return &SyncError{
		Kind:       KindCircuitOpen,
		Code:       "CIRCUIT_OPEN",
		Message:    fmt.Sprintf("circuit %q is open", name),
		RetryAfter: cooldownLeft,
	}
}

// NewTransient wraps a retryable upstream failure.
func NewTransient(message string, cause error) *SyncError {
	return &SyncError{
		Kind:    KindTransient,
		Code:    "UPSTREAM_TRANSIENT",
		Message: message,
		Cause:   cause,
	}
}

// NewTransientWithRetryAfter wraps a 429 that carried a Retry-After hint.
// The hint is a lower bound on backoff, never an upper bound.
func NewTransientWithRetryAfter(message string, retryAfter time.Duration, cause error) *SyncError {
	return &SyncError{
		Kind:       KindTransient,
		Code:       "UPSTREAM_THROTTLED",
		Message:    message,
		RetryAfter: retryAfter,
		Cause:      cause,
	}
}

// NewPermanent wraps a non-retryable upstream failure.
func NewPermanent(message string, cause error) *SyncError {
	return &SyncError{
		Kind:    KindPermanent,
		Code:    "UPSTREAM_PERMANENT",
		Message: message,
		Cause:   cause,
	}
}

// NewNotFound reports a missing record. Permanent: retrying a lookup for a
// row that does not exist will not make it appear.
func NewNotFound(entity, id string) *SyncError {
	return &SyncError{
		Kind:    KindPermanent,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", entity, id),
	}
}

// IsNotFound reports whether err is a missing-record failure.
func IsNotFound(err error) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Code == "NOT_FOUND"
}

// NewPersistence wraps a failed progress write for a single item.
func NewPersistence(operation string, cause error) *SyncError {
	return &SyncError{
		Kind:    KindPersistence,
		Code:    "PERSISTENCE_ERROR",
		Message: fmt.Sprintf("failed to persist %s", operation),
		Cause:   cause,
	}
}

// FromHTTPStatus classifies an upstream HTTP response status.
func FromHTTPStatus(status int, retryAfter time.Duration) *SyncError {
	switch {
	case status == http.StatusTooManyRequests:
		return NewTransientWithRetryAfter(
			fmt.Sprintf("upstream returned %d", status), retryAfter, nil)
	case status >= 500:
		return NewTransient(fmt.Sprintf("upstream returned %d", status), nil)
	default:
		return NewPermanent(fmt.Sprintf("upstream returned %d", status), nil)
	}
}

// KindOf extracts the Kind from any error, defaulting unknown errors to
// transient so infrastructure hiccups (network resets, context deadlines)
// stay on the retry path.
func KindOf(err error) Kind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}

// IsPermanent reports whether err should bypass remaining retries.
func IsPermanent(err error) bool {
	return KindOf(err) == KindPermanent
}

// RetryAfterHint returns the upstream backoff floor, or zero.
func RetryAfterHint(err error) time.Duration {
	var se *SyncError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}
