// Package retry decides whether and when a failed sync attempt runs again.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"

	syncerrors "github.com/judicial-sync/internal/errors"
)

// Default policy values.
const (
	DefaultMaxRetries     = 3
	DefaultBaseDelay      = time.Second
	DefaultMaxDelay       = 5 * time.Minute
	DefaultMultiplier     = 2.0
	DefaultJitterFraction = 0.25
)

// Policy computes retry decisions from the failure taxonomy. Permanent
// failures never retry regardless of remaining budget; transient failures
// retry with exponentially growing, jittered delays.
type Policy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
}

// NewPolicy returns a policy with defaults filled in for zero fields.
func NewPolicy(maxRetries int, baseDelay, maxDelay time.Duration, multiplier, jitterFraction float64) *Policy {
	p := &Policy{
		MaxRetries:     maxRetries,
		BaseDelay:      baseDelay,
		MaxDelay:       maxDelay,
		Multiplier:     multiplier,
		JitterFraction: jitterFraction,
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Multiplier <= 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.JitterFraction < 0 || p.JitterFraction > 1 {
		p.JitterFraction = DefaultJitterFraction
	}
	return p
}

// DefaultPolicy returns the standard policy used by the sync pipeline.
func DefaultPolicy() *Policy {
	return NewPolicy(0, 0, 0, 0, 0)
}

// Classify maps an arbitrary error onto the failure taxonomy. Typed errors
// keep their kind; network-level errors are transient; anything unrecognized
// is treated as transient so an unknown blip gets its retries rather than
// silently killing the job.
func Classify(err error) syncerrors.Kind {
	if err == nil {
		return ""
	}

	var syncErr *syncerrors.SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return syncerrors.KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return syncerrors.KindTransient
	}

	return syncerrors.KindTransient
}

// ShouldRetry reports whether a failure with the given prior retry count
// gets another attempt. retryCount is the number of retries already used.
func (p *Policy) ShouldRetry(err error, retryCount int) bool {
	if err == nil {
		return false
	}
	if Classify(err) == syncerrors.KindPermanent {
		return false
	}
	return retryCount < p.MaxRetries
}

// Backoff returns the delay before retry number n (1-based): base grows by
// the multiplier per attempt, capped, then spread with uniform jitter so a
// burst of failures does not retry in lockstep.
func (p *Policy) Backoff(n int) time.Duration {
	if n <= 0 {
		n = 1
	}

	exp := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n-1))
	wait := time.Duration(exp)
	if wait > p.MaxDelay || wait <= 0 {
		wait = p.MaxDelay
	}

	if span := int64(float64(wait) * p.JitterFraction); span > 0 {
		wait += time.Duration(rand.Int63n(span))
	}
	return wait
}

// BackoffAtLeast returns the backoff for retry number n, raised to min when
// the computed delay is shorter.
func (p *Policy) BackoffAtLeast(n int, min time.Duration) time.Duration {
	wait := p.Backoff(n)
	if wait < min {
		wait = min
	}
	return wait
}

// BackoffFor computes the delay before retry number n for the given failure,
// honoring any upstream retry hint as a floor. A Retry-After from the API or
// a quota window reset always wins over a shorter computed backoff.
func (p *Policy) BackoffFor(err error, n int) time.Duration {
	wait := p.Backoff(n)
	if hint := syncerrors.RetryAfterHint(err); hint > wait {
		wait = hint
	}
	return wait
}
