package retry

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	syncerrors "github.com/judicial-sync/internal/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want syncerrors.Kind
	}{
		{
			name: "typed rate limit",
			err:  syncerrors.NewRateLimitExceeded(0, time.Now().Add(time.Minute)),
			want: syncerrors.KindRateLimit,
		},
		{
			name: "typed circuit open",
			err:  syncerrors.NewCircuitOpen("courtlistener", 30*time.Second),
			want: syncerrors.KindCircuitOpen,
		},
		{
			name: "typed permanent",
			err:  syncerrors.NewPermanent("judge not found", nil),
			want: syncerrors.KindPermanent,
		},
		{
			name: "wrapped permanent",
			err:  errors.Join(errors.New("outer"), syncerrors.NewPermanent("bad request", nil)),
			want: syncerrors.KindPermanent,
		},
		{
			name: "context deadline",
			err:  context.DeadlineExceeded,
			want: syncerrors.KindTransient,
		},
		{
			name: "net error",
			err:  &net.DNSError{Err: "no such host", IsTimeout: true},
			want: syncerrors.KindTransient,
		},
		{
			name: "unknown error defaults transient",
			err:  errors.New("something odd"),
			want: syncerrors.KindTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestPolicy_ShouldRetry(t *testing.T) {
	p := DefaultPolicy()

	transient := syncerrors.NewTransient("upstream 503", nil)
	permanent := syncerrors.NewPermanent("upstream 404", nil)

	assert.True(t, p.ShouldRetry(transient, 0))
	assert.True(t, p.ShouldRetry(transient, 2))
	assert.False(t, p.ShouldRetry(transient, 3), "retry budget exhausted")

	// Permanent failures never retry, even with budget left.
	assert.False(t, p.ShouldRetry(permanent, 0))

	assert.False(t, p.ShouldRetry(nil, 0))
}

func TestPolicy_Backoff_Growth(t *testing.T) {
	p := &Policy{
		BaseDelay:  time.Second,
		MaxDelay:   5 * time.Minute,
		Multiplier: 2.0,
		// No jitter so the schedule is exact.
	}

	assert.Equal(t, 1*time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 8*time.Second, p.Backoff(4))

	// Deep attempts clamp to the cap.
	assert.Equal(t, 5*time.Minute, p.Backoff(20))
}

func TestPolicy_Backoff_Jitter(t *testing.T) {
	p := DefaultPolicy()

	for i := 0; i < 100; i++ {
		d := p.Backoff(2)
		base := 2 * time.Second
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, base+time.Duration(float64(base)*p.JitterFraction))
	}
}

func TestPolicy_BackoffFor_HonorsRetryAfter(t *testing.T) {
	p := &Policy{
		BaseDelay:  time.Second,
		MaxDelay:   5 * time.Minute,
		Multiplier: 2.0,
	}

	// Upstream hint longer than computed backoff wins.
	hinted := syncerrors.NewTransientWithRetryAfter("upstream 429", 90*time.Second, nil)
	assert.Equal(t, 90*time.Second, p.BackoffFor(hinted, 1))

	// Shorter hint loses to the computed backoff.
	shortHint := syncerrors.NewTransientWithRetryAfter("upstream 429", time.Millisecond, nil)
	assert.Equal(t, 8*time.Second, p.BackoffFor(shortHint, 4))

	// No hint at all just returns the schedule.
	assert.Equal(t, time.Second, p.BackoffFor(syncerrors.NewTransient("boom", nil), 1))
}

func TestPolicy_Backoff_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	p := DefaultPolicy()

	properties.Property("backoff is bounded by cap plus jitter", prop.ForAll(
		func(n int) bool {
			d := p.Backoff(n)
			limit := p.MaxDelay + time.Duration(float64(p.MaxDelay)*p.JitterFraction)
			return d > 0 && d <= limit
		},
		gen.IntRange(1, 100),
	))

	properties.Property("pre-cap backoff never shrinks as attempts grow", prop.ForAll(
		func(n int) bool {
			noJitter := &Policy{
				BaseDelay:  p.BaseDelay,
				MaxDelay:   p.MaxDelay,
				Multiplier: p.Multiplier,
			}
			return noJitter.Backoff(n+1) >= noJitter.Backoff(n)
		},
		gen.IntRange(1, 40),
	))

	properties.TestingRun(t)
}
