package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerrors "github.com/judicial-sync/internal/errors"
)

var errUpstream = errors.New("upstream unavailable")

func newTestBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(&Config{
		Name:             "test",
		FailureThreshold: threshold,
		Cooldown:         cooldown,
	})
}

func failN(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := cb.Execute(context.Background(), func() error { return errUpstream })
		require.ErrorIs(t, err, errUpstream)
	}
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	cb := newTestBreaker(5, time.Minute)
	ctx := context.Background()

	failN(t, cb, 4)
	assert.Equal(t, StateClosed, cb.GetState())

	failN(t, cb, 1)
	assert.Equal(t, StateOpen, cb.GetState())

	// Open circuit fails fast without invoking the function.
	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, syncerrors.KindCircuitOpen, syncerrors.KindOf(err))
	assert.Greater(t, syncerrors.RetryAfterHint(err), time.Duration(0))
}

func TestCircuitBreaker_SuccessResetsStreak(t *testing.T) {
	cb := newTestBreaker(5, time.Minute)
	ctx := context.Background()

	failN(t, cb, 4)
	require.NoError(t, cb.Execute(ctx, func() error { return nil }))

	// The streak restarted, so four more failures still leave it closed.
	failN(t, cb, 4)
	assert.Equal(t, StateClosed, cb.GetState())

	failN(t, cb, 1)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_ProbeSuccessCloses(t *testing.T) {
	cb := newTestBreaker(2, 20*time.Millisecond)
	ctx := context.Background()

	failN(t, cb, 2)
	require.Equal(t, StateOpen, cb.GetState())

	time.Sleep(30 * time.Millisecond)

	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())

	// Fully recovered: the failure streak starts over.
	failN(t, cb, 1)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb := newTestBreaker(2, 20*time.Millisecond)
	ctx := context.Background()

	failN(t, cb, 2)
	time.Sleep(30 * time.Millisecond)

	err := cb.Execute(ctx, func() error { return errUpstream })
	require.ErrorIs(t, err, errUpstream)
	assert.Equal(t, StateOpen, cb.GetState())

	// Reopened with a fresh cooldown.
	err = cb.Execute(ctx, func() error { return nil })
	assert.Equal(t, syncerrors.KindCircuitOpen, syncerrors.KindOf(err))
}

func TestCircuitBreaker_SingleProbe(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)
	ctx := context.Background()

	failN(t, cb, 1)
	time.Sleep(20 * time.Millisecond)

	probeStarted := make(chan struct{})
	probeRelease := make(chan struct{})
	probeDone := make(chan error, 1)

	go func() {
		probeDone <- cb.Execute(ctx, func() error {
			close(probeStarted)
			<-probeRelease
			return nil
		})
	}()

	<-probeStarted

	// While the probe is in flight every other call fails fast.
	err := cb.Execute(ctx, func() error { return nil })
	assert.Equal(t, syncerrors.KindCircuitOpen, syncerrors.KindOf(err))

	close(probeRelease)
	require.NoError(t, <-probeDone)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_QuotaRejectionIsNeutral(t *testing.T) {
	cb := newTestBreaker(2, time.Minute)
	ctx := context.Background()

	quotaErr := syncerrors.NewRateLimitExceeded(0, time.Now().Add(time.Minute))

	// Quota rejections happen before any network call, so they must not
	// count toward opening the circuit.
	for i := 0; i < 10; i++ {
		err := cb.Execute(ctx, func() error { return quotaErr })
		require.Error(t, err)
	}
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Zero(t, cb.GetStats().TotalCalls)
}

func TestCircuitBreaker_GetStats(t *testing.T) {
	cb := newTestBreaker(5, time.Minute)
	ctx := context.Background()

	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	failN(t, cb, 2)

	stats := cb.GetStats()
	assert.Equal(t, "test", stats.Name)
	assert.Equal(t, StateClosed, stats.State)
	assert.Equal(t, 2, stats.ConsecutiveFails)
	assert.Equal(t, 2, stats.Failures)
	assert.Equal(t, 1, stats.Successes)
	assert.Equal(t, 3, stats.TotalCalls)
	assert.False(t, stats.LastFailureTime.IsZero())

	// The snapshot is detached from the breaker; later calls must not
	// mutate it.
	failN(t, cb, 1)
	assert.Equal(t, 2, stats.ConsecutiveFails)
	assert.Equal(t, 3, stats.TotalCalls)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := newTestBreaker(2, time.Minute)
	ctx := context.Background()

	failN(t, cb, 2)
	require.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Zero(t, cb.GetStats().ConsecutiveFails)

	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
}

func TestCircuitBreaker_ForceOpen(t *testing.T) {
	cb := newTestBreaker(5, time.Minute)

	cb.ForceOpen()
	assert.Equal(t, StateOpen, cb.GetState())

	err := cb.Execute(context.Background(), func() error { return nil })
	assert.Equal(t, syncerrors.KindCircuitOpen, syncerrors.KindOf(err))
}
