package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerrors "github.com/judicial-sync/internal/errors"
)

// setupTestTracker creates a QuotaTracker backed by a test Redis instance.
func setupTestTracker(t *testing.T, quota int) (*QuotaTracker, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	tracker, err := NewQuotaTracker(&QuotaTrackerConfig{
		Redis:       client,
		HourlyQuota: quota,
	})
	require.NoError(t, err)

	return tracker, mr
}

func TestNewQuotaTracker(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	tests := []struct {
		name    string
		cfg     *QuotaTrackerConfig
		wantErr bool
	}{
		{name: "nil config", cfg: nil, wantErr: true},
		{name: "nil redis client", cfg: &QuotaTrackerConfig{}, wantErr: true},
		{name: "negative quota", cfg: &QuotaTrackerConfig{Redis: client, HourlyQuota: -1}, wantErr: true},
		{name: "valid with defaults", cfg: &QuotaTrackerConfig{Redis: client}, wantErr: false},
		{name: "valid with custom quota", cfg: &QuotaTrackerConfig{Redis: client, HourlyQuota: 100}, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker, err := NewQuotaTracker(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, tracker)
		})
	}
}

func TestQuotaTracker_Defaults(t *testing.T) {
	tracker, _ := setupTestTracker(t, 0)
	assert.Equal(t, DefaultHourlyQuota, tracker.Quota())
	assert.Equal(t, DefaultWindowSize, tracker.WindowSize())
}

func TestQuotaTracker_Consume_UnderQuota(t *testing.T) {
	tracker, _ := setupTestTracker(t, 10)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, tracker.Consume(ctx))
	}

	stats, err := tracker.GetUsageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalRequests)
	assert.Equal(t, 0, stats.Remaining)
	assert.InDelta(t, 100.0, stats.UtilizationPercent, 0.01)
	assert.NotNil(t, stats.LastRequest)
}

func TestQuotaTracker_Consume_DeniesAtQuota(t *testing.T) {
	tracker, _ := setupTestTracker(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, tracker.Consume(ctx))
	}

	err := tracker.Consume(ctx)
	require.Error(t, err)
	assert.Equal(t, syncerrors.KindRateLimit, syncerrors.KindOf(err))
	assert.Greater(t, syncerrors.RetryAfterHint(err), time.Duration(0))

	// Denied attempt must not have consumed anything.
	stats, err := tracker.GetUsageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalRequests)
}

// Exactly quota consumptions succeed under concurrency; the check and
// increment run as one script so racing callers cannot overshoot.
func TestQuotaTracker_Consume_Concurrent(t *testing.T) {
	const quota = 50
	const callers = 200

	tracker, _ := setupTestTracker(t, quota)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tracker.Consume(ctx); err == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, quota, allowed)

	stats, err := tracker.GetUsageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, quota, stats.TotalRequests)
}

func TestQuotaTracker_Consume_RedisDown(t *testing.T) {
	tracker, mr := setupTestTracker(t, 10)
	mr.Close()

	err := tracker.Consume(context.Background())
	require.Error(t, err)
	assert.Equal(t, syncerrors.KindPersistence, syncerrors.KindOf(err))
}

func TestQuotaTracker_CheckLimit(t *testing.T) {
	tracker, _ := setupTestTracker(t, 2)
	ctx := context.Background()

	dec, err := tracker.CheckLimit(ctx)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)
	assert.Equal(t, 2, dec.Remaining)
	assert.Equal(t, 2, dec.Limit)
	assert.True(t, dec.ResetAt.After(time.Now()))

	require.NoError(t, tracker.Consume(ctx))
	require.NoError(t, tracker.Consume(ctx))

	dec, err = tracker.CheckLimit(ctx)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Zero(t, dec.Remaining)

	// CheckLimit itself never consumes.
	stats, err := tracker.GetUsageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRequests)
}

func TestQuotaTracker_GetUsageStats_EmptyWindow(t *testing.T) {
	tracker, _ := setupTestTracker(t, 100)

	stats, err := tracker.GetUsageStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRequests)
	assert.Equal(t, 100, stats.Remaining)
	assert.Zero(t, stats.UtilizationPercent)
	assert.Nil(t, stats.LastRequest)
	assert.Equal(t, stats.WindowStart.Add(time.Hour), stats.WindowEnd)
}

func TestQuotaTracker_ResetWindow(t *testing.T) {
	tracker, _ := setupTestTracker(t, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, tracker.Consume(ctx))
	}
	require.Error(t, tracker.Consume(ctx))

	require.NoError(t, tracker.ResetWindow(ctx))

	require.NoError(t, tracker.Consume(ctx))
	stats, err := tracker.GetUsageStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalRequests)
}
