// Package ratelimit enforces the upstream CourtListener request quota.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	syncerrors "github.com/judicial-sync/internal/errors"
)

// Default quota configuration values.
const (
	DefaultHourlyQuota = 5000          // Documented upstream quota per hour
	DefaultWindowSize  = time.Hour     // Aligned hourly window
	DefaultKeyTTL      = 2 * time.Hour // TTL for Redis keys (window + buffer)
)

// Redis key prefixes for quota tracking.
const (
	KeyPrefixQuota = "cl:quota:"
	KeyPrefixLast  = "cl:quota:last:"
)

// QuotaTracker coordinates upstream request consumption across worker
// processes using Redis. Counting is shared state on purpose: the quota is
// account-wide, so every process that talks upstream must draw from the same
// counter. On Redis failure requests are denied rather than risking an
// upstream ban.
type QuotaTracker struct {
	redis      redis.Cmdable
	quota      int
	windowSize time.Duration
	keyTTL     time.Duration
}

// QuotaTrackerConfig holds configuration for the quota tracker.
type QuotaTrackerConfig struct {
	// Redis is the Redis client for cross-process coordination.
	// Required - the tracker cannot function without Redis.
	Redis redis.Cmdable

	// HourlyQuota is the request quota per window. Default: 5000.
	HourlyQuota int

	// WindowSize is the quota window duration. Default: 1h.
	WindowSize time.Duration

	// KeyTTL is the TTL for Redis keys. Default: 2h (window + buffer).
	// Should be at least WindowSize to ensure proper expiration.
	KeyTTL time.Duration
}

// Validate checks if the configuration is valid.
func (c *QuotaTrackerConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.HourlyQuota < 0 {
		return errors.New("hourly quota cannot be negative")
	}
	return nil
}

// UsageStats contains current window consumption metrics.
type UsageStats struct {
	// TotalRequests is the number of requests consumed in the current window.
	TotalRequests int `json:"totalRequests"`

	// Limit is the configured per-window quota.
	Limit int `json:"limit"`

	// Remaining is the unconsumed portion of the quota.
	Remaining int `json:"remaining"`

	// UtilizationPercent is consumption as a percentage of the quota.
	UtilizationPercent float64 `json:"utilizationPercent"`

	// WindowStart and WindowEnd bound the current quota window.
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`

	// LastRequest is when the most recent request was consumed, if any.
	LastRequest *time.Time `json:"lastRequest,omitempty"`

	// ProjectedHourly extrapolates current usage over the full window.
	ProjectedHourly int `json:"projectedHourly"`
}

// NewQuotaTracker creates a new tracker with the given configuration.
// Returns an error if the configuration is invalid.
func NewQuotaTracker(cfg *QuotaTrackerConfig) (*QuotaTracker, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	quota := cfg.HourlyQuota
	if quota == 0 {
		quota = DefaultHourlyQuota
	}
	windowSize := cfg.WindowSize
	if windowSize == 0 {
		windowSize = DefaultWindowSize
	}
	keyTTL := cfg.KeyTTL
	if keyTTL == 0 {
		keyTTL = DefaultKeyTTL
	}

	return &QuotaTracker{
		redis:      cfg.Redis,
		quota:      quota,
		windowSize: windowSize,
		keyTTL:     keyTTL,
	}, nil
}

// getWindowTimestamp returns the timestamp for the current window, aligned
// to the window size boundary.
func (t *QuotaTracker) getWindowTimestamp() int64 {
	return time.Now().Truncate(t.windowSize).UnixMilli()
}

func (t *QuotaTracker) getKeys(windowTS int64) (quotaKey, lastKey string) {
	tsStr := strconv.FormatInt(windowTS, 10)
	return KeyPrefixQuota + tsStr, KeyPrefixLast + tsStr
}

// consumeScript atomically checks and increments the window counter. The
// check and the increment must be one Redis operation or two racing workers
// could both pass the check at quota-1 and overshoot.
var consumeScript = redis.NewScript(`
	local quotaKey = KEYS[1]
	local lastKey = KEYS[2]
	local quota = tonumber(ARGV[1])
	local ttl = tonumber(ARGV[2])
	local now = ARGV[3]

	local used = tonumber(redis.call('GET', quotaKey) or '0')
	if used + 1 > quota then
		return {0, used}
	end

	redis.call('INCRBY', quotaKey, 1)
	redis.call('EXPIRE', quotaKey, ttl)
	redis.call('SET', lastKey, now, 'EX', ttl)

	return {1, used + 1}
`)

// Consume draws one request from the current window's quota. Returns nil
// when the request may proceed. When the quota is exhausted (or Redis is
// unreachable) it returns a rate-limit error carrying the window reset time
// so callers can schedule retries after the window rolls over.
func (t *QuotaTracker) Consume(ctx context.Context) error {
	windowTS := t.getWindowTimestamp()
	quotaKey, lastKey := t.getKeys(windowTS)
	resetAt := time.UnixMilli(windowTS).Add(t.windowSize)

	ttlSeconds := int(t.keyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := consumeScript.Run(ctx, t.redis, []string{quotaKey, lastKey},
		t.quota, ttlSeconds, time.Now().UnixMilli()).Int64Slice()
	if err != nil {
		// Deny when the shared counter is unreachable. Letting requests
		// through uncounted could blow the account-wide quota.
		return syncerrors.NewPersistence("quota tracker unavailable", err)
	}

	if result[0] != 1 {
		return syncerrors.NewRateLimitExceeded(0, resetAt)
	}
	return nil
}

// QuotaDecision is the outcome of a non-consuming quota probe.
type QuotaDecision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"resetAt"`
}

// CheckLimit reports whether at least one request remains in the current
// window without consuming anything.
func (t *QuotaTracker) CheckLimit(ctx context.Context) (QuotaDecision, error) {
	stats, err := t.GetUsageStats(ctx)
	if err != nil {
		return QuotaDecision{}, err
	}
	return QuotaDecision{
		Allowed:   stats.Remaining > 0,
		Remaining: stats.Remaining,
		Limit:     stats.Limit,
		ResetAt:   stats.WindowEnd,
	}, nil
}

// GetUsageStats returns current window consumption statistics.
func (t *QuotaTracker) GetUsageStats(ctx context.Context) (*UsageStats, error) {
	windowTS := t.getWindowTimestamp()
	quotaKey, lastKey := t.getKeys(windowTS)
	windowStart := time.UnixMilli(windowTS)
	windowEnd := windowStart.Add(t.windowSize)

	pipe := t.redis.Pipeline()
	usedCmd := pipe.Get(ctx, quotaKey)
	lastCmd := pipe.Get(ctx, lastKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read quota usage: %w", err)
	}

	used := parseIntOrZero(usedCmd)
	remaining := t.quota - used
	if remaining < 0 {
		remaining = 0
	}

	var utilization float64
	if t.quota > 0 {
		utilization = float64(used) * 100 / float64(t.quota)
	}

	var lastRequest *time.Time
	if ms, err := lastCmd.Int64(); err == nil {
		ts := time.UnixMilli(ms)
		lastRequest = &ts
	}

	// Extrapolate the window's pace to a full-window projection. Early in
	// the window the projection is noisy; it still gives operators an early
	// exhaustion signal.
	projected := used
	if elapsed := time.Since(windowStart); elapsed > time.Minute {
		projected = int(float64(used) * float64(t.windowSize) / float64(elapsed))
	}

	return &UsageStats{
		TotalRequests:      used,
		Limit:              t.quota,
		Remaining:          remaining,
		UtilizationPercent: utilization,
		WindowStart:        windowStart,
		WindowEnd:          windowEnd,
		LastRequest:        lastRequest,
		ProjectedHourly:    projected,
	}, nil
}

// ResetWindow clears the current window's counter. Operational escape hatch
// for when the upstream quota is known to have been raised or reset.
func (t *QuotaTracker) ResetWindow(ctx context.Context) error {
	windowTS := t.getWindowTimestamp()
	quotaKey, lastKey := t.getKeys(windowTS)

	if err := t.redis.Del(ctx, quotaKey, lastKey).Err(); err != nil {
		return fmt.Errorf("failed to reset quota window: %w", err)
	}
	return nil
}

// Quota returns the configured per-window request quota.
func (t *QuotaTracker) Quota() int {
	return t.quota
}

// WindowSize returns the configured window duration.
func (t *QuotaTracker) WindowSize() time.Duration {
	return t.windowSize
}

// parseIntOrZero parses a Redis string command result as int, returning 0 on error.
func parseIntOrZero(cmd *redis.StringCmd) int {
	val, err := cmd.Int()
	if err != nil {
		return 0
	}
	return val
}
