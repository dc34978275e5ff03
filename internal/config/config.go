// Package config provides configuration management for the judicial sync
// pipeline. It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	CourtListener CourtListenerConfig
	Queue         QueueConfig
	Worker        WorkerConfig
	Retry         RetryConfig
	Breaker       BreakerConfig
	Progress      ProgressConfig
	Logging       LoggingConfig
}

// ServerConfig holds the ops API server configuration.
type ServerConfig struct {
	Host string
	Port string
	// RequestsPerSecond bounds each API client via a token bucket.
	RequestsPerSecond float64
	Burst             int
}

// DatabaseConfig groups the storage backends.
type DatabaseConfig struct {
	Postgres   PostgresConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
}

// PostgresConfig holds Postgres configuration.
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns a connection URL for the migration runner.
func (c *PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr returns the host:port address.
func (c *RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// ClickHouseConfig holds ClickHouse configuration for the decision archive.
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// CourtListenerConfig holds upstream API configuration.
type CourtListenerConfig struct {
	BaseURL string
	Token   string
	// HourlyQuota is the documented request quota per rolling hour.
	HourlyQuota int
	// Timeout bounds a single upstream HTTP request.
	Timeout time.Duration
}

// QueueConfig holds job queue tunables.
type QueueConfig struct {
	DefaultMaxRetries int
	// StaleRunningAfter is how long a running job may go without completing
	// before the reclaim pass requeues it (worker crash recovery).
	StaleRunningAfter time.Duration
}

// WorkerConfig holds sync worker loop tunables.
type WorkerConfig struct {
	PollInterval time.Duration
	// ReclaimEvery controls how many poll cycles pass between stale-job
	// reclaim sweeps.
	ReclaimEvery int
}

// RetryConfig holds backoff tunables.
type RetryConfig struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// JitterFraction is the maximum random jitter as a fraction of the
	// computed delay.
	JitterFraction float64
}

// BreakerConfig holds circuit breaker tunables.
type BreakerConfig struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// ProgressConfig holds progress tracker tunables.
type ProgressConfig struct {
	// AnalysisThreshold is the minimum case count for an entity to be
	// considered analytics-ready.
	AnalysisThreshold int
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string
	Format string
}

// Load loads configuration from a .env file and environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env is optional; environment variables can be set directly.
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:              getEnv("SERVER_HOST", "0.0.0.0"),
			Port:              getEnv("SERVER_PORT", "8080"),
			RequestsPerSecond: getEnvAsFloat("SERVER_RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("SERVER_RATE_LIMIT_BURST", 20),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "judicial_sync"),
				User:           getEnv("POSTGRES_USER", "sync"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			Redis: RedisConfig{
				Host:     getEnv("REDIS_HOST", "localhost"),
				Port:     getEnv("REDIS_PORT", "6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvAsInt("REDIS_DB", 0),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "judicial_sync"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
		},
		CourtListener: CourtListenerConfig{
			BaseURL:     getEnv("COURTLISTENER_BASE_URL", "https://www.courtlistener.com/api/rest/v4"),
			Token:       getEnv("COURTLISTENER_TOKEN", ""),
			HourlyQuota: getEnvAsInt("COURTLISTENER_HOURLY_QUOTA", 5000),
			Timeout:     getEnvAsDuration("COURTLISTENER_TIMEOUT", 30*time.Second),
		},
		Queue: QueueConfig{
			DefaultMaxRetries: getEnvAsInt("QUEUE_DEFAULT_MAX_RETRIES", 3),
			StaleRunningAfter: getEnvAsDuration("QUEUE_STALE_RUNNING_AFTER", 30*time.Minute),
		},
		Worker: WorkerConfig{
			PollInterval: getEnvAsDuration("WORKER_POLL_INTERVAL", 5*time.Second),
			ReclaimEvery: getEnvAsInt("WORKER_RECLAIM_EVERY", 12),
		},
		Retry: RetryConfig{
			BaseDelay:      getEnvAsDuration("RETRY_BASE_DELAY", time.Second),
			MaxDelay:       getEnvAsDuration("RETRY_MAX_DELAY", 5*time.Minute),
			Multiplier:     getEnvAsFloat("RETRY_MULTIPLIER", 2.0),
			JitterFraction: getEnvAsFloat("RETRY_JITTER_FRACTION", 0.25),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
			Cooldown:         getEnvAsDuration("BREAKER_COOLDOWN", time.Minute),
		},
		Progress: ProgressConfig{
			AnalysisThreshold: getEnvAsInt("PROGRESS_ANALYSIS_THRESHOLD", 50),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.CourtListener.HourlyQuota <= 0 {
		return fmt.Errorf("COURTLISTENER_HOURLY_QUOTA must be positive, got %d", c.CourtListener.HourlyQuota)
	}
	if c.Queue.DefaultMaxRetries < 0 {
		return fmt.Errorf("QUEUE_DEFAULT_MAX_RETRIES cannot be negative")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("RETRY_MULTIPLIER must be >= 1, got %v", c.Retry.Multiplier)
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
		return fmt.Errorf("RETRY_JITTER_FRACTION must be in [0,1], got %v", c.Retry.JitterFraction)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be positive")
	}
	if c.Database.Postgres.MaxConnections <= 0 {
		return fmt.Errorf("POSTGRES_MAX_CONNECTIONS must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
