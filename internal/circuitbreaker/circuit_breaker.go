// Package circuitbreaker protects the upstream API from hammering during outages.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	syncerrors "github.com/judicial-sync/internal/errors"
	"github.com/judicial-sync/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means the circuit is closed and requests are allowed
	StateClosed State = "closed"
	// StateOpen means the circuit is open and requests fail fast
	StateOpen State = "open"
	// StateHalfOpen means one probe request is testing recovery
	StateHalfOpen State = "half_open"
)

// CircuitBreaker trips on consecutive failures and fails calls fast while
// open. After the cooldown a single probe is allowed through: success closes
// the circuit, failure reopens it for another full cooldown.
//
// Only consecutive failures count toward tripping. A success anywhere resets
// the streak, so a flaky-but-mostly-working upstream never opens the circuit.
type CircuitBreaker struct {
	name             string
	failureThreshold int           // Consecutive failures before opening
	cooldown         time.Duration // Time to wait before allowing a probe

	mu               sync.RWMutex
	state            State
	consecutiveFails int
	totalCalls       int
	failures         int
	successes        int
	probeInFlight    bool
	lastFailureTime  time.Time
	lastStateChange  time.Time
}

// Config configures a circuit breaker
type Config struct {
	Name             string
	FailureThreshold int
	Cooldown         time.Duration
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:             name,
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *Config) *CircuitBreaker {
	threshold := config.FailureThreshold
	if threshold <= 0 {
		threshold = 5
	}
	cooldown := config.Cooldown
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}

	return &CircuitBreaker{
		name:             config.Name,
		failureThreshold: threshold,
		cooldown:         cooldown,
		state:            StateClosed,
		lastStateChange:  time.Now(),
	}
}

// Execute runs fn with circuit breaker protection. While open it returns a
// circuit-open error without invoking fn; the error carries the remaining
// cooldown so the retry scheduler can wait it out instead of polling.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn()
	cb.afterRequest(err)

	return err
}

// beforeRequest checks if a request may proceed, transitioning open circuits
// to half-open once the cooldown has elapsed.
func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		elapsed := time.Since(cb.lastStateChange)
		if elapsed > cb.cooldown {
			cb.setState(StateHalfOpen)
			cb.probeInFlight = true
			logging.WithFields(map[string]any{
				"circuitBreaker": cb.name,
				"state":          StateHalfOpen,
			}).Info("Circuit breaker transitioning to half-open")
			return nil
		}
		return syncerrors.NewCircuitOpen(cb.name, cb.cooldown-elapsed)

	case StateHalfOpen:
		// The single probe slot is taken; everyone else fails fast until
		// the probe resolves.
		if cb.probeInFlight {
			return syncerrors.NewCircuitOpen(cb.name, 0)
		}
		cb.probeInFlight = true
		return nil

	default:
		return nil
	}
}

// afterRequest records the result of a request. Local quota rejections never
// reached the upstream, so they say nothing about its health: they release a
// half-open probe slot but leave the counters alone.
func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && syncerrors.KindOf(err) == syncerrors.KindRateLimit {
		if cb.state == StateHalfOpen {
			cb.probeInFlight = false
		}
		return
	}

	cb.totalCalls++

	if err != nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.successes++
	cb.consecutiveFails = 0

	if cb.state == StateHalfOpen {
		cb.setState(StateClosed)
		cb.probeInFlight = false
		logging.WithFields(map[string]any{
			"circuitBreaker": cb.name,
			"state":          StateClosed,
		}).Info("Circuit breaker closed after successful probe")
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++
	cb.consecutiveFails++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFails >= cb.failureThreshold {
			cb.setState(StateOpen)
			logging.WithFields(map[string]any{
				"circuitBreaker":   cb.name,
				"state":            StateOpen,
				"consecutiveFails": cb.consecutiveFails,
				"totalCalls":       cb.totalCalls,
			}).Warn("Circuit breaker opened due to consecutive failures")
		}

	case StateHalfOpen:
		cb.setState(StateOpen)
		cb.probeInFlight = false
		logging.WithFields(map[string]any{
			"circuitBreaker": cb.name,
			"state":          StateOpen,
		}).Warn("Circuit breaker reopened after failed probe")
	}
}

// setState changes the circuit breaker state
func (cb *CircuitBreaker) setState(state State) {
	cb.state = state
	cb.lastStateChange = time.Now()
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name             string    `json:"name"`
	State            State     `json:"state"`
	ConsecutiveFails int       `json:"consecutiveFails"`
	Failures         int       `json:"failures"`
	Successes        int       `json:"successes"`
	TotalCalls       int       `json:"totalCalls"`
	LastFailureTime  time.Time `json:"lastFailureTime"`
	LastStateChange  time.Time `json:"lastStateChange"`
}

// GetStats returns a snapshot of circuit breaker statistics
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return Stats{
		Name:             cb.name,
		State:            cb.state,
		ConsecutiveFails: cb.consecutiveFails,
		Failures:         cb.failures,
		Successes:        cb.successes,
		TotalCalls:       cb.totalCalls,
		LastFailureTime:  cb.lastFailureTime,
		LastStateChange:  cb.lastStateChange,
	}
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(StateClosed)
	cb.consecutiveFails = 0
	cb.failures = 0
	cb.successes = 0
	cb.totalCalls = 0
	cb.probeInFlight = false

	logging.WithField("circuitBreaker", cb.name).Info("Circuit breaker manually reset")
}

// ForceOpen manually forces the circuit breaker to open state
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(StateOpen)
	cb.probeInFlight = false

	logging.WithField("circuitBreaker", cb.name).Warn("Circuit breaker manually forced open")
}
