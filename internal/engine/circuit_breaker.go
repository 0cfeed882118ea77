package engine

import (
	"sync"
	"time"

	"github.com/Phazzie/autoclick/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // normal operation
	CircuitOpen                         // failing, rejecting dispatches
	CircuitHalfOpen                     // probing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the per-action-type circuit breakers.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before transitioning to half-open.
	Cooldown time.Duration
	// HalfOpenMax is the number of probe dispatches allowed in half-open state.
	HalfOpenMax int
}

// DefaultCircuitBreakerConfig returns the default configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

// circuitBreaker tracks failure state for a single action type.
type circuitBreaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenAttempts    int
	config              CircuitBreakerConfig
}

// CircuitBreakerRegistry manages one breaker per action type, so a page
// that keeps swallowing clicks stops the clicking without grounding
// navigation or extraction.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*circuitBreaker
	config   CircuitBreakerConfig
}

// NewCircuitBreakerRegistry creates a registry with the given config.
func NewCircuitBreakerRegistry(config CircuitBreakerConfig) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*circuitBreaker),
		config:   config,
	}
}

// AllowRequest checks whether a dispatch of the given action type may
// proceed. It returns the state the request runs under, or a
// CIRCUIT_OPEN error when the breaker rejects it. An open breaker whose
// cooldown has elapsed flips to half-open and admits this request as
// the probe.
func (r *CircuitBreakerRegistry) AllowRequest(actionType string) (CircuitState, error) {
	cb := r.getOrCreate(actionType)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return CircuitClosed, nil

	case CircuitOpen:
		if time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
			cb.state = CircuitHalfOpen
			cb.halfOpenAttempts = 1 // this request is the first probe
			return CircuitHalfOpen, nil
		}
		return CircuitOpen, schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit breaker open for action type %q: %d consecutive failures, cooldown remaining",
			actionType, cb.consecutiveFailures).
			WithDetails(map[string]any{
				"action_type":          actionType,
				"consecutive_failures": cb.consecutiveFailures,
				"state":                cb.state.String(),
				"cooldown_remaining":   (cb.config.Cooldown - time.Since(cb.lastFailureTime)).String(),
			})

	case CircuitHalfOpen:
		if cb.halfOpenAttempts >= cb.config.HalfOpenMax {
			return CircuitHalfOpen, schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit breaker half-open for action type %q: max probes reached", actionType)
		}
		cb.halfOpenAttempts++
		return CircuitHalfOpen, nil
	}

	return cb.state, nil
}

// RecordSuccess resets the breaker for the action type and returns the
// state it was in before the reset, so callers can observe a half-open
// probe closing the circuit.
func (r *CircuitBreakerRegistry) RecordSuccess(actionType string) CircuitState {
	cb := r.getOrCreate(actionType)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	prev := cb.state
	cb.consecutiveFailures = 0
	cb.halfOpenAttempts = 0
	cb.state = CircuitClosed
	return prev
}

// RecordFailure records a failed dispatch for the action type.
// Returns the new circuit state.
func (r *CircuitBreakerRegistry) RecordFailure(actionType string) CircuitState {
	cb := r.getOrCreate(actionType)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = time.Now()

	if cb.state == CircuitHalfOpen {
		// Any failed probe reopens the circuit.
		cb.state = CircuitOpen
		return CircuitOpen
	}

	if cb.consecutiveFailures >= cb.config.FailureThreshold {
		cb.state = CircuitOpen
		return CircuitOpen
	}

	return cb.state
}

// GetState returns the current state of the breaker for an action type.
func (r *CircuitBreakerRegistry) GetState(actionType string) CircuitState {
	cb := r.getOrCreate(actionType)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Automatic transition from open to half-open after cooldown.
	if cb.state == CircuitOpen && time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
		cb.state = CircuitHalfOpen
		cb.halfOpenAttempts = 0
	}

	return cb.state
}

// GetStats returns diagnostic information about a breaker.
func (r *CircuitBreakerRegistry) GetStats(actionType string) map[string]any {
	cb := r.getOrCreate(actionType)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]any{
		"action_type":          actionType,
		"state":                cb.state.String(),
		"consecutive_failures": cb.consecutiveFailures,
		"failure_threshold":    cb.config.FailureThreshold,
		"cooldown":             cb.config.Cooldown.String(),
	}
}

func (r *CircuitBreakerRegistry) getOrCreate(actionType string) *circuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[actionType]
	if !ok {
		cb = &circuitBreaker{
			state:  CircuitClosed,
			config: r.config,
		}
		r.breakers[actionType] = cb
	}
	return cb
}
