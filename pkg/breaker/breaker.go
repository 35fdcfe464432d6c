package breaker

import (
	"context"
	"sync"
	"time"
)

// State represents the current state of the circuit breaker.
type State int

const (
	// StateClosed allows requests to pass through.
	StateClosed State = iota
	// StateOpen rejects all requests without attempting the call.
	StateOpen
	// StateHalfOpen allows a probe request to test if the upstream recovered.
	StateHalfOpen
)

// String returns the string representation of the circuit state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes the breaker. Zero values fall back to defaults that match the
// behavior expected by callers of an unreliable store API.
type Config struct {
	FailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`  // consecutive failures before opening
	SuccessThreshold int           `env:"BREAKER_SUCCESS_THRESHOLD" envDefault:"1"`  // successes in half-open before closing
	Cooldown         time.Duration `env:"BREAKER_COOLDOWN" envDefault:"30s"`         // open duration before the half-open probe
}

// CircuitBreaker guards an upstream dependency: it opens after a run of
// consecutive failures, fails fast while open, and probes with a single
// request after the cooldown. One instance is shared by all concurrent
// callers of the same upstream endpoint; it is safe for concurrent use.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	cooldown         time.Duration

	state           State
	failures        int
	successes       int
	lastFailureTime time.Time
}

// New creates a circuit breaker from the given config.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}

	return &CircuitBreaker{
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		cooldown:         cfg.Cooldown,
		state:            StateClosed,
	}
}

// Do executes fn under the breaker. While the circuit is open the call is
// rejected with ErrServerUnavailable without invoking fn, giving callers a
// fast and predictable failure mode during upstream outages.
func (cb *CircuitBreaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !cb.Allow() {
		return ErrServerUnavailable
	}

	if err := fn(ctx); err != nil {
		cb.RecordFailure()
		return err
	}

	cb.RecordSuccess()
	return nil
}

// Allow checks if a request may proceed. It takes the write lock because it
// may transition an open circuit to half-open once the cooldown elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(cb.lastFailureTime) > cb.cooldown {
			cb.state = StateHalfOpen
			cb.successes = 0
			return true
		}
		return false

	case StateHalfOpen:
		return true

	default:
		return false
	}
}

// RecordSuccess records a successful call and may close the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0

	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

// RecordFailure records a failed call and may open the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.state = StateOpen
		}

	case StateHalfOpen:
		// The probe failed; reopen and restart the cooldown.
		cb.state = StateOpen
		cb.failures = cb.failureThreshold
		cb.successes = 0
	}
}

// State returns the current state, accounting for the automatic open to
// half-open transition a call to Allow would perform.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailureTime) > cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Reset returns the breaker to the closed state with cleared counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.lastFailureTime = time.Time{}
}

// Stats exposes breaker internals for monitoring.
type Stats struct {
	State           string
	Failures        int
	Successes       int
	LastFailureTime time.Time
}

// Stats returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		State:           cb.state.String(),
		Failures:        cb.failures,
		Successes:       cb.successes,
		LastFailureTime: cb.lastFailureTime,
	}
}
