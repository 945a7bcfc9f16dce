// Package resilience keeps care sessions running through speech-provider
// outages.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops the pipeline from hammering a provider that is already down.
// [FallbackGroup] layers failover on top: each configured provider gets its
// own breaker, and a call moves down the list past tripped or failing
// entries. [TranscriptionGroup] and [VoiceAgentGroup] apply these to the two
// provider slots the session manager consumes.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// is open and the reset timeout has not elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen]. Entered after too
	// many consecutive failures; left when the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. Enough
	// successes close the breaker; one failure re-opens it.
	StateHalfOpen
)

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

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values select the
// defaults.
type CircuitBreakerConfig struct {
	// Name labels the guarded provider in log output.
	Name string

	// MaxFailures is how many consecutive failures trip the breaker.
	// Default: 5.
	MaxFailures int

	// ResetTimeout is how long a tripped breaker rejects calls before
	// probing again. Default: 30s. The voice-agent slot sets this below the
	// intervention cooldown so a retriggered intervention probes a
	// recovered provider instead of failing straight to cooldown.
	ResetTimeout time.Duration

	// HalfOpenMax bounds the probe calls allowed in half-open before the
	// breaker decides. Default: 3.
	HalfOpenMax int
}

// CircuitBreaker guards one provider. Safe for concurrent use.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu            sync.Mutex
	state         State
	failures      int
	lastFailureAt time.Time
	probes        int
	probeFails    int
}

// NewCircuitBreaker builds a breaker, filling zero config fields with the
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		state:        StateClosed,
	}
}

// Execute runs fn unless the breaker rejects the call. Open with an elapsed
// reset timeout moves to half-open first; half-open admits calls only up to
// the probe budget.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailureAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeFails = 0
		slog.Info("circuit breaker probing provider", "provider", cb.name)

	case StateHalfOpen:
		if cb.probes >= cb.halfOpenMax {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	probing := cb.state == StateHalfOpen
	if probing {
		cb.probes++
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.recordFailure(probing)
	} else {
		cb.recordSuccess(probing)
	}
	return err
}

// recordFailure runs with cb.mu held.
func (cb *CircuitBreaker) recordFailure(probing bool) {
	cb.lastFailureAt = time.Now()

	if probing {
		cb.probeFails++
		// One failed probe re-opens for a full reset timeout.
		cb.state = StateOpen
		cb.failures = cb.maxFailures
		slog.Warn("circuit breaker re-opened, probe failed", "provider", cb.name)
		return
	}

	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.state = StateOpen
		slog.Warn("circuit breaker opened",
			"provider", cb.name,
			"consecutive_failures", cb.failures)
	}
}

// recordSuccess runs with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(probing bool) {
	if probing {
		if cb.probes-cb.probeFails >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.failures = 0
			cb.probes = 0
			cb.probeFails = 0
			slog.Info("circuit breaker closed, provider recovered", "provider", cb.name)
		}
		return
	}
	cb.failures = 0
}

// State reports the breaker's mode. An open breaker whose reset timeout has
// elapsed reports half-open; the stored state moves on the next Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailureAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.probes = 0
	cb.probeFails = 0
	slog.Info("circuit breaker manually reset", "provider", cb.name)
}
