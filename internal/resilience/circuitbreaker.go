// Package resilience provides the circuit breaker guarding provider calls.
//
// The central type is [CircuitBreaker], a three-state breaker
// (closed → open → half-open) that protects callers from hammering a failing
// provider. After the cooldown, exactly one probe call is admitted: if it
// succeeds the breaker closes, if it fails the breaker re-opens and the
// cooldown clock restarts.
//
// Streaming calls don't fit a run-this-function wrapper — success is knowing
// the first chunk arrived, failure may surface mid-stream — so the breaker
// exposes explicit Allow/RecordSuccess/RecordFailure hooks. [CircuitBreaker.Execute]
// remains as a convenience for simple request/response calls.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker is open and the cooldown has not
// yet elapsed, or when the single half-open probe slot is already taken.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state — all calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive failures.
	// Calls are rejected immediately with [ErrCircuitOpen] until the cooldown
	// elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the cooldown. Exactly one
	// call is allowed through; its outcome decides whether the breaker closes
	// or re-opens.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// Status is an immutable snapshot of a breaker's health, suitable for
// inclusion in provider status reports.
type Status struct {
	// Name is the breaker's label.
	Name string

	// State is the breaker state at snapshot time.
	State State

	// ConsecutiveFailures is the current run of failures.
	ConsecutiveFailures int

	// LastFailure is the time of the most recent recorded failure. Zero if
	// the breaker has never seen a failure.
	LastFailure time.Time
}

// Config holds tuning knobs for a [CircuitBreaker].
type Config struct {
	// Name is a human-readable label used in log messages and status
	// snapshots.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open before admitting the
	// half-open probe. Default: 30s.
	Cooldown time.Duration

	// OnStateChange, if set, is invoked (with the breaker unlocked) after
	// every state transition.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker implements the three-state circuit breaker pattern with a
// single half-open probe. It is safe for concurrent use from multiple
// goroutines.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	cooldown      time.Duration
	onStateChange func(name string, from, to State)

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	probeInFlight   bool
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with sensible defaults.
func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		cooldown:      cfg.Cooldown,
		onStateChange: cfg.OnStateChange,
		state:         StateClosed,
	}
}

// Allow reports whether a call may proceed. A nil error means go ahead; the
// caller must follow up with exactly one RecordSuccess or RecordFailure.
//
// In the open state, Allow transitions to half-open once the cooldown has
// elapsed and admits the single probe. While a probe is in flight all other
// calls are rejected.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	switch cb.state {
	case StateClosed:
		cb.mu.Unlock()
		return nil

	case StateOpen:
		if time.Since(cb.lastFailure) < cb.cooldown {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.setStateLocked(StateHalfOpen)
		cb.probeInFlight = true
		cb.mu.Unlock()
		slog.Info("circuit breaker admitting half-open probe", "name", cb.name)
		return nil

	case StateHalfOpen:
		if cb.probeInFlight {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.probeInFlight = true
		cb.mu.Unlock()
		return nil
	}
	cb.mu.Unlock()
	return nil
}

// RecordSuccess reports a successful call. In half-open it closes the breaker;
// in closed it clears the failure run.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	switch cb.state {
	case StateHalfOpen:
		cb.probeInFlight = false
		cb.consecutiveFail = 0
		cb.setStateLocked(StateClosed)
		cb.mu.Unlock()
		slog.Info("circuit breaker closed after successful probe", "name", cb.name)
	default:
		cb.consecutiveFail = 0
		cb.mu.Unlock()
	}
}

// RecordFailure reports a failed call. In half-open it re-opens the breaker
// and restarts the cooldown clock; in closed it opens the breaker once
// MaxFailures consecutive failures accumulate.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateHalfOpen:
		cb.probeInFlight = false
		cb.consecutiveFail = cb.maxFailures
		cb.setStateLocked(StateOpen)
		cb.mu.Unlock()
		slog.Warn("circuit breaker re-opened from half-open", "name", cb.name)

	case StateClosed:
		cb.consecutiveFail++
		if cb.consecutiveFail >= cb.maxFailures {
			cb.setStateLocked(StateOpen)
			failures := cb.consecutiveFail
			cb.mu.Unlock()
			slog.Warn("circuit breaker opened",
				"name", cb.name,
				"consecutive_failures", failures)
			return
		}
		cb.mu.Unlock()

	default:
		cb.consecutiveFail++
		cb.mu.Unlock()
	}
}

// Execute runs fn if the breaker allows it, recording the outcome. In the open
// state it returns [ErrCircuitOpen] without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn()
	if err != nil {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	return err
}

// State returns the current [State] of the breaker. If the breaker is open and
// the cooldown has elapsed, the returned state is [StateHalfOpen] (the actual
// transition happens on the next [CircuitBreaker.Allow] call).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.effectiveStateLocked()
}

// Status returns an immutable snapshot of the breaker.
func (cb *CircuitBreaker) Status() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Status{
		Name:                cb.name,
		State:               cb.effectiveStateLocked(),
		ConsecutiveFailures: cb.consecutiveFail,
		LastFailure:         cb.lastFailure,
	}
}

// Reset manually forces the breaker back to [StateClosed], clearing all
// failure counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.consecutiveFail = 0
	cb.probeInFlight = false
	cb.setStateLocked(StateClosed)
	cb.mu.Unlock()
	slog.Info("circuit breaker manually reset", "name", cb.name)
}

// effectiveStateLocked reports open-past-cooldown as half-open. Must be called
// with cb.mu held.
func (cb *CircuitBreaker) effectiveStateLocked() State {
	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// setStateLocked updates the state and schedules the transition callback.
// Must be called with cb.mu held; the callback runs without the lock.
func (cb *CircuitBreaker) setStateLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.onStateChange != nil {
		go cb.onStateChange(cb.name, from, to)
	}
}
