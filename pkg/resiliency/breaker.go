// Package resiliency provides the failure-isolation primitives the
// pipeline composes around network calls: a three-state circuit breaker
// and a bounded exponential-backoff retry policy.
package resiliency

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// attempting the network.
var ErrCircuitOpen = errors.New("resiliency: circuit open")

// BreakerState is the circuit breaker state machine position.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// BreakerPolicy configures a CircuitBreaker.
type BreakerPolicy struct {
	// FailureThreshold is the number of failures within Window that
	// trips the breaker.
	FailureThreshold int
	// Window is the rolling interval over which failures are counted.
	Window time.Duration
	// Cooldown is how long the breaker stays Open before admitting a
	// half-open trial call.
	Cooldown time.Duration
}

// CircuitBreaker tracks the health of one protected endpoint.
//
// Closed passes calls through and counts failures in a rolling window;
// crossing the threshold opens the circuit. Open rejects immediately
// until the cooldown deadline, then admits exactly one trial call
// (HalfOpen). The trial's outcome either closes the circuit or re-opens
// it with a fresh cooldown.
type CircuitBreaker struct {
	name   string
	policy BreakerPolicy

	mu            sync.Mutex
	state         BreakerState
	failures      []time.Time
	openedAt      time.Time
	trialInFlight bool

	now func() time.Time
}

// NewCircuitBreaker creates a breaker in the Closed state.
func NewCircuitBreaker(name string, policy BreakerPolicy) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		policy: policy,
		state:  StateClosed,
		now:    time.Now,
	}
}

// Allow reports whether a call may proceed. It returns ErrCircuitOpen
// when the circuit is open or a half-open trial is already in flight.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.policy.Cooldown {
			return fmt.Errorf("%w: %s cooling down", ErrCircuitOpen, cb.name)
		}
		cb.state = StateHalfOpen
		cb.trialInFlight = true
		return nil
	case StateHalfOpen:
		if cb.trialInFlight {
			return fmt.Errorf("%w: %s trial in flight", ErrCircuitOpen, cb.name)
		}
		cb.trialInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess reports a successful call outcome.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = cb.failures[:0]
	cb.trialInFlight = false
	cb.state = StateClosed
}

// RecordFailure reports a failed call outcome. A call that was actually
// sent and then cancelled still counts as a failure for breaker purposes.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	if cb.state == StateHalfOpen {
		cb.trip(now)
		return
	}

	// Prune failures that aged out of the rolling window.
	cutoff := now.Add(-cb.policy.Window)
	kept := cb.failures[:0]
	for _, t := range cb.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	cb.failures = append(kept, now)

	if len(cb.failures) >= cb.policy.FailureThreshold {
		cb.trip(now)
	}
}

func (cb *CircuitBreaker) trip(now time.Time) {
	cb.state = StateOpen
	cb.openedAt = now
	cb.failures = cb.failures[:0]
	cb.trialInFlight = false
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// RetryAfter returns how long until an open circuit admits a trial call.
// Zero when the breaker is not open.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return 0
	}
	remaining := cb.policy.Cooldown - cb.now().Sub(cb.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
