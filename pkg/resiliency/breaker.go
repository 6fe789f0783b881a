// Package resiliency protects slow or flaky dependencies with circuit breakers.
package resiliency

import (
	"sync"
	"time"
)

// Breaker states as reported by State.
const (
	StateClosed   = "CLOSED"
	StateOpen     = "OPEN"
	StateHalfOpen = "HALF_OPEN"
)

// CircuitBreaker implements a simple state machine for failure detection.
//
// After threshold consecutive failures the breaker opens and rejects calls
// until resetTimeout has passed since the last failure. The next Allow then
// moves it to HALF_OPEN and hands out a single trial permit; every other
// caller is rejected until that trial reports back.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        string
	trialOut     bool
	now          func() time.Time
}

func NewCircuitBreaker(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: timeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

// WithClock overrides the clock. Intended for tests.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
	return cb
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// Allow reports whether a call may proceed. A true result in HALF_OPEN is
// the trial permit and must be settled with RecordSuccess, RecordFailure or
// ReleaseTrial.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			return false
		}
		cb.state = StateHalfOpen
		cb.trialOut = true
		return true
	case StateHalfOpen:
		if cb.trialOut {
			return false
		}
		cb.trialOut = true
		return true
	default:
		return true
	}
}

// IsOpen reports whether the breaker is inside its cool-down window.
// It does not take a trial permit.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == StateOpen && cb.now().Sub(cb.lastFailure) < cb.resetTimeout
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
	cb.trialOut = false
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = cb.now()
	if cb.state == StateHalfOpen || cb.failureCount >= cb.threshold {
		cb.state = StateOpen
	}
	cb.trialOut = false
}

// ReleaseTrial returns a HALF_OPEN permit whose call ended without telling
// us anything about the dependency. Outside HALF_OPEN it is a no-op.
func (cb *CircuitBreaker) ReleaseTrial() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialOut = false
}

// State reports CLOSED, OPEN or HALF_OPEN. An OPEN breaker whose timeout
// has elapsed still reads OPEN until a caller takes the trial.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}
