package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the dispatch state of a service breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // calls pass through
	BreakerOpen                         // calls rejected until the reset timeout elapses
	BreakerHalfOpen                     // probe calls allowed to test recovery
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker guards one upstream service (scholar enrichment, faculty
// discovery, ...) so a dead backend fails fast instead of stalling every
// job in the enrichment fan-out. State transitions are logged with the
// service name.
type CircuitBreaker struct {
	service string

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time

	threshold    int           // consecutive failures before opening
	resetTimeout time.Duration // open duration before probing
	halfOpenMax  int           // probe successes needed to close
	now          func() time.Time
	logger       *slog.Logger
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerThreshold sets the failure count that trips the breaker open.
func WithBreakerThreshold(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.threshold = n }
}

// WithBreakerResetTimeout sets how long the breaker stays open before
// allowing probe calls.
func WithBreakerResetTimeout(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) { cb.resetTimeout = d }
}

// WithBreakerHalfOpenMax sets how many consecutive probe successes close
// the breaker again.
func WithBreakerHalfOpenMax(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.halfOpenMax = n }
}

// WithBreakerClock sets a custom clock function (for testing).
func WithBreakerClock(fn func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = fn }
}

// WithBreakerLogger sets a custom logger for state transitions.
func WithBreakerLogger(l *slog.Logger) BreakerOption {
	return func(cb *CircuitBreaker) { cb.logger = l }
}

// NewCircuitBreaker creates a breaker for the named service. Defaults:
// 5 failures to open, 30s before probing, 2 probe successes to close.
func NewCircuitBreaker(service string, opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		service:      service,
		state:        BreakerClosed,
		threshold:    5,
		resetTimeout: 30 * time.Second,
		halfOpenMax:  2,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(cb)
	}
	return cb
}

// Service returns the service name this breaker guards.
func (cb *CircuitBreaker) Service() string {
	return cb.service
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeProbe()
	return cb.state
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeProbe()
	return cb.state != BreakerOpen
}

// RecordSuccess feeds a successful call into the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.halfOpenMax {
			cb.transition(BreakerClosed)
		}
	case BreakerClosed:
		cb.failures = 0
	}
}

// RecordFailure feeds a failed call into the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFailure = cb.now()
	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.threshold {
			cb.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		// A failed probe goes straight back to open.
		cb.transition(BreakerOpen)
	}
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(BreakerClosed)
}

// maybeProbe moves an open breaker to half-open once the reset timeout has
// elapsed. Must be called with mu held.
func (cb *CircuitBreaker) maybeProbe() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
		cb.transition(BreakerHalfOpen)
	}
}

// transition switches state and resets the counters. Must be called with
// mu held.
func (cb *CircuitBreaker) transition(to BreakerState) {
	if cb.state == to {
		cb.failures = 0
		cb.successes = 0
		return
	}
	cb.logger.Info("circuit breaker state change",
		"service", cb.service, "from", cb.state.String(), "to", to.String())
	cb.state = to
	cb.failures = 0
	cb.successes = 0
}

// WithCircuitBreaker returns a HandlerMiddleware that routes calls through
// the breaker. While the breaker is open, calls are rejected immediately
// with ErrCircuitOpen for the breaker's service.
func WithCircuitBreaker(cb *CircuitBreaker) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if !cb.Allow() {
				return nil, &ErrCircuitOpen{Service: cb.service}
			}
			resp, err := next(ctx, payload)
			if err != nil {
				cb.RecordFailure()
			} else {
				cb.RecordSuccess()
			}
			return resp, err
		}
	}
}
