package nettools

import (
	"context"
	"sync/atomic"
	"time"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int64

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

// CircuitBreaker is a Stage that stops calling the transport after
// FailureThreshold consecutive failures and probes again after
// RecoveryTimeout. A failure is a send error or a 5xx response.
type CircuitBreaker struct {
	config      CircuitBreakerConfig
	state       int64
	failures    int64
	lastFailure int64
	successes   int64
	now         func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 2
	}

	return &CircuitBreaker{
		config: config,
		state:  int64(StateClosed),
		now:    time.Now,
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(atomic.LoadInt64(&cb.state))
}

// Name implements Stage.
func (cb *CircuitBreaker) Name() string {
	return "circuit-breaker"
}

// Wrap implements Stage.
func (cb *CircuitBreaker) Wrap(next Sender) Sender {
	return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
		obs := observerFrom(ctx)
		if !cb.Allow() {
			obs.circuitState(StateOpen)
			return nil, ErrCircuitOpen
		}

		before := cb.State()
		resp, err := next.Send(ctx, req)
		switch {
		case err != nil && isCancellation(err) && ctx.Err() != nil:
			// The caller gave up; nothing is known about the server.
		case err != nil || resp == nil || resp.StatusCode >= 500:
			cb.RecordFailure()
		default:
			cb.RecordSuccess()
		}

		if after := cb.State(); after != before {
			obs.circuitState(after)
		}
		return resp, err
	})
}

// Allow checks if the request should be allowed through the circuit breaker
func (cb *CircuitBreaker) Allow() bool {
	now := cb.now().UnixNano()
	state := CircuitState(atomic.LoadInt64(&cb.state))

	switch state {
	case StateClosed:
		return true
	case StateOpen:
		lastFailure := atomic.LoadInt64(&cb.lastFailure)
		if now-lastFailure >= int64(cb.config.RecoveryTimeout) {
			// Try to transition to half-open
			if atomic.CompareAndSwapInt64(&cb.state, int64(StateOpen), int64(StateHalfOpen)) {
				atomic.StoreInt64(&cb.successes, 0)
				return true
			}
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// RecordFailure records a failure in the circuit breaker
func (cb *CircuitBreaker) RecordFailure() {
	atomic.StoreInt64(&cb.lastFailure, cb.now().UnixNano())

	switch CircuitState(atomic.LoadInt64(&cb.state)) {
	case StateClosed:
		failures := atomic.AddInt64(&cb.failures, 1)
		if failures >= int64(cb.config.FailureThreshold) {
			atomic.StoreInt64(&cb.state, int64(StateOpen))
		}
	case StateHalfOpen:
		// A failed probe reopens immediately.
		atomic.AddInt64(&cb.failures, 1)
		atomic.StoreInt64(&cb.state, int64(StateOpen))
		atomic.StoreInt64(&cb.successes, 0)
	}
}

// RecordSuccess records a success in the circuit breaker
func (cb *CircuitBreaker) RecordSuccess() {
	switch CircuitState(atomic.LoadInt64(&cb.state)) {
	case StateClosed:
		atomic.StoreInt64(&cb.failures, 0)
	case StateHalfOpen:
		successes := atomic.AddInt64(&cb.successes, 1)
		if successes >= int64(cb.config.SuccessThreshold) {
			atomic.StoreInt64(&cb.state, int64(StateClosed))
			atomic.StoreInt64(&cb.failures, 0)
			atomic.StoreInt64(&cb.successes, 0)
		}
	}
}

func (cb *CircuitBreaker) validate() []string {
	var problems []string
	if cb.config.FailureThreshold < 0 {
		problems = append(problems, "circuit breaker failureThreshold must be non-negative")
	}
	if cb.config.RecoveryTimeout < 0 {
		problems = append(problems, "circuit breaker recoveryTimeout must be non-negative")
	}
	if cb.config.SuccessThreshold < 0 {
		problems = append(problems, "circuit breaker successThreshold must be non-negative")
	}
	return problems
}
