package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the current state of the circuit breaker.
type CircuitState int

const (
	// CircuitClosed means requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit tripped and requests are blocked.
	CircuitOpen
	// CircuitHalfOpen means one probe request is allowed through.
	CircuitHalfOpen
)

// String returns a human-readable string for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Threshold is the number of consecutive failures before the circuit trips.
	Threshold int
	// ResetAfter is how long to wait before probing the provider again.
	ResetAfter time.Duration
}

// DefaultCircuitBreakerConfig returns the standard breaker settings.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold:  5,
		ResetAfter: 30 * time.Second,
	}
}

// CircuitBreaker trips open after N consecutive provider failures so a down
// provider fails fast instead of burning the per-stage timeout on every
// request.
type CircuitBreaker struct {
	mu               sync.Mutex
	consecutiveFails int
	threshold        int
	resetAfter       time.Duration
	lastFailure      time.Time
	state            CircuitState
}

// NewCircuitBreaker creates a circuit breaker with the given configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:  config.Threshold,
		resetAfter: config.ResetAfter,
		state:      CircuitClosed,
	}
}

// Allow reports whether a request may proceed. After the reset window the
// breaker moves to half-open and lets exactly one probe through.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(cb.lastFailure) > cb.resetAfter {
			cb.state = CircuitHalfOpen
			return nil
		}
		return NewError(ErrorTypeConnection,
			fmt.Sprintf("circuit breaker open: provider failed %d times, last failure %v ago",
				cb.consecutiveFails, time.Since(cb.lastFailure).Round(time.Second)),
			false, nil)
	case CircuitHalfOpen:
		return NewError(ErrorTypeConnection, "circuit breaker half-open: probe in flight", false, nil)
	default:
		return NewError(ErrorTypeUnknown, "circuit breaker in unknown state", false, nil)
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFails = 0
	cb.state = CircuitClosed
}

// RecordFailure increments the failure count and trips the circuit when the
// threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFails++
	cb.lastFailure = time.Now()
	if cb.consecutiveFails >= cb.threshold || cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// BreakerClient wraps a Client with a circuit breaker.
type BreakerClient struct {
	inner   Client
	breaker *CircuitBreaker
}

// NewBreakerClient wraps client with the given breaker.
func NewBreakerClient(client Client, breaker *CircuitBreaker) *BreakerClient {
	return &BreakerClient{inner: client, breaker: breaker}
}

// Complete delegates to the wrapped client when the breaker allows it.
func (c *BreakerClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}

	resp, err := c.inner.Complete(ctx, req)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}

	c.breaker.RecordSuccess()
	return resp, nil
}

// Model returns the wrapped client's model identifier.
func (c *BreakerClient) Model() string {
	return c.inner.Model()
}
