package middleware

import (
	"sync"
	"time"

	"github.com/troy12x/si-copilot/internal/metrics"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, reject requests
	CircuitHalfOpen                     // Testing if recovered
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "closed"
}

// CircuitBreaker guards one upstream provider
type CircuitBreaker struct {
	mu              sync.RWMutex
	name            string
	state           CircuitState
	failures        int
	successes       int
	lastFailureTime time.Time
	now             func() time.Time

	// Configuration
	FailureThreshold int           // Number of failures before opening
	SuccessThreshold int           // Number of successes before closing
	Timeout          time.Duration // How long to wait before half-open
	OnStateChange    func(name string, from, to CircuitState)
}

// NewCircuitBreaker creates a named breaker with defaults
func NewCircuitBreaker(name string) *CircuitBreaker {
	return NewCircuitBreakerWithConfig(name, 5, 2, 30*time.Second)
}

// NewCircuitBreakerWithConfig creates a circuit breaker with custom config
func NewCircuitBreakerWithConfig(name string, failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	metrics.CircuitState.WithLabelValues(name).Set(float64(CircuitClosed))
	return &CircuitBreaker{
		name:             name,
		state:            CircuitClosed,
		now:              time.Now,
		FailureThreshold: failureThreshold,
		SuccessThreshold: successThreshold,
		Timeout:          timeout,
	}
}

// Name returns the guarded provider's name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Allow checks if a request should be allowed
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailureTime) > cb.Timeout {
			cb.setState(CircuitHalfOpen)
			return true
		}
		return false
	case CircuitHalfOpen:
		return true
	}
	return false
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.SuccessThreshold {
			cb.setState(CircuitClosed)
			cb.failures = 0
			cb.successes = 0
		}
	case CircuitClosed:
		cb.failures = 0
	}
}

// RecordFailure records a failed request
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.FailureThreshold {
			cb.setState(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.setState(CircuitOpen)
		cb.successes = 0
	}
}

// RetryAfter is how long an open breaker keeps rejecting
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	return cb.Timeout
}

func (cb *CircuitBreaker) setState(newState CircuitState) {
	if cb.state == newState {
		return
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(cb.name, cb.state, newState)
	}
	cb.state = newState
	metrics.CircuitState.WithLabelValues(cb.name).Set(float64(newState))
}

// Breakers holds one circuit breaker per upstream provider
type Breakers struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	factory  func(name string) *CircuitBreaker
}

// NewBreakers creates breakers lazily with factory, or the defaults when nil
func NewBreakers(factory func(name string) *CircuitBreaker) *Breakers {
	if factory == nil {
		factory = NewCircuitBreaker
	}
	return &Breakers{breakers: make(map[string]*CircuitBreaker), factory: factory}
}

// For returns the breaker of the named provider
func (b *Breakers) For(name string) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[name]
	if !ok {
		cb = b.factory(name)
		b.breakers[name] = cb
	}
	return cb
}

// States reports every breaker's state by name
func (b *Breakers) States() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.breakers))
	for name, cb := range b.breakers {
		out[name] = cb.State().String()
	}
	return out
}
