package resilience

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state for one endpoint.
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// consecutive failures in Closed before the breaker opens
	FailureThreshold int
	// how long the breaker stays open before allowing a trial
	OpenTimeout time.Duration
	// metered permits granted in HalfOpen after the trial request
	HalfOpenMaxAttempts int
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:    5,
		OpenTimeout:         30 * time.Second,
		HalfOpenMaxAttempts: 1,
	}
}

type endpointBreaker struct {
	state        BreakerState
	failureCount int
	openedAt     time.Time
	remaining    int
}

// CircuitBreaker tracks one state machine per endpoint key.
// The transition Open -> HalfOpen happens on the first AllowRequest
// after OpenTimeout; that call is the trial and is permitted without
// consuming a metered HalfOpen permit.
type CircuitBreaker struct {
	mu        sync.Mutex
	config    BreakerConfig
	endpoints map[string]*endpointBreaker
	now       func() time.Time
}

func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	return &CircuitBreaker{
		config:    config,
		endpoints: make(map[string]*endpointBreaker),
		now:       time.Now,
	}
}

func (cb *CircuitBreaker) endpoint(key string) *endpointBreaker {
	endpoint, ok := cb.endpoints[key]
	if !ok {
		endpoint = &endpointBreaker{state: Closed}
		cb.endpoints[key] = endpoint
	}
	return endpoint
}

// AllowRequest reports whether a request to the endpoint may proceed.
func (cb *CircuitBreaker) AllowRequest(key string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	endpoint := cb.endpoint(key)
	switch endpoint.state {
	case Closed:
		return true
	case Open:
		if cb.now().Sub(endpoint.openedAt) >= cb.config.OpenTimeout {
			endpoint.state = HalfOpen
			endpoint.remaining = cb.config.HalfOpenMaxAttempts
			return true
		}
		return false
	case HalfOpen:
		if endpoint.remaining > 0 {
			endpoint.remaining--
			return true
		}
		return false
	}
	return false
}

// RecordSuccess resets the endpoint to Closed.
func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	endpoint := cb.endpoint(key)
	endpoint.state = Closed
	endpoint.failureCount = 0
	endpoint.remaining = 0
}

// RecordFailure advances the endpoint state machine on a failed
// request.
func (cb *CircuitBreaker) RecordFailure(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	endpoint := cb.endpoint(key)
	switch endpoint.state {
	case Closed:
		endpoint.failureCount++
		if endpoint.failureCount >= cb.config.FailureThreshold {
			endpoint.state = Open
			endpoint.openedAt = cb.now()
			endpoint.failureCount = 0
		}
	case Open:
		// late arrival resets the open timer
		endpoint.openedAt = cb.now()
	case HalfOpen:
		endpoint.state = Open
		endpoint.openedAt = cb.now()
		endpoint.remaining = 0
	}
}

// State returns the current state for the endpoint.
func (cb *CircuitBreaker) State(key string) BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.endpoint(key).state
}
