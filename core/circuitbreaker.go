package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState string

const (
	// CircuitBreakerStateClosed means calls pass through normally
	CircuitBreakerStateClosed CircuitBreakerState = "closed"
	// CircuitBreakerStateOpen means calls are rejected without being attempted
	CircuitBreakerStateOpen CircuitBreakerState = "open"
	// CircuitBreakerStateHalfOpen means a limited number of probe calls are let through
	CircuitBreakerStateHalfOpen CircuitBreakerState = "half_open"
)

var (
	// ErrCircuitBreakerOpen is returned when the breaker rejects a call
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	// ErrInvalidCircuitBreakerConfig is returned when circuit breaker config is invalid
	ErrInvalidCircuitBreakerConfig = errors.New("invalid circuit breaker configuration")
)

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening
	MaxFailures uint32 `mapstructure:"max_failures"`
	// Cooldown is how long the breaker stays open before probing again
	Cooldown time.Duration `mapstructure:"cooldown"`
	// HalfOpenProbes is the number of calls allowed while half-open
	HalfOpenProbes uint32 `mapstructure:"half_open_probes"`
}

// Validate checks if the circuit breaker configuration is valid
func (c CircuitBreakerConfig) Validate() error {
	if c.MaxFailures == 0 {
		return errors.New("max_failures must be greater than 0")
	}
	if c.Cooldown <= 0 {
		return errors.New("cooldown must be greater than 0")
	}
	if c.HalfOpenProbes == 0 {
		return errors.New("half_open_probes must be greater than 0")
	}
	return nil
}

// DefaultCircuitBreakerConfig returns the defaults used for narrative providers
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:    5,
		Cooldown:       60 * time.Second,
		HalfOpenProbes: 1,
	}
}

// CircuitBreaker stops calling a dependency after repeated failures and lets a
// probe through once the cooldown has passed.
type CircuitBreaker struct {
	name     string
	config   CircuitBreakerConfig
	state    CircuitBreakerState
	failures uint32
	openedAt time.Time
	probes   uint32
	now      func() time.Time
	mu       sync.Mutex
}

// NewCircuitBreaker creates a named circuit breaker
func NewCircuitBreaker(name string, config CircuitBreakerConfig) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCircuitBreakerConfig, err)
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  CircuitBreakerStateClosed,
		now:    time.Now,
	}, nil
}

// Name returns the breaker's name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitBreakerStateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Cooldown {
			return fmt.Errorf("%w: %s", ErrCircuitBreakerOpen, cb.name)
		}
		cb.state = CircuitBreakerStateHalfOpen
		cb.probes = 1
		return nil
	case CircuitBreakerStateHalfOpen:
		if cb.probes >= cb.config.HalfOpenProbes {
			return fmt.Errorf("%w: %s (probe in flight)", ErrCircuitBreakerOpen, cb.name)
		}
		cb.probes++
		return nil
	default:
		return nil
	}
}

// RecordSuccess closes the breaker and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitBreakerStateClosed
	cb.failures = 0
	cb.probes = 0
}

// RecordFailure counts a failure and reports whether the breaker is now open.
func (cb *CircuitBreaker) RecordFailure() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	switch cb.state {
	case CircuitBreakerStateHalfOpen:
		cb.trip()
	case CircuitBreakerStateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.trip()
		}
	}
	return cb.state == CircuitBreakerStateOpen
}

func (cb *CircuitBreaker) trip() {
	cb.state = CircuitBreakerStateOpen
	cb.openedAt = cb.now()
	cb.probes = 0
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
