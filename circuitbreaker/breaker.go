// Package circuitbreaker stops calling a failing dependency for a while
// and lets a few trial requests through before closing again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/samandartukhtayev/ecommerce-sharding/config"
)

// State of the breaker
type State int

const (
	StateClosed State = iota
	StateOpen
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

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold    uint32
	successThreshold    uint32
	halfOpenMaxRequests uint32
	resetTimeout        time.Duration

	state            State
	failures         uint32
	successes        uint32
	halfOpenInFlight uint32
	openedAt         time.Time

	totalRequests  uint32
	totalSuccesses uint32
	totalFailures  uint32

	now func() time.Time
}

// New builds a breaker; zero settings take the defaults 5/3/2/10s
func New(cfg config.BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 3
	}
	if cfg.HalfOpenMaxRequests == 0 {
		cfg.HalfOpenMaxRequests = 2
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}

	return &CircuitBreaker{
		failureThreshold:    cfg.FailureThreshold,
		successThreshold:    cfg.SuccessThreshold,
		halfOpenMaxRequests: cfg.HalfOpenMaxRequests,
		resetTimeout:        cfg.ResetTimeout,
		state:               StateClosed,
		now:                 time.Now,
	}
}

// Execute runs fn unless the breaker rejects it. The lock is not held
// while fn runs. An error wrapping context.Canceled says nothing about the
// dependency and is counted as neither success nor failure.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn()
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.halfOpenInFlight = 0
	}

	if cb.state == StateHalfOpen {
		if cb.halfOpenInFlight >= cb.halfOpenMaxRequests {
			return ErrTooManyRequests
		}
		cb.halfOpenInFlight++
	}

	cb.totalRequests++
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if errors.Is(err, context.Canceled) {
		if cb.state == StateHalfOpen && cb.halfOpenInFlight > 0 {
			cb.halfOpenInFlight--
		}
		return
	}
	if err != nil {
		cb.totalFailures++
		cb.onFailure()
		return
	}
	cb.totalSuccesses++
	cb.onSuccess()
}

// onFailure expects cb.mu held
func (cb *CircuitBreaker) onFailure() {
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.trip()
		}
	case StateHalfOpen:
		// one failed trial request reopens
		cb.trip()
	}
}

// onSuccess expects cb.mu held
func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		if cb.halfOpenInFlight > 0 {
			cb.halfOpenInFlight--
		}
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
			cb.halfOpenInFlight = 0
		}
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenInFlight = 0
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns lifetime totals of admitted requests, successes and failures
func (cb *CircuitBreaker) Stats() (total, success, failure uint32) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.totalRequests, cb.totalSuccesses, cb.totalFailures
}
