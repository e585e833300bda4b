package circuitbreaker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Settings configures a breaker. IsFailure decides which errors count towards tripping;
// nil counts every error. OnStateChange is called outside the lock.
type Settings struct {
	Name             string
	MaxFailures      uint32
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
	IsFailure        func(error) bool
	OnStateChange    func(name string, from, to State)
}

// CircuitBreaker guards calls to the messaging provider
type CircuitBreaker struct {
	settings Settings

	mu              sync.Mutex
	state           State
	failures        uint32
	lastFailureTime time.Time
	halfOpenCalls   uint32
	successCount    uint32
	requestCount    uint32
	now             func() time.Time

	logger *logrus.Logger
}

// New creates a circuit breaker that counts every error as a failure
func New(name string, maxFailures uint32, timeout time.Duration, logger *logrus.Logger) *CircuitBreaker {
	return NewWithSettings(Settings{
		Name:        name,
		MaxFailures: maxFailures,
		OpenTimeout: timeout,
	}, logger)
}

// NewWithSettings creates a circuit breaker from explicit settings
func NewWithSettings(settings Settings, logger *logrus.Logger) *CircuitBreaker {
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 5
	}
	if settings.HalfOpenMaxCalls == 0 {
		settings.HalfOpenMaxCalls = 3
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CircuitBreaker{
		settings: settings,
		state:    StateClosed,
		now:      time.Now,
		logger:   logger,
	}
}

// Execute runs fn unless the breaker is open. Errors rejected by IsFailure are returned
// without affecting the breaker state.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	from := cb.state
	state := cb.currentStateLocked()

	switch state {
	case StateOpen:
		cb.mu.Unlock()
		return &CircuitBreakerError{Name: cb.settings.Name, State: state}
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.settings.HalfOpenMaxCalls {
			cb.mu.Unlock()
			return &CircuitBreakerError{Name: cb.settings.Name, State: state}
		}
		cb.halfOpenCalls++
	}
	cb.requestCount++
	cb.mu.Unlock()

	cb.notify(from, state)
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	from := cb.state

	if err != nil && cb.countsAsFailure(err) {
		cb.failures++
		cb.lastFailureTime = cb.now()
		if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failures >= cb.settings.MaxFailures) {
			cb.state = StateOpen
			cb.logger.WithFields(logrus.Fields{
				"circuit_breaker": cb.settings.Name,
				"failures":        cb.failures,
			}).Warn("Circuit breaker opened")
		}
	} else {
		cb.successCount++
		if cb.state == StateHalfOpen && cb.successCount >= cb.settings.HalfOpenMaxCalls {
			cb.resetLocked()
			cb.logger.WithField("circuit_breaker", cb.settings.Name).Info("Circuit breaker closed after recovery")
		}
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

func (cb *CircuitBreaker) countsAsFailure(err error) bool {
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	if cb.settings.IsFailure == nil {
		return true
	}
	return cb.settings.IsFailure(err)
}

// currentStateLocked moves an expired open breaker to half-open.
func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailureTime) >= cb.settings.OpenTimeout {
		cb.state = StateHalfOpen
		cb.halfOpenCalls = 0
		cb.successCount = 0
	}
	return cb.state
}

func (cb *CircuitBreaker) resetLocked() {
	cb.state = StateClosed
	cb.failures = 0
	cb.successCount = 0
	cb.halfOpenCalls = 0
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from == to {
		return
	}
	if cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, from, to)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	from := cb.state
	state := cb.currentStateLocked()
	cb.mu.Unlock()
	cb.notify(from, state)
	return state
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:            cb.settings.Name,
		State:           cb.state,
		Failures:        cb.failures,
		Requests:        cb.requestCount,
		Successes:       cb.successCount,
		LastFailureTime: cb.lastFailureTime,
	}
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name            string
	State           State
	Failures        uint32
	Requests        uint32
	Successes       uint32
	LastFailureTime time.Time
}

// CircuitBreakerError represents an error when the circuit breaker rejects a call
type CircuitBreakerError struct {
	Name  string
	State State
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsCircuitBreakerError checks if an error is a circuit breaker error
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return stderrors.As(err, &cbErr)
}
