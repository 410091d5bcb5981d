package circuitbreaker

import (
	"context"
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

// CircuitBreaker guards calls to the upstream gateway. After maxFailures
// consecutive failures the breaker opens and calls fail fast; after timeout
// it lets probe calls through, closing again once enough succeed.
type CircuitBreaker struct {
	name        string
	maxFailures uint32
	timeout     time.Duration
	probeQuota  uint32

	mu           sync.Mutex
	state        State
	failures     uint32
	openedAt     time.Time
	probeCalls   uint32
	probePassed  uint32
	requestCount uint64

	logger *logrus.Logger
}

func New(name string, maxFailures uint32, timeout time.Duration, logger *logrus.Logger) *CircuitBreaker {
	if logger == nil {
		logger = logrus.New()
	}
	return &CircuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		timeout:     timeout,
		probeQuota:  3,
		state:       StateClosed,
		logger:      logger,
	}
}

// Execute runs fn unless the breaker is open. The breaker observes fn's
// result; context errors from fn count as failures like any other error.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.admit() {
		return &OpenError{Name: cb.name}
	}

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

// admit decides whether the call may proceed, moving open breakers to
// half-open once the cool-down has passed.
func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requestCount++

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) < cb.timeout {
			return false
		}
		cb.state = StateHalfOpen
		cb.probeCalls = 0
		cb.probePassed = 0
		cb.logger.WithField("circuit_breaker", cb.name).Info("Circuit breaker half-open, probing")
		fallthrough
	case StateHalfOpen:
		if cb.probeCalls >= cb.probeQuota {
			return false
		}
		cb.probeCalls++
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.failures++
	cb.openedAt = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.maxFailures {
			cb.state = StateOpen
			cb.logger.WithFields(logrus.Fields{
				"circuit_breaker": cb.name,
				"failures":        cb.failures,
			}).Warn("Circuit breaker opened")
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.logger.WithField("circuit_breaker", cb.name).Warn("Circuit breaker reopened after failed probe")
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	switch cb.state {
	case StateHalfOpen:
		cb.probePassed++
		if cb.probePassed >= cb.probeQuota {
			cb.state = StateClosed
			cb.failures = 0
			cb.logger.WithField("circuit_breaker", cb.name).Info("Circuit breaker closed after recovery")
		}
	case StateClosed:
		cb.failures = 0
	}
}

// GetState returns the current state of the circuit breaker.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.timeout {
		return StateHalfOpen
	}
	return cb.state
}

// Stats is a point-in-time snapshot for the stats endpoint.
type Stats struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures uint32 `json:"failures"`
	Requests uint64 `json:"requests"`
}

func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		Name:     cb.name,
		State:    cb.state.String(),
		Failures: cb.failures,
		Requests: cb.requestCount,
	}
}

// OpenError is returned when a call is rejected without reaching the gateway.
type OpenError struct {
	Name string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is open", e.Name)
}

// IsOpenError checks if an error came from a rejected (fail-fast) call.
func IsOpenError(err error) bool {
	_, ok := err.(*OpenError)
	return ok
}
