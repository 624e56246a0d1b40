// Package registry tracks the other engine instances a process knows
// about (via heartbeats), load-balances new document assignments across
// them, and wraps calls to a remote instance in a circuit breaker so one
// unhealthy peer cannot cascade into every other instance's request path.
//
// Grounded on the closed/open/half-open state machine and counts model of
// a developer-mesh-style circuit breaker, adapted to this module's own
// zap logger and prometheus metrics instead of an observability interface.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/collabfabric/engine/internal/errors"
	"github.com/collabfabric/engine/internal/logger"
	"github.com/collabfabric/engine/internal/metrics"
)

// State is one of closed, open, half-open.
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

// CircuitBreakerConfig tunes trip/recovery behavior.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	SuccessThreshold    int
	MaxRequestsHalfOpen int
}

func defaultConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		ResetTimeout:        30 * time.Second,
		SuccessThreshold:    2,
		MaxRequestsHalfOpen: 3,
	}
}

type counts struct {
	consecutiveFailures  int
	consecutiveSuccesses int
}

// CircuitBreaker guards calls to one remote instance.
type CircuitBreaker struct {
	instanceID string
	config     CircuitBreakerConfig

	mu              sync.Mutex
	state           State
	counts          counts
	lastFailure     time.Time
	lastStateChange time.Time
	halfOpenInFlight int
}

// NewCircuitBreaker creates a closed breaker for instanceID.
func NewCircuitBreaker(instanceID string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config = defaultConfig()
	}
	return &CircuitBreaker{
		instanceID:      instanceID,
		config:          config,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn if the breaker allows it, recording the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.canExecute(); err != nil {
		return err
	}
	err := fn(ctx)
	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) canExecute() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.lastFailure) > cb.config.ResetTimeout {
			cb.transitionLocked(StateHalfOpen)
			return nil
		}
		return errors.FabricUnavailable(fmt.Sprintf("circuit breaker open for instance %s", cb.instanceID))
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.config.MaxRequestsHalfOpen {
			return errors.Backpressure("circuit-breaker-half-open:" + cb.instanceID)
		}
		cb.halfOpenInFlight++
		return nil
	default:
		return errors.InvalidOperation("unknown circuit breaker state")
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.consecutiveFailures = 0
	cb.counts.consecutiveSuccesses++

	if cb.state == StateHalfOpen {
		cb.halfOpenInFlight--
		if cb.counts.consecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.transitionLocked(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.consecutiveSuccesses = 0
	cb.counts.consecutiveFailures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.counts.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		cb.halfOpenInFlight--
		cb.transitionLocked(StateOpen)
	}
}

func (cb *CircuitBreaker) transitionLocked(newState State) {
	if cb.state == newState {
		return
	}
	old := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()
	if newState == StateHalfOpen {
		cb.counts = counts{}
		cb.halfOpenInFlight = 0
	}

	logger.Log.Info("circuit breaker state changed",
		zap.String("instance_id", cb.instanceID),
		zap.String("from", old.String()),
		zap.String("to", newState.String()),
	)
	metrics.Get().CircuitBreakerStateChanges.WithLabelValues(cb.instanceID, newState.String()).Inc()
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// forceState is exposed only for tests that need to assert transition
// logic without waiting out ResetTimeout.
func (cb *CircuitBreaker) forceState(s State) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = s
}
