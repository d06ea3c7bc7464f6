package settlement

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/obsidianex/darkpool/pkg/metrics"
)

// BreakerState represents the state of a circuit breaker
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig contains circuit breaker thresholds
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

// CircuitBreaker shields one external dependency. After FailureThreshold
// consecutive failures it opens and rejects calls immediately; after the
// cooldown it admits a single trial call (half-open) and closes again after
// SuccessThreshold consecutive successes. Counters are private per instance.
type CircuitBreaker struct {
	mu              sync.Mutex
	dependency      string
	state           BreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	trialInFlight   bool
	config          BreakerConfig
	logger          *zap.Logger
}

// NewCircuitBreaker creates a closed breaker for the named dependency
func NewCircuitBreaker(dependency string, config BreakerConfig, logger *zap.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		dependency: dependency,
		state:      BreakerClosed,
		config:     config,
		logger:     logger,
	}
}

// Allow reports whether a call may proceed. In the open state it transitions
// to half-open once the cooldown window has elapsed and admits one trial call.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
			cb.setState(BreakerHalfOpen)
			cb.trialInFlight = true
			return true
		}
		return false
	case BreakerHalfOpen:
		if cb.trialInFlight {
			return false
		}
		cb.trialInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful call
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failureCount = 0
	case BreakerHalfOpen:
		cb.trialInFlight = false
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.setState(BreakerClosed)
			cb.failureCount = 0
		}
	}
}

// RecordFailure records a failed call
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()

	switch cb.state {
	case BreakerClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.setState(BreakerOpen)
		}
	case BreakerHalfOpen:
		cb.trialInFlight = false
		cb.setState(BreakerOpen)
	}
}

// State returns the current breaker state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to closed. Operator action only.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(BreakerClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.trialInFlight = false
	cb.logger.Info("circuit breaker manually reset", zap.String("dependency", cb.dependency))
}

// setState changes state and logs the transition. Caller holds mu.
func (cb *CircuitBreaker) setState(next BreakerState) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	if next != BreakerHalfOpen {
		cb.successCount = 0
	}
	metrics.CircuitBreakerState.WithLabelValues(cb.dependency).Set(float64(next))
	cb.logger.Info("circuit breaker state changed",
		zap.String("dependency", cb.dependency),
		zap.String("old_state", prev.String()),
		zap.String("new_state", next.String()),
		zap.Int("failure_count", cb.failureCount))
}
