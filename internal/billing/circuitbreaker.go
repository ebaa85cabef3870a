package billing

import (
	"sync/atomic"
	"time"

	"github.com/weni-ai/conversation-ingestor/internal/locks"
)

// CircuitBreaker gates outbound billing POSTs the same way
// locks.CircuitBreakerManager gates Redis lock acquisition: after
// FailureThreshold consecutive failures it opens and short-circuits
// calls for OpenDuration, then allows HalfOpenMaxAttempts probes before
// closing again.
type CircuitBreaker struct {
	config              locks.CircuitBreakerConfig
	state               atomic.Int32
	consecutiveFailures atomic.Int32
	halfOpenAttempts    atomic.Int32
	lastFailureTime     atomic.Int64
	stateGauge          func(float64)
}

func NewCircuitBreaker(config locks.CircuitBreakerConfig, stateGauge func(float64)) *CircuitBreaker {
	cb := &CircuitBreaker{config: config, stateGauge: stateGauge}
	cb.state.Store(int32(locks.StateClosed))
	return cb
}

// Allow reports whether a billing request may proceed right now, moving
// OPEN to HALF_OPEN once the open duration has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	switch locks.CircuitState(cb.state.Load()) {
	case locks.StateClosed, locks.StateHalfOpen:
		return true
	case locks.StateOpen:
		if cb.shouldAttemptRecovery() {
			cb.transitionTo(locks.StateHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess clears the failure count and, from HALF_OPEN, closes the
// circuit once enough probes have succeeded.
func (cb *CircuitBreaker) RecordSuccess() {
	if locks.CircuitState(cb.state.Load()) == locks.StateHalfOpen {
		attempts := cb.halfOpenAttempts.Add(1)
		if attempts >= int32(cb.config.HalfOpenMaxAttempts) {
			cb.transitionTo(locks.StateClosed)
			cb.consecutiveFailures.Store(0)
			cb.halfOpenAttempts.Store(0)
		}
		return
	}
	cb.consecutiveFailures.Store(0)
}

// RecordFailure counts a failed attempt and opens the circuit once the
// threshold is reached, or immediately on any half-open failure.
func (cb *CircuitBreaker) RecordFailure() {
	cb.consecutiveFailures.Add(1)
	cb.lastFailureTime.Store(time.Now().UnixNano())

	if locks.CircuitState(cb.state.Load()) == locks.StateHalfOpen {
		cb.transitionTo(locks.StateOpen)
		cb.halfOpenAttempts.Store(0)
		return
	}
	if cb.consecutiveFailures.Load() >= int32(cb.config.FailureThreshold) {
		cb.transitionTo(locks.StateOpen)
	}
}

func (cb *CircuitBreaker) State() locks.CircuitState {
	return locks.CircuitState(cb.state.Load())
}

func (cb *CircuitBreaker) shouldAttemptRecovery() bool {
	lastFailure := cb.lastFailureTime.Load()
	if lastFailure == 0 {
		return true
	}
	return time.Since(time.Unix(0, lastFailure)) >= cb.config.OpenDuration
}

func (cb *CircuitBreaker) transitionTo(newState locks.CircuitState) {
	old := locks.CircuitState(cb.state.Swap(int32(newState)))
	if old == newState {
		return
	}
	if cb.stateGauge != nil {
		cb.stateGauge(float64(newState))
	}
}
