package locks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// CircuitState is one of CLOSED, OPEN, HALF_OPEN.
type CircuitState int32

const (
	StateClosed   CircuitState = 0
	StateOpen     CircuitState = 1
	StateHalfOpen CircuitState = 2
)

func (s CircuitState) String() string {
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

// CircuitBreakerConfig tunes the breaker guarding the billing HTTP client
// and the migration lock manager.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	OpenDuration        time.Duration
	HalfOpenMaxAttempts int
	HealthCheckInterval time.Duration
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    3,
		OpenDuration:        30 * time.Second,
		HalfOpenMaxAttempts: 2,
		HealthCheckInterval: 10 * time.Second,
	}
}

// CircuitBreakerManager wraps a Manager so a downstream outage shows up as
// fast no-op failures instead of every caller blocking on a timing out
// Redis round trip.
type CircuitBreakerManager struct {
	underlying          Manager
	config              CircuitBreakerConfig
	state               atomic.Int32
	consecutiveFailures atomic.Int32
	halfOpenAttempts    atomic.Int32
	lastFailureTime     atomic.Int64
	mu                  sync.RWMutex
	healthCheckTicker   *time.Ticker
	stopHealthCheck     chan struct{}
	isHealthChecking    bool
	onStateChange       func(old, new CircuitState)
	successCounter      func()
	failureCounter      func()
	stateGauge          func(float64)
}

type CircuitBreakerMetricsCallbacks struct {
	Success func()
	Failure func()
	State   func(float64)
}

func NewCircuitBreakerManager(underlying Manager, config CircuitBreakerConfig) *CircuitBreakerManager {
	cbm := &CircuitBreakerManager{
		underlying:      underlying,
		config:          config,
		stopHealthCheck: make(chan struct{}),
	}
	cbm.state.Store(int32(StateClosed))
	cbm.startHealthCheck()
	return cbm
}

func (cbm *CircuitBreakerManager) Acquire(ctx context.Context, key string, ttlSeconds int) (Lock, bool, error) {
	switch CircuitState(cbm.state.Load()) {
	case StateClosed:
		return cbm.tryAcquire(ctx, key, ttlSeconds)

	case StateOpen:
		if cbm.shouldAttemptRecovery() {
			cbm.transitionTo(StateHalfOpen)
			return cbm.Acquire(ctx, key, ttlSeconds)
		}
		return nil, false, nil

	case StateHalfOpen:
		lock, acquired, err := cbm.tryAcquire(ctx, key, ttlSeconds)
		if err == nil && CircuitState(cbm.state.Load()) == StateHalfOpen {
			attempts := cbm.halfOpenAttempts.Add(1)
			if attempts >= int32(cbm.config.HalfOpenMaxAttempts) {
				cbm.transitionTo(StateClosed)
				cbm.consecutiveFailures.Store(0)
				cbm.halfOpenAttempts.Store(0)
			}
		} else {
			cbm.recordFailure()
			cbm.transitionTo(StateOpen)
			return nil, false, nil
		}
		return lock, acquired, err

	default:
		return nil, false, errors.New("circuit breaker in unknown state")
	}
}

func (cbm *CircuitBreakerManager) tryAcquire(ctx context.Context, key string, ttlSeconds int) (Lock, bool, error) {
	lock, acquired, err := cbm.underlying.Acquire(ctx, key, ttlSeconds)
	if err != nil {
		cbm.recordFailure()
		if cbm.failureCounter != nil {
			cbm.failureCounter()
		}
		if cbm.consecutiveFailures.Load() >= int32(cbm.config.FailureThreshold) {
			cbm.transitionTo(StateOpen)
			return nil, false, nil
		}
		return nil, false, err
	}

	cbm.consecutiveFailures.Store(0)
	if cbm.successCounter != nil {
		cbm.successCounter()
	}
	return lock, acquired, nil
}

func (cbm *CircuitBreakerManager) recordFailure() {
	cbm.consecutiveFailures.Add(1)
	cbm.lastFailureTime.Store(time.Now().Unix())
}

func (cbm *CircuitBreakerManager) shouldAttemptRecovery() bool {
	lastFailure := cbm.lastFailureTime.Load()
	if lastFailure == 0 {
		return true
	}
	return time.Since(time.Unix(lastFailure, 0)) >= cbm.config.OpenDuration
}

func (cbm *CircuitBreakerManager) transitionTo(newState CircuitState) {
	oldState := CircuitState(cbm.state.Swap(int32(newState)))
	if oldState == newState {
		return
	}
	if cbm.onStateChange != nil {
		cbm.onStateChange(oldState, newState)
	}
	if cbm.stateGauge != nil {
		cbm.stateGauge(float64(newState))
	}
	if newState == StateHalfOpen {
		cbm.halfOpenAttempts.Store(0)
	}
}

func (cbm *CircuitBreakerManager) GetState() CircuitState {
	return CircuitState(cbm.state.Load())
}

func (cbm *CircuitBreakerManager) OnStateChange(callback func(old, new CircuitState)) {
	cbm.mu.Lock()
	defer cbm.mu.Unlock()
	cbm.onStateChange = callback
}

func (cbm *CircuitBreakerManager) SetMetrics(callbacks CircuitBreakerMetricsCallbacks) {
	cbm.mu.Lock()
	defer cbm.mu.Unlock()
	cbm.successCounter = callbacks.Success
	cbm.failureCounter = callbacks.Failure
	cbm.stateGauge = callbacks.State
	if callbacks.State != nil {
		callbacks.State(float64(cbm.state.Load()))
	}
}

func (cbm *CircuitBreakerManager) startHealthCheck() {
	cbm.mu.Lock()
	defer cbm.mu.Unlock()
	if cbm.isHealthChecking {
		return
	}
	cbm.healthCheckTicker = time.NewTicker(cbm.config.HealthCheckInterval)
	cbm.isHealthChecking = true

	go func() {
		for {
			select {
			case <-cbm.healthCheckTicker.C:
				cbm.performHealthCheck()
			case <-cbm.stopHealthCheck:
				return
			}
		}
	}()
}

func (cbm *CircuitBreakerManager) performHealthCheck() {
	if cbm.GetState() != StateOpen {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	lock, acquired, err := cbm.underlying.Acquire(ctx, "circuitbreaker:health", 5)
	if err == nil && acquired && lock != nil {
		_ = lock.Release(context.Background())
		if cbm.shouldAttemptRecovery() {
			cbm.transitionTo(StateHalfOpen)
		}
	}
}

func (cbm *CircuitBreakerManager) StopHealthCheck() {
	cbm.mu.Lock()
	defer cbm.mu.Unlock()
	if !cbm.isHealthChecking {
		return
	}
	cbm.isHealthChecking = false
	close(cbm.stopHealthCheck)
	if cbm.healthCheckTicker != nil {
		cbm.healthCheckTicker.Stop()
	}
}
