package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/taskweave/taskweave/internal/executor"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 2min)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// CircuitBreakerRegistry manages per-agent-type circuit breakers. A
// misbehaving executor trips only its own breaker; tasks of other agent
// types keep flowing.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewCircuitBreakerRegistry creates a new circuit breaker registry.
func NewCircuitBreakerRegistry() *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Get returns the circuit breaker for the given agent type, creating it
// on first use.
func (r *CircuitBreakerRegistry) Get(agentType string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[agentType]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        agentType,
		MaxRequests: 3, // Allow 3 test requests in half-open state
		Interval:    0, // Don't clear counts automatically
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.WithFields(log.Fields{
				"agent_type": name,
				"from":       from.String(),
				"to":         to.String(),
			}).Warn("Circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			// Don't count caller cancellation as executor failure
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})

	r.breakers[agentType] = cb
	return cb
}

// executeWithRetry runs the executor with exponential backoff bounded by
// maxAttempts total invocations, routed through the agent type's circuit
// breaker. onRetry, if non-nil, is called before each retry with the
// number of attempts made so far and the error that triggered the retry.
// The returned attempt count includes the final invocation.
func executeWithRetry(ctx context.Context, exec executor.Executor, req executor.Request, cb *gobreaker.CircuitBreaker, retryCfg RetryConfig, maxAttempts int, onRetry func(attempt int, err error)) (string, int, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var result string
	attempts := 0

	operation := func() error {
		// Check context first - fail fast if cancelled
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		attempts++
		out, err := cb.Execute(func() (interface{}, error) {
			return exec.Execute(ctx, req)
		})

		if err != nil {
			// Circuit is open - don't retry
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}

			// Context cancelled - stop retrying
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}

			return err
		}

		result = out.(string)
		return nil
	}

	backoffPolicy := backoff.NewExponentialBackOff()
	backoffPolicy.InitialInterval = retryCfg.InitialInterval
	backoffPolicy.MaxInterval = retryCfg.MaxInterval
	backoffPolicy.MaxElapsedTime = retryCfg.MaxElapsedTime
	backoffPolicy.Multiplier = retryCfg.Multiplier
	backoffPolicy.RandomizationFactor = retryCfg.RandomizationFactor

	bounded := backoff.WithMaxRetries(backoffPolicy, uint64(maxAttempts-1))
	withCtx := backoff.WithContext(bounded, ctx)

	notify := func(err error, _ time.Duration) {
		if onRetry != nil {
			onRetry(attempts, err)
		}
	}

	err := backoff.RetryNotify(operation, withCtx, notify)
	return result, attempts, err
}
