// Package resilience provides the retry and circuit-breaker policies used
// around translation calls: failsafe-go retry policies for chunk-level
// retries and a gobreaker circuit breaker guarding the provider endpoint.
package resilience

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sony/gobreaker"
)

// RetryConfig controls the chunk retry pass in the dispatcher.
type RetryConfig struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterDelay time.Duration
}

// DefaultChunkRetryConfig matches the dispatcher's "retry failed chunks a
// couple of times with short backoff" policy.
var DefaultChunkRetryConfig = RetryConfig{
	MaxRetries:  2,
	BaseDelay:   1 * time.Second,
	MaxDelay:    10 * time.Second,
	JitterDelay: 250 * time.Millisecond,
}

// NewRetryPolicy builds a failsafe retry policy from cfg.
func NewRetryPolicy[R any](cfg RetryConfig) retrypolicy.RetryPolicy[R] {
	builder := retrypolicy.NewBuilder[R]().
		WithMaxRetries(cfg.MaxRetries).
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay)
	if cfg.JitterDelay > 0 {
		builder = builder.WithJitter(cfg.JitterDelay)
	}
	return builder.Build()
}

// NewExecutor wraps a retry policy into a failsafe executor.
func NewExecutor[R any](cfg RetryConfig) failsafe.Executor[R] {
	return failsafe.With(NewRetryPolicy[R](cfg))
}

// BreakerConfig holds circuit breaker settings for the provider endpoint.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	FailureRatio     float64
	MinRequests      uint32
}

// DefaultBreakerConfig trips only on sustained transport-level failures.
// Provider rate limiting is per-credential and is handled by the rotation
// layer, so it must never open the breaker; callers should only report
// connection errors through it.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         10 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.5,
		MinRequests:      10,
	}
}

// CircuitBreaker wraps gobreaker with this module's config shape.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewCircuitBreaker builds a breaker from cfg.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			if counts.ConsecutiveFailures >= cfg.FailureThreshold {
				return true
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
	}
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker.
func (c *CircuitBreaker) Execute(fn func() (any, error)) (any, error) {
	return c.cb.Execute(fn)
}

// State returns the breaker state.
func (c *CircuitBreaker) State() gobreaker.State { return c.cb.State() }

// CalculateBackoffNoJitter computes deterministic exponential backoff.
func CalculateBackoffNoJitter(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	delay := baseDelay * time.Duration(1<<attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// WaitWithContext sleeps for delay unless ctx is cancelled first.
func WaitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryBudget is a token bucket bounding concurrent retries so a failing
// batch cannot amplify load on the provider.
type RetryBudget struct {
	capacity    atomic.Int64
	maxCapacity int64
}

// NewRetryBudget creates a budget with the given capacity.
func NewRetryBudget(maxCapacity int64) *RetryBudget {
	if maxCapacity <= 0 {
		maxCapacity = 20
	}
	rb := &RetryBudget{maxCapacity: maxCapacity}
	rb.capacity.Store(maxCapacity)
	return rb
}

// TryAcquire takes a retry token, reporting false when the budget is spent.
func (rb *RetryBudget) TryAcquire() bool {
	for {
		current := rb.capacity.Load()
		if current <= 0 {
			return false
		}
		if rb.capacity.CompareAndSwap(current, current-1) {
			return true
		}
	}
}

// Release returns a token to the budget.
func (rb *RetryBudget) Release() {
	for {
		current := rb.capacity.Load()
		if current >= rb.maxCapacity {
			return
		}
		if rb.capacity.CompareAndSwap(current, current+1) {
			return
		}
	}
}

// Available returns the number of unused retry tokens.
func (rb *RetryBudget) Available() int64 { return rb.capacity.Load() }
