package stock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/aristath/actiontree/internal/scheduler"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	MaxAttempts         int           // Total attempts including the first; <= 1 disables retrying
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 2min)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration, with retrying
// disabled.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:         1,
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

func (c RetryConfig) policy(ctx context.Context) backoff.BackOffContext {
	p := backoff.NewExponentialBackOff()
	p.InitialInterval = c.InitialInterval
	p.MaxInterval = c.MaxInterval
	p.MaxElapsedTime = c.MaxElapsedTime
	p.Multiplier = c.Multiplier
	p.RandomizationFactor = c.RandomizationFactor

	var b backoff.BackOff = p
	if c.MaxAttempts > 1 {
		b = backoff.WithMaxRetries(p, uint64(c.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// Retrying wraps fn so that a failed attempt is retried with exponential
// backoff. The scheduler never retries on its own; this is opt-in per action.
// Errors from a canceled context and breaker rejections are not retried.
func Retrying(fn scheduler.Func, cfg RetryConfig) scheduler.Func {
	if cfg.MaxAttempts <= 1 {
		return fn
	}
	return func(ctx context.Context, out io.Writer) (any, error) {
		var value any
		attempt := 0
		operation := func() error {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			attempt++
			if attempt > 1 {
				fmt.Fprintf(out, "retrying (attempt %d of %d)\n", attempt, cfg.MaxAttempts)
			}

			v, err := fn(ctx, out)
			if err != nil {
				if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
					return backoff.Permanent(err)
				}
				if ctx.Err() != nil {
					return backoff.Permanent(err)
				}
				return err
			}
			value = v
			return nil
		}

		if err := backoff.Retry(operation, cfg.policy(ctx)); err != nil {
			return nil, err
		}
		return value, nil
	}
}

// WithTimeout bounds each invocation of fn to d. Zero or negative d returns
// fn unchanged.
func WithTimeout(fn scheduler.Func, d time.Duration) scheduler.Func {
	if d <= 0 {
		return fn
	}
	return func(ctx context.Context, out io.Writer) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return fn(ctx, out)
	}
}

// CircuitBreakerRegistry manages one circuit breaker per name, typically per
// external program.
type CircuitBreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	log      zerolog.Logger

	// Trip is the number of consecutive failures that opens a breaker.
	Trip uint32
	// Cooldown is how long a breaker stays open before letting a test call through.
	Cooldown time.Duration
}

// NewCircuitBreakerRegistry creates a registry logging state changes to log.
func NewCircuitBreakerRegistry(log zerolog.Logger) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		log:      log,
		Trip:     5,
		Cooldown: 30 * time.Second,
	}
}

// Get returns the circuit breaker for name, creating it on first use.
func (r *CircuitBreakerRegistry) Get(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	trip := r.Trip
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0, // Don't clear counts automatically
		Timeout:     r.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.log.Warn().
				Str("breaker", name).
				Stringer("from", from).
				Stringer("to", to).
				Msg("Circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			// A canceled run is not the program's fault
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	r.breakers[name] = cb
	return cb
}

// Guarded runs fn through the breaker. While the breaker is open, fn is not
// invoked and the action fails with gobreaker.ErrOpenState.
func Guarded(cb *gobreaker.CircuitBreaker, fn scheduler.Func) scheduler.Func {
	return func(ctx context.Context, out io.Writer) (any, error) {
		return cb.Execute(func() (any, error) {
			return fn(ctx, out)
		})
	}
}
