package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"google.golang.org/genai"

	"newsrec/internal/core"
	"newsrec/internal/logger"
	"newsrec/internal/metrics"
)

// callPolicy bounds each call to the model API with a timeout, retries
// transient failures and fails fast while its circuit breaker is open.
type callPolicy[T any] struct {
	opts    GatewayOptions
	breaker *gobreaker.CircuitBreaker[T]
}

func newCallPolicy[T any](name string, opts GatewayOptions) *callPolicy[T] {
	opts = opts.withDefaults()

	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// Callers abandoning a request say nothing about the upstream
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	}

	return &callPolicy[T]{
		opts:    opts,
		breaker: gobreaker.NewCircuitBreaker[T](settings),
	}
}

func (o GatewayOptions) withDefaults() GatewayOptions {
	defaults := DefaultGatewayOptions()
	if o.Timeout <= 0 {
		o.Timeout = defaults.Timeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.FailureThreshold == 0 {
		o.FailureThreshold = defaults.FailureThreshold
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = defaults.OpenTimeout
	}
	return o
}

// run executes call under the policy. label tags retry metrics and logs.
// Deadlines surface as KindTimeout, an open breaker or exhausted retries as
// KindUpstreamUnavailable, and caller cancellation unchanged.
func (p *callPolicy[T]) run(ctx context.Context, label string, call func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= p.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.LLMRetries.WithLabelValues(label).Inc()
			logger.Warn("Retrying model call", "call", label, "attempt", attempt+1, "error", lastErr.Error())
			select {
			case <-ctx.Done():
				return zero, classify(ctx, ctx.Err())
			case <-time.After(p.opts.RetryDelay):
			}
		}

		v, err := p.attempt(ctx, call)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !isTransient(ctx, err) {
			break
		}
	}
	return zero, classify(ctx, lastErr)
}

func (p *callPolicy[T]) attempt(ctx context.Context, call func(ctx context.Context) (T, error)) (T, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	return p.breaker.Execute(func() (T, error) {
		v, err := call(attemptCtx)
		if err != nil && attemptCtx.Err() == context.DeadlineExceeded {
			var zero T
			return zero, fmt.Errorf("model call exceeded %s: %w", p.opts.Timeout, context.DeadlineExceeded)
		}
		return v, err
	})
}

// isTransient reports whether a failed attempt is worth repeating.
func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 408, 429, 500, 502, 503, 504:
			return true
		default:
			return false
		}
	}
	// Empty responses and transport errors
	return true
}

func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return core.E(core.KindTimeout, "", err)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return core.E(core.KindUpstreamUnavailable, "", err)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return err
	default:
		return core.E(core.KindUpstreamUnavailable, "", err)
	}
}
