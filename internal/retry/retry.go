// Package retry runs upstream calls under a capped exponential backoff,
// retrying only failures classified as transient.
package retry

import (
	"context"
	"time"

	"github.com/haasonsaas/delegator/internal/backoff"
)

// Policy bounds a single retried call. It is a value type supplied per call.
type Policy struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int
	// BaseDelay is the delay after the first failure.
	BaseDelay time.Duration
	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
}

// DefaultPolicy returns the policy used when configuration leaves it unset.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// Delay returns the sleep that follows a failed zero-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	return backoff.Policy{Base: p.BaseDelay, Max: p.MaxDelay}.Delay(attempt)
}

// Event describes a retry that is about to happen.
type Event struct {
	// Attempt is the zero-based index of the attempt that failed.
	Attempt int
	// Delay is how long the caller will sleep before the next attempt.
	Delay time.Duration
	// Err is the transient failure that triggered the retry.
	Err error
}

type options struct {
	sleep   backoff.SleepFunc
	onRetry func(Event)
}

// Option customizes a call.
type Option func(*options)

// WithSleep replaces the context-aware sleep, mainly for tests.
func WithSleep(fn backoff.SleepFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

// WithOnRetry registers a hook invoked before each backoff sleep.
func WithOnRetry(fn func(Event)) Option {
	return func(o *options) {
		o.onRetry = fn
	}
}

// Call executes fn until it succeeds, fails permanently, or the policy is
// exhausted. Non-transient errors are returned unchanged. A transient error on
// the final attempt is returned as *RetriesExhaustedError. If ctx ends, the
// call stops with ctx's error and no further attempts are made.
func Call[T any](ctx context.Context, fn func(context.Context) (T, error), policy Policy, opts ...Option) (T, error) {
	o := options{sleep: backoff.Sleep}
	for _, opt := range opts {
		opt(&o)
	}

	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var zero T
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}

		// The caller abandoned the request; whatever fn saw is not worth retrying.
		if ctx.Err() != nil {
			return zero, err
		}

		if !IsTransient(err) {
			return zero, err
		}

		if attempt == maxAttempts-1 {
			return zero, &RetriesExhaustedError{Attempts: maxAttempts, Last: err}
		}

		delay := policy.Delay(attempt)
		if o.onRetry != nil {
			o.onRetry(Event{Attempt: attempt, Delay: delay, Err: err})
		}
		if err := o.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, &RetriesExhaustedError{Attempts: maxAttempts}
}
