// Package resilience provides retry, failure classification and circuit
// breaking for calls to the external tracker.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/rotisserie/eris"
)

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt. A value of
	// 0 means a single attempt. Default: 3.
	MaxRetries int

	// BaseDelay is the delay before the first retry; retry n waits
	// BaseDelay × Multiplier^(n-1). Default: 1s.
	BaseDelay time.Duration

	// MaxDelay caps a single backoff delay. Default: 30s.
	MaxDelay time.Duration

	// Multiplier scales the delay after each retry. Default: 2.0.
	Multiplier float64

	// JitterFraction adds ±fraction of random jitter to each delay. Default: 0.
	JitterFraction float64

	// ShouldRetry optionally overrides the default transient-error check.
	// If nil, IsTransient is used.
	ShouldRetry func(err error) bool

	// OnRetry is called before each backoff wait.
	OnRetry func(ev RetryEvent)

	// Wait sleeps for d or until ctx is done. Tests replace it to record
	// delays without sleeping. If nil, a timer is used.
	Wait func(ctx context.Context, d time.Duration) error
}

// RetryEvent describes a retry about to happen.
type RetryEvent struct {
	Retry int // 1-based retry number
	Delay time.Duration
	Err   error
}

// DefaultRetryConfig returns 3 retries at 1s, 2s and 4s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
	}
}

// Do executes fn with retry logic according to cfg. Only errors deemed
// retryable are retried; everything else is returned immediately. When
// retries are exhausted the last error is returned as a TransientError
// carrying the attempt count. Cancelling ctx abandons pending retries.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal executes fn returning a value with retry logic. Same semantics as Do
// but preserves the return value from the successful call.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)

	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}
	wait := cfg.Wait
	if wait == nil {
		wait = sleep
	}

	var zero T
	attempts := cfg.MaxRetries + 1
	for attempt := 1; ; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}

		if ctx.Err() != nil {
			return zero, eris.Wrapf(ctx.Err(), "abandoned after %d attempts: %v", attempt, err)
		}

		if !shouldRetry(err) {
			return zero, err
		}

		if attempt >= attempts {
			return zero, exhausted(err, attempt)
		}

		delay := ComputeBackoff(attempt, cfg)
		if cfg.OnRetry != nil {
			cfg.OnRetry(RetryEvent{Retry: attempt, Delay: delay, Err: err})
		}
		if werr := wait(ctx, delay); werr != nil {
			return zero, eris.Wrapf(werr, "abandoned after %d attempts: %v", attempt, err)
		}
	}
}

func exhausted(err error, attempts int) error {
	if te, ok := err.(*TransientError); ok {
		return &TransientError{Err: te.Err, StatusCode: te.StatusCode, Attempts: attempts}
	}
	var te *TransientError
	if errors.As(err, &te) {
		return &TransientError{Err: err, StatusCode: te.StatusCode, Attempts: attempts}
	}
	return &TransientError{Err: err, Attempts: attempts}
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

// ComputeBackoff returns the delay before the given 1-based retry.
func ComputeBackoff(retry int, cfg RetryConfig) time.Duration {
	if retry < 1 {
		retry = 1
	}
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(retry-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.JitterFraction > 0 {
		jitterRange := delay * cfg.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
