// Package retry implements the exponential-backoff retry envelope shared by
// the LLM Gateway, search clients, and persistence calls.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Config describes a backoff schedule: delay before attempt n is
// min(InitialDelay * BackoffFactor^(n-1), MaxDelay).
type Config struct {
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration

	// IsRetryable decides whether err should be retried. A nil IsRetryable
	// treats every non-nil error as retryable.
	IsRetryable func(err error) bool
}

// Fatal wraps an error to short-circuit the envelope: it is never retried,
// and in the graceful variant it still yields the caller's default (logged
// as a warning rather than propagated).
type Fatal struct{ Err error }

func (f Fatal) Error() string { return f.Err.Error() }
func (f Fatal) Unwrap() error { return f.Err }

// LLMProfile: max_retries=6, initial=60s, factor=2.0, max=600s.
var LLMProfile = Config{
	MaxRetries:    6,
	InitialDelay:  60 * time.Second,
	BackoffFactor: 2.0,
	MaxDelay:      600 * time.Second,
}

// SearchAPIProfile: max_retries=5, initial=2s, factor=1.6, max=25s.
var SearchAPIProfile = Config{
	MaxRetries:    5,
	InitialDelay:  2 * time.Second,
	BackoffFactor: 1.6,
	MaxDelay:      25 * time.Second,
}

// DBProfile: max_retries=5, initial=1s, factor=1.5, max=10s.
var DBProfile = Config{
	MaxRetries:    5,
	InitialDelay:  1 * time.Second,
	BackoffFactor: 1.5,
	MaxDelay:      10 * time.Second,
}

func (c Config) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * pow(c.BackoffFactor, attempt-1)
	max := float64(c.MaxDelay)
	if d > max {
		d = max
	}
	return time.Duration(d)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func (c Config) retryable(err error) bool {
	if c.IsRetryable != nil {
		return c.IsRetryable(err)
	}
	return true
}

// Do runs fn, retrying on retryable errors per the schedule. A Fatal error
// or exhaustion of retries returns the last error unchanged (strict
// variant).
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries+1; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var fatal Fatal
		if errors.As(err, &fatal) {
			return err
		}
		if !cfg.retryable(err) {
			return err
		}
		if attempt > cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.delay(attempt)):
		}
	}
	return lastErr
}

// DoGraceful runs fn like Do, but on exhaustion or a Fatal error it logs a
// warning and returns def instead of propagating the error.
func DoGraceful[T any](ctx context.Context, cfg Config, def T, fn func(ctx context.Context) (T, error)) T {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries+1; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v
		}
		lastErr = err

		var fatal Fatal
		if errors.As(err, &fatal) {
			logrus.WithError(fatal.Err).Warn("retry: fatal error, returning default")
			return def
		}
		if !cfg.retryable(err) {
			logrus.WithError(err).Warn("retry: non-retryable error, returning default")
			return def
		}
		if attempt > cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			logrus.WithError(ctx.Err()).Warn("retry: context cancelled, returning default")
			return def
		case <-time.After(cfg.delay(attempt)):
		}
	}
	logrus.WithError(lastErr).Warn("retry: exhausted retries, returning default")
	return def
}
