// Package util provides shared helpers for running commands, retrying and
// writing files atomically.
package util

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (default: 3).
	MaxAttempts int

	// InitialDelay is the delay before the first retry (default: 100ms).
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries (default: 5s).
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier (default: 2.0).
	// A multiplier of exactly 1 yields a fixed polling interval.
	Multiplier float64

	// Jitter adds up to 25% randomness to each delay.
	Jitter bool

	// IsRetryable determines if an error should be retried.
	// If nil, uses DefaultIsRetryable.
	IsRetryable func(error) bool

	// OnRetry, if set, is called after each failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns defaults for short-lived local operations such
// as spawning a freshly copied executable.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		IsRetryable:  DefaultIsRetryable,
	}
}

// PollConfig returns a fixed-interval config that retries every error.
// The health gate uses it to poll a worker until it answers.
func PollConfig(attempts int, interval time.Duration) RetryConfig {
	return RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: interval,
		MaxDelay:     interval,
		Multiplier:   1,
		IsRetryable:  alwaysRetryable,
	}
}

// transientErrorPatterns contains substrings that indicate transient errors
// which are worth retrying when starting or probing a local process.
var transientErrorPatterns = []string{
	"text file busy",
	"ETXTBSY",
	"resource temporarily unavailable",
	"connection refused",
	"connection reset",
	"connection timed out",
	"timeout",
	"temporary failure",
	"try again",
	"EAGAIN",
	"ECONNREFUSED",
	"ECONNRESET",
	"ETIMEDOUT",
	"locked by another process",
	"being used by another process",
	"too many open files",
	"broken pipe",
	"EOF",
}

// DefaultIsRetryable returns true for transient errors that might succeed on retry.
// It returns false for permanent errors like "not found" or permission denied.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	for _, pattern := range transientErrorPatterns {
		if strings.Contains(errStr, strings.ToLower(pattern)) {
			return true
		}
	}

	return false
}

// alwaysRetryable retries every non-nil error.
func alwaysRetryable(err error) bool {
	return err != nil
}

// Retry executes fn with exponential backoff retry logic.
// It returns the result of fn or the last error if all attempts fail.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	// Apply defaults
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = DefaultIsRetryable
	}

	var zero T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err

		if IsPermanent(err) {
			return zero, err
		}
		if !cfg.IsRetryable(err) {
			return zero, err
		}

		// Don't sleep after the last attempt
		if attempt == cfg.MaxAttempts {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		sleepDuration := delay
		if cfg.Jitter {
			jitter := time.Duration(rand.Float64() * 0.25 * float64(delay))
			sleepDuration += jitter
		}

		timer := time.NewTimer(sleepDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return zero, lastErr
}

// PermanentError wraps an error to indicate it should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// IsPermanent checks if an error is marked as permanent.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}

// MarkPermanent wraps an error to indicate it should not be retried.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
