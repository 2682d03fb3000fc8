package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig configures retry behavior for external calls
type RetryConfig struct {
	MaxRetries     int           // Maximum number of retry attempts after the first call
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	BackoffFactor  float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     60 * time.Second,
		BackoffFactor:  2.0,
	}
}

// Operation is a blocking external call that may fail transiently
type Operation func() error

// WithRetry executes an operation with exponential backoff retry.
//
// Retryable errors (transient network failures, 429/5xx statuses) are retried
// up to MaxRetries additional times with the backoff doubling each attempt,
// capped at MaxBackoff. A 429 StatusError carrying a Retry-After hint sleeps
// that long instead. Non-retryable errors short-circuit immediately. Final
// exhaustion wraps the last error in ErrRetriesExhausted.
func WithRetry(ctx context.Context, config RetryConfig, operation Operation) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled: %w", ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				log.Info().
					Int("attempt", attempt+1).
					Msg("Operation succeeded after retry")
			}
			return nil
		}

		lastErr = err

		if !IsRetryable(err) {
			log.Debug().
				Err(err).
				Msg("Error is not retryable, aborting")
			return err
		}

		if attempt == config.MaxRetries {
			break
		}

		sleep := backoff
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == 429 && se.RetryAfter > 0 {
			sleep = se.RetryAfter
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", config.MaxRetries+1).
			Dur("backoff", sleep).
			Msg("Operation failed, retrying with backoff")

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled during backoff: %w", ctx.Err())
		case <-time.After(sleep):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffFactor)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, config.MaxRetries+1, lastErr)
}

// WithFallback runs fn and substitutes def() on any failure. The error is
// logged and swallowed; use this only where a degraded default is acceptable.
func WithFallback[T any](fn func() (T, error), def func() T) T {
	result, err := fn()
	if err != nil {
		log.Error().
			Err(err).
			Msg("Operation failed, returning fallback value")
		return def()
	}
	return result
}
