package reliability

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel failures for external calls. Callers branch with errors.Is so the
// producing layer can substitute a neutral result instead of propagating.
var (
	// ErrCircuitOpen is returned when a breaker rejects a call without
	// invoking the wrapped function.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrRetriesExhausted is returned when every retry attempt failed.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrMalformedReply marks a non-retryable parse or schema failure.
	ErrMalformedReply = errors.New("malformed external reply")
)

// StatusError represents an HTTP-like failure with an optional Retry-After
// hint. A 429 carrying RetryAfter overrides the exponential backoff sleep.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status code indicates a transient failure.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// An open breaker is a fail-fast condition, never retried.
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, ErrMalformedReply) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}

	errStr := err.Error()
	if containsAny(errStr,
		"connection refused",
		"connection reset",
		"timeout",
		"deadline exceeded",
		"temporary failure",
		"too many requests",
		"rate limit",
	) {
		return true
	}

	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if containsMiddle(s, sub) {
			return true
		}
	}
	return false
}

func containsMiddle(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
