package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// BaseBackoff is the delay before the first retry; it doubles per attempt.
const BaseBackoff = 500 * time.Millisecond

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Retry stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn up to 1+retries times with exponential backoff between
// attempts. It stops early on success, on a Permanent error, or when ctx ends.
func Retry(ctx context.Context, retries int, fn func(ctx context.Context) error) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}

		// Backoff before retries, not before the first attempt
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * BaseBackoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return fmt.Errorf("non-retriable error: %w", perm.err)
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
