// Package retry provides a small retry helper with exponential backoff.
package retry

import (
	"context"
	"time"
)

// Policy controls how an operation is retried. The zero value is not usable;
// construct policies with explicit fields or use NetworkPolicy.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether a given failure is worth another attempt.
	// A nil predicate retries every error.
	Retryable func(error) bool
}

// NetworkPolicy returns the retry policy used for catalog and download
// traffic: three attempts with a doubling delay starting at 500ms, capped at
// four seconds.
func NetworkPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    4 * time.Second,
		Retryable:   retryable,
	}
}

// Do runs op until it succeeds, exhausts the policy's attempts, fails with a
// non-retryable error, or the context is cancelled. Cancellation is never
// retried; the last error (or the context's) is returned.
func (p Policy) Do(ctx context.Context, op func() error) error {
	delay := p.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return lastErr
}
