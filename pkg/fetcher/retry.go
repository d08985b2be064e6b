package fetcher

import (
	"context"
	"errors"
	"time"
)

// Upstream dumps are fetched once per cycle, so a failed download costs a
// whole FREQUENCY interval. A short in-call retry burst smooths over blips
// without amounting to the in-run retry loop the error contract rules out.
const (
	fetchAttempts     = 3
	fetchInitialDelay = time.Second
)

// RetryableError marks a failure as transient: network timeouts and 5xx
// responses from the upstream mirror. Only errors wrapped in this type are
// retried; anything else (4xx, malformed payloads) aborts immediately.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// FetchRetry runs one download attempt with the fetcher's standard retry
// policy: up to three tries, one-second initial delay, doubling between
// attempts.
func FetchRetry(ctx context.Context, fn func() error) error {
	return Retry(ctx, fetchAttempts, fetchInitialDelay, fn)
}

// Retry executes fn up to attempts times with exponential backoff,
// retrying only [RetryableError] failures. It returns the last error if
// every attempt fails, or ctx.Err() when cancelled mid-backoff.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	attempts = max(attempts, 1)
	var lastErr error

	for i := range attempts {
		if err := fn(); err == nil {
			return nil
		} else if lastErr = err; !isRetryable(err) {
			return err
		}

		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	return errors.As(err, new(*RetryableError))
}
