// Package retry implements bounded retry with pluggable backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backoff returns the pause before the given retry (1 = first retry).
type Backoff func(retry int) time.Duration

// Policy bounds how often an idempotent operation is attempted.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
	// Retryable reports whether err is worth another attempt. Nil retries
	// every error except context cancellation and Permanent errors.
	Retryable func(err error) bool
	// OnRetry is called before each pause.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Exponential doubles base for every retry: base, 2*base, 4*base...
func Exponential(base time.Duration) Backoff {
	return func(retry int) time.Duration {
		if retry < 1 {
			retry = 1
		}
		return base << (retry - 1)
	}
}

// Default is three attempts with 2s, 4s pauses.
func Default() Policy {
	return Policy{MaxAttempts: 3, Backoff: Exponential(2 * time.Second)}
}

// NoDelay keeps the attempt budget but never sleeps.
func NoDelay(attempts int) Policy {
	return Policy{MaxAttempts: attempts, Backoff: func(int) time.Duration { return 0 }}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ExhaustedError is returned once the attempt budget is spent.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs fn until it succeeds, returns a non-retryable error, the budget is
// exhausted or ctx ends. It returns the number of attempts made.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return attempt - 1, lastErr
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if !p.retryable(lastErr) {
			return attempt, lastErr
		}
		if attempt == maxAttempts {
			break
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, lastErr)
		}
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, lastErr
		case <-timer.C:
		}
	}
	return maxAttempts, &ExhaustedError{Attempts: maxAttempts, Err: lastErr}
}

func (p Policy) retryable(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}
