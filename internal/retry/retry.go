// Package retry provides the single retry policy used by outbound network
// calls: bounded attempts, exponential backoff with a cap, and a hook for
// provider-supplied retry-after delays.
package retry

import (
	"context"
	"fmt"
	"time"
)

const backoffFactor = 2

// Policy describes how an outbound call is retried. The zero value never
// retries; use New for a usable policy.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BaseDelay is the delay before the first retry; it doubles per attempt.
	BaseDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
	// RetryAfter extracts a provider-mandated delay from an error (for
	// example a 429 Retry-After header). When it reports true, its delay
	// replaces the computed backoff for that attempt.
	RetryAfter func(err error) (time.Duration, bool)
	// Retryable reports whether an error is worth retrying at all. A nil
	// Retryable treats every error as retryable.
	Retryable func(err error) bool
}

// New creates a policy with the given attempt budget and backoff bounds.
func New(maxAttempts int, baseDelay, maxDelay time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		RetryAfter:  nil,
		Retryable:   nil,
	}
}

// Do runs operation until it succeeds, the attempt budget is exhausted, the
// error is not retryable, or the context is cancelled. The last error is
// returned annotated with the attempt count. A non-positive MaxAttempts still
// runs the operation once.
func (p Policy) Do(ctx context.Context, operation func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}

		if attempt == p.MaxAttempts {
			break
		}

		waitErr := p.wait(ctx, attempt, lastErr)
		if waitErr != nil {
			return waitErr
		}
	}

	return fmt.Errorf("after %d attempts: %w", p.MaxAttempts, lastErr)
}

func (p Policy) wait(ctx context.Context, attempt int, lastErr error) error {
	delay := p.backoff(attempt)

	if p.RetryAfter != nil {
		if providerDelay, ok := p.RetryAfter(lastErr); ok {
			delay = providerDelay
		}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (p Policy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= backoffFactor
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}

	return delay
}
