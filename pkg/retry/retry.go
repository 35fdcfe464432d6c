package retry

import (
	"context"
	"time"
)

// Classifier inspects an error and reports whether it is worth retrying and,
// when the server mandated a delay (e.g. a 429 Retry-After header), how long
// to wait before the next attempt. A zero delay means "use the backoff".
type Classifier func(err error) (retryable bool, after time.Duration)

// Policy bounds the retry loop around an upstream call.
type Policy struct {
	MaxAttempts int
	Backoff     BackoffStrategy
}

// DefaultPolicy returns the retry policy used for receipt validation calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     DefaultBackoff(),
	}
}

// Do runs fn up to p.MaxAttempts times. Errors classified as non-retryable
// propagate immediately; after the attempt budget the last error is
// returned. The inter-attempt delay suspends only the calling goroutine and
// respects context cancellation, so other validations proceed concurrently.
func Do(ctx context.Context, p Policy, classify Classifier, fn func(context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = DefaultBackoff()
	}
	if classify == nil {
		classify = func(error) (bool, time.Duration) { return true, 0 }
	}

	var lastErr error
	var serverDelay time.Duration

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoff.NextInterval(attempt - 1)
			if serverDelay > 0 {
				delay = serverDelay
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		retryable, after := classify(lastErr)
		if !retryable {
			return lastErr
		}
		serverDelay = after
	}

	return lastErr
}
