package openai

import (
	"context"
	"errors"
	"time"
)

// retryPolicy bounds and paces retries for one provider call site. Backoff
// scales linearly with the attempt number; rate-limit responses get their
// own, longer delay schedule within the same attempt budget.
type retryPolicy struct {
	maxAttempts    int
	baseDelay      time.Duration
	rateLimitDelay time.Duration
}

// do runs fn until it succeeds, the attempt budget is exhausted, or ctx is
// cancelled. The returned error is the last classified failure, so callers
// can branch on the failure kind after exhaustion.
func (p retryPolicy) do(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = classify(fn())
		if lastErr == nil {
			return nil
		}
		if attempt == p.maxAttempts {
			break
		}

		delay := p.baseDelay * time.Duration(attempt)
		var rl *RateLimitError
		if errors.As(lastErr, &rl) {
			delay = p.rateLimitDelay * time.Duration(attempt)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}
