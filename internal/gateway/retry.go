package gateway

import (
	"context"
	"time"

	"github.com/newthinker/tinkclaw/internal/backoff"
	"github.com/newthinker/tinkclaw/internal/core"
)

// RetryPolicy bounds caller-controlled retries of transient failures.
type RetryPolicy struct {
	Attempts int
	Backoff  backoff.Exponential
}

// DefaultRetry retries a transient failure twice.
func DefaultRetry() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Backoff:  backoff.Exponential{Base: 500 * time.Millisecond, Cap: 5 * time.Second, Jitter: 100 * time.Millisecond},
	}
}

// Retry runs fn until it succeeds, returns a non-transient error, or the
// attempts are used up. Quota and auth failures are returned immediately.
func Retry(ctx context.Context, p RetryPolicy, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for n := 0; n < attempts; n++ {
		err = fn(ctx)
		if err == nil || !core.IsRetryable(err) {
			return err
		}
		if n == attempts-1 {
			break
		}
		timer := time.NewTimer(p.Backoff.Delay(n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
