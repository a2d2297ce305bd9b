// Package retrier runs operations with bounded exponential backoff.
package retrier

import (
	"context"
	"time"

	"github.com/kozaktomas/face-gate/internal/apperr"
	"github.com/sethvargo/go-retry"
)

// Policy bounds how often and how fast an operation is retried.
type Policy struct {
	MaxRetries uint64
	Base       time.Duration
	MaxDelay   time.Duration
}

// DefaultPolicy retries three times starting at 100ms.
var DefaultPolicy = Policy{MaxRetries: 3, Base: 100 * time.Millisecond, MaxDelay: 2 * time.Second}

func (p Policy) backoff() retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = DefaultPolicy.Base
	}
	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	return retry.WithMaxRetries(p.MaxRetries, b)
}

// Do runs fn until it succeeds, fails with a non-retryable error (see apperr.Retryable),
// the retries are exhausted, or ctx is done. The last error is returned unwrapped.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && apperr.Retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
