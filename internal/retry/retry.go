// Package retry wraps persistence-boundary calls in a bounded exponential
// backoff. It is deliberately not applied to decision logic: only reads and
// writes against providers and Redis are retried.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Do runs op, retrying transient failures up to maxAttempts total tries with
// exponential backoff seeded by initial. Context cancellation stops retrying.
func Do(ctx context.Context, maxAttempts int, initial time.Duration, op func() error) error {
	if maxAttempts <= 1 {
		return op()
	}

	b := backoff.NewExponentialBackOff()
	if initial > 0 {
		b.InitialInterval = initial
	}
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx)
	return backoff.Retry(op, policy)
}
