package billing

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is a bounded retry with fixed backoff. Handlers receive it
// explicitly instead of sleeping inline, so the retry budget is visible at
// the call site and trivial to shrink in tests.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultMappingRetry bounds the external-customer lookup retry: the
// subscription event can race the provider's customer-creation call, so a
// few short attempts are worth it before escalating to provider redelivery.
func DefaultMappingRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 500 * time.Millisecond}
}

// Do runs op up to MaxAttempts times with a fixed delay between attempts.
// The last error is returned once the budget is exhausted.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1)),
		ctx,
	)
	return backoff.Retry(op, policy)
}
