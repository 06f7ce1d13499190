package engine

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

const defaultRetryBackoff = 2 * time.Second

// newRetryPolicy retries a provider call once on transport errors and
// retryable API errors. Client errors (4xx other than 429) fail fast.
func newRetryPolicy(backoff time.Duration) retrypolicy.RetryPolicy[string] {
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	return retrypolicy.NewBuilder[string]().
		HandleIf(func(_ string, err error) bool {
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			var ae *APIError
			if errors.As(err, &ae) {
				return ae.Retryable()
			}
			return true
		}).
		WithMaxRetries(1).
		WithBackoff(backoff, 2*backoff).
		ReturnLastFailure().
		Build()
}

// withRetry runs fn under policy, bound to ctx.
func withRetry(ctx context.Context, policy retrypolicy.RetryPolicy[string], fn func(ctx context.Context) (string, error)) (string, error) {
	return failsafe.With(policy).WithContext(ctx).Get(func() (string, error) {
		return fn(ctx)
	})
}
