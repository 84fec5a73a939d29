package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/codeforge/orchestrator/internal/orcherr"
)

// RetryConfig implements spec §4.2's retry policy: up to MaxAttempts
// attempts in total, counting the first, with a delay of 2^n * BaseDelay
// before retry n (n=1,2,...). MaxAttempts 3 therefore makes at most two
// retries, sleeping 2s and then 4s at the default BaseDelay; no third
// retry and no 8s delay occur. The schedule is produced by
// cenkalti/backoff/v5's ExponentialBackOff with randomization disabled
// instead of that library's normally-jittered default.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration // delay(n) = 2^n * BaseDelay; spec default BaseDelay = 1s
}

// DefaultRetryConfig returns 3 attempts with a 1s BaseDelay (sleeps of 2s
// and 4s between them).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Second}
}

// backOff builds the ExponentialBackOff driving the retry loop: initial
// interval 2*BaseDelay, doubling each attempt, no randomization or
// elapsed-time cap (the caller's own deadline bounds the whole call per
// spec §4.2).
func (c RetryConfig) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * c.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return b
}

// Retry runs fn up to cfg.MaxAttempts times, retrying only errors classified
// as retryable by orcherr.IsRetryable (spec: "non-transient failures ...
// do not retry"), sleeping the exponential schedule between attempts via
// cenkalti/backoff/v5 and honoring ctx cancellation during the sleep.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		callErr := fn(ctx)
		if callErr == nil {
			return struct{}{}, nil
		}
		if !orcherr.IsRetryable(callErr) {
			return struct{}{}, backoff.Permanent(callErr)
		}
		return struct{}{}, callErr
	}, backoff.WithBackOff(cfg.backOff()), backoff.WithMaxTries(uint(cfg.MaxAttempts)))
	return err
}

// RetryWithBreaker composes retry inside a circuit breaker, exactly as
// spec.md §4.2 specifies ("retry inside circuit breaker"): the breaker
// wraps each individual attempt, so an Open breaker short-circuits
// remaining retries for this call immediately rather than waiting out the
// full retry budget against a known-down endpoint.
func RetryWithBreaker(ctx context.Context, cfg RetryConfig, b *Breaker, fn func(ctx context.Context) error) error {
	return Retry(ctx, cfg, func(ctx context.Context) error {
		return b.Execute(ctx, fn)
	})
}
