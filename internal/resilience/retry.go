package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/paywatch/payhook-backend/pkg/config"
)

// RetryPolicy bounds the retry loop for a guarded call.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

func (p *RetryPolicy) applyDefaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 200 * time.Millisecond
	}
	if p.MaximumBackoff <= 0 {
		p.MaximumBackoff = 2 * time.Second
	}
}

// RetryPolicyFromConfig lifts the retry knobs out of the resilience section.
func RetryPolicyFromConfig(cfg config.ResilienceConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    cfg.RetryMaxAttempts,
		InitialBackoff: cfg.RetryInitialBackoff,
		MaximumBackoff: cfg.RetryMaximumBackoff,
	}
}

// Retry runs fn up to MaxAttempts times, backing off between attempts. Only
// transient failures are retried; permanent failures and open-circuit errors
// surface immediately. The backoff doubles per attempt, capped at the
// maximum, with jitter so concurrent webhook deliveries fan out.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	policy.applyDefaults()

	backoff := policy.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}

		timer := time.NewTimer(withJitter(backoff))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > policy.MaximumBackoff {
			backoff = policy.MaximumBackoff
		}
	}
	return lastErr
}

// withJitter spreads a backoff over [d/2, d) so retries from parallel
// workers do not land on the dependency at the same instant.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)))
}

// Timeouts derives the per-call deadline for an attempt. Later attempts get
// a longer deadline, capped at the ceiling, because a dependency that timed
// out once is often merely slow rather than down.
func Timeouts(cfg config.ResilienceConfig, attempt int) time.Duration {
	d := cfg.CallTimeout
	if d <= 0 {
		d = 5 * time.Second
	}
	ceiling := cfg.CallTimeoutCeiling
	if ceiling <= 0 {
		ceiling = 4 * d
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return d
}

// Guarded composes a breaker with the retry loop: each attempt passes
// through the breaker so an operation that trips mid-retry stops burning
// attempts against a known-down dependency.
func Guarded(ctx context.Context, b *Breaker, policy RetryPolicy, bulk bool, fn func(ctx context.Context) error) error {
	return Retry(ctx, policy, func(ctx context.Context) error {
		return b.Execute(ctx, bulk, fn)
	})
}
