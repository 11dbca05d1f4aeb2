package reasoning

import (
	"context"
	"math"
	"time"
)

// BackoffPolicy defines exponential backoff between retry attempts.
type BackoffPolicy struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

// DefaultBackoff is the policy for reasoning-backend retries:
// 2s base, doubling per attempt.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{Base: 2 * time.Second, Factor: 2, Max: 30 * time.Second}
}

// Delay returns the backoff before the given attempt. Attempts are
// 1-indexed; attempt 1 has no delay.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := time.Duration(float64(p.Base) * math.Pow(p.Factor, float64(attempt-2)))
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// sleep waits for the attempt's backoff or until ctx is cancelled.
func (p BackoffPolicy) sleep(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
