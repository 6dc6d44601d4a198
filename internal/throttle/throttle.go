// Package throttle bounds the rate of remote storage operations so bulk
// synchronizations do not overwhelm shared services.
package throttle

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle caps sustained operations per second using a token bucket.
// Tokens refill at the configured rate; burst is the bucket capacity and
// controls how many operations may start back to back.
//
// All methods are safe for concurrent use.
type Throttle struct {
	limiter *rate.Limiter
}

// New creates a throttle allowing opsPerSecond sustained operations with
// the given burst capacity. A zero opsPerSecond disables throttling; a
// zero burst defaults to the sustained rate.
func New(opsPerSecond, burst uint) *Throttle {
	if opsPerSecond == 0 {
		// rate.Inf has edge cases around burst handling, so use a rate
		// no transfer workload will reach.
		opsPerSecond = 1_000_000_000
		burst = opsPerSecond
	}
	if burst == 0 {
		burst = opsPerSecond
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(opsPerSecond), int(burst))}
}

// Wait blocks until the next operation may start or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// Allow reports whether an operation may start immediately, consuming a
// token when it may.
func (t *Throttle) Allow() bool {
	return t.limiter.Allow()
}

// SetRate adjusts the sustained rate. A zero rate disables throttling.
func (t *Throttle) SetRate(opsPerSecond uint) {
	if opsPerSecond == 0 {
		opsPerSecond = 1_000_000_000
	}
	t.limiter.SetLimit(rate.Limit(opsPerSecond))
	if uint(t.limiter.Burst()) < opsPerSecond {
		t.limiter.SetBurst(int(opsPerSecond))
	}
}
