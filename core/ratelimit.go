package core

import (
	"time"

	"golang.org/x/time/rate"
)

// ratelimit.go wraps golang.org/x/time/rate for ingress's per-client rate
// limit. golang.org/x/time/rate.Limiter.AllowN takes an
// explicit `now time.Time` rather than always reading the wall clock, which
// is what lets this stay deterministic under the injectable MonoClock used
// everywhere else in this package (production and test code both derive
// `now` from the same Clock, never from time.Now directly).
type clientLimiter struct {
	limiter *rate.Limiter
}

// epochFromMs converts a monotonic-millisecond reading into the time.Time
// golang.org/x/time/rate expects. The absolute epoch is arbitrary and
// private to this conversion; only relative spacing matters to the limiter.
func epochFromMs(ms int64) time.Time {
	return time.Unix(0, ms*int64(time.Millisecond))
}

// newClientLimiter builds a limiter that allows at most one input every
// intervalMs, with no burst beyond the single slot.
func newClientLimiter(intervalMs int) *clientLimiter {
	if intervalMs <= 0 {
		intervalMs = 1
	}
	return &clientLimiter{limiter: rate.NewLimiter(rate.Every(time.Duration(intervalMs)*time.Millisecond), 1)}
}

// allow reports whether an input arriving at nowMs is within the rate limit.
func (c *clientLimiter) allow(nowMs int64) bool {
	return c.limiter.AllowN(epochFromMs(nowMs), 1)
}
