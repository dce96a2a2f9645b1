package core

import "github.com/benbjohnson/clock"

// Clock abstracts wall-clock and monotonic timing so the tick loop, the
// ingress rate limiter, and the override registry's expiry checks can be
// driven deterministically in tests without sleeping real time.
//
// Production code uses clock.New() (a thin wrapper over the time package);
// tests use clock.NewMock() and advance it explicitly.
type Clock = clock.Clock

// NewClock returns the production clock backed by the real time package.
func NewClock() Clock { return clock.New() }

// NewMockClock returns a fake clock for deterministic tests. Callers advance
// it with mock.Add(d) or mock.Set(t); the mock starts at the Unix epoch.
func NewMockClock() *clock.Mock { return clock.NewMock() }
