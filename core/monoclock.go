package core

import "time"

// MonoClock converts a Clock's wall-clock readings into a monotonic integer
// timeline: milliseconds elapsed since the clock was created. Wall-clock
// time is reserved for logging only; every piece of aggregation/override/
// tick arithmetic in this package uses MonoClock.NowMs.
type MonoClock struct {
	clock Clock
	start time.Time
}

// NewMonoClock anchors a MonoClock's epoch to clock's current reading.
func NewMonoClock(clock Clock) *MonoClock {
	return &MonoClock{clock: clock, start: clock.Now()}
}

// NowMs returns the number of milliseconds elapsed since the MonoClock was
// created.
func (m *MonoClock) NowMs() int64 {
	return m.clock.Now().Sub(m.start).Milliseconds()
}

// Underlying returns the wrapped Clock, for components (tickers, timers)
// that need the full Clock interface rather than just NowMs.
func (m *MonoClock) Underlying() Clock { return m.clock }
