package core

import "github.com/benbjohnson/clock"

// clockFixture bundles a mock clock with the MonoClock wrapping it, so tests
// can advance time deterministically and read back monotonic milliseconds.
type clockFixture struct {
	clock *clock.Mock
	mono  *MonoClock
}

func newClockFixture() *clockFixture {
	mock := clock.NewMock()
	return &clockFixture{clock: mock, mono: NewMonoClock(mock)}
}
