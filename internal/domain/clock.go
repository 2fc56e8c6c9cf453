package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock is a package-level time source so tests can freeze "now" via SetClock.
// Production code uses the real clock; tests inject a fake for deterministic
// classification and staleness decisions.
var clock = clockwork.NewRealClock()

// SetClock swaps the package time source. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Now returns the package clock's current time in UTC.
func Now() time.Time {
	return clock.Now().UTC()
}
