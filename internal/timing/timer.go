// Package timing measures wall-clock elapsed time for tasks and runs.
package timing

import (
	"time"

	"github.com/JakeFAU/figure-exporter/internal/export"
)

// Timer records a start instant against a Clock.
type Timer struct {
	clock export.Clock
	start time.Time
}

// Start returns a Timer anchored at clock.Now().
func Start(clock export.Clock) Timer {
	return Timer{clock: clock, start: clock.Now()}
}

// Started reports the anchor instant.
func (t Timer) Started() time.Time {
	return t.start
}

// Elapsed returns the time since Start, never negative.
func (t Timer) Elapsed() time.Duration {
	if t.clock == nil {
		return 0
	}
	d := t.clock.Now().Sub(t.start)
	if d < 0 {
		return 0
	}
	return d
}
