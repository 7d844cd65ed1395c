package poh

import (
	"runtime"
	"time"
)

// enforceTiming blocks until the next rev deadline. Waits longer than the
// spin threshold sleep for all but the last threshold, which is spent
// polling the clock because OS sleeps overshoot sub-millisecond deadlines.
// A missed deadline returns immediately with the overrun.
func (s *Sequencer) enforceTiming() time.Duration {
	target := time.Duration(s.nextRevTargetUS) * time.Microsecond
	elapsed := time.Since(s.startTime)
	if elapsed >= target {
		return elapsed - target
	}

	if wait := target - elapsed; wait > s.spin {
		time.Sleep(wait - s.spin)
	}
	for time.Since(s.startTime) < target {
		runtime.Gosched()
	}
	return 0
}
