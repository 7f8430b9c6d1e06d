// Package clock provides the monotonic clock collaborator the engine
// uses for throughput accounting (spec §6.1).
package clock

import "time"

// System is a Clock backed by the runtime's monotonic timer.
type System struct {
	start time.Time
}

// New returns a System clock, its zero point pinned to the moment of
// construction so MonotonicNanos fits comfortably in an int64 for the
// life of a process.
func New() *System {
	return &System{start: time.Now()}
}

// MonotonicNanos returns elapsed nanoseconds since the clock was
// constructed.
func (s *System) MonotonicNanos() int64 {
	return time.Since(s.start).Nanoseconds()
}
