package snowflake

import "time"

// Clock is the generator's only external input.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock reads wall-clock time, so NTP steps backwards are visible to
// the generator and handled by its drift policy.
var SystemClock Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// MonotonicClock is aligned with wall-clock time once, when it is created,
// and then advances with the process monotonic clock. Backward wall-clock
// adjustments are never observed; forward ones are ignored too, so long
// running processes slowly diverge from wall time.
func MonotonicClock() Clock {
	start := time.Now() // keeps the monotonic reading
	return &monotonicClock{start: start, wall: start.Round(0)}
}

type monotonicClock struct {
	start time.Time
	wall  time.Time
}

func (c *monotonicClock) Now() time.Time        { return c.wall.Add(time.Since(c.start)) }
func (c *monotonicClock) Sleep(d time.Duration) { time.Sleep(d) }
