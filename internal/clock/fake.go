package clock

import "time"

// FakeClock is a manually advanced Clock for deterministic period and
// timeout tests. Not safe for concurrent Advance.
type FakeClock struct {
	current time.Time
}

func NewFakeClock(at time.Time) *FakeClock {
	return &FakeClock{current: at.UTC()}
}

func (c *FakeClock) Now() time.Time { return c.current }

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}
