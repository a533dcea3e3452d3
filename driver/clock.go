package driver

// A TimeTeller reports the current simulator time.
type TimeTeller interface {
	Now() uint64
}

// ManualClock is a TimeTeller that only moves when told to.
type ManualClock struct {
	now uint64
}

// Now returns the current time.
func (c *ManualClock) Now() uint64 {
	return c.now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t uint64) {
	c.now = t
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d uint64) {
	c.now += d
}
