// Package slots converts time into the discrete slots blocks are forged in.
package slots

import "time"

// BlockTimeFunc returns the slot interval in force at the specified height.
type BlockTimeFunc func(height uint64) time.Duration

// Clock calculates slots relative to the epoch of the chain.
type Clock struct {
	epoch     time.Time
	blockTime BlockTimeFunc
	now       func() time.Time
}

// Option configures a Clock.
type Option func(*Clock)

// WithNow replaces the source of the current time.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) {
		c.now = now
	}
}

// New constructs a clock for the chain epoch and block time schedule.
func New(epoch time.Time, blockTime BlockTimeFunc, options ...Option) *Clock {
	c := Clock{
		epoch:     epoch,
		blockTime: blockTime,
		now:       time.Now,
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	return c.now()
}

// BlockTime returns the slot interval in force at the specified height.
func (c *Clock) BlockTime(height uint64) time.Duration {
	return c.blockTime(height)
}

// Slot returns the slot the time falls in, using the interval in force at
// the specified height. Times before the epoch are in slot 0.
func (c *Clock) Slot(t time.Time, height uint64) uint64 {
	return SlotOf(c.epoch, t, c.blockTime(height))
}

// TimeUntilNextSlot returns how long until the slot after the one the time
// falls in starts.
func (c *Clock) TimeUntilNextSlot(t time.Time, height uint64) time.Duration {
	interval := c.blockTime(height)
	next := c.epoch.Add(time.Duration(SlotOf(c.epoch, t, interval)+1) * interval)

	return next.Sub(t)
}

// SlotOf calculates the slot for the time given the epoch and interval.
func SlotOf(epoch, t time.Time, interval time.Duration) uint64 {
	if interval <= 0 || t.Before(epoch) {
		return 0
	}

	return uint64(t.Sub(epoch) / interval)
}
