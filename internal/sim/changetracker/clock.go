package changetracker

import "sync/atomic"

// Clock yields the current simulation tick. It never decreases.
type Clock interface {
	Now() int
}

// TickCounter is a Clock advanced by the host once per simulation step.
type TickCounter struct {
	tick atomic.Int64
}

func NewTickCounter(start int) *TickCounter {
	c := &TickCounter{}
	c.tick.Store(int64(start))
	return c
}

func (c *TickCounter) Now() int { return int(c.tick.Load()) }

// Advance moves the clock one tick forward and returns the new tick.
func (c *TickCounter) Advance() int { return int(c.tick.Add(1)) }

// Set jumps to tick, ignoring values that would move the clock backwards.
func (c *TickCounter) Set(tick int) {
	for {
		cur := c.tick.Load()
		if int64(tick) <= cur {
			return
		}
		if c.tick.CompareAndSwap(cur, int64(tick)) {
			return
		}
	}
}
