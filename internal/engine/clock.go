package engine

import "sync/atomic"

// Clock stamps committed events with a strictly increasing sequence number.
//
// Sequence numbers, not wall-clock time, order the event stream. A clock
// resumed with NewClockAt continues the journal's numbering after a reload.
//
// Clock is safe for concurrent use, though only the mutation path calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next value is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next increments the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
