package core

import "sync/atomic"

// Clock stamps every committed mutation with its seq.
//
// Notifications, journal rows and trace events are ordered by that seq,
// never by wall time. Settle also reads it: the Store is quiescent once a
// Flush completes without the seq having moved.
type Clock struct {
	seq atomic.Int64
}

// NewClock returns a clock whose first stamp is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt returns a clock whose first stamp is start+1, so a second Store
// writing to the same journal continues the numbering.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next stamps one mutation.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current is the seq of the latest committed mutation, 0 before any.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
