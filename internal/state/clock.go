package state

import (
	"sync/atomic"
	"time"
)

// Clock is the host-controlled monotonic clock driving both timelocks.
// Time advances only through the host's own progression; the core never
// sleeps or schedules callbacks.
type Clock interface {
	Now() int64
}

// WallClock reads the system clock in unix seconds.
type WallClock struct{}

func (WallClock) Now() int64 {
	return time.Now().Unix()
}

// ManualClock is advanced explicitly. Used in tests and replay, where
// time must be an input rather than an observation.
type ManualClock struct {
	now atomic.Int64
}

func NewManualClock(start int64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(start)
	return c
}

func (c *ManualClock) Now() int64 {
	return c.now.Load()
}

func (c *ManualClock) Advance(d int64) {
	c.now.Add(d)
}

func (c *ManualClock) Set(t int64) {
	c.now.Store(t)
}
