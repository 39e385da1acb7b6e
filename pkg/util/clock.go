package util

import (
    "sync"
    "time"
)

// Clock abstracts wall time so that expiry and settlement can be driven by tests.
type Clock interface {
    Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ManualClock only moves when told to.
type ManualClock struct {
    mu  sync.Mutex
    now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
    return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *ManualClock) Advance(d time.Duration) time.Time {
    c.mu.Lock()
    defer c.mu.Unlock()
    c.now = c.now.Add(d)
    return c.now
}

func (c *ManualClock) Set(t time.Time) {
    c.mu.Lock()
    c.now = t
    c.mu.Unlock()
}
