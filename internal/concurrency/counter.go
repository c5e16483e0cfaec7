package concurrency

import "sync/atomic"

// Counter is a goroutine-safe int64 counter.
type Counter struct {
	v atomic.Int64
}

// Inc adds one and returns the new value.
func (c *Counter) Inc() int64 { return c.v.Add(1) }

// Dec subtracts one and returns the new value.
func (c *Counter) Dec() int64 { return c.v.Add(-1) }

// Add adds n and returns the new value.
func (c *Counter) Add(n int64) int64 { return c.v.Add(n) }

// Load returns the current value.
func (c *Counter) Load() int64 { return c.v.Load() }

// Store sets the value.
func (c *Counter) Store(n int64) { c.v.Store(n) }
