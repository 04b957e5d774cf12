// Package clock provides the wall-clock source used throughout the mesh
// routing subsystem for TTL checks, inactivity timeouts, and usage
// timestamps. All times are milliseconds since the UNIX epoch, matching the
// wire format's max_ttl_absolute_millis and last_used_timestamp fields.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time in epoch milliseconds. The zero value is
// not usable; construct with New.
type Clock struct {
	mu    sync.Mutex
	nowFn func() int64 // overridable for testing
}

// New creates a Clock backed by the system clock.
func New() *Clock {
	return &Clock{
		nowFn: func() int64 {
			return time.Now().UnixMilli()
		},
	}
}

// NowMillis returns the current time in epoch milliseconds.
func (c *Clock) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowFn()
}

// SetNowFn overrides the time source, for deterministic tests that need to
// control TTL expiry and inactivity-window boundaries exactly.
func (c *Clock) SetNowFn(fn func() int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowFn = fn
}
