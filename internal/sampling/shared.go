// Package sampling runs the periodic loops that feed the sample history.
//
// The loops never share ambient globals. Everything they exchange is passed
// to their constructors as explicit handles:
//
//   - *history.Guarded[float64]: the rolling sample history (mutex)
//   - *CapacityRequest: desired history capacity, last write wins (atomic)
//   - *DipCounter: dip count over the current window, overwritten (atomic)
//
// Shutdown is cooperative through context cancellation, observed at the top
// of every iteration and while waiting for the next tick.
package sampling

import (
	"sync/atomic"

	"lightmeter/internal/history"
)

// CapacityRequest is a single-slot mailbox for the desired history capacity.
//
// Zero means no change has been requested. It is not a queue: a newer
// request silently supersedes an older one that was not applied yet.
type CapacityRequest struct {
	v atomic.Int64
}

// Publish records n as the desired capacity. Values outside
// [1, history.MaxCapacity] are ignored, so a pending request is never replaced
// by "no change" or by a size the history would reject. Publish reports
// whether n was recorded.
func (c *CapacityRequest) Publish(n int) bool {
	if n < 1 || n > history.MaxCapacity {
		return false
	}
	c.v.Store(int64(n))
	return true
}

// Load returns the pending capacity, or 0 when none was ever published.
func (c *CapacityRequest) Load() int {
	return int(c.v.Load())
}

// DipCounter holds the most recent dip count.
type DipCounter struct {
	v atomic.Int64
}

// Store overwrites the count.
func (d *DipCounter) Store(n int) { d.v.Store(int64(n)) }

// Load returns the last stored count.
func (d *DipCounter) Load() int { return int(d.v.Load()) }
