// Package setpoint holds the last control value received from any client.
package setpoint

import "sync"

// Cell is a single-slot, concurrency-safe holder for the most recent
// setpoint. It starts unset and, once set, never reverts to unset.
//
// The zero value is ready to use.
type Cell struct {
	mu    sync.RWMutex
	value float64
	set   bool
}

func New() *Cell {
	return &Cell{}
}

// Store overwrites the current value. Last write wins.
func (c *Cell) Store(v float64) {
	c.mu.Lock()
	c.value = v
	c.set = true
	c.mu.Unlock()
}

// Load returns the current value and whether one has ever been stored.
func (c *Cell) Load() (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.set
}
