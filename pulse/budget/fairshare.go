// Package budget splits the global calls-per-second budget across service
// instances and enforces the local share inside one process.
package budget

import (
	"sync/atomic"

	"github.com/teranos/dialpulse/errors"
)

// FairShare returns the calls-per-second owed to the instance at 0-based
// ordinal position among instances peers sharing global. The first
// global mod instances positions get one extra, so the shares always sum to
// global. instances < 1 is treated as a lone instance.
func FairShare(global, instances, position int) int {
	if global <= 0 {
		return 0
	}
	if instances < 1 {
		instances = 1
	}
	base := global / instances
	remainder := global - base*instances
	if position < remainder {
		return base + 1
	}
	return base
}

// CPS holds the global calls-per-second budget. The config watcher swaps it
// at runtime; dispatch loops read it every tick.
type CPS struct {
	global atomic.Int64
}

// NewCPS creates a budget holder starting at global
func NewCPS(global int) (*CPS, error) {
	c := &CPS{}
	if err := c.Set(global); err != nil {
		return nil, err
	}
	return c, nil
}

// Set replaces the global budget
func (c *CPS) Set(global int) error {
	if global < 0 {
		return errors.Wrapf(errors.ErrInvalidRequest, "global cps must be >= 0, got %d", global)
	}
	c.global.Store(int64(global))
	return nil
}

// Global returns the current global budget
func (c *CPS) Global() int {
	return int(c.global.Load())
}

// Local returns this instance's share of the current global budget
func (c *CPS) Local(instances, position int) int {
	return FairShare(c.Global(), instances, position)
}
