package stage

import "sync/atomic"

// CancelFlag is the process-wide cancel flag of spec §5/§9: a single
// atomic boolean shared by every Stage Worker in a pipeline. Every
// worker polls it between iterations; setting it (and cancelling the
// input buffer) is the canonical shutdown path.
type CancelFlag struct {
	set atomic.Bool
}

// NewCancelFlag returns a fresh, unset cancel flag.
func NewCancelFlag() *CancelFlag {
	return &CancelFlag{}
}

// Set marks the flag. Idempotent.
func (c *CancelFlag) Set() { c.set.Store(true) }

// IsSet reports whether Set has been called.
func (c *CancelFlag) IsSet() bool { return c.set.Load() }
