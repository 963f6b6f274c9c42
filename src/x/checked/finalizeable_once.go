// Package checked provides a small guard for enforcing single-fire
// finalization, the way m3db's src/x/checked package guards a pooled
// object's Finalize against being run more than once.
package checked

import "go.uber.org/atomic"

// FinalizeableOnce tracks whether an object has been finalized (closed,
// released, destroyed -- whatever "finalize" means for the embedder) and
// lets the embedder enforce that it happens at most once.
type FinalizeableOnce struct {
	finalized atomic.Bool
}

// Finalized returns true iff the object has been finalized.
func (c *FinalizeableOnce) Finalized() bool {
	return c.finalized.Load()
}

// SetFinalized sets the finalized flag directly, without the CAS
// enforcement TryFinalize provides. Kept for callers that already know
// they hold exclusive access (e.g. during construction).
func (c *FinalizeableOnce) SetFinalized(f bool) {
	c.finalized.Store(f)
}

// TryFinalize atomically transitions from not-finalized to finalized and
// reports whether this call won that transition. Only the caller that
// wins may perform the actual finalization work; every other caller
// (including concurrent ones) must treat the call as a no-op.
func (c *FinalizeableOnce) TryFinalize() bool {
	return c.finalized.CAS(false, true)
}
