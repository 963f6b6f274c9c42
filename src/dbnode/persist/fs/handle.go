// Copyright (c) 2016 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package fs

import (
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/chronosdb/chronos/src/x/checked"
)

// Handle is a leased TableReader. Closing it normally returns the reader
// to the pool; only when the pool has closed out from under it, or the
// pool itself closed mid-acquisition, does Close perform the underlying
// reader's physical Close.
type Handle struct {
	checked.FinalizeableOnce

	TableReader

	pool     *Pool
	entry    *entry
	slot     int
	owner    CallerID
	table    string
	orphaned atomic.Bool
}

// Close returns the handle to the pool, or physically closes its reader
// if the handle was orphaned (see Pool.publish) or the pool has since
// been closed and lost the race documented in Pool.returnToPool. Close is
// idempotent: every call after the first is a no-op.
func (h *Handle) Close() error {
	if !h.TryFinalize() {
		return nil
	}

	// Passivate suspends background work but must not release file
	// descriptors -- a pooled reader may be reactivated by the next Get.
	passivateErr := h.TableReader.Passivate()

	if h.orphaned.Load() {
		h.releaseSlotBestEffort()
		return multierr.Combine(passivateErr, h.TableReader.Close())
	}

	return multierr.Combine(passivateErr, h.pool.returnToPool(h))
}

// releaseSlotBestEffort clears the handle's slot bookkeeping for an
// orphaned handle whose reader is not held in entry.readers, so BusyCount
// and Entries don't report it as owned forever. It only touches the slot
// if it still belongs to this handle.
func (h *Handle) releaseSlotBestEffort() {
	if h.entry.allocations[h.slot].CAS(int64(h.owner), unallocated) {
		h.entry.touched[h.slot].Store(microsOf(h.pool.now()))
	}
}
