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

import "go.uber.org/atomic"

const (
	unallocated   int64 = -1
	unlockedOwner int64 = -1
)

// growthState guards whether an entry's chain may still be extended.
// Transitions are one-way: open -> allocated (a grower won the CAS and
// publishes next) or open -> locked (Lock forbade further growth).
type growthState int32

const (
	growthOpen growthState = iota
	growthAllocated
	growthLocked
)

// entryLink is the fixed concrete type stored in entry.nextRef so that
// atomic.Value never sees two different concrete types (which panics).
type entryLink struct {
	next *entry
}

// entry is one fixed-capacity segment of a table's chain. Every word
// described here is touched exclusively through atomic CAS/load/store;
// the pool holds no mutex over any of it.
type entry struct {
	index       int
	allocations [EntrySize]atomic.Int64
	touched     [EntrySize]atomic.Int64
	// readers is mutated only by whichever caller currently owns
	// allocations[i] (or, transiently, by the lock holder -- which by
	// definition owns every slot). Visibility to the next owner is
	// established by the acquire/release pair on allocations[i].
	readers   [EntrySize]TableReader
	lockOwner atomic.Int64
	growth    atomic.Int32
	nextRef   atomic.Value
}

func newEntry(index int) *entry {
	e := &entry{index: index}
	for i := range e.allocations {
		e.allocations[i].Store(unallocated)
	}
	e.lockOwner.Store(unlockedOwner)
	e.nextRef.Store(&entryLink{})
	return e
}

func (e *entry) loadNext() *entry {
	return e.nextRef.Load().(*entryLink).next
}

func (e *entry) publishNext(next *entry) {
	e.nextRef.Store(&entryLink{next: next})
}

// tryAcquireSlot performs the lock-free scan described in spec §4.1 step
// 4: try every slot once, in order, return the first one CAS'd from
// unallocated to caller. No retry on a slot a CAS loses -- the caller just moves on.
func (e *entry) tryAcquireSlot(caller CallerID) (int, bool) {
	for i := 0; i < EntrySize; i++ {
		if e.allocations[i].CAS(unallocated, int64(caller)) {
			return i, true
		}
	}
	return -1, false
}
