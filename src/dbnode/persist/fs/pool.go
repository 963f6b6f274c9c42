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
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Pool hands out shared, reusable TableReader handles per table name,
// amortizing the cost of opening a table across many short-lived callers,
// while letting a caller fence off all readers of one table for a rename,
// drop, or schema change. See the package doc for the concurrency design.
type Pool struct {
	opts        Options
	maxSegments int
	closed      atomic.Bool

	// entries maps table name -> *entry (the head of that table's
	// chain). sync.Map is this package's "external lock-free mapping":
	// reads never block, and structural writes (LoadOrStore, Delete)
	// coordinate among themselves without a pool-wide mutex.
	entries sync.Map
}

// NewPool constructs a Pool from opts. opts.ReaderFactory() must be set;
// opts.MaxSegments() must be >= 1.
func NewPool(opts Options) (*Pool, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Pool{
		opts:        opts,
		maxSegments: opts.MaxSegments(),
	}, nil
}

func (p *Pool) now() time.Time {
	return p.opts.ClockOptions().NowFn()()
}

func (p *Pool) nowMicros() int64 {
	return microsOf(p.now())
}

func (p *Pool) emit(code EventCode, caller CallerID, table string, segmentIndex, slotIndex int) {
	p.opts.Listener().OnEvent(Event{
		Code:         code,
		Source:       eventSourceReader,
		CallerID:     caller,
		Table:        table,
		SegmentIndex: segmentIndex,
		SlotIndex:    slotIndex,
	})
	p.opts.InstrumentOptions().MetricsScope().
		Tagged(map[string]string{"event": code.String()}).
		Counter("reader_pool_events").Inc(1)
}

func (p *Pool) headEntry(name string) *entry {
	if v, ok := p.entries.Load(name); ok {
		return v.(*entry)
	}
	fresh := newEntry(0)
	actual, _ := p.entries.LoadOrStore(name, fresh)
	return actual.(*entry)
}

// Get acquires a handle to name's table reader, opening or reactivating
// one as needed. See spec §4.1 for the full algorithm this implements.
func (p *Pool) Get(caller CallerID, name string) (*Handle, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	head := p.headEntry(name)
	if head.lockOwner.Load() != unlockedOwner {
		return nil, ErrLocked
	}

	cur := head
	for {
		if slot, ok := cur.tryAcquireSlot(caller); ok {
			return p.publish(caller, name, cur, slot)
		}

		if cur.index+1 >= p.maxSegments {
			break
		}

		next, ok := p.growOrAdvance(cur)
		if !ok {
			// growth state observed locked: terminal, not a transient race.
			break
		}
		cur = next
	}

	p.emit(EventFull, caller, name, noSegmentIndex, noSlotIndex)
	return nil, ErrUnavailable
}

// growOrAdvance implements spec §4.1 steps 5-6: the CAS winner builds and
// publishes the next entry; losers spin only long enough to observe the
// winner's publish, bounded by exactly one entry construction.
func (p *Pool) growOrAdvance(e *entry) (*entry, bool) {
	for {
		if n := e.loadNext(); n != nil {
			return n, true
		}
		switch growthState(e.growth.Load()) {
		case growthOpen:
			if e.growth.CAS(int32(growthOpen), int32(growthAllocated)) {
				next := newEntry(e.index + 1)
				e.publishNext(next)
				return next, true
			}
		case growthAllocated:
			runtime.Gosched()
		case growthLocked:
			return nil, false
		}
	}
}

// publish finishes acquiring a slot already CAS'd to caller: it opens or
// reactivates the slot's reader and wraps it in a Handle.
func (p *Pool) publish(caller CallerID, name string, e *entry, slot int) (*Handle, error) {
	e.touched[slot].Store(p.nowMicros())

	reader := e.readers[slot]
	created := reader == nil

	if created {
		r, err := p.opts.ReaderFactory()(name)
		if err != nil {
			e.allocations[slot].Store(unallocated)
			return nil, fmt.Errorf("reader pool: open table %q (segment %d, slot %d): %w",
				name, e.index, slot, err)
		}
		reader = r
	} else if err := reader.Reactivate(); err != nil {
		_ = reader.Close()
		e.readers[slot] = nil
		e.allocations[slot].Store(unallocated)
		return nil, fmt.Errorf("reader pool: reactivate table %q: %w", name, err)
	}

	handle := &Handle{
		TableReader: reader,
		pool:        p,
		entry:       e,
		slot:        slot,
		owner:       caller,
		table:       name,
	}

	if p.closed.Load() {
		// The pool closed between our CAS and this publish. Detach the
		// reader instead of leaving it reachable from a closed pool:
		// Handle.Close will perform the physical close itself.
		handle.orphaned.Store(true)
		e.readers[slot] = nil
	} else {
		e.readers[slot] = reader
	}

	if created {
		p.emit(EventCreate, caller, name, e.index, slot)
	} else {
		p.emit(EventGet, caller, name, e.index, slot)
	}
	return handle, nil
}

// returnToPool implements spec §4.2 steps 3-7.
func (p *Pool) returnToPool(h *Handle) error {
	e, i := h.entry, h.slot

	if e.allocations[i].Load() != int64(h.owner) {
		return newCriticalError(p.opts.InstrumentOptions(), "double-close", h.table, errDoubleClose)
	}

	e.touched[i].Store(p.nowMicros())
	e.allocations[i].Store(unallocated)

	if !p.closed.Load() {
		p.emit(EventReturn, h.owner, h.table, e.index, i)
		return nil
	}

	// Pool closed underneath us: race the idle-eviction sweep for the
	// right to physically close this reader. Whichever of us wins the
	// CAS performs the close; the loser does nothing further.
	if e.allocations[i].CAS(unallocated, int64(h.owner)) {
		var err error
		if r := e.readers[i]; r != nil {
			err = r.Close()
			e.readers[i] = nil
		}
		e.allocations[i].Store(unallocated)
		return err
	}
	return nil
}

// Lock fences name: it claims every slot across the table's whole chain,
// closing any resident readers, and blocks the chain from growing further
// or being acquired via Get until Unlock. It is reentrant per CallerID.
// See spec §4.3.
func (p *Pool) Lock(caller CallerID, name string) (bool, error) {
	if p.closed.Load() {
		return false, ErrClosed
	}

	head := p.headEntry(name)

	type lockedEntry struct {
		e        *entry
		claimed  []int
		keepLock bool
	}
	var locked []lockedEntry
	cur := head
	for {
		keepLock := cur.lockOwner.Load() == int64(caller)
		claimed, ok, err := p.lockEntry(cur, caller, name)
		if err != nil {
			return false, err
		}
		if !ok {
			for _, le := range locked {
				p.forceUnlockEntry(le.e, caller, le.claimed, le.keepLock)
			}
			return false, nil
		}
		locked = append(locked, lockedEntry{e: cur, claimed: claimed, keepLock: keepLock})

		next, terminal := p.blockGrowthOrDescend(cur)
		if terminal {
			break
		}
		cur = next
	}

	p.emit(EventLockSuccess, caller, name, head.index, noSlotIndex)
	return true, nil
}

// lockEntry claims every slot of e for caller, returning the indices it
// freshly CAS'd from unallocated (as opposed to slots already owned by
// caller from an earlier, still-valid reentrant Lock call). Only those
// freshly-claimed indices are ever rolled back on failure -- see
// forceUnlockEntry.
func (p *Pool) lockEntry(e *entry, caller CallerID, name string) ([]int, bool, error) {
	fresh := e.lockOwner.CAS(unlockedOwner, int64(caller))
	if !fresh && e.lockOwner.Load() != int64(caller) {
		p.emit(EventLockBusy, caller, name, e.index, noSlotIndex)
		return nil, false, nil
	}

	var claimed []int
	for i := 0; i < EntrySize; i++ {
		if e.allocations[i].CAS(unallocated, int64(caller)) {
			claimed = append(claimed, i)
			if r := e.readers[i]; r != nil {
				_ = r.Close()
				e.readers[i] = nil
				p.emit(EventLockClose, caller, name, e.index, i)
			}
			continue
		}

		if e.allocations[i].Load() == int64(caller) {
			if e.readers[i] != nil {
				// The caller holds a live handle on its own slot: fail
				// rather than close out from under its own reference.
				// claimed never includes i (its CAS above failed, since
				// the slot wasn't unallocated), so rolling claimed back
				// leaves this live handle's slot untouched.
				p.forceUnlockEntry(e, caller, claimed, /*keepLock=*/ !fresh)
				p.emit(EventLockBusy, caller, name, e.index, i)
				return nil, false, nil
			}
			continue
		}

		// Some other caller owns the slot.
		p.forceUnlockEntry(e, caller, claimed, /*keepLock=*/ !fresh)
		p.emit(EventLockBusy, caller, name, e.index, i)
		return nil, false, nil
	}

	return claimed, true, nil
}

// forceUnlockEntry releases exactly the slot indices in claimed -- never a
// blanket scan of every slot owned by caller, which would also release
// slots caller owns via an unrelated live Get handle elsewhere in e.
// Unless keepLock is set (this call found the entry already locked by the
// same caller from an earlier, still-valid Lock call), it also releases
// the entry's lockOwner.
func (p *Pool) forceUnlockEntry(e *entry, caller CallerID, claimed []int, keepLock ...bool) {
	for _, i := range claimed {
		e.allocations[i].CAS(int64(caller), unallocated)
	}
	if len(keepLock) > 0 && keepLock[0] {
		return
	}
	e.lockOwner.Store(unlockedOwner)
}

// blockGrowthOrDescend implements spec §4.3 step 3: forbid the chain from
// growing past e, descending into any entry a concurrent grower already
// published.
func (p *Pool) blockGrowthOrDescend(e *entry) (next *entry, terminal bool) {
	for {
		if n := e.loadNext(); n != nil {
			return n, false
		}
		switch growthState(e.growth.Load()) {
		case growthOpen:
			if e.growth.CAS(int32(growthOpen), int32(growthLocked)) {
				return nil, true
			}
		case growthAllocated:
			runtime.Gosched()
		case growthLocked:
			return nil, true
		}
	}
}

// Unlock releases name's exclusive lock and discards its entire chain, so
// the next Get starts the table fresh. Only the current lock holder may
// call it. See spec §4.4 and the Open Question resolution in DESIGN.md:
// callers must not have any Get in flight on name when calling Unlock.
func (p *Pool) Unlock(caller CallerID, name string) error {
	v, ok := p.entries.Load(name)
	if !ok {
		p.emit(EventNotLocked, caller, name, noSegmentIndex, noSlotIndex)
		return ErrNotLocked
	}

	head := v.(*entry)
	if head.lockOwner.Load() != int64(caller) {
		p.emit(EventNotLockOwner, caller, name, head.index, noSlotIndex)
		return newCriticalError(p.opts.InstrumentOptions(), "unlock-non-owner", name, ErrNotLockOwner)
	}

	p.entries.Delete(name)
	p.emit(EventUnlocked, caller, name, head.index, noSlotIndex)
	return nil
}

// ReleaseAll scans every table's chain and physically closes any resident
// reader whose slot has not been touched since before deadlineMicros. Pass
// deadlineMicros = math.MaxInt64 to drain everything (used by Close). See
// spec §4.5 for the return value's meaning in each mode.
func (p *Pool) ReleaseAll(deadlineMicros int64) bool {
	shutdown := deadlineMicros == math.MaxInt64
	evicted := false
	casFailures := false

	p.entries.Range(func(k, v interface{}) bool {
		name := k.(string)
		for e := v.(*entry); e != nil; e = e.loadNext() {
			for i := 0; i < EntrySize; i++ {
				if e.touched[i].Load() >= deadlineMicros {
					continue
				}
				if e.readers[i] == nil {
					continue
				}
				if !e.allocations[i].CAS(unallocated, int64(evictorCallerID)) {
					casFailures = true
					continue
				}
				if e.readers[i] != nil && e.touched[i].Load() < deadlineMicros {
					if err := e.readers[i].Close(); err != nil {
						p.opts.InstrumentOptions().Logger().Warn("reader pool eviction close failed",
							zap.String("table", name), zap.Error(err))
					}
					e.readers[i] = nil
					p.emit(EventExpire, evictorCallerID, name, e.index, i)
					evicted = true
				}
				e.allocations[i].Store(unallocated)
			}
		}
		return true
	})

	if shutdown {
		return !casFailures
	}
	return evicted
}

// Close idempotently closes the pool: no further Get or Lock will
// succeed, and every currently-idle reader is physically closed. Readers
// with an outstanding handle are closed when that handle is returned (see
// returnToPool); callers that need to observe full drain should keep
// calling ReleaseAll(math.MaxInt64) until it returns true.
func (p *Pool) Close() error {
	if !p.closed.CAS(false, true) {
		return nil
	}
	p.ReleaseAll(math.MaxInt64)
	return nil
}

// BusyCount reports how many slots across every table's chain currently
// hold a resident reader whose slot is owned (by a live handle or the
// lock holder). Pool-wide, matching spec's parameterless busyCount().
func (p *Pool) BusyCount() int {
	count := 0
	p.entries.Range(func(_, v interface{}) bool {
		for e := v.(*entry); e != nil; e = e.loadNext() {
			for i := 0; i < EntrySize; i++ {
				if e.allocations[i].Load() != unallocated && e.readers[i] != nil {
					count++
				}
			}
		}
		return true
	})
	return count
}

// Entries returns a point-in-time diagnostic snapshot of every table's
// chain. It never blocks a concurrent Get, Lock, or ReleaseAll.
func (p *Pool) Entries() []EntrySnapshot {
	var out []EntrySnapshot
	p.entries.Range(func(k, v interface{}) bool {
		name := k.(string)
		for e := v.(*entry); e != nil; e = e.loadNext() {
			snap := EntrySnapshot{Table: name, SegmentIndex: e.index}
			for i := 0; i < EntrySize; i++ {
				owner := e.allocations[i].Load()
				snap.Slots = append(snap.Slots, SlotSummary{
					Index:             i,
					Owned:             owner != unallocated,
					Owner:             CallerID(owner),
					HasReader:         e.readers[i] != nil,
					LastTouchedMicros: e.touched[i].Load(),
				})
			}
			out = append(out, snap)
		}
		return true
	})
	return out
}
