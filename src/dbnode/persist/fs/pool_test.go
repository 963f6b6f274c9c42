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
	"errors"
	"math"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, opts ...func(Options) Options) (*Pool, *fakeFactory, *fakeClock, *recordingListener) {
	t.Helper()

	factory := newFakeFactory()
	listener := &recordingListener{}
	fc := newFakeClock()

	o := NewOptions().
		SetReaderFactory(factory.factory()).
		SetListener(listener).
		SetClockOptions(fc.options()).
		SetMaxSegments(2)
	for _, fn := range opts {
		o = fn(o)
	}

	p, err := NewPool(o)
	require.NoError(t, err)
	return p, factory, fc, listener
}

func TestNewPoolRejectsMissingFactory(t *testing.T) {
	_, err := NewPool(NewOptions())
	assert.Equal(t, errReaderFactoryNotSet, err)
}

func TestNewPoolRejectsInvalidMaxSegments(t *testing.T) {
	_, err := NewPool(NewOptions().
		SetReaderFactory(newFakeFactory().factory()).
		SetMaxSegments(0))
	assert.Equal(t, errMaxSegmentsInvalid, err)
}

// Scenario 1 (spec §8): a fresh Get opens a new reader in slot 0.
func TestGetOpensNewReaderOnFirstAcquire(t *testing.T) {
	p, factory, _, _ := newTestPool(t)
	caller := NewCallerID()

	h, err := p.Get(caller, "orders")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "orders", h.Name())
	assert.Equal(t, []string{"orders"}, factory.opens)
	assert.Equal(t, 1, p.BusyCount())

	require.NoError(t, h.Close())
	assert.Equal(t, 0, p.BusyCount())
}

// Scenario 2: returning and re-acquiring reactivates the same reader
// rather than opening a new one.
func TestGetReactivatesReturnedReader(t *testing.T) {
	p, factory, _, _ := newTestPool(t)
	caller := NewCallerID()

	h1, err := p.Get(caller, "orders")
	require.NoError(t, err)
	require.NoError(t, h1.Close())

	h2, err := p.Get(caller, "orders")
	require.NoError(t, err)
	require.NoError(t, h2.Close())

	assert.Equal(t, []string{"orders"}, factory.opens, "second Get must not open a new reader")
	reader := factory.readers["orders"]
	assert.Equal(t, 2, reader.reactivates)
	assert.Equal(t, 2, reader.passivates)
}

// Scenario 3: concurrent Gets before any Close each get distinct slots.
func TestConcurrentGetsFillDistinctSlots(t *testing.T) {
	p, factory, _, _ := newTestPool(t)

	var handles []*Handle
	for i := 0; i < 5; i++ {
		h, err := p.Get(NewCallerID(), "orders")
		require.NoError(t, err)
		handles = append(handles, h)
	}

	assert.Equal(t, 5, len(factory.opens), "each distinct empty slot opens its own reader")
	assert.Equal(t, 5, p.BusyCount())

	seen := make(map[int]bool)
	for _, h := range handles {
		assert.False(t, seen[h.slot], "two handles landed on the same slot")
		seen[h.slot] = true
	}

	for _, h := range handles {
		require.NoError(t, h.Close())
	}
	assert.Equal(t, 0, p.BusyCount())
}

// Scenario 4: a chain grows to a second entry once the first is full.
func TestGetGrowsChainWhenEntryFull(t *testing.T) {
	p, _, _, listener := newTestPool(t)

	var handles []*Handle
	for i := 0; i < EntrySize; i++ {
		h, err := p.Get(NewCallerID(), "orders")
		require.NoError(t, err)
		handles = append(handles, h)
	}
	assert.Equal(t, EntrySize, p.BusyCount())

	h, err := p.Get(NewCallerID(), "orders")
	require.NoError(t, err)
	assert.Equal(t, 1, h.entry.index, "should have grown into the second entry")
	handles = append(handles, h)

	events := listener.snapshot()
	require.NotEmpty(t, events)

	for _, hh := range handles {
		require.NoError(t, hh.Close())
	}
}

// Scenario 5: once every segment across the configured max is full, Get
// returns ErrUnavailable.
func TestGetReturnsUnavailableWhenChainExhausted(t *testing.T) {
	p, _, _, _ := newTestPool(t)

	var handles []*Handle
	for i := 0; i < EntrySize*2; i++ {
		h, err := p.Get(NewCallerID(), "orders")
		require.NoError(t, err)
		handles = append(handles, h)
	}

	_, err := p.Get(NewCallerID(), "orders")
	assert.Equal(t, ErrUnavailable, err)

	for _, h := range handles {
		require.NoError(t, h.Close())
	}
}

func TestGetRejectsLockedTable(t *testing.T) {
	p, _, _, _ := newTestPool(t)
	locker := NewCallerID()

	ok, err := p.Lock(locker, "orders")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = p.Get(NewCallerID(), "orders")
	assert.Equal(t, ErrLocked, err)
}

// Scenario 4 (spec §8): a caller that still holds a live Get handle on a
// table must not be able to preempt its own slot by calling Lock -- Lock
// must fail cleanly, leaving the live handle's slot exactly as it was.
func TestLockFailsWhenCallerHoldsLiveHandleOnSameTable(t *testing.T) {
	p, factory, _, _ := newTestPool(t)
	caller := NewCallerID()

	h, err := p.Get(caller, "orders")
	require.NoError(t, err)

	ok, err := p.Lock(caller, "orders")
	require.NoError(t, err)
	assert.False(t, ok, "Lock must fail while the same caller holds a live Get handle")

	reader := factory.readers["orders"]
	assert.Equal(t, 0, reader.closeCount(), "Lock must not close a reader out from under a live handle")
	assert.Equal(t, 1, p.BusyCount())

	// The table must be unlocked again (the failed Lock released
	// lockOwner), and a different caller must land on a distinct slot
	// rather than being handed h's still-live slot.
	other := NewCallerID()
	h2, err := p.Get(other, "orders")
	require.NoError(t, err)
	assert.NotEqual(t, h.slot, h2.slot, "the live handle's slot must not have been reassigned")

	require.NoError(t, h.Close())
	require.NoError(t, h2.Close())

	// h's original slot must still be usable for a normal close/reopen
	// cycle -- no lingering owner mismatch from the failed Lock attempt.
	assert.Equal(t, 0, p.BusyCount())
}

func TestLockClosesResidentReadersAndBlocksGrowth(t *testing.T) {
	p, factory, _, _ := newTestPool(t)

	h, err := p.Get(NewCallerID(), "orders")
	require.NoError(t, err)
	// Return the handle so its slot goes idle-but-resident: allocation
	// freed, reader still cached for reactivation. Lock must claim that
	// idle slot and physically close the cached reader (spec §4.3 step 2).
	require.NoError(t, h.Close())

	locker := NewCallerID()
	ok, err := p.Lock(locker, "orders")
	require.NoError(t, err)
	require.True(t, ok)

	reader := factory.readers["orders"]
	assert.Equal(t, 1, reader.closeCount(), "lock must physically close the resident reader")

	_, err = p.Get(NewCallerID(), "orders")
	assert.Equal(t, ErrLocked, err)

	require.NoError(t, p.Unlock(locker, "orders"))

	h2, err := p.Get(NewCallerID(), "orders")
	require.NoError(t, err)
	require.NoError(t, h2.Close())
	assert.Equal(t, 2, len(factory.opens), "unlock discards the chain; next Get opens fresh")
}

func TestLockIsReentrantForSameCaller(t *testing.T) {
	p, _, _, _ := newTestPool(t)
	caller := NewCallerID()

	ok, err := p.Lock(caller, "orders")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = p.Lock(caller, "orders")
	require.NoError(t, err)
	assert.True(t, ok, "the same caller re-locking an already-held table should succeed")
}

func TestLockFailsForDifferentCallerAndRollsBack(t *testing.T) {
	p, _, _, _ := newTestPool(t)
	first := NewCallerID()

	ok, err := p.Lock(first, "orders")
	require.NoError(t, err)
	require.True(t, ok)

	second := NewCallerID()
	ok, err = p.Lock(second, "orders")
	require.NoError(t, err)
	assert.False(t, ok)

	// first's lock must remain intact.
	require.NoError(t, p.Unlock(first, "orders"))
}

func TestUnlockByNonOwnerIsCriticalError(t *testing.T) {
	p, _, _, _ := newTestPool(t)
	owner := NewCallerID()

	ok, err := p.Lock(owner, "orders")
	require.NoError(t, err)
	require.True(t, ok)

	err = p.Unlock(NewCallerID(), "orders")
	var critical *CriticalError
	require.True(t, errors.As(err, &critical))
	assert.ErrorIs(t, err, ErrNotLockOwner)
}

func TestUnlockUnknownTableReturnsErrNotLocked(t *testing.T) {
	p, _, _, _ := newTestPool(t)
	err := p.Unlock(NewCallerID(), "never-locked")
	assert.Equal(t, ErrNotLocked, err)
}

// Scenario 6: shutdown drains every idle reader and Close is idempotent.
func TestCloseDrainsIdleReadersAndIsIdempotent(t *testing.T) {
	p, factory, _, _ := newTestPool(t)

	h, err := p.Get(NewCallerID(), "orders")
	require.NoError(t, err)
	require.NoError(t, h.Close())

	require.NoError(t, p.Close())
	require.NoError(t, p.Close(), "Close must be idempotent")

	reader := factory.readers["orders"]
	assert.Equal(t, 1, reader.closeCount())

	_, err = p.Get(NewCallerID(), "orders")
	assert.Equal(t, ErrClosed, err)
}

// Scenario 6 (continued): a handle still checked out when the pool closes
// is not double-closed; Close finishes it on the eventual Handle.Close.
func TestCloseThenReturnHandleClosesExactlyOnce(t *testing.T) {
	p, factory, _, _ := newTestPool(t)

	h, err := p.Get(NewCallerID(), "orders")
	require.NoError(t, err)

	require.NoError(t, p.Close())

	reader := factory.readers["orders"]
	assert.Equal(t, 0, reader.closeCount(), "reader is still checked out, must not be closed yet")

	require.NoError(t, h.Close())
	assert.Equal(t, 1, reader.closeCount())
	require.NoError(t, h.Close(), "Handle.Close must be idempotent")
	assert.Equal(t, 1, reader.closeCount())
}

func TestReleaseAllEvictsOnlyPastDeadline(t *testing.T) {
	p, factory, fc, _ := newTestPool(t)

	h, err := p.Get(NewCallerID(), "orders")
	require.NoError(t, err)
	require.NoError(t, h.Close())

	assert.False(t, p.ReleaseAll(p.nowMicros()-time.Hour.Microseconds()),
		"nothing should be evicted before the reader has gone idle")

	fc.advance(10 * time.Minute)
	assert.True(t, p.ReleaseAll(p.nowMicros()-time.Minute.Microseconds()))

	reader := factory.readers["orders"]
	assert.Equal(t, 1, reader.closeCount())
}

func TestReleaseAllShutdownModeReturnsTrueOnlyWhenNoRaces(t *testing.T) {
	p, _, _, _ := newTestPool(t)

	h, err := p.Get(NewCallerID(), "orders")
	require.NoError(t, err)
	defer h.Close()

	// A handle is still checked out, so the slot's allocation CAS from
	// unallocated will fail for that slot -- shutdown mode must report
	// false rather than claim a clean drain.
	assert.False(t, p.ReleaseAll(math.MaxInt64))
}

func TestOpenFailureLeavesSlotFreeForRetry(t *testing.T) {
	factory := newFakeFactory()
	factory.failNew["orders"] = true

	p, err := NewPool(NewOptions().
		SetReaderFactory(factory.factory()).
		SetMaxSegments(1))
	require.NoError(t, err)

	_, err = p.Get(NewCallerID(), "orders")
	require.Error(t, err)
	assert.Equal(t, 0, p.BusyCount(), "a failed open must not leak the slot as busy")

	factory.failNew["orders"] = false
	h, err := p.Get(NewCallerID(), "orders")
	require.NoError(t, err)
	require.NoError(t, h.Close())
}

func TestNoGoroutineLeaksAcrossPoolLifecycle(t *testing.T) {
	defer leaktest.Check(t)()

	p, _, _, _ := newTestPool(t)
	h, err := p.Get(NewCallerID(), "orders")
	require.NoError(t, err)
	require.NoError(t, h.Close())
	require.NoError(t, p.Close())
}
