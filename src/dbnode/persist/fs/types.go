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

// Package fs implements the concurrent table reader pool: a lock-free,
// segmented slot allocator that hands out shared TableReader handles,
// layered with an exclusive per-table lock and a background idle-eviction
// sweep.
package fs

import (
	"time"

	"go.uber.org/atomic"
)

// EntrySize is the fixed number of slots in a single Entry. A table's
// capacity grows by EntrySize slots every time its chain grows by one
// Entry, up to Options.MaxSegments() entries.
const EntrySize = 32

const (
	eventSourceReader  = "READER"
	noSegmentIndex     = -1
	noSlotIndex        = -1
	evictorCallerID    = CallerID(0)
)

// CallerID identifies the caller across a sequence of Pool operations. Go
// has no analogue of a Java thread id, so rather than inferring identity
// from the calling goroutine (which the runtime deliberately does not
// expose), callers mint a CallerID once -- typically one per goroutine or
// worker -- with NewCallerID and pass it to every Pool call they make.
// This is what lets Lock detect that the caller already holds a live
// handle on the table it's trying to fence (see Pool.Lock).
type CallerID int64

var callerSeq atomic.Int64

// NewCallerID returns a fresh, positive CallerID.
func NewCallerID() CallerID {
	return CallerID(callerSeq.Inc())
}

// TableReader is the on-disk table reader this pool manages handles to.
// Its internal memory-mapping machinery is out of scope for this package;
// NewFileReaderFactory supplies a minimal reference implementation.
type TableReader interface {
	// Name is the table name this reader was opened for.
	Name() string
	// Reactivate resumes a reader that was previously Passivate()d,
	// re-validating whatever on-disk state needs re-validating. Called
	// when a pooled reader is handed out for a second or later time.
	Reactivate() error
	// Passivate suspends background work associated with the reader
	// without releasing its file descriptors or mappings. Called when a
	// handle is returned to the pool rather than physically closed.
	Passivate() error
	// Close releases all resources held by the reader. Safe to call at
	// most once; the pool never calls it twice for the same reader.
	Close() error
}

// ReaderFactory constructs a new TableReader for name on first acquire of
// a given slot.
type ReaderFactory func(name string) (TableReader, error)

// EventCode enumerates every listener event this pool emits.
type EventCode int

// The full set of listener event codes emitted by Pool.
const (
	EventCreate EventCode = iota
	EventGet
	EventReturn
	EventExpire
	EventFull
	EventLockSuccess
	EventLockBusy
	EventLockClose
	EventUnlocked
	EventNotLocked
	EventNotLockOwner
)

// String implements fmt.Stringer, and doubles as the metric tag value
// used for the event counter emitted alongside each Listener callback.
func (c EventCode) String() string {
	switch c {
	case EventCreate:
		return "create"
	case EventGet:
		return "get"
	case EventReturn:
		return "return"
	case EventExpire:
		return "expire"
	case EventFull:
		return "full"
	case EventLockSuccess:
		return "lock_success"
	case EventLockBusy:
		return "lock_busy"
	case EventLockClose:
		return "lock_close"
	case EventUnlocked:
		return "unlocked"
	case EventNotLocked:
		return "not_locked"
	case EventNotLockOwner:
		return "not_lock_owner"
	default:
		return "unknown"
	}
}

// Event is emitted to the Listener on every observable state transition.
// SlotIndex is noSlotIndex (-1) for slot-agnostic events (e.g.
// EventUnlocked, which carries the head entry's SegmentIndex).
// SegmentIndex is noSegmentIndex (-1) only for events tied to no entry
// (EventFull, EventNotLocked).
type Event struct {
	Code         EventCode
	Source       string
	CallerID     CallerID
	Table        string
	SegmentIndex int
	SlotIndex    int
}

// Listener receives Pool events, for tests and for metrics.
type Listener interface {
	OnEvent(e Event)
}

// NopListener discards every event.
type NopListener struct{}

// OnEvent implements Listener.
func (NopListener) OnEvent(Event) {}

// SlotSummary is a read-only snapshot of one slot, returned by
// Pool.Entries for diagnostics.
type SlotSummary struct {
	Index             int
	Owned             bool
	Owner             CallerID
	HasReader         bool
	LastTouchedMicros int64
}

// EntrySnapshot is a read-only snapshot of one Entry in a table's chain.
type EntrySnapshot struct {
	Table        string
	SegmentIndex int
	Slots        []SlotSummary
}

func microsOf(t time.Time) int64 {
	return t.UnixNano() / int64(time.Microsecond)
}
