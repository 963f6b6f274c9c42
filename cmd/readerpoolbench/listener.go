package main

import (
	"go.uber.org/atomic"

	"github.com/chronosdb/chronos/src/dbnode/persist/fs"
)

// countingListener tallies pool events by category for the benchmark's
// end-of-run summary.
type countingListener struct {
	gets    atomic.Int64
	returns atomic.Int64
	locks   atomic.Int64
	unlocks atomic.Int64
	busy    atomic.Int64
	full    atomic.Int64
}

func (l *countingListener) OnEvent(e fs.Event) {
	switch e.Code {
	case fs.EventCreate, fs.EventGet:
		l.gets.Inc()
	case fs.EventReturn:
		l.returns.Inc()
	case fs.EventLockSuccess:
		l.locks.Inc()
	case fs.EventUnlocked:
		l.unlocks.Inc()
	case fs.EventLockBusy:
		l.busy.Inc()
	case fs.EventFull:
		l.full.Inc()
	}
}
