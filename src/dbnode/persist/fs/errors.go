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
	"fmt"

	"go.uber.org/zap"

	"github.com/chronosdb/chronos/src/x/instrument"
)

var (
	// ErrClosed is returned by Get and Lock once the pool has been closed.
	ErrClosed = errors.New("reader pool: closed")

	// ErrLocked is returned by Get when another caller holds the table's
	// exclusive lock.
	ErrLocked = errors.New("reader pool: table is locked by another owner")

	// ErrUnavailable is returned by Get when a table's chain has reached
	// its configured segment limit and every slot is owned.
	ErrUnavailable = errors.New("reader pool: no available reader slots")

	// ErrNotLocked is returned by Unlock when the named table has no
	// entry chain at all, i.e. was never locked.
	ErrNotLocked = errors.New("reader pool: table is not locked")

	// ErrNotLockOwner is wrapped by CriticalError when Unlock is called
	// by a caller other than the current lock holder.
	ErrNotLockOwner = errors.New("reader pool: caller does not hold the table lock")

	// errDoubleClose is wrapped by CriticalError when a handle's slot no
	// longer belongs to the closing caller -- a programming error in the
	// caller, since handles must not be closed more than once.
	errDoubleClose = errors.New("reader pool: handle closed more than once")

	errReaderFactoryNotSet = errors.New("reader pool: reader factory is not set")
	errMaxSegmentsInvalid  = errors.New("reader pool: max segments must be >= 1")
)

// CriticalError marks an invariant violation: a bug in the calling code
// (double-close, unlock by a non-owner) rather than an ordinary runtime
// condition. It is never swallowed by the pool -- callers must surface it.
type CriticalError struct {
	Invariant string
	Table     string
	Cause     error
}

func (e *CriticalError) Error() string {
	return fmt.Sprintf("reader pool: critical: invariant %q violated for table %q: %v",
		e.Invariant, e.Table, e.Cause)
}

// Unwrap allows errors.Is/errors.As to reach Cause.
func (e *CriticalError) Unwrap() error {
	return e.Cause
}

func newCriticalError(iOpts instrument.Options, invariant, table string, cause error) error {
	err := &CriticalError{Invariant: invariant, Table: table, Cause: cause}
	instrument.EmitAndLogInvariantViolation(iOpts, func(l *zap.Logger) {
		l.Error("reader pool invariant violated",
			zap.String("invariant", invariant),
			zap.String("table", table),
			zap.Error(cause))
	})
	return err
}
