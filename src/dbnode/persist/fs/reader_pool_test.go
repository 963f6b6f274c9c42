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
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/chronosdb/chronos/src/x/clock"
)

// fakeReader is a TableReader test double that counts every lifecycle
// call and can be told to fail its next Reactivate.
type fakeReader struct {
	mu sync.Mutex

	name string

	opens       int
	reactivates int
	passivates  int
	closes      int

	failNextReactivate bool
	closed             bool
}

func newFakeReader(name string) *fakeReader {
	return &fakeReader{name: name, opens: 1}
}

func (r *fakeReader) Name() string { return r.name }

func (r *fakeReader) Reactivate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactivates++
	if r.failNextReactivate {
		r.failNextReactivate = false
		return errors.New("fake: reactivate failed")
	}
	return nil
}

func (r *fakeReader) Passivate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passivates++
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("fake: double close")
	}
	r.closed = true
	r.closes++
	return nil
}

func (r *fakeReader) closeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

// fakeFactory hands out one *fakeReader per table name and records every
// name it was asked to open.
type fakeFactory struct {
	mu      sync.Mutex
	readers map[string]*fakeReader
	opens   []string
	failNew map[string]bool
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		readers: make(map[string]*fakeReader),
		failNew: make(map[string]bool),
	}
}

func (f *fakeFactory) factory() ReaderFactory {
	return func(name string) (TableReader, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.opens = append(f.opens, name)
		if f.failNew[name] {
			return nil, errors.New("fake: open failed")
		}
		r := newFakeReader(name)
		f.readers[name] = r
		return r, nil
	}
}

// recordingListener stores every event it receives in order.
type recordingListener struct {
	mu     sync.Mutex
	events []Event
}

func (l *recordingListener) OnEvent(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *recordingListener) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// fakeClock is an injectable, manually advanced clock.Options.
type fakeClock struct {
	nanos atomic.Int64
}

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.nanos.Store(time.Now().UnixNano())
	return c
}

func (c *fakeClock) advance(d time.Duration) {
	c.nanos.Add(d.Nanoseconds())
}

func (c *fakeClock) options() clock.Options {
	return clock.NewOptions().SetNowFn(func() time.Time {
		return time.Unix(0, c.nanos.Load())
	})
}
