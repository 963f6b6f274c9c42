// Copyright (c) 2017 Uber Technologies, Inc.
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

// Package sync implements synchronization facilities such as worker pools.
package sync

import (
	"context"
	"time"
)

// Work is a unit of work to run on a worker pool.
type Work func()

// ScheduleResult is the result of attempting to schedule work.
type ScheduleResult struct {
	Available bool
	WaitTime  time.Duration
}

// WorkerPool provides a pool for bounding concurrent work, the way the
// idle-eviction scheduler bounds how many eviction sweeps run at once so
// the scheduler tick does not wait on a sweep in progress.
type WorkerPool interface {
	// Init initializes the pool.
	Init()
	// Go waits until the next worker becomes available and executes work.
	Go(work Work)
	// GoInstrument is like Go but returns how long the caller waited.
	GoInstrument(work Work) ScheduleResult
	// GoIfAvailable performs work only if a worker is immediately available.
	GoIfAvailable(work Work) bool
	// GoWithTimeout performs work if a worker becomes available within timeout.
	GoWithTimeout(work Work, timeout time.Duration) bool
	// GoWithContext performs work if a worker becomes available before ctx
	// is done.
	GoWithContext(ctx context.Context, work Work) ScheduleResult
}

type workerPool struct {
	workCh chan struct{}
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int) WorkerPool {
	return &workerPool{workCh: make(chan struct{}, size)}
}

func (p *workerPool) Init() {
	for i := 0; i < cap(p.workCh); i++ {
		p.workCh <- struct{}{}
	}
}

func (p *workerPool) Go(work Work) {
	p.GoInstrument(work)
}

func (p *workerPool) GoInstrument(work Work) ScheduleResult {
	start := time.Now()
	token := <-p.workCh
	wait := time.Since(start)
	go func() {
		work()
		p.workCh <- token
	}()
	return ScheduleResult{
		Available: true,
		WaitTime:  wait,
	}
}

func (p *workerPool) GoIfAvailable(work Work) bool {
	select {
	case token := <-p.workCh:
		go func() {
			work()
			p.workCh <- token
		}()
		return true
	default:
		return false
	}
}

func (p *workerPool) GoWithTimeout(work Work, timeout time.Duration) bool {
	// Attempt to try writing without allocating a ticker.
	select {
	case token := <-p.workCh:
		go func() {
			work()
			p.workCh <- token
		}()
		return true
	default:
	}

	ticker := time.NewTicker(timeout)
	defer ticker.Stop()

	select {
	case token := <-p.workCh:
		go func() {
			work()
			p.workCh <- token
		}()
		return true
	case <-ticker.C:
		return false
	}
}

func (p *workerPool) GoWithContext(ctx context.Context, work Work) ScheduleResult {
	// Don't give out a token if the ctx has already been canceled.
	select {
	case <-ctx.Done():
		return ScheduleResult{Available: false, WaitTime: 0}
	default:
	}

	start := time.Now()
	select {
	case token := <-p.workCh:
		wait := time.Since(start)
		go func() {
			work()
			p.workCh <- token
		}()
		return ScheduleResult{Available: true, WaitTime: wait}
	case <-ctx.Done():
		return ScheduleResult{Available: false, WaitTime: time.Since(start)}
	}
}
