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
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	xsync "github.com/chronosdb/chronos/src/x/sync"
)

const (
	defaultEvictionInterval  = 30 * time.Second
	defaultInactiveReaderTTL = 5 * time.Minute
	defaultEvictionWorkers   = 4
)

// Evictor periodically sweeps a Pool, closing out readers that have sat
// idle longer than ttl. It is the background half of the idle-eviction
// design: Pool.ReleaseAll does the actual CAS-and-close work per slot;
// Evictor just decides when to call it and bounds how much of that work
// runs concurrently.
type Evictor struct {
	pool     *Pool
	clockFn  func() time.Time
	interval time.Duration
	ttl      time.Duration
	workers  xsync.WorkerPool
	logger   *zap.Logger

	stopCh   chan struct{}
	wg       sync.WaitGroup
	started  atomic.Bool
}

// NewEvictor constructs an Evictor over pool using cfg's eviction settings.
func NewEvictor(pool *Pool, cfg Configuration, opts Options) *Evictor {
	interval, ttl, workers := cfg.EvictorOptions()
	wp := xsync.NewWorkerPool(workers)
	wp.Init()
	return &Evictor{
		pool:     pool,
		clockFn:  opts.ClockOptions().NowFn(),
		interval: interval,
		ttl:      ttl,
		workers:  wp,
		logger:   opts.InstrumentOptions().Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background sweep goroutine. Calling Start twice is a
// no-op; the second call is ignored.
func (e *Evictor) Start() {
	if !e.started.CAS(false, true) {
		return
	}
	e.wg.Add(1)
	go e.run()
}

// Stop halts the sweep goroutine and waits for the in-flight sweep, if
// any, to finish. Safe to call even if Start was never called.
func (e *Evictor) Stop() {
	if !e.started.Load() {
		return
	}
	close(e.stopCh)
	e.wg.Wait()
}

func (e *Evictor) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.sweepOnce()
		case <-e.stopCh:
			return
		}
	}
}

// sweepOnce runs one eviction pass. The actual per-slot CAS-and-close work
// happens inside Pool.ReleaseAll; the worker pool here only bounds how
// many sweeps can be in flight at once (Pool.ReleaseAll itself is
// synchronous, so in practice only one runs at a time unless the caller
// also drives ReleaseAll directly, e.g. from Close).
func (e *Evictor) sweepOnce() {
	deadline := microsOf(e.clockFn()) - e.ttl.Microseconds()
	e.wg.Add(1)
	e.workers.Go(func() {
		defer e.wg.Done()
		if e.pool.ReleaseAll(deadline) {
			e.logger.Debug("reader pool eviction sweep evicted idle readers",
				zap.Duration("ttl", e.ttl))
		}
	})
}
