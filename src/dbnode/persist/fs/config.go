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
	"time"

	"github.com/chronosdb/chronos/src/x/instrument"
	xpool "github.com/chronosdb/chronos/src/x/pool"
)

// Configuration is the YAML-serializable form of Options, the way
// ObjectPoolConfiguration is the YAML form of ObjectPoolOptions.
type Configuration struct {
	// MaxSegments caps how many Entry segments a table's chain may grow
	// to. Defaults to defaultMaxSegments if zero.
	MaxSegments int `yaml:"maxSegments"`

	// EvictionInterval is how often the background sweep runs. Defaults
	// to defaultEvictionInterval if zero.
	EvictionInterval time.Duration `yaml:"evictionInterval"`

	// InactiveReaderTTL is how long a slot may sit untouched before the
	// background sweep evicts its reader. Defaults to
	// defaultInactiveReaderTTL if zero.
	InactiveReaderTTL time.Duration `yaml:"inactiveReaderTTL"`

	// EvictionWorkers sizes the worker pool the Evictor runs its eviction
	// sweeps on, i.e. how many sweeps may be in flight at once. Defaults
	// to defaultEvictionWorkers if zero.
	EvictionWorkers int `yaml:"evictionWorkers"`

	// ChecksumBufferPool configures the pool of scratch buffers
	// fileTableReader uses to stream a table file through its checksum
	// digest on open and Reactivate.
	ChecksumBufferPool xpool.ObjectPoolConfiguration `yaml:"checksumBufferPool"`
}

// NewOptions builds Options from the configuration, wiring in iOpts,
// factory, and listener -- collaborators that have no YAML representation.
func (c Configuration) NewOptions(
	iOpts instrument.Options,
	factory ReaderFactory,
	listener Listener,
) Options {
	opts := NewOptions().
		SetInstrumentOptions(iOpts).
		SetReaderFactory(factory)

	if listener != nil {
		opts = opts.SetListener(listener)
	}
	if c.MaxSegments > 0 {
		opts = opts.SetMaxSegments(c.MaxSegments)
	}
	return opts
}

// ChecksumBufferPoolOptions builds the ObjectPoolOptions for the checksum
// scratch buffer pool, applying iOpts and this configuration's watermark
// and size settings.
func (c Configuration) ChecksumBufferPoolOptions(iOpts instrument.Options) xpool.ObjectPoolOptions {
	cfg := c.ChecksumBufferPool
	return cfg.NewObjectPoolOptions(iOpts)
}

// EvictorOptions returns the subset of the configuration the Evictor
// reads, applying the same defaulting rules as NewOptions.
func (c Configuration) EvictorOptions() (interval, ttl time.Duration, workers int) {
	interval = c.EvictionInterval
	if interval <= 0 {
		interval = defaultEvictionInterval
	}
	ttl = c.InactiveReaderTTL
	if ttl <= 0 {
		ttl = defaultInactiveReaderTTL
	}
	workers = c.EvictionWorkers
	if workers <= 0 {
		workers = defaultEvictionWorkers
	}
	return interval, ttl, workers
}
