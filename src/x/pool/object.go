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

// Package pool implements object pooling facilities, the way m3db's
// src/x/pool package does: a fixed-size pool of reusable buffers refilled
// in the background once utilization crosses a low watermark.
package pool

import (
	"github.com/chronosdb/chronos/src/x/instrument"
)

const (
	_dynamicPoolSize = -1
	_defaultSize      = 4096
)

// Bucket specifies a pool bucket.
type Bucket struct {
	// Capacity is the capacity of each item in the bucket.
	Capacity int
	// Count is the number of items in the bucket.
	Count Size
}

// ObjectPoolOptions is a set of options for an object pool.
type ObjectPoolOptions interface {
	// SetSize sets the size of the pool.
	SetSize(value int) ObjectPoolOptions
	// Size returns the size of the pool.
	Size() int
	// SetDynamic sets whether the pool is dynamically sized.
	SetDynamic(value bool) ObjectPoolOptions
	// Dynamic returns whether the pool is dynamically sized.
	Dynamic() bool
	// SetRefillLowWatermark sets the low watermark to start refilling the pool.
	SetRefillLowWatermark(value float64) ObjectPoolOptions
	// RefillLowWatermark returns the low watermark to start refilling the pool.
	RefillLowWatermark() float64
	// SetRefillHighWatermark sets the high watermark to stop refilling the pool.
	SetRefillHighWatermark(value float64) ObjectPoolOptions
	// RefillHighWatermark returns the high watermark to stop refilling the pool.
	RefillHighWatermark() float64
	// SetInstrumentOptions sets the instrument options.
	SetInstrumentOptions(value instrument.Options) ObjectPoolOptions
	// InstrumentOptions returns the instrument options.
	InstrumentOptions() instrument.Options
}

type objectPoolOptions struct {
	size                int
	dynamic             bool
	refillLowWatermark  float64
	refillHighWatermark float64
	iOpts               instrument.Options
}

// NewObjectPoolOptions creates new object pool options.
func NewObjectPoolOptions() ObjectPoolOptions {
	return &objectPoolOptions{
		size:  _defaultSize,
		iOpts: instrument.NewOptions(),
	}
}

func (o *objectPoolOptions) SetSize(value int) ObjectPoolOptions {
	opts := *o
	opts.size = value
	return &opts
}

func (o *objectPoolOptions) Size() int { return o.size }

func (o *objectPoolOptions) SetDynamic(value bool) ObjectPoolOptions {
	opts := *o
	opts.dynamic = value
	return &opts
}

func (o *objectPoolOptions) Dynamic() bool { return o.dynamic }

func (o *objectPoolOptions) SetRefillLowWatermark(value float64) ObjectPoolOptions {
	opts := *o
	opts.refillLowWatermark = value
	return &opts
}

func (o *objectPoolOptions) RefillLowWatermark() float64 { return o.refillLowWatermark }

func (o *objectPoolOptions) SetRefillHighWatermark(value float64) ObjectPoolOptions {
	opts := *o
	opts.refillHighWatermark = value
	return &opts
}

func (o *objectPoolOptions) RefillHighWatermark() float64 { return o.refillHighWatermark }

func (o *objectPoolOptions) SetInstrumentOptions(value instrument.Options) ObjectPoolOptions {
	opts := *o
	opts.iOpts = value
	return &opts
}

func (o *objectPoolOptions) InstrumentOptions() instrument.Options { return o.iOpts }

// ObjectPool is a pool for obtaining and returning objects that are used
// frequently and are expensive to allocate, e.g. the scratch buffers a
// table reader streams its file through when verifying its checksum.
type ObjectPool interface {
	// Init initializes the pool, using the allocation function to make
	// the initial objects in the pool.
	Init(alloc func() interface{})
	// Get returns an object from the pool.
	Get() interface{}
	// Put returns an object to the pool.
	Put(obj interface{})
}

type objectPool struct {
	values  chan interface{}
	alloc   func() interface{}
	opts    ObjectPoolOptions
	dynamic bool
	low     int
	high    int
}

// NewObjectPool creates a new pool.
func NewObjectPool(opts ObjectPoolOptions) ObjectPool {
	if opts == nil {
		opts = NewObjectPoolOptions()
	}
	size := opts.Size()
	if size <= 0 {
		size = _defaultSize
	}
	return &objectPool{
		values:  make(chan interface{}, size),
		opts:    opts,
		dynamic: opts.Dynamic(),
		low:     int(opts.RefillLowWatermark() * float64(size)),
		high:    int(opts.RefillHighWatermark() * float64(size)),
	}
}

func (p *objectPool) Init(alloc func() interface{}) {
	p.alloc = alloc
	for len(p.values) < cap(p.values) {
		p.values <- alloc()
	}
}

func (p *objectPool) Get() interface{} {
	select {
	case v := <-p.values:
		p.tryRefillAsync()
		return v
	default:
		return p.alloc()
	}
}

func (p *objectPool) Put(obj interface{}) {
	select {
	case p.values <- obj:
	default:
		// Pool is full, drop it for GC.
	}
}

// tryRefillAsync kicks off a background refill once occupancy drops below
// the low watermark, stopping once it reaches the high watermark. Mirrors
// the watermark-triggered refill behavior that ObjectPoolOptions models.
func (p *objectPool) tryRefillAsync() {
	if p.low <= 0 || p.high <= p.low {
		return
	}
	if len(p.values) > p.low {
		return
	}
	go func() {
		for len(p.values) < p.high {
			select {
			case p.values <- p.alloc():
			default:
				return
			}
		}
	}()
}
