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

// Package clock provides an injectable monotonic clock, the way m3db's
// src/x/clock package lets tests substitute a fake Now().
package clock

import "time"

// NowFn is a function that returns the current time.
type NowFn func() time.Time

// Options is an injectable source of the current time, used everywhere
// this repository would otherwise call time.Now() directly so tests can
// control the passage of time deterministically.
type Options interface {
	// NowFn returns the current NowFn.
	NowFn() NowFn
	// SetNowFn sets the NowFn.
	SetNowFn(value NowFn) Options
}

type options struct {
	nowFn NowFn
}

// NewOptions creates new clock options that default to time.Now.
func NewOptions() Options {
	return &options{nowFn: time.Now}
}

func (o *options) NowFn() NowFn {
	return o.nowFn
}

func (o *options) SetNowFn(value NowFn) Options {
	opts := *o
	opts.nowFn = value
	return &opts
}

// NowNanos is a convenience wrapper returning the current time, as
// observed through opts, as Unix nanoseconds.
func NowNanos(opts Options) int64 {
	return opts.NowFn()().UnixNano()
}
