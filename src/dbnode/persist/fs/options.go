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
	"github.com/chronosdb/chronos/src/x/clock"
	"github.com/chronosdb/chronos/src/x/instrument"
)

const (
	defaultMaxSegments = 8
)

// Options configure a Pool. Construct with NewOptions and layer Set calls;
// each Set returns a new Options, leaving the receiver untouched.
type Options interface {
	// Validate returns an error if the option set cannot build a Pool.
	Validate() error

	// SetClockOptions sets the clock options.
	SetClockOptions(value clock.Options) Options
	// ClockOptions returns the clock options.
	ClockOptions() clock.Options

	// SetInstrumentOptions sets the instrument options.
	SetInstrumentOptions(value instrument.Options) Options
	// InstrumentOptions returns the instrument options.
	InstrumentOptions() instrument.Options

	// SetReaderFactory sets the factory used to open a table's reader on
	// first acquire of a slot.
	SetReaderFactory(value ReaderFactory) Options
	// ReaderFactory returns the reader factory.
	ReaderFactory() ReaderFactory

	// SetListener sets the listener notified of every Pool event.
	SetListener(value Listener) Options
	// Listener returns the configured listener.
	Listener() Listener

	// SetMaxSegments sets the maximum number of Entry segments a single
	// table's chain may grow to, i.e. EntrySize * MaxSegments readers.
	SetMaxSegments(value int) Options
	// MaxSegments returns the configured segment limit.
	MaxSegments() int
}

type options struct {
	clockOpts   clock.Options
	iOpts       instrument.Options
	factory     ReaderFactory
	listener    Listener
	maxSegments int
}

// NewOptions returns a new Options with defaults matching the rest of this
// package's zero-configuration behavior: a no-op listener, a no-op
// instrument bundle, the real wall clock, and defaultMaxSegments segments.
// ReaderFactory has no useful default and must be set before use.
func NewOptions() Options {
	return &options{
		clockOpts:   clock.NewOptions(),
		iOpts:       instrument.NewOptions(),
		listener:    NopListener{},
		maxSegments: defaultMaxSegments,
	}
}

func (o *options) Validate() error {
	if o.factory == nil {
		return errReaderFactoryNotSet
	}
	if o.maxSegments < 1 {
		return errMaxSegmentsInvalid
	}
	return nil
}

func (o *options) SetClockOptions(value clock.Options) Options {
	opts := *o
	opts.clockOpts = value
	return &opts
}

func (o *options) ClockOptions() clock.Options {
	return o.clockOpts
}

func (o *options) SetInstrumentOptions(value instrument.Options) Options {
	opts := *o
	opts.iOpts = value
	return &opts
}

func (o *options) InstrumentOptions() instrument.Options {
	return o.iOpts
}

func (o *options) SetReaderFactory(value ReaderFactory) Options {
	opts := *o
	opts.factory = value
	return &opts
}

func (o *options) ReaderFactory() ReaderFactory {
	return o.factory
}

func (o *options) SetListener(value Listener) Options {
	opts := *o
	opts.listener = value
	return &opts
}

func (o *options) Listener() Listener {
	return o.listener
}

func (o *options) SetMaxSegments(value int) Options {
	opts := *o
	opts.maxSegments = value
	return &opts
}

func (o *options) MaxSegments() int {
	return o.maxSegments
}
