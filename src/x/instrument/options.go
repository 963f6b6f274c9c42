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

// Package instrument bundles the logger and metrics scope that every
// component in this repository threads through its Options, the way
// m3db's src/x/instrument package does.
package instrument

import (
	"github.com/uber-go/tally"
	"go.uber.org/zap"
)

// Options bundles a logger and a metrics scope so that components only
// need to carry a single value through their constructors.
type Options interface {
	// Logger returns the logger.
	Logger() *zap.Logger
	// SetLogger sets the logger.
	SetLogger(value *zap.Logger) Options
	// MetricsScope returns the metrics scope.
	MetricsScope() tally.Scope
	// SetMetricsScope sets the metrics scope.
	SetMetricsScope(value tally.Scope) Options
}

type options struct {
	logger       *zap.Logger
	metricsScope tally.Scope
}

// NewOptions creates a new set of instrument options backed by a no-op
// logger and a no-op metrics scope.
func NewOptions() Options {
	return &options{
		logger:       zap.NewNop(),
		metricsScope: tally.NoopScope,
	}
}

func (o *options) Logger() *zap.Logger {
	return o.logger
}

func (o *options) SetLogger(value *zap.Logger) Options {
	opts := *o
	opts.logger = value
	return &opts
}

func (o *options) MetricsScope() tally.Scope {
	return o.metricsScope
}

func (o *options) SetMetricsScope(value tally.Scope) Options {
	opts := *o
	opts.metricsScope = value
	return &opts
}

// EmitAndLogInvariantViolation emits a counter for an invariant violation
// and logs it at error level via fn. Used any time code detects that an
// invariant that should be impossible to violate was violated anyway --
// the caller should still treat this as a recoverable, reported bug
// rather than panicking.
func EmitAndLogInvariantViolation(iOpts Options, fn func(l *zap.Logger)) {
	if iOpts == nil {
		return
	}
	iOpts.MetricsScope().Counter("invariant-violated").Inc(1)
	fn(iOpts.Logger())
}
