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

package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"math/rand"
	"net/http"
	_ "net/http/pprof"
	"os"
	"sync"
	"time"

	"github.com/uber-go/tally"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/chronosdb/chronos/src/dbnode/persist/fs"
	"github.com/chronosdb/chronos/src/x/instrument"
)

var flagParser = flag.NewFlagSet("readerpoolbench", flag.ExitOnError)

var (
	configFileArg         = flagParser.String("config-file", "", "YAML config file for the reader pool, see Configuration")
	tablePathArg          = flagParser.String("table-path", "/var/lib/chronos/tables", "Directory containing <table>.tbl files")
	tableCountArg         = flagParser.Int("table-count", 16, "Number of distinct table names to exercise, named bench-table-0..N-1")
	callerCountArg        = flagParser.Int("caller-count", 64, "Number of concurrent caller goroutines")
	durationArg           = flagParser.Duration("duration", 30*time.Second, "How long to run the benchmark")
	lockRateArg           = flagParser.Float64("lock-rate", 0.0, "Fraction of operations (0..1) that attempt Lock/Unlock instead of Get")
	debugListenAddressArg = flagParser.String("debug-listen-address", "", "Debug listen address - if set, exposes pprof, e.g. ':8080'")
)

func main() {
	flagParser.Parse(os.Args[1:])

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if addr := *debugListenAddressArg; addr != "" {
		go func() {
			logger.Info("starting debug listen server", zap.String("address", addr))
			if err := http.ListenAndServe(addr, http.DefaultServeMux); err != nil {
				logger.Fatal("debug listen server failed", zap.Error(err))
			}
		}()
	}

	cfg, err := loadConfiguration(*configFileArg)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	scope, closer := tally.NewRootScope(tally.ScopeOptions{Prefix: "readerpoolbench"}, time.Second)
	defer closer.Close()

	iOpts := instrument.NewOptions().
		SetLogger(logger).
		SetMetricsScope(scope)

	factory := fs.NewFileReaderFactoryWithPool(*tablePathArg, cfg.ChecksumBufferPoolOptions(iOpts))
	listener := &countingListener{}

	opts := cfg.NewOptions(iOpts, factory, listener)
	pool, err := fs.NewPool(opts)
	if err != nil {
		logger.Fatal("failed to construct reader pool", zap.Error(err))
	}

	evictor := fs.NewEvictor(pool, cfg, opts)
	evictor.Start()
	defer evictor.Stop()

	tables := make([]string, *tableCountArg)
	for i := range tables {
		tables[i] = fmt.Sprintf("bench-table-%d", i)
	}

	logger.Info("starting benchmark",
		zap.Int("tables", len(tables)),
		zap.Int("callers", *callerCountArg),
		zap.Duration("duration", *durationArg),
		zap.Float64("lockRate", *lockRateArg))

	stop := time.After(*durationArg)
	var wg sync.WaitGroup
	for i := 0; i < *callerCountArg; i++ {
		wg.Add(1)
		go runCaller(pool, tables, *lockRateArg, stop, &wg)
	}
	wg.Wait()

	logger.Info("benchmark complete",
		zap.Int64("gets", listener.gets.Load()),
		zap.Int64("returns", listener.returns.Load()),
		zap.Int64("locks", listener.locks.Load()),
		zap.Int64("unlocks", listener.unlocks.Load()),
		zap.Int64("busy", listener.busy.Load()),
		zap.Int64("full", listener.full.Load()))

	if err := pool.Close(); err != nil {
		logger.Fatal("failed to close reader pool", zap.Error(err))
	}
}

func runCaller(pool *fs.Pool, tables []string, lockRate float64, stop <-chan time.Time, wg *sync.WaitGroup) {
	defer wg.Done()

	caller := fs.NewCallerID()
	rng := rand.New(rand.NewSource(int64(caller)))

	for {
		select {
		case <-stop:
			return
		default:
		}

		table := tables[rng.Intn(len(tables))]

		if rng.Float64() < lockRate {
			ok, err := pool.Lock(caller, table)
			if err == nil && ok {
				_ = pool.Unlock(caller, table)
			}
			continue
		}

		h, err := pool.Get(caller, table)
		if err != nil {
			continue
		}
		_ = h.Close()
	}
}

func loadConfiguration(path string) (fs.Configuration, error) {
	var cfg fs.Configuration
	if path == "" {
		return cfg, nil
	}
	contents, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file %q: %w", path, err)
	}
	return cfg, nil
}
