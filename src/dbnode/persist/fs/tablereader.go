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
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/adler32"
	"os"
	"path/filepath"
	"sync"

	xpool "github.com/chronosdb/chronos/src/x/pool"
)

// footerSize is the width, in bytes, of the trailing adler32 checksum this
// reference reader expects every table file to carry.
const footerSize = 4

const checksumBufferSize = 32 * 1024

var errFooterChecksumMismatch = errors.New("reader pool: table file footer checksum mismatch")

func defaultChecksumBufferPoolOptions() xpool.ObjectPoolOptions {
	return xpool.NewObjectPoolOptions().
		SetSize(256).
		SetRefillLowWatermark(0.1).
		SetRefillHighWatermark(0.5)
}

// newChecksumBufferPool pools the scratch buffers every fileTableReader
// opened from the same factory uses to stream a file through its adler32
// digest on open/Reactivate, so a pool under heavy churn (many tables
// reactivating concurrently) doesn't allocate a fresh 32KiB buffer per call.
func newChecksumBufferPool(opts xpool.ObjectPoolOptions) xpool.ObjectPool {
	p := xpool.NewObjectPool(opts)
	p.Init(func() interface{} {
		return make([]byte, checksumBufferSize)
	})
	return p
}

// fileTableReader is a minimal, file-backed TableReader: it opens a
// single file named <dir>/<table>.tbl, verifying an adler32 checksum
// stored in the file's trailing 4 bytes. It exists as a reference
// implementation for NewFileReaderFactory and for tests; production
// callers are expected to supply their own ReaderFactory.
type fileTableReader struct {
	mu     sync.Mutex
	name   string
	path   string
	file   *os.File
	digest hash.Hash32
	body   int64
	active bool
	bufs   xpool.ObjectPool
}

func newFileTableReader(name, path string, bufs xpool.ObjectPool) (*fileTableReader, error) {
	r := &fileTableReader{
		name:   name,
		path:   path,
		digest: adler32.New(),
		bufs:   bufs,
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *fileTableReader) open() error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("open table file %q: %w", r.path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat table file %q: %w", r.path, err)
	}
	if info.Size() < footerSize {
		f.Close()
		return fmt.Errorf("table file %q shorter than footer size", r.path)
	}
	r.body = info.Size() - footerSize

	if err := r.verifyChecksum(f); err != nil {
		f.Close()
		return err
	}

	r.file = f
	r.active = true
	return nil
}

func (r *fileTableReader) verifyChecksum(f *os.File) error {
	r.digest.Reset()
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if _, err := copyN(r.digest, f, r.body, r.bufs); err != nil {
		return fmt.Errorf("checksum table file %q: %w", r.path, err)
	}

	footer := make([]byte, footerSize)
	if _, err := f.ReadAt(footer, r.body); err != nil {
		return fmt.Errorf("read footer of %q: %w", r.path, err)
	}
	want := binary.BigEndian.Uint32(footer)
	if r.digest.Sum32() != want {
		return errFooterChecksumMismatch
	}
	return nil
}

func copyN(h hash.Hash32, f *os.File, n int64, bufs xpool.ObjectPool) (int64, error) {
	buf := bufs.Get().([]byte)
	defer bufs.Put(buf)

	var total int64
	for total < n {
		toRead := int64(len(buf))
		if remaining := n - total; remaining < toRead {
			toRead = remaining
		}
		read, err := f.Read(buf[:toRead])
		if read > 0 {
			h.Write(buf[:read])
			total += int64(read)
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Name implements TableReader.
func (r *fileTableReader) Name() string {
	return r.name
}

// Reactivate implements TableReader: it re-opens and re-verifies the file,
// so a pooled reader detects out-from-under-it file replacement rather
// than silently serving stale mappings.
func (r *fileTableReader) Reactivate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		return nil
	}
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	return r.open()
}

// Passivate implements TableReader: it marks the reader inactive but keeps
// its file descriptor open; Reactivate re-opens and re-verifies the file.
func (r *fileTableReader) Passivate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.active = false
	return nil
}

// Close implements TableReader.
func (r *fileTableReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.active = false
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// NewFileReaderFactory returns a ReaderFactory that opens
// <dir>/<name>.tbl, verifying the adler32 footer checksum every time a
// reader for that table is opened or reactivated. It uses a
// default-sized checksum buffer pool; use NewFileReaderFactoryWithPool to
// size the pool from a Configuration.
func NewFileReaderFactory(dir string) ReaderFactory {
	return NewFileReaderFactoryWithPool(dir, defaultChecksumBufferPoolOptions())
}

// NewFileReaderFactoryWithPool is like NewFileReaderFactory but takes
// explicit checksum buffer pool options, e.g. from
// Configuration.ChecksumBufferPoolOptions.
func NewFileReaderFactoryWithPool(dir string, poolOpts xpool.ObjectPoolOptions) ReaderFactory {
	bufs := newChecksumBufferPool(poolOpts)
	return func(name string) (TableReader, error) {
		path := filepath.Join(dir, name+".tbl")
		return newFileTableReader(name, path, bufs)
	}
}
