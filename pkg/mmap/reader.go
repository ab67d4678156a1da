// Package mmap provides memory-mapped file access for zero-copy reading of
// large local CSV files.
package mmap

import (
	"io"
	"os"
	"sync"

	"github.com/ajitpratap0/nebula-csv/pkg/errors"
)

// Reader is a read-only memory-mapped file. It implements io.Reader,
// io.ReaderAt, io.Seeker and io.Closer over the mapped bytes. Close waits for
// in-flight reads, so it may be called from any goroutine; reads after Close
// fail instead of touching unmapped memory.
type Reader struct {
	file   *os.File
	data   []byte
	pos    int64
	closed bool

	closeErr error

	mu sync.RWMutex
}

// Open maps the named file. Empty files are valid and read as zero bytes.
func Open(filename string) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "failed to open file").
			WithDetail("path", filename)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "failed to stat file").
			WithDetail("path", filename)
	}
	if stat.IsDir() {
		file.Close()
		return nil, errors.New(errors.ErrorTypeSourceUnavailable, "path is a directory").
			WithDetail("path", filename)
	}

	r := &Reader{file: file}
	size := stat.Size()
	if size == 0 {
		return r, nil
	}
	if int64(int(size)) != size {
		file.Close()
		return nil, errors.New(errors.ErrorTypeSourceUnavailable, "file too large to map").
			WithDetail("path", filename)
	}

	r.data, err = mmap(int(file.Fd()), 0, int(size), ProtRead, MapShared)
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "failed to mmap file").
			WithDetail("path", filename)
	}
	// Advisory only.
	_ = madvise(r.data, MadvSequential)
	return r, nil
}

// Len returns the mapped size.
func (r *Reader) Len() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.data))
}

// Bytes returns the mapped bytes. They are invalid after Close.
func (r *Reader) Bytes() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, errClosed()
	}
	if r.pos >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += int64(n)
	return n, nil
}

// ReadAt implements io.ReaderAt.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return 0, errClosed()
	}
	if off < 0 {
		return 0, errors.Newf(errors.ErrorTypeValidation, "negative offset %d", off)
	}
	if off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Seek implements io.Seeker.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, errClosed()
	}
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.pos + offset
	case io.SeekEnd:
		abs = int64(len(r.data)) + offset
	default:
		return 0, errors.Newf(errors.ErrorTypeValidation, "invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New(errors.ErrorTypeValidation, "negative position")
	}
	r.pos = abs
	return abs, nil
}

// Close unmaps the file and closes it. It is idempotent.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.closeErr
	}
	r.closed = true
	if r.data != nil {
		if err := munmap(r.data); err != nil {
			r.closeErr = errors.Wrap(err, errors.ErrorTypeInternal, "failed to unmap file")
		}
		r.data = nil
	}
	if err := r.file.Close(); err != nil && r.closeErr == nil {
		r.closeErr = errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "failed to close file")
	}
	return r.closeErr
}

func errClosed() error {
	return errors.Wrap(os.ErrClosed, errors.ErrorTypeSourceUnavailable, "read from closed mapping")
}
