// Package pool provides typed object pooling for nebula-csv.
//
// It offers:
//   - Generic type-safe pooling with Pool[T]
//   - Byte buffer pooling with size-based buckets, used for Byte Source reads
//
// Example usage:
//
//	bufs := pool.NewBufferPool()
//	buf := bufs.Get(256 * 1024)
//	defer bufs.Put(buf)
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool represents a generic object pool with type safety.
// It wraps sync.Pool with statistics tracking and an optional reset hook.
// The pool is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	new   func() T
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		gets      int64
	}
}

// New creates a new typed pool with custom allocation and reset functions.
// The reset function, when non-nil, runs before an object re-enters the pool.
func New[T any](new func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{
		new:   new,
		reset: reset,
	}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return new()
	}
	return p
}

// Get retrieves an object from the pool, allocating when it is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	atomic.AddInt64(&p.stats.gets, 1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool for reuse.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns the number of objects allocated by the pool, currently
// checked out, and the total number of Get calls.
func (p *Pool[T]) Stats() (allocated, inUse, gets int64) {
	return atomic.LoadInt64(&p.stats.allocated),
		atomic.LoadInt64(&p.stats.inUse),
		atomic.LoadInt64(&p.stats.gets)
}

// BufferPool manages byte buffer pooling with size-based buckets.
// Requests are served from the smallest bucket that fits; buffers larger than
// the biggest bucket are allocated directly and dropped on Put.
type BufferPool struct {
	pools []*Pool[*[]byte]
	sizes []int
}

// NewBufferPool creates a buffer pool with power-of-4 buckets from 4KB to 16MB.
func NewBufferPool() *BufferPool {
	sizes := []int{
		4096,     // 4KB
		16384,    // 16KB
		65536,    // 64KB
		262144,   // 256KB
		1048576,  // 1MB
		4194304,  // 4MB
		16777216, // 16MB
	}

	pools := make([]*Pool[*[]byte], len(sizes))
	for i, size := range sizes {
		size := size
		pools[i] = New(
			func() *[]byte {
				b := make([]byte, size)
				return &b
			},
			nil,
		)
	}

	return &BufferPool{
		pools: pools,
		sizes: sizes,
	}
}

// Get returns a buffer of length size. Its capacity may be larger.
func (p *BufferPool) Get(size int) []byte {
	for i, s := range p.sizes {
		if s >= size {
			buf := p.pools[i].Get()
			return (*buf)[:size]
		}
	}
	return make([]byte, size)
}

// Put returns a buffer obtained from Get. Buffers whose capacity matches no
// bucket are left to the garbage collector.
func (p *BufferPool) Put(buf []byte) {
	size := cap(buf)
	for i, s := range p.sizes {
		if s == size {
			buf = buf[:size]
			p.pools[i].Put(&buf)
			return
		}
	}
}

// GlobalBufferPool is shared by all cursors.
var GlobalBufferPool = NewBufferPool()
