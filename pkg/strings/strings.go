// Package strings provides zero-copy conversions, pooled builders and string
// interning used on the CSV hot path.
package strings

import (
	"fmt"
	"sync"
	"unsafe"
)

// BytesToString converts a byte slice to a string without allocation.
// The returned string shares memory with b; b must not be modified afterwards.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// Clone returns a copy of s that owns its memory.
func Clone(s string) string {
	if len(s) == 0 {
		return ""
	}
	b := make([]byte, len(s))
	copy(b, s)
	return BytesToString(b)
}

// Builder is an append-only byte buffer with a zero-copy String method.
type Builder struct {
	buf []byte
}

// NewBuilder creates a builder with the given capacity
func NewBuilder(capacity int) *Builder {
	return &Builder{buf: make([]byte, 0, capacity)}
}

// WriteString appends s.
func (b *Builder) WriteString(s string) {
	b.buf = append(b.buf, s...)
}

// WriteByte appends a single byte.
func (b *Builder) WriteByte(c byte) error {
	b.buf = append(b.buf, c)
	return nil
}

// Write implements io.Writer.
func (b *Builder) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// String returns the contents without copying. The result is only valid
// until the builder is reset or returned to a pool.
func (b *Builder) String() string {
	return BytesToString(b.buf)
}

// Len returns the number of bytes written.
func (b *Builder) Len() int {
	return len(b.buf)
}

// Reset empties the builder, keeping its capacity.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
}

// BuilderSize selects a builder pool bucket
type BuilderSize int

const (
	Small  BuilderSize = iota // < 1KB
	Medium                    // 1KB - 16KB
	Large                     // 16KB+
)

var builderPools = [...]*sync.Pool{
	Small:  {New: func() interface{} { return NewBuilder(1024) }},
	Medium: {New: func() interface{} { return NewBuilder(16 * 1024) }},
	Large:  {New: func() interface{} { return NewBuilder(64 * 1024) }},
}

func poolFor(size BuilderSize) *sync.Pool {
	if size < Small || size > Large {
		return builderPools[Small]
	}
	return builderPools[size]
}

// GetBuilder retrieves a pooled builder of the given size class.
func GetBuilder(size BuilderSize) *Builder {
	b := poolFor(size).Get().(*Builder)
	b.Reset()
	return b
}

// PutBuilder returns a builder to its pool.
func PutBuilder(b *Builder, size BuilderSize) {
	if b == nil {
		return
	}
	b.Reset()
	poolFor(size).Put(b)
}

// Sprintf is fmt.Sprintf backed by a pooled builder.
func Sprintf(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}

	size := Small
	if estimated := len(format) + len(args)*16; estimated > 16*1024 {
		size = Large
	} else if estimated > 1024 {
		size = Medium
	}

	b := GetBuilder(size)
	defer PutBuilder(b, size)

	fmt.Fprintf(b, format, args...)
	return Clone(b.String())
}

// Intern deduplicates strings. It is safe for concurrent use.
type Intern struct {
	mu      sync.RWMutex
	strings map[string]string
}

// NewIntern creates an empty interner
func NewIntern() *Intern {
	return &Intern{strings: make(map[string]string)}
}

// Get returns the canonical copy of s, storing an owned clone on first sight.
func (in *Intern) Get(s string) string {
	in.mu.RLock()
	interned, ok := in.strings[s]
	in.mu.RUnlock()
	if ok {
		return interned
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if interned, ok := in.strings[s]; ok {
		return interned
	}
	cloned := Clone(s)
	in.strings[cloned] = cloned
	return cloned
}

// GetBytes is Get for a byte slice; it allocates only on a miss.
func (in *Intern) GetBytes(b []byte) string {
	in.mu.RLock()
	interned, ok := in.strings[BytesToString(b)]
	in.mu.RUnlock()
	if ok {
		return interned
	}
	return in.Get(string(b))
}

// Size returns the number of interned strings.
func (in *Intern) Size() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.strings)
}
