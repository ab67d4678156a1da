//go:build !linux && !darwin

package mmap

import (
	"os"
)

// Supported reports whether files are really mapped on this platform.
const Supported = false

const (
	ProtRead       = 0
	MapShared      = 0
	MadvSequential = 0
	MadvWillneed   = 0
)

// mmap falls back to reading the file into memory.
func mmap(fd int, offset int64, length int, prot int, flags int) ([]byte, error) {
	f := os.NewFile(uintptr(fd), "")
	b := make([]byte, length)
	_, err := f.ReadAt(b, offset)
	return b, err
}

func munmap(b []byte) error {
	return nil
}

func madvise(b []byte, advice int) error {
	return nil
}
