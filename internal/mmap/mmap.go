// Package mmap provides read-only memory-mapped file access for blob reads
// and snapshot verification, with a unified API across unix and Windows.
package mmap

import (
	"errors"
	"io"
	"os"
	"sync/atomic"
)

// AccessPattern hints to the kernel how mapped data will be read.
type AccessPattern int

const (
	// AccessDefault applies no specific advice.
	AccessDefault AccessPattern = iota
	// AccessSequential expects front-to-back reads.
	AccessSequential
	// AccessRandom expects scattered ReadAt access.
	AccessRandom
)

var (
	// ErrClosed is returned when accessing a closed mapping.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidOffset is returned for negative read offsets.
	ErrInvalidOffset = errors.New("mmap: invalid offset")
)

// File is a read-only memory-mapped file. It is safe for concurrent reads;
// callers must ensure no reads run after Close returns.
type File struct {
	data   []byte
	closed atomic.Bool
}

// Open maps the file at path read-only. The file descriptor is released
// before Open returns; the mapping keeps the contents reachable.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return &File{}, nil
	}
	if size < 0 || size != int64(int(size)) {
		return nil, errors.New("mmap: file size out of range")
	}

	data, err := mmap(f, int(size))
	if err != nil {
		return nil, err
	}
	return &File{data: data}, nil
}

// Bytes returns the mapped contents. The slice is valid until Close.
func (m *File) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the mapped length in bytes.
func (m *File) Size() int64 { return int64(len(m.data)) }

// ReadAt implements io.ReaderAt.
func (m *File) ReadAt(p []byte, off int64) (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Advise hints the kernel about the upcoming access pattern. The hint is
// advisory; failures to apply it are not fatal to reads.
func (m *File) Advise(pattern AccessPattern) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if len(m.data) == 0 {
		return nil
	}
	return madvise(m.data, pattern)
}

// Close unmaps the file. It is idempotent.
func (m *File) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	return munmap(data)
}
