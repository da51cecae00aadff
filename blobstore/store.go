package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error satisfying errors.Is(err, ErrNotFound).
// The default maps to os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// BlobStore is an abstraction for storing and retrieving immutable data
// blobs (archived segments, snapshots, catalogs).
type BlobStore interface {
	// Open opens a blob for reading. Remote implementations bind ctx to
	// subsequent reads from the returned Blob.
	Open(ctx context.Context, name string) (Blob, error)

	// Put writes a blob atomically. Readers observe either the previous
	// content or the new content, never a partial write.
	Put(ctx context.Context, name string, data []byte) error

	// Create opens a blob for streaming writes. The blob becomes visible
	// to readers only after Close returns nil.
	Create(ctx context.Context, name string) (WritableBlob, error)

	// Delete removes a blob.
	Delete(ctx context.Context, name string) error

	// List returns the names of all blobs with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a data blob.
type Blob interface {
	io.ReaderAt
	io.Closer
	// Size returns the size of the blob in bytes.
	Size() int64
}

// Mappable is an optional interface for Blobs backed by memory-mapped or
// in-memory data.
type Mappable interface {
	// Bytes returns the underlying byte slice without copying.
	// The slice is valid until the Blob is closed.
	Bytes() ([]byte, error)
}

// WritableBlob is a streaming write handle returned by Create.
type WritableBlob interface {
	io.Writer
	// Sync flushes buffered data to stable storage where the backend
	// supports it. Object stores commit only on Close and treat Sync as
	// a no-op.
	Sync() error
	io.Closer
}
