// Package blobstore provides object storage abstraction for archived
// segments, snapshots, and catalogs.
//
// BlobStore is the interface for reading and writing named immutable blobs.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-memory store for tests
//   - LocalStore: local filesystem with mmap-backed reads
//   - minio.Store: MinIO and S3-compatible object storage
//   - s3.Store: Amazon S3 with ranged reads and multipart uploads
//   - s3.DDBCommitStore: S3 plus DynamoDB conditional writes for
//     atomic CURRENT-pointer commits
//   - CachingStore: block-aligned read cache over any other store
//
// # Custom Implementations
//
// Implement the BlobStore interface to support custom backends. Blobs are
// plain io.ReaderAt values, so partial reads compose with io.SectionReader
// and friends. Remote implementations bind the context passed to Open to
// all subsequent reads from the returned Blob.
package blobstore
