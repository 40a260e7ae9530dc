// Package blobstore abstracts where persisted cache snapshots live.
//
// Snapshots are small, immutable and read whole, so the contract is a
// whole-blob one: Put writes atomically, Open streams the body back.
// Implementations must be safe for concurrent use.
//
// Built-in backends:
//
//   - MemoryStore: in-memory, for tests and ephemeral sessions
//   - LocalStore: local filesystem with atomic rename on Put
//   - s3.Store: Amazon S3
//   - s3.CommitStore: S3 plus DynamoDB conditional writes for the
//     snapshot pointer, so concurrent sessions cannot clobber each other
//   - minio.Store: MinIO and other S3-compatible services
package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// errors.Is(err, ErrNotFound). The default maps to os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// BlobStore is the storage surface for persisted snapshots.
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)

	// Put writes a complete blob atomically, replacing any previous
	// content under the same name.
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns all blob names starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read handle over one blob's body.
type Blob interface {
	io.ReadCloser

	// Size returns the size of the blob in bytes.
	Size() int64
}
