// Package storage provides the persistence media that hold the retained
// state snapshot. Each Backend is bound to exactly one named artifact: a
// file on disk, an S3 object, a BadgerDB key or a MongoDB document. Callers
// treat the artifact as an opaque blob that is read whole and replaced whole.
package storage

import (
	"context"
	"io/fs"
)

// ErrNotExist is wrapped by Read when the artifact has never been written
// or was deleted. It is fs.ErrNotExist so os.IsNotExist-style checks work.
var ErrNotExist = fs.ErrNotExist

// Backend reads and replaces a single named artifact.
//
// Implementations must be safe for concurrent use, though callers in this
// module serialize writes themselves.
type Backend interface {
	// Read returns the artifact contents. If the artifact does not exist, an
	// error wrapping ErrNotExist is returned.
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the artifact with data.
	Write(ctx context.Context, data []byte) error

	// Delete removes the artifact. Deleting a missing artifact is not an error.
	Delete(ctx context.Context) error
}

// Archiver is implemented by backends that can set aside a copy of bytes
// that failed to decode, next to the live artifact.
type Archiver interface {
	Archive(ctx context.Context, data []byte) error
}

// CorruptSuffix is appended to the artifact name when archiving.
const CorruptSuffix = ".corrupt"
