// Package store defines the abstract, path-keyed object store used by
// the blob engine, the object-store-backed registry, and fs5's local
// meta blob store. Concrete backends (memory, disk, GCS, ...) implement
// this interface; callers never depend on backend-specific types.
package store

import (
	"context"
	"io"
)

// Features describes the capabilities of a Store backend. The blob
// engine uses these to choose between rename-based atomic publishing
// and direct writes, and to choose a path layout (see blob/paths).
type Features struct {
	// SupportsRename is true if Rename is implemented and atomic.
	SupportsRename bool
	// CaseSensitive is true if the backend treats paths as
	// case-sensitive (affects the blob path encoding alphabet).
	CaseSensitive bool
	// RecommendedMaxDirSize caps how many entries should share one
	// directory prefix before the path codec starts bucketing.
	RecommendedMaxDirSize uint64
}

// Store is a path-keyed byte store with streaming I/O.
type Store interface {
	// Features reports this backend's capabilities.
	Features() Features

	// PutBytes writes data at path, creating or overwriting it.
	PutBytes(ctx context.Context, path string, data []byte) error

	// PutStream writes all bytes read from r at path.
	PutStream(ctx context.Context, path string, r io.Reader) error

	// PutTemp writes data read from r to a randomly named temporary
	// path (".tmp/<uuid>") and returns that path for a subsequent
	// Rename.
	PutTemp(ctx context.Context, r io.Reader) (tempPath string, err error)

	// OpenReadBytes reads up to maxLen bytes starting at offset. A
	// negative maxLen reads to the end of the object.
	OpenReadBytes(ctx context.Context, path string, offset, maxLen int64) ([]byte, error)

	// OpenReadStream opens path for streaming read. The caller must
	// Close the returned reader.
	OpenReadStream(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists reports whether path is present.
	Exists(ctx context.Context, path string) (bool, error)

	// Size returns the byte length of the object at path.
	Size(ctx context.Context, path string) (int64, error)

	// Delete removes path. Deleting a path that does not exist is
	// idempotent for backends that promise it (see NotFound semantics
	// in spec §4.1); callers should check errors.Is(errors.NotFound, …)
	// when the distinction matters.
	Delete(ctx context.Context, path string) error

	// Rename moves src to dst. Only valid when Features().SupportsRename
	// is true.
	Rename(ctx context.Context, src, dst string) error

	// List streams every key currently stored. The returned channel is
	// closed when listing completes or ctx is cancelled; a non-nil
	// error is sent on errc in the latter case.
	List(ctx context.Context) (keys <-chan string, errc <-chan error)

	// Provide returns zero or more BlobLocations describing alternate
	// ways to fetch the object at path (e.g. a direct download URL),
	// or nil if the backend offers none.
	Provide(ctx context.Context, path string) ([]ProvidedLocation, error)
}

// ProvidedLocation is a backend-agnostic hint returned by Provide; the
// blob package turns these into typed blob.Location values.
type ProvidedLocation struct {
	URL string
}
