package store

import (
	"context"
	"io"

	"s5.dev/s5/errors"
)

// S3 is a documented-but-unimplemented Store, matching the status of
// the S3 backend in original_source (blob_stores/s3/src/lib.rs is
// almost entirely `todo!()`). Per spec §9's Open Question, this is left
// as "a valid implementation of the object-store interface" with no
// concrete contract beyond Features and construction: every I/O method
// returns a typed Invalid error.
type S3 struct {
	bucket string
}

var _ Store = (*S3)(nil)

// NewS3 returns an S3 Store stub bound to bucket. No network connection
// is made; every operation other than Features returns an error.
func NewS3(bucket string) *S3 {
	return &S3{bucket: bucket}
}

func (s *S3) Features() Features {
	return Features{SupportsRename: false, CaseSensitive: true, RecommendedMaxDirSize: 100000}
}

var errS3Unimplemented = errors.E("store.S3", errors.Invalid, errors.Str("s3 backend not implemented"))

func (s *S3) PutBytes(ctx context.Context, path string, data []byte) error { return errS3Unimplemented }
func (s *S3) PutStream(ctx context.Context, path string, r io.Reader) error {
	return errS3Unimplemented
}
func (s *S3) PutTemp(ctx context.Context, r io.Reader) (string, error) {
	return "", errS3Unimplemented
}
func (s *S3) OpenReadBytes(ctx context.Context, path string, offset, maxLen int64) ([]byte, error) {
	return nil, errS3Unimplemented
}
func (s *S3) OpenReadStream(ctx context.Context, path string) (io.ReadCloser, error) {
	return nil, errS3Unimplemented
}
func (s *S3) Exists(ctx context.Context, path string) (bool, error) { return false, errS3Unimplemented }
func (s *S3) Size(ctx context.Context, path string) (int64, error)  { return 0, errS3Unimplemented }
func (s *S3) Delete(ctx context.Context, path string) error         { return errS3Unimplemented }
func (s *S3) Rename(ctx context.Context, src, dst string) error     { return errS3Unimplemented }
func (s *S3) List(ctx context.Context) (<-chan string, <-chan error) {
	keys := make(chan string)
	errc := make(chan error, 1)
	close(keys)
	errc <- errS3Unimplemented
	return keys, errc
}
func (s *S3) Provide(ctx context.Context, path string) ([]ProvidedLocation, error) {
	return nil, errS3Unimplemented
}
