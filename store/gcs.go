package store

import (
	"context"
	"io"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"s5.dev/s5/errors"
)

func randomID() string { return uuid.NewString() }

// GCS is a Google Cloud Storage-backed Store, grounded on the teacher's
// cloud/storage/gcs.go (itself built on cloud/gcp/gcp.go), ported from
// the deprecated google.golang.org/api/storage/v1 client onto the
// current cloud.google.com/go/storage client.
//
// GCS objects have no atomic rename, so Features().SupportsRename is
// false: the blob engine writes the final path directly and relies on
// idempotent overwrite (§4.2) to resolve import races.
type GCS struct {
	client *gcs.Client
	bucket string
}

var _ Store = (*GCS)(nil)

// NewGCS dials a GCS bucket using application-default credentials,
// exactly as the teacher's gcsImpl.Connect does via google.DefaultClient.
func NewGCS(ctx context.Context, bucketName string) (*GCS, error) {
	const op = "store.NewGCS"
	if bucketName == "" {
		return nil, errors.E(op, errors.Syntax, errors.Str("bucket name is required"))
	}
	c, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return &GCS{client: c, bucket: bucketName}, nil
}

func (g *GCS) Features() Features {
	return Features{SupportsRename: false, CaseSensitive: false, RecommendedMaxDirSize: 100000}
}

func (g *GCS) obj(path string) *gcs.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(path)
}

func (g *GCS) PutBytes(ctx context.Context, path string, data []byte) error {
	const op = "store.GCS.PutBytes"
	w := g.obj(path).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return errors.E(op, path, errors.IO, err)
	}
	if err := w.Close(); err != nil {
		return errors.E(op, path, errors.IO, err)
	}
	return nil
}

func (g *GCS) PutStream(ctx context.Context, path string, r io.Reader) error {
	const op = "store.GCS.PutStream"
	w := g.obj(path).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return errors.E(op, path, errors.IO, err)
	}
	if err := w.Close(); err != nil {
		return errors.E(op, path, errors.IO, err)
	}
	return nil
}

func (g *GCS) PutTemp(ctx context.Context, r io.Reader) (string, error) {
	tmp := ".tmp/" + randomID()
	if err := g.PutStream(ctx, tmp, r); err != nil {
		return "", err
	}
	return tmp, nil
}

func (g *GCS) OpenReadBytes(ctx context.Context, path string, offset, maxLen int64) ([]byte, error) {
	const op = "store.GCS.OpenReadBytes"
	r, err := g.obj(path).NewRangeReader(ctx, offset, maxLen)
	if err != nil {
		return nil, mapGCSErr(op, path, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.E(op, path, errors.IO, err)
	}
	return data, nil
}

func (g *GCS) OpenReadStream(ctx context.Context, path string) (io.ReadCloser, error) {
	const op = "store.GCS.OpenReadStream"
	r, err := g.obj(path).NewReader(ctx)
	if err != nil {
		return nil, mapGCSErr(op, path, err)
	}
	return r, nil
}

func (g *GCS) Exists(ctx context.Context, path string) (bool, error) {
	_, err := g.obj(path).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if err == gcs.ErrObjectNotExist {
		return false, nil
	}
	return false, errors.E("store.GCS.Exists", path, errors.IO, err)
}

func (g *GCS) Size(ctx context.Context, path string) (int64, error) {
	const op = "store.GCS.Size"
	attrs, err := g.obj(path).Attrs(ctx)
	if err != nil {
		return 0, mapGCSErr(op, path, err)
	}
	return attrs.Size, nil
}

func (g *GCS) Delete(ctx context.Context, path string) error {
	const op = "store.GCS.Delete"
	if err := g.obj(path).Delete(ctx); err != nil {
		return mapGCSErr(op, path, err)
	}
	return nil
}

func (g *GCS) Rename(ctx context.Context, src, dst string) error {
	return errors.E("store.GCS.Rename", errors.Invalid, errors.Str("GCS does not support atomic rename"))
}

func (g *GCS) List(ctx context.Context) (<-chan string, <-chan error) {
	keys := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(keys)
		defer close(errc)
		it := g.client.Bucket(g.bucket).Objects(ctx, nil)
		for {
			attrs, err := it.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				errc <- err
				return
			}
			select {
			case keys <- attrs.Name:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()
	return keys, errc
}

func (g *GCS) Provide(ctx context.Context, path string) ([]ProvidedLocation, error) {
	return nil, nil
}

func mapGCSErr(op, path string, err error) error {
	if err == gcs.ErrObjectNotExist {
		return errors.E(op, path, errors.NotFound, err)
	}
	return errors.E(op, path, errors.IO, err)
}
