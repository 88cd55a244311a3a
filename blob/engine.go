package blob

import (
	"bytes"
	"context"
	"io"

	"s5.dev/s5/blob/bao"
	"s5.dev/s5/blob/paths"
	"s5.dev/s5/errors"
	"s5.dev/s5/log"
	"s5.dev/s5/store"
)

// outboardThreshold is the minimum blob size for which a Bao outboard
// is computed (spec §4.2's "Outboard threshold"): plain BLAKE3 suffices
// below it.
const outboardThreshold = 1 << 16

// Engine is the content-addressed import/read/list/delete API over a
// store.Store, grounded on the teacher's store/gcp.Server, generalized
// from upspin's path-addressed blobs to hash-addressed ones.
type Engine struct {
	backend         store.Store
	computeOutboard bool
}

// NewEngine returns an Engine over backend. When computeOutboard is
// true, imports of blobs at least outboardThreshold bytes additionally
// compute and persist a Bao outboard under "obao6/<hash>".
func NewEngine(backend store.Store, computeOutboard bool) *Engine {
	return &Engine{backend: backend, computeOutboard: computeOutboard}
}

// ImportBytes content-addresses data, persisting it (and, above the
// outboard threshold, its Bao outboard) idempotently, returning its Id.
func (e *Engine) ImportBytes(ctx context.Context, data []byte) (Id, error) {
	const op = "blob.Engine.ImportBytes"
	size := uint64(len(data))
	h := Sum(data)

	if e.computeOutboard && size >= outboardThreshold {
		_, ob, err := bao.ComputeOutboard(bytes.NewReader(data), size)
		if err != nil {
			return Id{}, errors.E(op, errors.IO, err)
		}
		if err := e.putOutboard(ctx, h, ob); err != nil {
			return Id{}, err
		}
	}

	features := e.backend.Features()
	finalPath := paths.BlobPathForHash(h, features)
	exists, err := e.backend.Exists(ctx, finalPath)
	if err != nil {
		return Id{}, errors.E(op, errors.IO, err)
	}
	if exists {
		return Id{Hash: h, Size: size}, nil
	}

	if err := e.publish(ctx, finalPath, bytes.NewReader(data), features); err != nil {
		return Id{}, errors.E(op, err)
	}
	return Id{Hash: h, Size: size}, nil
}

// ImportStream tees r through a hasher while writing it to a temp
// path, then finalizes it at its content-addressed location. If an
// outboard is configured, the temp path is re-read afterwards to
// compute it; a hash mismatch between the two passes aborts the import.
func (e *Engine) ImportStream(ctx context.Context, r io.Reader) (Id, error) {
	const op = "blob.Engine.ImportStream"
	features := e.backend.Features()

	hasher := NewHasher()
	tee := io.TeeReader(r, hasher)
	tmp, err := e.backend.PutTemp(ctx, tee)
	if err != nil {
		return Id{}, errors.E(op, errors.IO, err)
	}
	h := hasher.Sum()
	size, err := e.backend.Size(ctx, tmp)
	if err != nil {
		return Id{}, errors.E(op, errors.IO, err)
	}

	if e.computeOutboard && uint64(size) >= outboardThreshold {
		rc, err := e.backend.OpenReadStream(ctx, tmp)
		if err != nil {
			return Id{}, errors.E(op, errors.IO, err)
		}
		rehash := NewHasher()
		_, ob, err := bao.ComputeOutboard(io.TeeReader(rc, rehash), uint64(size))
		rc.Close()
		if err != nil {
			return Id{}, errors.E(op, errors.IO, err)
		}
		if rehash.Sum() != h {
			_ = e.backend.Delete(ctx, tmp)
			return Id{}, errors.E(op, errors.HashMismatch, errors.Str("outboard pass hash mismatch"))
		}
		if err := e.putOutboard(ctx, h, ob); err != nil {
			return Id{}, err
		}
	}

	finalPath := paths.BlobPathForHash(h, features)
	exists, err := e.backend.Exists(ctx, finalPath)
	if err != nil {
		return Id{}, errors.E(op, errors.IO, err)
	}
	if exists {
		_ = e.backend.Delete(ctx, tmp)
		return Id{Hash: h, Size: uint64(size)}, nil
	}

	if features.SupportsRename {
		if err := e.backend.Rename(ctx, tmp, finalPath); err != nil {
			exists2, _ := e.backend.Exists(ctx, finalPath)
			if exists2 {
				_ = e.backend.Delete(ctx, tmp)
				return Id{Hash: h, Size: uint64(size)}, nil
			}
			return Id{}, errors.E(op, errors.IO, err)
		}
	} else {
		rc, err := e.backend.OpenReadStream(ctx, tmp)
		if err != nil {
			return Id{}, errors.E(op, errors.IO, err)
		}
		err = e.backend.PutStream(ctx, finalPath, rc)
		rc.Close()
		_ = e.backend.Delete(ctx, tmp)
		if err != nil {
			return Id{}, errors.E(op, errors.IO, err)
		}
	}
	return Id{Hash: h, Size: uint64(size)}, nil
}

// putOutboard persists ob under "obao6/<hash>", idempotently: an
// existing outboard at that path is left untouched.
func (e *Engine) putOutboard(ctx context.Context, h Hash, ob bao.Outboard) error {
	const op = "blob.Engine.putOutboard"
	if len(ob) == 0 {
		return nil
	}
	p := paths.Obao6PathForHash(h, e.backend.Features())
	exists, err := e.backend.Exists(ctx, p)
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	if exists {
		return nil
	}
	if err := e.backend.PutBytes(ctx, p, ob); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

// publish writes r to finalPath, using a temp-then-rename sequence
// when the backend supports atomic rename, and direct writes otherwise.
func (e *Engine) publish(ctx context.Context, finalPath string, r io.Reader, features store.Features) error {
	const op = "blob.Engine.publish"
	if !features.SupportsRename {
		if err := e.backend.PutStream(ctx, finalPath, r); err != nil {
			return errors.E(op, errors.IO, err)
		}
		return nil
	}
	tmp, err := e.backend.PutTemp(ctx, r)
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	if err := e.backend.Rename(ctx, tmp, finalPath); err != nil {
		exists, _ := e.backend.Exists(ctx, finalPath)
		if exists {
			_ = e.backend.Delete(ctx, tmp)
			return nil
		}
		return errors.E(op, errors.IO, err)
	}
	return nil
}

// Exists reports whether hash's content is present, without the
// overhead of a Size call's NotFound-error path — the Blob RPC Query
// response needs a cheap existence check separate from size.
func (e *Engine) Exists(ctx context.Context, h Hash) (bool, error) {
	const op = "blob.Engine.Exists"
	ok, err := e.backend.Exists(ctx, paths.BlobPathForHash(h, e.backend.Features()))
	if err != nil {
		return false, errors.E(op, errors.IO, err)
	}
	return ok, nil
}

// ReadAsBytes reads up to maxLen bytes of hash's content starting at
// offset; a negative maxLen reads to the end.
func (e *Engine) ReadAsBytes(ctx context.Context, h Hash, offset, maxLen int64) ([]byte, error) {
	const op = "blob.Engine.ReadAsBytes"
	p := paths.BlobPathForHash(h, e.backend.Features())
	data, err := e.backend.OpenReadBytes(ctx, p, offset, maxLen)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return data, nil
}

// ReadStream opens a streaming reader over hash's content.
func (e *Engine) ReadStream(ctx context.Context, h Hash) (io.ReadCloser, error) {
	const op = "blob.Engine.ReadStream"
	p := paths.BlobPathForHash(h, e.backend.Features())
	rc, err := e.backend.OpenReadStream(ctx, p)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return rc, nil
}

// Size returns the byte length of hash's content.
func (e *Engine) Size(ctx context.Context, h Hash) (int64, error) {
	const op = "blob.Engine.Size"
	p := paths.BlobPathForHash(h, e.backend.Features())
	n, err := e.backend.Size(ctx, p)
	if err != nil {
		return 0, errors.E(op, err)
	}
	return n, nil
}

// Delete removes hash's content and best-effort its outboard; an
// outboard delete failure is logged but not returned (spec §4.2).
func (e *Engine) Delete(ctx context.Context, h Hash) error {
	const op = "blob.Engine.Delete"
	features := e.backend.Features()
	if err := e.backend.Delete(ctx, paths.BlobPathForHash(h, features)); err != nil {
		return errors.E(op, err)
	}
	if err := e.backend.Delete(ctx, paths.Obao6PathForHash(h, features)); err != nil {
		log.Debug.Printf("blob.Engine.Delete: outboard delete for %s failed: %v", h, err)
	}
	return nil
}

// List emits every Hash found among the backend's blob3/ keys,
// skipping any key that doesn't decode to a 32-byte hash.
func (e *Engine) List(ctx context.Context) (<-chan Hash, <-chan error) {
	features := e.backend.Features()
	keys, errc := e.backend.List(ctx)
	out := make(chan Hash)
	outErr := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(outErr)
		for k := range keys {
			h, ok := paths.HashFromBlobPath(k, features)
			if !ok {
				continue
			}
			select {
			case out <- h:
			case <-ctx.Done():
				outErr <- ctx.Err()
				return
			}
		}
		if err, ok := <-errc; ok {
			outErr <- err
		}
	}()
	return out, outErr
}
