package store

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"s5.dev/s5/errors"
)

// Disk is a local-filesystem Store, grounded on the teacher's
// cloud/storage/disk package. Writes to the final path are performed
// atomically via renameio (write to a sibling temp file, fsync, rename)
// so that a crash never leaves a partially written blob visible at its
// final path.
type Disk struct {
	base                  string
	recommendedMaxDirSize uint64
}

var _ Store = (*Disk)(nil)

// NewDisk returns a Disk-backed Store rooted at base, creating it if
// necessary. recommendedMaxDirSize controls when the blob path codec
// switches to a bucketed prefix layout (see blob/paths); pass 0 for the
// package default of 100000.
func NewDisk(base string, recommendedMaxDirSize uint64) (*Disk, error) {
	const op = "store.NewDisk"
	if err := os.MkdirAll(base, 0700); err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	if recommendedMaxDirSize == 0 {
		recommendedMaxDirSize = 100000
	}
	return &Disk{base: base, recommendedMaxDirSize: recommendedMaxDirSize}, nil
}

func (d *Disk) Features() Features {
	return Features{SupportsRename: true, CaseSensitive: isCaseSensitiveFS(d.base), RecommendedMaxDirSize: d.recommendedMaxDirSize}
}

func (d *Disk) path(p string) string {
	return filepath.Join(d.base, filepath.FromSlash(p))
}

func (d *Disk) PutBytes(ctx context.Context, path string, data []byte) error {
	const op = "store.Disk.PutBytes"
	full := d.path(path)
	if err := os.MkdirAll(filepath.Dir(full), 0700); err != nil {
		return errors.E(op, path, errors.IO, err)
	}
	if err := renameio.WriteFile(full, data, 0600); err != nil {
		return errors.E(op, path, errors.IO, err)
	}
	return nil
}

func (d *Disk) PutStream(ctx context.Context, path string, r io.Reader) error {
	const op = "store.Disk.PutStream"
	full := d.path(path)
	if err := os.MkdirAll(filepath.Dir(full), 0700); err != nil {
		return errors.E(op, path, errors.IO, err)
	}
	t, err := renameio.TempFile("", full)
	if err != nil {
		return errors.E(op, path, errors.IO, err)
	}
	defer t.Cleanup()
	if _, err := io.Copy(t, r); err != nil {
		return errors.E(op, path, errors.IO, err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return errors.E(op, path, errors.IO, err)
	}
	return nil
}

func (d *Disk) PutTemp(ctx context.Context, r io.Reader) (string, error) {
	rel := filepath.ToSlash(filepath.Join(".tmp", uuid.NewString()))
	if err := d.PutStream(ctx, rel, r); err != nil {
		return "", err
	}
	return rel, nil
}

func (d *Disk) OpenReadBytes(ctx context.Context, path string, offset, maxLen int64) ([]byte, error) {
	const op = "store.Disk.OpenReadBytes"
	f, err := os.Open(d.path(path))
	if err != nil {
		return nil, mapOSErr(op, path, err)
	}
	defer f.Close()
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, errors.E(op, path, errors.IO, err)
		}
	}
	if maxLen < 0 {
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, errors.E(op, path, errors.IO, err)
		}
		return data, nil
	}
	buf := make([]byte, maxLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, errors.E(op, path, errors.IO, err)
	}
	return buf[:n], nil
}

func (d *Disk) OpenReadStream(ctx context.Context, path string) (io.ReadCloser, error) {
	const op = "store.Disk.OpenReadStream"
	f, err := os.Open(d.path(path))
	if err != nil {
		return nil, mapOSErr(op, path, err)
	}
	return f, nil
}

func (d *Disk) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(d.path(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.E("store.Disk.Exists", path, errors.IO, err)
}

func (d *Disk) Size(ctx context.Context, path string) (int64, error) {
	const op = "store.Disk.Size"
	fi, err := os.Stat(d.path(path))
	if err != nil {
		return 0, mapOSErr(op, path, err)
	}
	return fi.Size(), nil
}

func (d *Disk) Delete(ctx context.Context, path string) error {
	const op = "store.Disk.Delete"
	if err := os.Remove(d.path(path)); err != nil {
		return mapOSErr(op, path, err)
	}
	return nil
}

func (d *Disk) Rename(ctx context.Context, src, dst string) error {
	const op = "store.Disk.Rename"
	full := d.path(dst)
	if err := os.MkdirAll(filepath.Dir(full), 0700); err != nil {
		return errors.E(op, dst, errors.IO, err)
	}
	if err := os.Rename(d.path(src), full); err != nil {
		return mapOSErr(op, src, err)
	}
	return nil
}

func (d *Disk) List(ctx context.Context) (<-chan string, <-chan error) {
	keys := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(keys)
		defer close(errc)
		err := filepath.Walk(d.base, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(d.base, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if rel == "++" {
				return nil
			}
			select {
			case keys <- rel:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			errc <- err
		}
	}()
	return keys, errc
}

func (d *Disk) Provide(ctx context.Context, path string) ([]ProvidedLocation, error) {
	return nil, nil
}

func mapOSErr(op, path string, err error) error {
	if os.IsNotExist(err) {
		return errors.E(op, path, errors.NotFound, err)
	}
	return errors.E(op, path, errors.IO, err)
}

// isCaseSensitiveFS reports whether the filesystem rooted at base treats
// file names case-sensitively. Most Linux filesystems are; this is a
// best-effort probe used only to pick the blob path alphabet.
func isCaseSensitiveFS(base string) bool {
	lower := filepath.Join(base, ".cs-probe")
	upper := filepath.Join(base, ".CS-PROBE")
	_ = os.WriteFile(lower, []byte("x"), 0600)
	defer os.Remove(lower)
	_, err := os.Stat(upper)
	return os.IsNotExist(err)
}
