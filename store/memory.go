package store

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"s5.dev/s5/errors"
)

// Memory is an in-process Store backed by a map, grounded on the
// teacher's store/teststore/store.go fake. It is used throughout the
// test suite for every layer above store.Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Features implements Store.
func (m *Memory) Features() Features {
	return Features{SupportsRename: true, CaseSensitive: true, RecommendedMaxDirSize: 1 << 20}
}

func (m *Memory) PutBytes(ctx context.Context, path string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	m.data[path] = cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) PutStream(ctx context.Context, path string, r io.Reader) error {
	const op = "store.Memory.PutStream"
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	return m.PutBytes(ctx, path, data)
}

func (m *Memory) PutTemp(ctx context.Context, r io.Reader) (string, error) {
	tmp := ".tmp/" + uuid.NewString()
	if err := m.PutStream(ctx, tmp, r); err != nil {
		return "", err
	}
	return tmp, nil
}

func (m *Memory) OpenReadBytes(ctx context.Context, path string, offset, maxLen int64) ([]byte, error) {
	const op = "store.Memory.OpenReadBytes"
	m.mu.RLock()
	data, ok := m.data[path]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.E(op, path, errors.NotFound)
	}
	if offset < 0 || offset > int64(len(data)) {
		return nil, errors.E(op, path, errors.Invalid)
	}
	end := int64(len(data))
	if maxLen >= 0 && offset+maxLen < end {
		end = offset + maxLen
	}
	out := make([]byte, end-offset)
	copy(out, data[offset:end])
	return out, nil
}

func (m *Memory) OpenReadStream(ctx context.Context, path string) (io.ReadCloser, error) {
	const op = "store.Memory.OpenReadStream"
	m.mu.RLock()
	data, ok := m.data[path]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.E(op, path, errors.NotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.RLock()
	_, ok := m.data[path]
	m.mu.RUnlock()
	return ok, nil
}

func (m *Memory) Size(ctx context.Context, path string) (int64, error) {
	const op = "store.Memory.Size"
	m.mu.RLock()
	data, ok := m.data[path]
	m.mu.RUnlock()
	if !ok {
		return 0, errors.E(op, path, errors.NotFound)
	}
	return int64(len(data)), nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	const op = "store.Memory.Delete"
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[path]; !ok {
		return errors.E(op, path, errors.NotFound)
	}
	delete(m.data, path)
	return nil
}

func (m *Memory) Rename(ctx context.Context, src, dst string) error {
	const op = "store.Memory.Rename"
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[src]
	if !ok {
		return errors.E(op, src, errors.NotFound)
	}
	m.data[dst] = data
	delete(m.data, src)
	return nil
}

func (m *Memory) List(ctx context.Context) (<-chan string, <-chan error) {
	keys := make(chan string)
	errc := make(chan error, 1)
	m.mu.RLock()
	all := make([]string, 0, len(m.data))
	for k := range m.data {
		all = append(all, k)
	}
	m.mu.RUnlock()
	go func() {
		defer close(keys)
		defer close(errc)
		for _, k := range all {
			select {
			case keys <- k:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()
	return keys, errc
}

func (m *Memory) Provide(ctx context.Context, path string) ([]ProvidedLocation, error) {
	return nil, nil
}
