package store

import (
	"bytes"
	"context"
	"os"
	"testing"
)

// conformanceBackends returns one fresh instance of each Store
// implementation that should satisfy the same contract, keyed by name.
func conformanceBackends(t *testing.T) map[string]Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "s5-store-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	disk, err := NewDisk(dir, 0)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	return map[string]Store{
		"memory": NewMemory(),
		"disk":   disk,
	}
}

func TestStorePutAndReadBytes(t *testing.T) {
	ctx := context.Background()
	for name, s := range conformanceBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.PutBytes(ctx, "a/b/c", []byte("hello world")); err != nil {
				t.Fatalf("PutBytes: %v", err)
			}
			got, err := s.OpenReadBytes(ctx, "a/b/c", 0, -1)
			if err != nil {
				t.Fatalf("OpenReadBytes: %v", err)
			}
			if !bytes.Equal(got, []byte("hello world")) {
				t.Fatalf("got %q, want %q", got, "hello world")
			}
			got, err = s.OpenReadBytes(ctx, "a/b/c", 6, 5)
			if err != nil {
				t.Fatalf("OpenReadBytes offset: %v", err)
			}
			if !bytes.Equal(got, []byte("world")) {
				t.Fatalf("got %q, want %q", got, "world")
			}
		})
	}
}

func TestStoreExistsSizeDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range conformanceBackends(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.Exists(ctx, "missing")
			if err != nil {
				t.Fatalf("Exists: %v", err)
			}
			if ok {
				t.Fatalf("Exists(missing) = true")
			}
			if err := s.PutBytes(ctx, "k", []byte("1234")); err != nil {
				t.Fatalf("PutBytes: %v", err)
			}
			ok, err = s.Exists(ctx, "k")
			if err != nil || !ok {
				t.Fatalf("Exists(k) = %v, %v", ok, err)
			}
			n, err := s.Size(ctx, "k")
			if err != nil || n != 4 {
				t.Fatalf("Size(k) = %d, %v", n, err)
			}
			if err := s.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			ok, err = s.Exists(ctx, "k")
			if err != nil || ok {
				t.Fatalf("Exists(k) after delete = %v, %v", ok, err)
			}
		})
	}
}

func TestStorePutTempAndRename(t *testing.T) {
	ctx := context.Background()
	for name, s := range conformanceBackends(t) {
		t.Run(name, func(t *testing.T) {
			if !s.Features().SupportsRename {
				t.Skip("backend does not support rename")
			}
			tmp, err := s.PutTemp(ctx, bytes.NewReader([]byte("temp data")))
			if err != nil {
				t.Fatalf("PutTemp: %v", err)
			}
			if err := s.Rename(ctx, tmp, "final"); err != nil {
				t.Fatalf("Rename: %v", err)
			}
			got, err := s.OpenReadBytes(ctx, "final", 0, -1)
			if err != nil {
				t.Fatalf("OpenReadBytes: %v", err)
			}
			if !bytes.Equal(got, []byte("temp data")) {
				t.Fatalf("got %q, want %q", got, "temp data")
			}
			if ok, _ := s.Exists(ctx, tmp); ok {
				t.Fatalf("temp path %q should no longer exist after rename", tmp)
			}
		})
	}
}

func TestStoreList(t *testing.T) {
	ctx := context.Background()
	for name, s := range conformanceBackends(t) {
		t.Run(name, func(t *testing.T) {
			want := map[string]bool{"x": true, "y/z": true}
			for k := range want {
				if err := s.PutBytes(ctx, k, []byte(k)); err != nil {
					t.Fatalf("PutBytes(%s): %v", k, err)
				}
			}
			keys, errc := s.List(ctx)
			got := map[string]bool{}
			for k := range keys {
				got[k] = true
			}
			if err, ok := <-errc; ok {
				t.Fatalf("List error: %v", err)
			}
			for k := range want {
				if !got[k] {
					t.Fatalf("List missing key %q (got %v)", k, got)
				}
			}
		})
	}
}
