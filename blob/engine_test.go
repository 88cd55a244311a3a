package blob

import (
	"bytes"
	"context"
	"testing"

	"s5.dev/s5/store"
)

func TestEngineImportBytesConcreteScenario1(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(store.NewMemory(), true)

	id, err := e.ImportBytes(ctx, []byte("hello"))
	if err != nil {
		t.Fatalf("ImportBytes: %v", err)
	}
	if id.Hash.String() != "ea8f163db38682925e4491c5e58d4bb3506ef8c14eb78a86e908c5624a67200f" {
		t.Fatalf("unexpected hash: %s", id.Hash)
	}
	if id.Size != 5 {
		t.Fatalf("size = %d, want 5", id.Size)
	}

	n, err := e.Size(ctx, id.Hash)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if n != 5 {
		t.Fatalf("Size() = %d, want 5", n)
	}

	data, err := e.ReadAsBytes(ctx, id.Hash, 0, -1)
	if err != nil {
		t.Fatalf("ReadAsBytes: %v", err)
	}
	if !bytes.Equal(data, []byte("hello")) {
		t.Fatalf("ReadAsBytes = %q, want hello", data)
	}
}

func TestEngineImportBytesIdempotent(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(store.NewMemory(), false)
	data := []byte("idempotent import")

	id1, err := e.ImportBytes(ctx, data)
	if err != nil {
		t.Fatalf("first ImportBytes: %v", err)
	}
	id2, err := e.ImportBytes(ctx, data)
	if err != nil {
		t.Fatalf("second ImportBytes: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("re-import changed identity: %+v != %+v", id1, id2)
	}
}

func TestEngineImportStreamMatchesImportBytes(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(store.NewMemory(), true)
	data := bytes.Repeat([]byte("x"), 1<<17) // exceeds the outboard threshold

	idBytes, err := e.ImportBytes(ctx, data)
	if err != nil {
		t.Fatalf("ImportBytes: %v", err)
	}

	e2 := NewEngine(store.NewMemory(), true)
	idStream, err := e2.ImportStream(ctx, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ImportStream: %v", err)
	}
	if idBytes != idStream {
		t.Fatalf("ImportBytes and ImportStream disagree: %+v vs %+v", idBytes, idStream)
	}
}

func TestEngineDeleteRemovesBlobAndOutboard(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	e := NewEngine(backend, true)
	data := bytes.Repeat([]byte("y"), 1<<17)

	id, err := e.ImportBytes(ctx, data)
	if err != nil {
		t.Fatalf("ImportBytes: %v", err)
	}
	if err := e.Delete(ctx, id.Hash); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := e.Size(ctx, id.Hash); err == nil {
		t.Fatalf("expected Size to fail after delete")
	}
	// The blob and its outboard were the only keys in the backend.
	keys, _ := backend.List(ctx)
	for k := range keys {
		t.Fatalf("expected blob and outboard gone after delete, found key %q", k)
	}
}

func TestEngineList(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(store.NewMemory(), false)
	want := map[Hash]bool{}
	for _, s := range []string{"a", "b", "c"} {
		id, err := e.ImportBytes(ctx, []byte(s))
		if err != nil {
			t.Fatalf("ImportBytes: %v", err)
		}
		want[id.Hash] = true
	}

	keys, errc := e.List(ctx)
	got := map[Hash]bool{}
	for h := range keys {
		got[h] = true
	}
	if err, ok := <-errc; ok {
		t.Fatalf("List error: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("List returned %d hashes, want %d", len(got), len(want))
	}
	for h := range want {
		if !got[h] {
			t.Fatalf("List missing hash %s", h)
		}
	}
}
