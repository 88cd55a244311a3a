package fs5

import (
	"context"
	"fmt"
	"testing"
)

// TestShardingBehavior mirrors test_sharding_behavior: enough small
// files to cross maxDirBytesBeforeShard should shard the root, but a
// merged export must still expose every file as one flat namespace
// with no sharding header of its own.
func TestShardingBehavior(t *testing.T) {
	ctx := context.Background()
	fs, _ := mustOpen(t)

	const count = 2000
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("file_%04d.txt", i)
		if err := fs.FilePut(ctx, name, []byte(fmt.Sprintf("content %d", i))); err != nil {
			t.Fatalf("FilePut %s: %v", name, err)
		}
	}
	if err := fs.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, _, err := fs.List(ctx, "", count+100)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != count {
		t.Fatalf("expected %d listed entries, got %d", count, len(entries))
	}

	snap, err := fs.ExportSnapshot(ctx)
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}
	if snap.Header.ShardLevel == nil {
		t.Fatalf("expected 2000 small files to cross the sharding threshold and shard the root")
	}
	if len(snap.Shards) == 0 {
		t.Fatalf("expected a sharded root to carry at least one shard")
	}
	if len(snap.Files) > count/2 {
		t.Fatalf("root snapshot still holds %d of %d files after sharding", len(snap.Files), count)
	}

	merged, err := fs.ExportMergedSnapshot(ctx)
	if err != nil {
		t.Fatalf("ExportMergedSnapshot: %v", err)
	}
	if len(merged.Files) != count {
		t.Fatalf("merged snapshot should contain all %d files, got %d", count, len(merged.Files))
	}
	if merged.Header.ShardLevel != nil {
		t.Fatalf("merged snapshot should not itself report as sharded")
	}
}

// TestListCursorPaginates checks that repeatedly following the
// returned cursor yields every entry exactly once, in order.
func TestListCursorPaginates(t *testing.T) {
	ctx := context.Background()
	fs, _ := mustOpen(t)

	const count = 50
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("f%03d.txt", i)
		if err := fs.FilePut(ctx, name, []byte("x")); err != nil {
			t.Fatalf("FilePut: %v", err)
		}
	}

	seen := map[string]bool{}
	last := ""
	cursor := ""
	for {
		entries, next, err := fs.List(ctx, cursor, 7)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			if seen[e.Name] {
				t.Fatalf("entry %q returned more than once", e.Name)
			}
			seen[e.Name] = true
			if e.Name <= last {
				t.Fatalf("entry %q returned after %q, out of order", e.Name, last)
			}
			last = e.Name
		}
		if next == "" {
			break
		}
		cursor = next
	}

	if len(seen) != count {
		t.Fatalf("expected to see all %d entries via pagination, got %d", count, len(seen))
	}
}
