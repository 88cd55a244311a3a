package gc_test

import (
	"context"
	"math/rand"
	"testing"

	"s5.dev/s5/blob"
	"s5.dev/s5/fs5"
	"s5.dev/s5/gc"
)

func mustOpen(t *testing.T) *fs5.FS5 {
	t.Helper()
	dir := t.TempDir()
	f, err := fs5.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(f.Shutdown)
	return f
}

// TestSweepKeepsReachableAndDeletesOrphaned grounds gc's sweep on the
// original's conservative-sweep invariant: anything reachable from
// the live root (or pinned) survives, anything else — orphaned
// content left behind with no surviving version chain pointing at it
// — does not.
func TestSweepKeepsReachableAndDeletesOrphaned(t *testing.T) {
	ctx := context.Background()
	f := mustOpen(t)

	if err := f.FilePut(ctx, "kept.txt", []byte("kept content")); err != nil {
		t.Fatalf("FilePut: %v", err)
	}
	if err := f.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	keptRef, err := f.FileGet(ctx, "kept.txt")
	if err != nil || keptRef == nil {
		t.Fatalf("FileGet kept.txt: %v, %v", err, keptRef)
	}

	orphanID, err := f.MetaBlobStore().ImportBytes(ctx, []byte("nobody points at this"))
	if err != nil {
		t.Fatalf("ImportBytes orphan: %v", err)
	}

	reachable, err := gc.CollectReachable(ctx, f.MetaBlobStore(), f.RootDir())
	if err != nil {
		t.Fatalf("CollectReachable: %v", err)
	}
	report, err := gc.Sweep(ctx, f.MetaBlobStore(), reachable, f.Pins(), false)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	foundOrphan := false
	for _, h := range report.Candidates {
		if h == orphanID.Hash {
			foundOrphan = true
		}
		if h == keptRef.Hash {
			t.Fatalf("live file content must never be a sweep candidate")
		}
	}
	if !foundOrphan {
		t.Fatalf("expected the orphaned blob to be a sweep candidate")
	}

	if _, err := f.MetaBlobStore().ReadAsBytes(ctx, orphanID.Hash, 0, -1); err == nil {
		t.Fatalf("expected orphaned blob to have been deleted")
	}

	liveData, err := f.MetaBlobStore().ReadAsBytes(ctx, keptRef.Hash, 0, -1)
	if err != nil {
		t.Fatalf("kept.txt content should survive a sweep: %v", err)
	}
	if string(liveData) != "kept content" {
		t.Fatalf("unexpected surviving content: %q", liveData)
	}
}

// TestSweepDryRunDoesNotDelete mirrors the original's dry_run
// contract: candidates are reported but nothing is actually removed.
func TestSweepDryRunDoesNotDelete(t *testing.T) {
	ctx := context.Background()
	f := mustOpen(t)

	orphanID, err := f.MetaBlobStore().ImportBytes(ctx, []byte("dry run orphan"))
	if err != nil {
		t.Fatalf("ImportBytes: %v", err)
	}

	reachable, err := gc.CollectReachable(ctx, f.MetaBlobStore(), f.RootDir())
	if err != nil {
		t.Fatalf("CollectReachable: %v", err)
	}
	report, err := gc.Sweep(ctx, f.MetaBlobStore(), reachable, f.Pins(), true)
	if err != nil {
		t.Fatalf("Sweep dry run: %v", err)
	}
	if report.Deleted != 0 {
		t.Fatalf("dry run must not delete anything, deleted=%d", report.Deleted)
	}

	if _, err := f.MetaBlobStore().ReadAsBytes(ctx, orphanID.Hash, 0, -1); err != nil {
		t.Fatalf("blob should still be present after a dry run: %v", err)
	}
}

// TestVerifySample checks that sampling reachable hashes never reports
// a mismatch for content that hasn't been tampered with, surfacing the
// `gc --verify` sampling check as a plain library call.
func TestVerifySample(t *testing.T) {
	ctx := context.Background()
	f := mustOpen(t)

	for i := 0; i < 10; i++ {
		name := "f" + string(rune('a'+i)) + ".txt"
		if err := f.FilePut(ctx, name, []byte(name)); err != nil {
			t.Fatalf("FilePut: %v", err)
		}
	}
	if err := f.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reachable, err := gc.CollectReachable(ctx, f.MetaBlobStore(), f.RootDir())
	if err != nil {
		t.Fatalf("CollectReachable: %v", err)
	}

	var keptHashes []blob.Hash
	for h := range reachable {
		keptHashes = append(keptHashes, h)
	}
	if len(keptHashes) == 0 {
		t.Fatalf("expected at least one reachable hash")
	}

	mismatched, err := gc.VerifySample(ctx, f.MetaBlobStore(), keptHashes, len(keptHashes), rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("VerifySample: %v", err)
	}
	if len(mismatched) != 0 {
		t.Fatalf("unexpected mismatches on untampered content: %v", mismatched)
	}
}
