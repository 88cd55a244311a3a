package fs5

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"s5.dev/s5/dirmodel"
	"s5.dev/s5/pin"
)

func mustOpen(t *testing.T) (*FS5, string) {
	t.Helper()
	dir := t.TempDir()
	fs, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(fs.Shutdown)
	return fs, dir
}

// TestFullLifecycle mirrors the teacher's end-to-end integration test:
// plain CRUD, an encrypted subdirectory, directory creation over an
// existing file path (migration), and create_dir idempotency.
func TestFullLifecycle(t *testing.T) {
	ctx := context.Background()
	fs, _ := mustOpen(t)

	if ok, err := fs.FileExists(ctx, "root_file.txt"); err != nil || ok {
		t.Fatalf("file_exists should be false for a non-existent file, got %v, err=%v", ok, err)
	}

	if err := fs.FilePut(ctx, "root_file.txt", []byte("This is a test file for the S5 file system.")); err != nil {
		t.Fatalf("FilePut: %v", err)
	}
	if ok, err := fs.FileExists(ctx, "root_file.txt"); err != nil || !ok {
		t.Fatalf("file_exists should be true after putting a file, got %v, err=%v", ok, err)
	}

	ref, err := fs.FileGet(ctx, "root_file.txt")
	if err != nil || ref == nil {
		t.Fatalf("FileGet: %v, ref=%v", err, ref)
	}
	if ref.Size != uint64(len("This is a test file for the S5 file system.")) {
		t.Fatalf("unexpected size %d", ref.Size)
	}

	// Encrypted subdirectory: writes and reads through it should be
	// transparent to the caller.
	if err := fs.CreateDir(ctx, "secret", true); err != nil {
		t.Fatalf("CreateDir: %v", err)
	}
	if err := fs.FilePut(ctx, "secret/secret_file.txt", []byte("shh")); err != nil {
		t.Fatalf("FilePut encrypted: %v", err)
	}
	secretRef, err := fs.FileGet(ctx, "secret/secret_file.txt")
	if err != nil || secretRef == nil {
		t.Fatalf("FileGet encrypted: %v, ref=%v", err, secretRef)
	}
	if secretRef.Size != 3 {
		t.Fatalf("unexpected encrypted file size %d", secretRef.Size)
	}

	// Directory creation over an existing file path migrates it.
	if err := fs.FilePut(ctx, "to_be_migrated/another_file.txt", []byte("migrate me")); err != nil {
		t.Fatalf("FilePut pre-migration: %v", err)
	}
	if ok, _ := fs.FileExists(ctx, "to_be_migrated/another_file.txt"); !ok {
		t.Fatalf("file should exist before directory creation")
	}
	if err := fs.CreateDir(ctx, "to_be_migrated", true); err != nil {
		t.Fatalf("CreateDir over existing file path: %v", err)
	}
	if ok, err := fs.FileExists(ctx, "to_be_migrated/another_file.txt"); err != nil || !ok {
		t.Fatalf("file should still be reachable after migration, ok=%v err=%v", ok, err)
	}

	// create_dir is idempotent.
	if err := fs.CreateDir(ctx, "secret", true); err != nil {
		t.Fatalf("repeated CreateDir should not error: %v", err)
	}

	if ok, _ := fs.FileExists(ctx, "non_existent_file.txt"); ok {
		t.Fatalf("non-existent file should not exist")
	}
}

// TestAutoPromotion mirrors test_auto_promotion: inserting exactly
// the promotion threshold worth of files under a common prefix keeps
// them inline; one more promotes the prefix into its own directory.
func TestAutoPromotion(t *testing.T) {
	ctx := context.Background()
	fs, _ := mustOpen(t)

	for i := 0; i < fs5PromotionThreshold; i++ {
		name := fmt.Sprintf("promo/%d.txt", i)
		if err := fs.FilePut(ctx, name, []byte("x")); err != nil {
			t.Fatalf("FilePut %s: %v", name, err)
		}
	}

	entries, _, err := fs.List(ctx, "", 100)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !hasEntry(entries, "promo/0.txt") {
		t.Fatalf("expected promo/0.txt still inline before promotion")
	}

	name := fmt.Sprintf("promo/%d.txt", fs5PromotionThreshold)
	if err := fs.FilePut(ctx, name, []byte("x")); err != nil {
		t.Fatalf("FilePut %s: %v", name, err)
	}

	entries, _, err = fs.List(ctx, "", 100)
	if err != nil {
		t.Fatalf("List after promotion: %v", err)
	}
	if !hasDirEntry(entries, "promo") {
		t.Fatalf("expected promo to be promoted to a directory")
	}
	if hasEntry(entries, "promo/0.txt") {
		t.Fatalf("promo/0.txt should no longer be listed inline after promotion")
	}

	subEntries, _, err := fs.ListAt(ctx, "promo", "", fs5PromotionThreshold+10)
	if err != nil {
		t.Fatalf("ListAt promo: %v", err)
	}
	if len(subEntries) != fs5PromotionThreshold+1 {
		t.Fatalf("expected %d entries under promo, got %d", fs5PromotionThreshold+1, len(subEntries))
	}
}

func hasEntry(entries []Entry, name string) bool {
	for _, e := range entries {
		if e.Name == name {
			return true
		}
	}
	return false
}

func hasDirEntry(entries []Entry, name string) bool {
	for _, e := range entries {
		if e.Name == name && e.Kind == EntryKindDirectory {
			return true
		}
	}
	return false
}

// TestDeleteCreatesTombstone mirrors
// test_delete_creates_tombstone_and_hides_from_live_view.
func TestDeleteCreatesTombstone(t *testing.T) {
	ctx := context.Background()
	fs, _ := mustOpen(t)

	if err := fs.FilePut(ctx, "a.txt", []byte("v1")); err != nil {
		t.Fatalf("FilePut: %v", err)
	}
	if ok, _ := fs.FileExists(ctx, "a.txt"); !ok {
		t.Fatalf("a.txt should exist before delete")
	}

	if err := fs.FileDelete(ctx, "a.txt"); err != nil {
		t.Fatalf("FileDelete: %v", err)
	}
	if ok, _ := fs.FileExists(ctx, "a.txt"); ok {
		t.Fatalf("a.txt should not exist after delete")
	}

	snap, err := fs.ExportSnapshot(ctx)
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}
	head, ok := snap.Files["a.txt"]
	if !ok {
		t.Fatalf("expected a tombstone entry for a.txt in the snapshot")
	}
	if !head.IsTombstone() {
		t.Fatalf("expected a.txt to be a tombstone")
	}
	if head.Prev == nil || head.FirstVersion == nil {
		t.Fatalf("expected tombstone to preserve prev/first_version history")
	}
}

// TestConflictResolutionLWW mirrors test_conflict_resolution_lww and
// test_conflict_resolution_local_wins: whichever side is strictly
// newer wins the name slot.
func TestConflictResolutionLWW(t *testing.T) {
	ctx := context.Background()

	t.Run("remote newer wins", func(t *testing.T) {
		fs, _ := mustOpen(t)
		local := dirmodel.NewFileRef([32]byte{1}, 100)
		ts := uint32(100)
		local.Timestamp = &ts
		if _, err := Execute(ctx, fs.root, "foo", func(slot *Value) struct{} {
			*slot = &local
			return struct{}{}
		}); err != nil {
			t.Fatalf("seed local: %v", err)
		}

		remote := dirmodel.NewDir()
		remoteFile := dirmodel.NewFileRef([32]byte{2}, 200)
		remoteTs := uint32(200)
		remoteFile.Timestamp = &remoteTs
		remote.Files["foo"] = remoteFile

		if err := sendMergeSnapshot(ctx, fs.root, remote); err != nil {
			t.Fatalf("merge: %v", err)
		}

		merged, err := fs.FileGet(ctx, "foo")
		if err != nil || merged == nil {
			t.Fatalf("FileGet: %v, %v", err, merged)
		}
		if merged.Hash != ([32]byte{2}) {
			t.Fatalf("expected remote (hash 2) to win, got %v", merged.Hash)
		}
	})

	t.Run("local newer wins", func(t *testing.T) {
		fs, _ := mustOpen(t)
		local := dirmodel.NewFileRef([32]byte{1}, 100)
		ts := uint32(200)
		local.Timestamp = &ts
		if _, err := Execute(ctx, fs.root, "bar", func(slot *Value) struct{} {
			*slot = &local
			return struct{}{}
		}); err != nil {
			t.Fatalf("seed local: %v", err)
		}

		remote := dirmodel.NewDir()
		remoteFile := dirmodel.NewFileRef([32]byte{2}, 200)
		remoteTs := uint32(100)
		remoteFile.Timestamp = &remoteTs
		remote.Files["bar"] = remoteFile

		if err := sendMergeSnapshot(ctx, fs.root, remote); err != nil {
			t.Fatalf("merge: %v", err)
		}

		merged, err := fs.FileGet(ctx, "bar")
		if err != nil || merged == nil {
			t.Fatalf("FileGet: %v, %v", err, merged)
		}
		if merged.Hash != ([32]byte{1}) {
			t.Fatalf("expected local (hash 1) to survive, got %v", merged.Hash)
		}
	})
}

// TestConflictResolutionTypeMismatch mirrors
// test_conflict_resolution_type_mismatch: a newer remote directory
// entry displaces an older local file at the same name.
func TestConflictResolutionTypeMismatch(t *testing.T) {
	ctx := context.Background()
	fs, _ := mustOpen(t)

	local := dirmodel.NewFileRef([32]byte{1}, 100)
	ts := uint32(100)
	local.Timestamp = &ts
	if _, err := Execute(ctx, fs.root, "baz", func(slot *Value) struct{} {
		*slot = &local
		return struct{}{}
	}); err != nil {
		t.Fatalf("seed local: %v", err)
	}

	remote := dirmodel.NewDir()
	emptyDir, err := dirmodel.NewDir().Marshal()
	if err != nil {
		t.Fatalf("Marshal empty dir: %v", err)
	}
	emptyID, err := fs.ctx.MetaBlobStore.ImportBytes(ctx, emptyDir)
	if err != nil {
		t.Fatalf("ImportBytes empty dir: %v", err)
	}
	remoteDir := dirmodel.NewDirRefFromHash(emptyID.Hash)
	remoteTs := uint32(200)
	remoteDir.TsSeconds = &remoteTs
	remote.Dirs["baz"] = remoteDir

	if err := sendMergeSnapshot(ctx, fs.root, remote); err != nil {
		t.Fatalf("merge: %v", err)
	}

	if ref, err := fs.FileGet(ctx, "baz"); err != nil {
		t.Fatalf("FileGet: %v", err)
	} else if ref != nil {
		t.Fatalf("baz should no longer be a file, got %+v", ref)
	}

	entries, _, err := fs.List(ctx, "", 100)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !hasDirEntry(entries, "baz") {
		t.Fatalf("expected baz to be listed as a directory after merge")
	}
}

// TestSnapshotLifecycle mirrors create_snapshot_updates_index_and_pins_snapshot
// and delete_snapshot_removes_index_and_unpins.
func TestSnapshotLifecycle(t *testing.T) {
	ctx := context.Background()
	fs, _ := mustOpen(t)

	if err := fs.FilePut(ctx, "snap.txt", []byte("s")); err != nil {
		t.Fatalf("FilePut: %v", err)
	}

	name, hash, err := fs.CreateSnapshot(ctx, time.Now())
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if name == "" {
		t.Fatalf("expected a non-empty snapshot name")
	}

	indexPath := filepath.Join(fs.rootDir, "snapshots.fs5.cbor")

	idx, err := OpenSnapshotIndex(indexPath)
	if err != nil {
		t.Fatalf("OpenSnapshotIndex: %v", err)
	}
	got, ok := idx.Get(name)
	if !ok || got != hash {
		t.Fatalf("expected snapshot index to carry %s -> %v, got %v (ok=%v)", name, hash, got, ok)
	}
	if pinned, err := fs.Pins().IsPinned(ctx, hash, pin.LocalFsSnapshot([32]byte(hash))); err != nil || !pinned {
		t.Fatalf("expected snapshot root to be pinned after create, pinned=%v err=%v", pinned, err)
	}

	if err := fs.DeleteSnapshot(ctx, name); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
	idx2, err := OpenSnapshotIndex(indexPath)
	if err != nil {
		t.Fatalf("OpenSnapshotIndex after delete: %v", err)
	}
	if _, ok := idx2.Get(name); ok {
		t.Fatalf("expected snapshot entry to be removed after delete")
	}
	if pinned, err := fs.Pins().IsPinned(ctx, hash, pin.LocalFsSnapshot([32]byte(hash))); err != nil || pinned {
		t.Fatalf("expected snapshot root to be unpinned after delete, pinned=%v err=%v", pinned, err)
	}
}
