package fs5

import (
	"context"
	"time"

	"s5.dev/s5/blob"
	"s5.dev/s5/dirmodel"
	"s5.dev/s5/errors"
	"s5.dev/s5/path5"
	"s5.dev/s5/pin"
	"s5.dev/s5/registry"
)

// FS5 is the public façade over a directory actor tree rooted at a
// local FS5 instance: file CRUD, directory creation, listing,
// snapshotting, and merging (spec §4.5's operation surface).
type FS5 struct {
	root    *DirActorHandle
	ctx     *DirContext
	rootDir string
}

// Open opens (or initializes) a local FS5 tree rooted at dir.
func Open(dir string) (*FS5, error) {
	ctx, err := OpenLocalRoot(dir)
	if err != nil {
		return nil, err
	}
	root, err := Spawn(ctx)
	if err != nil {
		ctx.Close()
		return nil, err
	}
	return &FS5{root: root, ctx: ctx, rootDir: dir}, nil
}

// RootDir returns the local directory this tree persists under,
// exported so external packages (notably gc, which cannot import fs5
// and be imported by it at once) can locate
// root.fs5.cbor/snapshots.fs5.cbor without reaching into unexported
// fields.
func (f *FS5) RootDir() string { return f.rootDir }

// MetaBlobStore and Pins expose the tree's shared blob store and pin
// set, for the same reason: a caller running a gc.Sweep over this
// tree needs both, and Save first to flush any debounced writes.
func (f *FS5) MetaBlobStore() *blob.Engine { return f.ctx.MetaBlobStore }
func (f *FS5) Pins() *pin.Set              { return f.ctx.Pins }

// Registry exposes the tree's backing registry.Api, so a node package
// serving Registry RPC against this tree's own registry database
// doesn't need to open a second, conflicting connection to it.
func (f *FS5) Registry() registry.Api { return f.ctx.Registry }

// WithAutosave enables periodic autosave on the root directory,
// debounced by the given interval: a write marks the tree dirty and a
// save fires debounceMs after the last one, not on every write.
func (f *FS5) WithAutosave(ctx context.Context, debounceMs int) error {
	resp := make(chan error, 1)
	if err := f.root.SendMsg(ctx, setAutosaveMsg{debounce: time.Duration(debounceMs) * time.Millisecond, resp: resp}); err != nil {
		return err
	}
	return <-resp
}

// Save flushes any dirty state in the tree to storage.
func (f *FS5) Save(ctx context.Context) error {
	_, _, err := sendSaveIfDirty(ctx, f.root)
	return err
}

// ExportSnapshot returns the root's own (unflattened) DirV1.
func (f *FS5) ExportSnapshot(ctx context.Context) (dirmodel.DirV1, error) {
	return ExportSnapshotAt(ctx, f.root, "")
}

// ExportMergedSnapshot returns the root's contents flattened across
// any sharding.
func (f *FS5) ExportMergedSnapshot(ctx context.Context) (dirmodel.DirV1, error) {
	return ExportMergedSnapshot(ctx, f.root)
}

// ExportSnapshotAt and ExportMergedSnapshotAt export the subdirectory
// found at path.
func (f *FS5) ExportSnapshotAt(ctx context.Context, path string) (dirmodel.DirV1, error) {
	return ExportSnapshotAt(ctx, f.root, path)
}

func (f *FS5) ExportMergedSnapshotAt(ctx context.Context, path string) (dirmodel.DirV1, error) {
	return ExportMergedSnapshotAt(ctx, f.root, path)
}

// SnapshotHash encodes and imports the root's current state without
// modifying its on-disk slot, returning the resulting hash.
func (f *FS5) SnapshotHash(ctx context.Context) (blob.Hash, error) {
	return ExportSnapshotHash(ctx, f.root)
}

// CreateSnapshot records a named snapshot of the root's current
// state.
func (f *FS5) CreateSnapshot(ctx context.Context, now time.Time) (name string, hash blob.Hash, err error) {
	return CreateSnapshot(ctx, f.root, now)
}

// DeleteSnapshot removes a named snapshot.
func (f *FS5) DeleteSnapshot(ctx context.Context, name string) error {
	return DeleteSnapshot(ctx, f.root, name)
}

// MergeFromSnapshot merges a previously exported DirV1 into the root.
func (f *FS5) MergeFromSnapshot(ctx context.Context, data []byte) error {
	return MergeFromSnapshot(ctx, f.root, data)
}

// CreateDir creates a directory at path, relative to the root; entries
// already stored under path/ move into it.
func (f *FS5) CreateDir(ctx context.Context, path string, enableEncryption bool) error {
	return CreateDir(ctx, f.root, path, enableEncryption)
}

// FilePut stores data as the content of path, content-addressing it
// through the shared blob store and recording a FileRef that names the
// data by hash and size.
func (f *FS5) FilePut(ctx context.Context, path string, data []byte) error {
	const op = "fs5.FS5.FilePut"
	id, err := f.ctx.MetaBlobStore.ImportBytes(ctx, data)
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	now := nowFileTimestamp()
	_, err = Execute(ctx, f.root, path, func(slot *Value) struct{} {
		ref := dirmodel.NewFileRef(id.Hash, id.Size)
		ref.Timestamp = &now
		if existing := *slot; existing != nil && !existing.IsTombstone() {
			ref.Prev = copyHash(existing.Hash)
			if existing.FirstVersion != nil {
				ref.FirstVersion = existing.FirstVersion
			} else {
				ref.FirstVersion = copyHash(existing.Hash)
			}
			count := uint64(1)
			if existing.VersionCount != nil {
				count = *existing.VersionCount + 1
			}
			ref.VersionCount = &count
		}
		*slot = &ref
		return struct{}{}
	})
	return err
}

// FileGet returns the FileRef stored at path, or nil if absent or a
// tombstone.
func (f *FS5) FileGet(ctx context.Context, path string) (*dirmodel.FileRef, error) {
	return Execute(ctx, f.root, path, func(slot *Value) *dirmodel.FileRef {
		v := *slot
		if v == nil || v.IsTombstone() {
			return nil
		}
		cp := *v
		return &cp
	})
}

// FileExists reports whether path names a live (non-tombstone) file.
func (f *FS5) FileExists(ctx context.Context, path string) (bool, error) {
	return Execute(ctx, f.root, path, func(slot *Value) bool {
		v := *slot
		return v != nil && !v.IsTombstone()
	})
}

// FileDelete tombstones the file at path, preserving its version
// chain. It is a no-op if the path is already absent or tombstoned.
func (f *FS5) FileDelete(ctx context.Context, path string) error {
	_, err := Execute(ctx, f.root, path, func(slot *Value) struct{} {
		v := *slot
		if v == nil || v.IsTombstone() {
			return struct{}{}
		}
		t := dirmodel.NewTombstone(*v, v.Hash)
		*slot = &t
		return struct{}{}
	})
	return err
}

// List and ListAt page through the root's own (or a subdirectory's)
// entries.
func (f *FS5) List(ctx context.Context, cursor string, limit int) ([]Entry, string, error) {
	return List(ctx, f.root, cursor, limit)
}

func (f *FS5) ListAt(ctx context.Context, path string, cursor string, limit int) ([]Entry, string, error) {
	return ListAt(ctx, f.root, path, cursor, limit)
}

// Subdir returns a handle to the actor for the subdirectory at path,
// spawning it if this is the first access. path must resolve to an
// existing directory.
func (f *FS5) Subdir(ctx context.Context, path string) (*DirActorHandle, error) {
	path = path5.Clean(path)
	if path == "" {
		return f.root, nil
	}
	resp := make(chan openSubdirResult, 1)
	if err := f.root.SendMsg(ctx, openSubdirMsg{path: path, resp: resp}); err != nil {
		return nil, err
	}
	r := <-resp
	return r.handle, r.err
}

// Shutdown stops the root actor and closes the tree's shared context,
// without saving. Child actors spawned under the root are not stopped.
func (f *FS5) Shutdown() {
	f.root.Shutdown()
	f.ctx.Close()
}

func nowFileTimestamp() uint32 {
	return uint32(time.Now().Unix())
}

func copyHash(h [32]byte) *[32]byte {
	cp := h
	return &cp
}

type setAutosaveMsg struct {
	debounce time.Duration
	resp     chan error
}

func (m setAutosaveMsg) apply(a *DirActor) {
	a.autosaveDebounce = m.debounce
	m.resp <- nil
}

type openSubdirMsg struct {
	path string
	resp chan openSubdirResult
}

type openSubdirResult struct {
	handle *DirActorHandle
	err    error
}

func (m openSubdirMsg) apply(a *DirActor) {
	ctx := context.Background()
	child, forwardPath, local, err := a.route(ctx, m.path)
	if err != nil {
		m.resp <- openSubdirResult{err: err}
		return
	}
	if local {
		// The full path named an entry local to this actor: if it's a
		// directory name, open it directly.
		if _, ok := a.state.Dirs[m.path]; ok {
			h, err := a.openDir(ctx, m.path)
			m.resp <- openSubdirResult{handle: h, err: err}
			return
		}
		m.resp <- openSubdirResult{err: errors.E("fs5.Subdir", m.path, errors.NotFound)}
		return
	}
	if forwardPath == "" {
		m.resp <- openSubdirResult{handle: child}
		return
	}
	resp := make(chan openSubdirResult, 1)
	if err := child.SendMsg(ctx, openSubdirMsg{path: forwardPath, resp: resp}); err != nil {
		m.resp <- openSubdirResult{err: err}
		return
	}
	m.resp <- <-resp
}
