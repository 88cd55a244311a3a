package fs5

import (
	"context"
	"fmt"
	"sort"
	"time"

	"s5.dev/s5/blob"
	"s5.dev/s5/dirmodel"
	"s5.dev/s5/errors"
	"s5.dev/s5/path5"
	"s5.dev/s5/pin"
)

// mergedFlatView returns a's directory contents as a single flat
// DirV1, recursively flattening shard children if a is sharded. The
// returned value's Header never carries a ShardLevel: callers see a
// directory's logical contents, not its storage layout.
func (a *DirActor) mergedFlatView(ctx context.Context) (dirmodel.DirV1, error) {
	if !a.state.IsSharded() {
		out := a.state
		out.Dirs = cloneDirs(a.state.Dirs)
		out.Files = cloneFiles(a.state.Files)
		out.Shards = nil
		out.Header.ShardLevel = nil
		return out, nil
	}

	merged := dirmodel.NewDir()
	merged.Header = a.state.Header
	merged.Header.ShardLevel = nil

	buckets := make([]uint8, 0, len(a.state.Shards))
	for b := range a.state.Shards {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	for _, b := range buckets {
		h, err := a.openDirShard(ctx, b)
		if err != nil {
			return dirmodel.DirV1{}, err
		}
		childMerged, err := sendExportMergedSnapshot(ctx, h)
		if err != nil {
			return dirmodel.DirV1{}, err
		}
		for name, d := range childMerged.Dirs {
			merged.Dirs[name] = d
		}
		for name, f := range childMerged.Files {
			merged.Files[name] = f
		}
	}
	return merged, nil
}

func cloneDirs(m map[string]dirmodel.DirRef) map[string]dirmodel.DirRef {
	out := make(map[string]dirmodel.DirRef, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneFiles(m map[string]dirmodel.FileRef) map[string]dirmodel.FileRef {
	out := make(map[string]dirmodel.FileRef, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type exportMergedSnapshotMsg struct {
	resp chan exportMergedSnapshotResult
}

type exportMergedSnapshotResult struct {
	dir dirmodel.DirV1
	err error
}

func (m exportMergedSnapshotMsg) apply(a *DirActor) {
	dir, err := a.mergedFlatView(context.Background())
	m.resp <- exportMergedSnapshotResult{dir: dir, err: err}
}

func sendExportMergedSnapshot(ctx context.Context, h *DirActorHandle) (dirmodel.DirV1, error) {
	resp := make(chan exportMergedSnapshotResult, 1)
	if err := h.SendMsg(ctx, exportMergedSnapshotMsg{resp: resp}); err != nil {
		return dirmodel.DirV1{}, err
	}
	select {
	case r := <-resp:
		return r.dir, r.err
	case <-ctx.Done():
		return dirmodel.DirV1{}, ctx.Err()
	}
}

// ExportMergedSnapshot returns h's directory contents as a single
// flat DirV1, flattening any sharding.
func ExportMergedSnapshot(ctx context.Context, h *DirActorHandle) (dirmodel.DirV1, error) {
	return sendExportMergedSnapshot(ctx, h)
}

type exportSnapshotHashMsg struct {
	resp chan exportSnapshotHashResult
}

type exportSnapshotHashResult struct {
	hash blob.Hash
	err  error
}

func (m exportSnapshotHashMsg) apply(a *DirActor) {
	hash, err := a.exportSnapshotHash(context.Background())
	m.resp <- exportSnapshotHashResult{hash: hash, err: err}
}

// ExportSnapshotHash encodes and imports h's current in-memory state
// as stored, without merging shards, returning its content hash.
func ExportSnapshotHash(ctx context.Context, h *DirActorHandle) (blob.Hash, error) {
	resp := make(chan exportSnapshotHashResult, 1)
	if err := h.SendMsg(ctx, exportSnapshotHashMsg{resp: resp}); err != nil {
		return blob.Hash{}, err
	}
	select {
	case r := <-resp:
		return r.hash, r.err
	case <-ctx.Done():
		return blob.Hash{}, ctx.Err()
	}
}

// exportSnapshotAtMsg and exportMergedSnapshotAtMsg route to a
// descendant path before running the corresponding local export.
type exportSnapshotAtMsg struct {
	path   string
	merged bool
	resp   chan exportMergedSnapshotResult
}

func (m exportSnapshotAtMsg) apply(a *DirActor) {
	ctx := context.Background()
	if m.path == "" {
		if m.merged {
			dir, err := a.mergedFlatView(ctx)
			m.resp <- exportMergedSnapshotResult{dir: dir, err: err}
		} else {
			m.resp <- exportMergedSnapshotResult{dir: a.state, err: nil}
		}
		return
	}
	child, forwardPath, local, err := a.route(ctx, m.path)
	if err != nil {
		m.resp <- exportMergedSnapshotResult{err: err}
		return
	}
	if local {
		m.resp <- exportMergedSnapshotResult{err: errors.E("fs5.exportSnapshotAt", m.path, errors.NotFound)}
		return
	}
	resp := make(chan exportMergedSnapshotResult, 1)
	if err := child.SendMsg(ctx, exportSnapshotAtMsg{path: forwardPath, merged: m.merged, resp: resp}); err != nil {
		m.resp <- exportMergedSnapshotResult{err: err}
		return
	}
	m.resp <- <-resp
}

// ExportSnapshotAt returns the DirV1 found at path under h's tree,
// without flattening any sharding at or below it.
func ExportSnapshotAt(ctx context.Context, h *DirActorHandle, path string) (dirmodel.DirV1, error) {
	path = path5.Clean(path)
	resp := make(chan exportMergedSnapshotResult, 1)
	if err := h.SendMsg(ctx, exportSnapshotAtMsg{path: path, merged: false, resp: resp}); err != nil {
		return dirmodel.DirV1{}, err
	}
	r := <-resp
	return r.dir, r.err
}

// ExportMergedSnapshotAt is ExportSnapshotAt with shard flattening.
func ExportMergedSnapshotAt(ctx context.Context, h *DirActorHandle, path string) (dirmodel.DirV1, error) {
	path = path5.Clean(path)
	resp := make(chan exportMergedSnapshotResult, 1)
	if err := h.SendMsg(ctx, exportSnapshotAtMsg{path: path, merged: true, resp: resp}); err != nil {
		return dirmodel.DirV1{}, err
	}
	r := <-resp
	return r.dir, r.err
}

// SnapshotIndex is a DirV1-backed catalog of named snapshots, stored
// at <root>/snapshots.fs5.cbor. Each entry's DirRef.Hash is the
// snapshotted root's content hash; names are derived from the
// insertion time.
type SnapshotIndex struct {
	path string
	dir  dirmodel.DirV1
}

// OpenSnapshotIndex loads the snapshot index at path, or returns an
// empty one if the file doesn't exist yet.
func OpenSnapshotIndex(path string) (*SnapshotIndex, error) {
	const op = "fs5.OpenSnapshotIndex"
	data, err := readFileIfExists(path)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	if data == nil {
		return &SnapshotIndex{path: path, dir: dirmodel.NewDir()}, nil
	}
	d, err := dirmodel.Unmarshal(data)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return &SnapshotIndex{path: path, dir: d}, nil
}

// List returns every (name, hash) pair currently in the index, sorted
// by name.
func (s *SnapshotIndex) List() []struct {
	Name string
	Hash blob.Hash
} {
	names := make([]string, 0, len(s.dir.Dirs))
	for n := range s.dir.Dirs {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]struct {
		Name string
		Hash blob.Hash
	}, 0, len(names))
	for _, n := range names {
		out = append(out, struct {
			Name string
			Hash blob.Hash
		}{Name: n, Hash: blob.Hash(s.dir.Dirs[n].Hash)})
	}
	return out
}

// InsertSnapshot records hash under a timestamp-derived name,
// deduplicating with a "-N" suffix counter if that name is taken.
func (s *SnapshotIndex) InsertSnapshot(hash blob.Hash, now time.Time) string {
	base := now.UTC().Format("2006-01-02T15:04:05Z")
	name := base
	for n := 1; ; n++ {
		if _, exists := s.dir.Dirs[name]; !exists {
			break
		}
		name = fmt.Sprintf("%s-%d", base, n)
	}
	s.dir.Dirs[name] = dirmodel.NewDirRefFromHash(hash)
	return name
}

// RemoveSnapshot deletes name from the index. A missing name is not
// an error.
func (s *SnapshotIndex) RemoveSnapshot(name string) {
	delete(s.dir.Dirs, name)
}

// Get returns the hash stored under name.
func (s *SnapshotIndex) Get(name string) (blob.Hash, bool) {
	ref, ok := s.dir.Dirs[name]
	if !ok {
		return blob.Hash{}, false
	}
	return blob.Hash(ref.Hash), true
}

// Persist writes the index to its backing file atomically.
func (s *SnapshotIndex) Persist() error {
	const op = "fs5.SnapshotIndex.Persist"
	data, err := s.dir.Marshal()
	if err != nil {
		return errors.E(op, err)
	}
	if err := writeFileAtomicByRename(s.path, data); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

type createSnapshotMsg struct {
	now  time.Time
	resp chan createSnapshotResult
}

type createSnapshotResult struct {
	name string
	hash blob.Hash
	err  error
}

func (m createSnapshotMsg) apply(a *DirActor) {
	const op = "fs5.DirActor.createSnapshot"
	ctx := context.Background()

	link, ok := a.ctx.Link.(LocalFileLink)
	if !ok {
		m.resp <- createSnapshotResult{err: errors.E(op, errors.Invalid, errors.Str("snapshots may only be created on a local root"))}
		return
	}

	hash, err := a.exportSnapshotHash(ctx)
	if err != nil {
		m.resp <- createSnapshotResult{err: err}
		return
	}

	idx, err := OpenSnapshotIndex(snapshotsIndexPath(link.Path))
	if err != nil {
		m.resp <- createSnapshotResult{err: err}
		return
	}
	name := idx.InsertSnapshot(hash, m.now)
	if err := idx.Persist(); err != nil {
		m.resp <- createSnapshotResult{err: err}
		return
	}

	if a.ctx.Pins != nil {
		if err := a.ctx.Pins.PinHash(ctx, hash, pin.LocalFsSnapshot(hash)); err != nil {
			m.resp <- createSnapshotResult{err: errors.E(op, err)}
			return
		}
	}
	m.resp <- createSnapshotResult{name: name, hash: hash}
}

// CreateSnapshot snapshots h's current state (h must be a local
// root), recording it in the snapshot index and pinning its hash.
func CreateSnapshot(ctx context.Context, h *DirActorHandle, now time.Time) (name string, hash blob.Hash, err error) {
	resp := make(chan createSnapshotResult, 1)
	if err := h.SendMsg(ctx, createSnapshotMsg{now: now, resp: resp}); err != nil {
		return "", blob.Hash{}, err
	}
	r := <-resp
	return r.name, r.hash, r.err
}

type deleteSnapshotMsg struct {
	name string
	resp chan error
}

func (m deleteSnapshotMsg) apply(a *DirActor) {
	ctx := context.Background()
	link, ok := a.ctx.Link.(LocalFileLink)
	if !ok {
		m.resp <- errors.E("fs5.DirActor.deleteSnapshot", errors.Invalid, errors.Str("snapshots may only be deleted on a local root"))
		return
	}
	idx, err := OpenSnapshotIndex(snapshotsIndexPath(link.Path))
	if err != nil {
		// Unreadable or undecodable index (a missing file opens as an
		// empty index): best-effort no-op.
		m.resp <- nil
		return
	}
	hash, existed := idx.Get(m.name)
	idx.RemoveSnapshot(m.name)
	if err := idx.Persist(); err != nil {
		m.resp <- err
		return
	}
	if existed && a.ctx.Pins != nil {
		_, _ = a.ctx.Pins.UnpinHash(ctx, hash, pin.LocalFsSnapshot(hash))
	}
	m.resp <- nil
}

// DeleteSnapshot removes a named snapshot from h's index (h must be a
// local root) and best-effort unpins its hash.
func DeleteSnapshot(ctx context.Context, h *DirActorHandle, name string) error {
	resp := make(chan error, 1)
	if err := h.SendMsg(ctx, deleteSnapshotMsg{name: name, resp: resp}); err != nil {
		return err
	}
	return <-resp
}

func snapshotsIndexPath(rootPath string) string {
	return rootPath[:len(rootPath)-len("root.fs5.cbor")] + "snapshots.fs5.cbor"
}
