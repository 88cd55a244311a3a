package fs5

import (
	"context"

	"s5.dev/s5/dirmodel"
	"s5.dev/s5/errors"
	"s5.dev/s5/log"
)

// dirTs returns a DirRef's timestamp as a single comparable
// nanosecond count, treating a missing timestamp as the epoch so an
// untimestamped entry never wins an LWW comparison against a
// timestamped one.
func dirTs(d dirmodel.DirRef) int64 {
	var sec, nanos uint32
	if d.TsSeconds != nil {
		sec = *d.TsSeconds
	}
	if d.TsNanos != nil {
		nanos = *d.TsNanos
	}
	return int64(sec)*1_000_000_000 + int64(nanos)
}

// fileTs is dirTs's equivalent for FileRef.
func fileTs(f dirmodel.FileRef) int64 {
	var sec, nanos uint32
	if f.Timestamp != nil {
		sec = *f.Timestamp
	}
	if f.TimestampSubsecNanos != nil {
		nanos = *f.TimestampSubsecNanos
	}
	return int64(sec)*1_000_000_000 + int64(nanos)
}

// mergeSnapshot merges remote's entries into a's own state by
// last-write-wins on timestamp, routing to shard children first if a
// is sharded.
func (a *DirActor) mergeSnapshot(ctx context.Context, remote dirmodel.DirV1) error {
	if a.state.IsSharded() {
		if remote.IsSharded() {
			log.Debug.Printf("fs5: merging a sharded snapshot into a sharded directory without per-shard hash reuse")
		}
		return a.mergeSnapshotIntoShards(ctx, remote)
	}
	a.mergeEntriesLocal(remote)
	a.mergeHeaderFields(remote.Header)
	return a.markDirty(ctx)
}

// mergeSnapshotIntoShards groups remote's entries by the bucket their
// NAME hashes to at this directory's shard level (full names are
// preserved, never stripped, so shard children see the same entry
// names they'd see from a direct write) and forwards each group to
// the corresponding existing shard. An entry whose bucket has no
// existing shard is dropped with a warning rather than silently
// creating a new shard out of band.
func (a *DirActor) mergeSnapshotIntoShards(ctx context.Context, remote dirmodel.DirV1) error {
	shardLevel := *a.state.Header.ShardLevel
	groups := map[uint8]dirmodel.DirV1{}
	groupFor := func(b uint8) dirmodel.DirV1 {
		d, ok := groups[b]
		if !ok {
			d = dirmodel.NewDir()
			groups[b] = d
		}
		return d
	}

	for name, d := range remote.Dirs {
		b := shardBucketFor(name, shardLevel)
		if _, ok := a.state.Shards[b]; !ok {
			log.Debug.Printf("fs5: dropping merge entry %q: no shard for bucket %d", name, b)
			continue
		}
		groupFor(b).Dirs[name] = d
	}
	for name, f := range remote.Files {
		b := shardBucketFor(name, shardLevel)
		if _, ok := a.state.Shards[b]; !ok {
			log.Debug.Printf("fs5: dropping merge entry %q: no shard for bucket %d", name, b)
			continue
		}
		groupFor(b).Files[name] = f
	}

	for bucket, group := range groups {
		h, err := a.openDirShard(ctx, bucket)
		if err != nil {
			return err
		}
		if err := sendMergeSnapshot(ctx, h, group); err != nil {
			return err
		}
	}
	return nil
}

// mergeEntriesLocal applies LWW merge between a.state's Dirs/Files
// and remote's: remote wins a name slot only if it is strictly newer
// than whatever currently occupies that slot, regardless of whether
// the contender on either side is a directory or a file.
func (a *DirActor) mergeEntriesLocal(remote dirmodel.DirV1) {
	for name, rd := range remote.Dirs {
		if ld, ok := a.state.Dirs[name]; ok {
			if dirTs(rd) > dirTs(ld) {
				a.state.Dirs[name] = rd
				delete(a.dirHandles, name)
			}
			continue
		}
		if lf, ok := a.state.Files[name]; ok {
			if dirTs(rd) > fileTs(lf) {
				delete(a.state.Files, name)
				a.state.Dirs[name] = rd
			}
			continue
		}
		a.state.Dirs[name] = rd
	}

	for name, rf := range remote.Files {
		if ld, ok := a.state.Dirs[name]; ok {
			if fileTs(rf) > dirTs(ld) {
				delete(a.state.Dirs, name)
				delete(a.dirHandles, name)
				a.state.Files[name] = rf
			}
			continue
		}
		if lf, ok := a.state.Files[name]; ok {
			if fileTs(rf) > fileTs(lf) {
				a.state.Files[name] = rf
			}
			continue
		}
		a.state.Files[name] = rf
	}
}

// mergeHeaderFields merges only the fields that describe serving
// behavior (TryFiles/ErrorPages), and only when unset locally.
// ShardLevel/Shards and any other storage-layout state are never
// merged: they describe this node's own on-disk layout, not the
// directory's logical contents.
func (a *DirActor) mergeHeaderFields(remote dirmodel.DirHeader) {
	if a.state.Header.TryFiles == nil && remote.TryFiles != nil {
		a.state.Header.TryFiles = remote.TryFiles
	}
	if a.state.Header.ErrorPages == nil && remote.ErrorPages != nil {
		a.state.Header.ErrorPages = remote.ErrorPages
	}
}

type mergeSnapshotMsg struct {
	remote dirmodel.DirV1
	resp   chan error
}

func (m mergeSnapshotMsg) apply(a *DirActor) {
	m.resp <- a.mergeSnapshot(context.Background(), m.remote)
}

func sendMergeSnapshot(ctx context.Context, h *DirActorHandle, remote dirmodel.DirV1) error {
	resp := make(chan error, 1)
	if err := h.SendMsg(ctx, mergeSnapshotMsg{remote: remote, resp: resp}); err != nil {
		return err
	}
	return <-resp
}

// MergeFromSnapshot merges the DirV1 encoded by data into h's current
// state.
func MergeFromSnapshot(ctx context.Context, h *DirActorHandle, data []byte) error {
	remote, err := dirmodel.Unmarshal(data)
	if err != nil {
		return errors.E("fs5.MergeFromSnapshot", err)
	}
	return sendMergeSnapshot(ctx, h, remote)
}
