package fs5

import (
	"context"

	"github.com/zeebo/xxh3"

	"s5.dev/s5/dirmodel"
	"s5.dev/s5/errors"
)

const (
	// maxDirBytesBeforeShard is the serialized-size threshold past
	// which a directory shards itself into up to 256 children.
	maxDirBytesBeforeShard = 65_536
	// maxShardLevel bounds how many times a subtree may shard; a
	// directory at this depth can still grow arbitrarily large, it
	// simply stops subdividing.
	maxShardLevel = 7
	// fs5PromotionThreshold is the file-count, under a single
	// top-level prefix, past which that prefix is promoted into its
	// own subdirectory actor.
	fs5PromotionThreshold = 16
)

// shardBucketFor hashes name with xxh3_64 and selects byte number
// shardLevel counted from the least significant end (the hash shifted
// right by 8*shardLevel), giving a stable 0-255 bucket that
// a directory and all of its descendants agree on for the same name.
func shardBucketFor(name string, shardLevel uint8) uint8 {
	if shardLevel > maxShardLevel {
		panic("fs5: shardLevel exceeds maxShardLevel")
	}
	h := xxh3.HashString(name)
	return uint8(h >> (8 * shardLevel))
}

// countFilesUnderPrefix counts files directly or transitively named
// under prefix/ in the local (unsharded) state.
func countFilesUnderPrefix(state dirmodel.DirV1, prefix string) int {
	n := 0
	want := prefix + "/"
	for name := range state.Files {
		if len(name) > len(want) && name[:len(want)] == want {
			n++
		}
	}
	return n
}

// checkAutoPromote promotes any top-level prefix whose file count
// exceeds fs5PromotionThreshold into its own child directory actor.
func (a *DirActor) checkAutoPromote(ctx context.Context) error {
	if a.state.IsSharded() {
		return nil
	}
	counts := map[string]int{}
	for name := range a.state.Files {
		first, rest := firstAndRest(name)
		if rest == "" {
			continue
		}
		counts[first]++
	}
	for prefix, n := range counts {
		if n <= fs5PromotionThreshold {
			continue
		}
		if _, alreadyDir := a.state.Dirs[prefix]; alreadyDir {
			continue
		}
		if err := a.promotePrefix(ctx, prefix); err != nil {
			return err
		}
	}
	return nil
}

// promotePrefix moves every file and dir named under prefix/ into a
// freshly spawned child directory actor, replacing them with a single
// DirRef entry named prefix.
func (a *DirActor) promotePrefix(ctx context.Context, prefix string) error {
	const op = "fs5.DirActor.promotePrefix"

	child := dirmodel.NewDir()
	want := prefix + "/"
	for name, f := range a.state.Files {
		if len(name) > len(want) && name[:len(want)] == want {
			child.Files[name[len(want):]] = f
			delete(a.state.Files, name)
		}
	}
	for name, d := range a.state.Dirs {
		if len(name) > len(want) && name[:len(want)] == want {
			child.Dirs[name[len(want):]] = d
			delete(a.state.Dirs, name)
		}
	}

	data, keys, err := a.encodeChildDirBytesForChild(child)
	if err != nil {
		return errors.E(op, err)
	}
	id, err := a.ctx.MetaBlobStore.ImportBytes(ctx, data)
	if err != nil {
		return errors.E(op, errors.IO, err)
	}

	ref := dirmodel.DirRef{RefType: dirmodel.DirRefBlake3Hash, Hash: id.Hash}
	if keys != nil {
		ref.Keys = keys
		enc := uint8(dirmodel.EncryptionXChaCha20Poly1305)
		ref.EncryptionType = &enc
	}
	a.state.Dirs[prefix] = ref
	delete(a.dirHandles, prefix)
	return nil
}

// shardIfNeeded checks the directory's approximate serialized size
// and, if it exceeds maxDirBytesBeforeShard, shards it. The exact
// check (a real re-encode) only runs periodically, every
// shardSizeCheckInterval ops, to avoid re-serializing on every single
// mutation — markDirty advances opsSinceSizeCheck on every mutation so
// this throttle actually accumulates across a batch of writes instead
// of only within a single Save.
func (a *DirActor) shardIfNeeded(ctx context.Context) error {
	if a.state.IsSharded() {
		return nil
	}
	if a.lastSerializedLen < maxDirBytesBeforeShard && a.opsSinceSizeCheck < shardSizeCheckInterval {
		return nil
	}
	a.opsSinceSizeCheck = 0

	data, err := a.encodeStateBytes()
	if err != nil {
		return err
	}
	a.lastSerializedLen = len(data)
	if len(data) < maxDirBytesBeforeShard {
		return nil
	}
	return a.shard(ctx)
}

// shard performs the one-time conversion of this directory's flat
// Dirs/Files into up to 256 shard children, bucketed by entry name at
// this directory's shard level.
func (a *DirActor) shard(ctx context.Context) error {
	const op = "fs5.DirActor.shard"
	if a.state.IsSharded() {
		return nil
	}

	shardLevel := uint8(0)
	if link, ok := a.ctx.Link.(DirHandleLink); ok {
		shardLevel = link.ShardLevel
	}
	if shardLevel >= maxShardLevel {
		return nil
	}

	buckets := map[uint8]dirmodel.DirV1{}
	bucketFor := func(b uint8) dirmodel.DirV1 {
		d, ok := buckets[b]
		if !ok {
			d = dirmodel.NewDir()
			buckets[b] = d
		}
		return d
	}
	for name, d := range a.state.Dirs {
		b := shardBucketFor(name, shardLevel)
		bucketFor(b).Dirs[name] = d
	}
	for name, f := range a.state.Files {
		b := shardBucketFor(name, shardLevel)
		bucketFor(b).Files[name] = f
	}

	newShards := map[uint8]dirmodel.DirRef{}
	for bucket, d := range buckets {
		if len(d.Dirs) == 0 && len(d.Files) == 0 {
			continue
		}
		data, keys, err := a.encodeChildDirBytesForChild(d)
		if err != nil {
			return errors.E(op, err)
		}
		id, err := a.ctx.MetaBlobStore.ImportBytes(ctx, data)
		if err != nil {
			return errors.E(op, errors.IO, err)
		}
		ref := dirmodel.DirRef{RefType: dirmodel.DirRefBlake3Hash, Hash: id.Hash}
		if keys != nil {
			ref.Keys = keys
			enc := uint8(dirmodel.EncryptionXChaCha20Poly1305)
			ref.EncryptionType = &enc
		}
		newShards[bucket] = ref
	}

	level := shardLevel
	a.state.Header.ShardLevel = &level
	a.state.Shards = newShards
	a.state.Dirs = map[string]dirmodel.DirRef{}
	a.state.Files = map[string]dirmodel.FileRef{}
	a.dirHandles = map[string]*DirActorHandle{}
	return a.markDirty(ctx)
}
