package fs5

import (
	"context"
	"crypto/ed25519"
	"strings"
	"time"

	"s5.dev/s5/blob"
	"s5.dev/s5/dirmodel"
	"s5.dev/s5/errors"
	"s5.dev/s5/path5"
	"s5.dev/s5/registry"
)

// registryStreamKeyFromHash builds the registry key a DirRefRegistryKey
// entry's raw public-key bytes address.
func registryStreamKeyFromHash(pub [32]byte) registry.StreamKey {
	return registry.Ed25519Key(ed25519.PublicKey(pub[:]))
}

// Value is the mutable slot Execute's closure operates on: the
// current FileRef at a path, or nil if absent.
type Value = *dirmodel.FileRef

// shardSizeCheckInterval mirrors the teacher's periodic re-check
// counter that avoids re-serializing a directory on every single
// write just to test its size against MAX_DIR_BYTES_BEFORE_SHARD.
const shardSizeCheckInterval = 128

// DirActor owns one directory's mutable state and mailbox. All
// mutation happens on the actor's own goroutine; callers interact
// through a DirActorHandle.
type DirActor struct {
	ctx     *DirContext
	mailbox chan actorMsg

	state   dirmodel.DirV1
	dirty   bool

	currentHash       blob.Hash
	lastSerializedLen int
	opsSinceSizeCheck int
	registryRevision  uint64

	dirHandles   map[string]*DirActorHandle
	shardHandles map[uint8]*DirActorHandle

	autosaveDebounce time.Duration
	autosaveTimer    *time.Timer
	autosavePending  bool

	self *DirActorHandle
}

// DirActorHandle is the caller-facing reference to a running
// DirActor: a mailbox send end plus the context it was spawned with.
type DirActorHandle struct {
	send chan actorMsg
	ctx  *DirContext
}

// actorMsg is any message a DirActor's mailbox can carry. Each
// implementation knows how to apply itself against the owning actor;
// this keeps the actor's run loop a single type switch-free dispatch
// and lets generic per-type-parameter messages (execMsg[R]) live in
// the same mailbox as ordinary ones.
type actorMsg interface {
	apply(a *DirActor)
}

// Spawn starts a new directory actor with ctx, synchronously loading
// its initial state before returning so load errors surface to the
// caller instead of being silently dropped on the floor.
func Spawn(ctx *DirContext) (*DirActorHandle, error) {
	a := &DirActor{
		ctx:          ctx,
		mailbox:      make(chan actorMsg, 32),
		dirHandles:   map[string]*DirActorHandle{},
		shardHandles: map[uint8]*DirActorHandle{},
	}
	if err := a.load(); err != nil {
		return nil, err
	}
	h := &DirActorHandle{send: a.mailbox, ctx: ctx}
	a.self = h
	go a.run()
	return h, nil
}

func (a *DirActor) run() {
	for msg := range a.mailbox {
		msg.apply(a)
	}
}

// SendMsg enqueues msg on h's mailbox, blocking until accepted or ctx
// is cancelled.
func (h *DirActorHandle) SendMsg(ctx context.Context, msg actorMsg) error {
	select {
	case h.send <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the actor's run loop. Pending messages already
// queued are still processed first.
func (h *DirActorHandle) Shutdown() {
	close(h.send)
}

// firstAndRest splits a cleaned path into its leading element and the
// remainder, e.g. "a/b/c" -> ("a", "b/c").
func firstAndRest(p string) (first, rest string) {
	p = path5.Clean(p)
	if p == "" {
		return "", ""
	}
	i := strings.IndexByte(p, '/')
	if i < 0 {
		return p, ""
	}
	return p[:i], p[i+1:]
}

// route resolves path against a's current state, returning either a
// child handle to forward to (with the path it should see) or an
// indication that the operation belongs to this actor directly.
//
// Two storage shapes change what "forward" means:
//   - sharded directories forward by a bucket computed from the full
//     cleaned path (the same key shard()/mergeSnapshotIntoShards
//     bucket entries under), and pass the path UNCHANGED (child
//     shards store entries by their full original name, not a
//     stripped suffix — see sharding.go/shardBucketFor);
//   - unsharded directories forward only when the leading element
//     names an existing child directory, stripping that element off.
//
// route_to_child's own source was not part of the retrieved corpus;
// this shape is synthesized from sharding.go's bucket-by-full-name
// convention (actor/merge.rs's merge_snapshot_into_shards) and the
// older monolithic actor's split-on-first-slash PathOp routing
// (actor.rs's process_msg).
func (a *DirActor) route(ctx context.Context, path string) (child *DirActorHandle, forwardPath string, local bool, err error) {
	path = path5.Clean(path)
	if path == "" {
		return nil, "", true, nil
	}

	if a.state.IsSharded() {
		bucket := shardBucketFor(path, *a.state.Header.ShardLevel)
		h, err := a.openDirShard(ctx, bucket)
		if err != nil {
			return nil, "", false, err
		}
		return h, path, false, nil
	}

	first, rest := firstAndRest(path)
	if _, ok := a.state.Dirs[first]; !ok {
		return nil, path, true, nil
	}
	h, err := a.openDir(ctx, first)
	if err != nil {
		return nil, "", false, err
	}
	return h, rest, false, nil
}

// openDir returns the cached handle for child directory name,
// spawning a new actor for it if this is the first access.
func (a *DirActor) openDir(ctx context.Context, name string) (*DirActorHandle, error) {
	const op = "fs5.DirActor.openDir"
	if h, ok := a.dirHandles[name]; ok {
		return h, nil
	}
	ref, ok := a.state.Dirs[name]
	if !ok {
		return nil, errors.E(op, name, errors.NotFound)
	}

	switch ref.RefType {
	case dirmodel.DirRefBlake3Hash:
		link := DirHandleLink{
			Path:        DirHandlePath{Kind: DirHandlePathName, Name: name},
			Parent:      a.self,
			InitialHash: blob.Hash(ref.Hash),
		}
		childCtx := a.ctx.withNewRef(ref, link)
		h, err := Spawn(childCtx)
		if err != nil {
			return nil, errors.E(op, name, err)
		}
		a.dirHandles[name] = h
		return h, nil

	case dirmodel.DirRefRegistryKey:
		key := registryStreamKeyFromHash(ref.Hash)
		if existing, ok := a.ctx.RegistryDirHandles.Load(key); ok {
			h := existing.(*DirActorHandle)
			a.dirHandles[name] = h
			return h, nil
		}
		link := RegistryKeyLink{PublicKey: key}
		childCtx := a.ctx.withNewRef(ref, link)
		h, err := Spawn(childCtx)
		if err != nil {
			return nil, errors.E(op, name, err)
		}
		a.ctx.RegistryDirHandles.Store(key, h)
		a.dirHandles[name] = h
		return h, nil

	default:
		return nil, errors.E(op, name, errors.Invalid, errors.Str("unknown dir ref type"))
	}
}

// openDirShard returns the cached handle for shard bucket, spawning a
// new actor for it (with an empty directory) if it doesn't exist yet.
func (a *DirActor) openDirShard(ctx context.Context, bucket uint8) (*DirActorHandle, error) {
	const op = "fs5.DirActor.openDirShard"
	if h, ok := a.shardHandles[bucket]; ok {
		return h, nil
	}
	shardLevel := *a.state.Header.ShardLevel
	ref, ok := a.state.Shards[bucket]
	if !ok {
		return nil, errors.E(op, errors.NotFound, errors.Str("shard bucket not present"))
	}
	childShardLevel := shardLevel + 1
	if childShardLevel > maxShardLevel {
		return nil, errors.E(op, errors.Invalid, errors.Str("shard level exceeds maximum"))
	}
	link := DirHandleLink{
		Path:        DirHandlePath{Kind: DirHandlePathShard, Shard: bucket},
		Parent:      a.self,
		InitialHash: blob.Hash(ref.Hash),
		ShardLevel:  childShardLevel,
	}
	childCtx := a.ctx.withNewRef(ref, link)
	h, err := Spawn(childCtx)
	if err != nil {
		return nil, errors.E(op, err)
	}
	a.shardHandles[bucket] = h
	return h, nil
}

// markDirty flags the actor's state as needing a save, drives the
// per-mutation shard-size and promotion checks (mirroring the
// original's check_auto_promote/shard_size_check_ops being advanced on
// every PathOp, not only at save time), and kicks off the autosave
// debounce timer if one is configured.
func (a *DirActor) markDirty(ctx context.Context) error {
	a.dirty = true
	a.opsSinceSizeCheck++
	if err := a.shardIfNeeded(ctx); err != nil {
		return err
	}
	if err := a.checkAutoPromote(ctx); err != nil {
		return err
	}
	if a.autosaveDebounce <= 0 || a.self == nil {
		return nil
	}
	if a.autosaveTimer != nil {
		a.autosaveTimer.Stop()
	}
	self := a.self
	a.autosaveTimer = time.AfterFunc(a.autosaveDebounce, func() {
		_ = self.SendMsg(context.Background(), saveIfDirtyMsg{})
	})
	return nil
}
