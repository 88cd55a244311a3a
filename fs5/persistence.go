package fs5

import (
	"context"
	"crypto/ed25519"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"s5.dev/s5/blob"
	"s5.dev/s5/dirmodel"
	"s5.dev/s5/errors"
	"s5.dev/s5/log"
	"s5.dev/s5/pin"
	"s5.dev/s5/registry"
)

// load populates a.state from storage according to a.ctx.Link,
// tracking the bookkeeping persistence needs to detect future
// changes: currentHash (LocalFile/DirHandle) or registryRevision
// (RegistryKey).
func (a *DirActor) load() error {
	const op = "fs5.DirActor.load"

	switch link := a.ctx.Link.(type) {
	case LocalFileLink:
		if _, err := link.File.Seek(0, io.SeekStart); err != nil {
			return errors.E(op, errors.IO, err)
		}
		data, err := io.ReadAll(link.File)
		if err != nil {
			return errors.E(op, errors.IO, err)
		}
		a.currentHash = blob.Sum(data)
		plain, err := a.decryptIfNeeded(data)
		if err != nil {
			return errors.E(op, err)
		}
		state, err := dirmodel.Unmarshal(plain)
		if err != nil {
			return errors.E(op, err)
		}
		a.state = state
		a.lastSerializedLen = len(data)
		return nil

	case DirHandleLink:
		data, err := a.ctx.MetaBlobStore.ReadAsBytes(context.Background(), link.InitialHash, 0, -1)
		if err != nil {
			return errors.E(op, err)
		}
		a.currentHash = link.InitialHash
		plain, err := a.decryptIfNeeded(data)
		if err != nil {
			return errors.E(op, err)
		}
		state, err := dirmodel.Unmarshal(plain)
		if err != nil {
			return errors.E(op, err)
		}
		a.state = state
		a.lastSerializedLen = len(data)
		return nil

	case RegistryKeyLink:
		msg, err := a.ctx.Registry.Get(context.Background(), link.PublicKey)
		if errors.Is(errors.NotFound, err) {
			a.state = dirmodel.NewDir()
			a.registryRevision = 0
			return nil
		}
		if err != nil {
			return errors.E(op, err)
		}
		a.registryRevision = msg.Revision
		a.currentHash = msg.Hash
		data, err := a.ctx.MetaBlobStore.ReadAsBytes(context.Background(), msg.Hash, 0, -1)
		if err != nil {
			return errors.E(op, err)
		}
		plain, err := a.decryptIfNeeded(data)
		if err != nil {
			return errors.E(op, err)
		}
		state, err := dirmodel.Unmarshal(plain)
		if err != nil {
			return errors.E(op, err)
		}
		a.state = state
		a.lastSerializedLen = len(data)
		return nil

	default:
		return errors.E(op, errors.Invalid, errors.Str("unknown parent link kind"))
	}
}

// decryptIfNeeded decrypts data with this directory's own content key
// when a.ctx.EncryptionType marks it as encrypted, returning data
// unchanged otherwise.
func (a *DirActor) decryptIfNeeded(data []byte) ([]byte, error) {
	if a.ctx.EncryptionType == nil {
		return data, nil
	}
	if *a.ctx.EncryptionType != dirmodel.EncryptionXChaCha20Poly1305 {
		return data, nil
	}
	key, ok := a.ctx.Keys[encryptionKeyID]
	if !ok {
		return nil, errors.E("fs5.DirActor.decryptIfNeeded", errors.DecryptError, errors.Str("missing directory content key"))
	}
	return decryptDirBytes(key, data)
}

// encodeStateBytes serializes a.state, encrypting it under this
// directory's own content key when encryption is enabled.
func (a *DirActor) encodeStateBytes() ([]byte, error) {
	const op = "fs5.DirActor.encodeStateBytes"
	data, err := a.state.Marshal()
	if err != nil {
		return nil, errors.E(op, err)
	}
	if a.ctx.EncryptionType == nil {
		return data, nil
	}
	key, ok := a.ctx.Keys[encryptionKeyID]
	if !ok {
		return nil, errors.E(op, errors.DecryptError, errors.Str("missing directory content key"))
	}
	return encryptDirBytes(key, data)
}

// encodeChildDirBytesForChild serializes child, generating and
// returning a fresh per-child content key when this subtree has
// encryption enabled (spec §4.5: every directory gets its own key).
func (a *DirActor) encodeChildDirBytesForChild(child dirmodel.DirV1) ([]byte, *map[uint8][32]byte, error) {
	const op = "fs5.DirActor.encodeChildDirBytesForChild"
	data, err := child.Marshal()
	if err != nil {
		return nil, nil, errors.E(op, err)
	}
	if a.ctx.EncryptionType == nil {
		return data, nil, nil
	}
	key, err := newEncryptionKey()
	if err != nil {
		return nil, nil, errors.E(op, err)
	}
	enc, err := encryptDirBytes(key, data)
	if err != nil {
		return nil, nil, errors.E(op, err)
	}
	keys := map[uint8][32]byte{encryptionKeyID: key}
	return enc, &keys, nil
}

// exportSnapshotHash encodes the current state and imports it into
// the blob store without touching this directory's own storage slot,
// returning the resulting content hash.
func (a *DirActor) exportSnapshotHash(ctx context.Context) (blob.Hash, error) {
	data, err := a.encodeStateBytes()
	if err != nil {
		return blob.Hash{}, err
	}
	id, err := a.ctx.MetaBlobStore.ImportBytes(ctx, data)
	if err != nil {
		return blob.Hash{}, errors.E("fs5.DirActor.exportSnapshotHash", errors.IO, err)
	}
	return id.Hash, nil
}

// save persists a.state to its storage slot and clears the dirty
// flag. When notifyParent is true and this is a DirHandleLink whose
// hash changed, the parent actor is sent an UpdateDirRefHash message.
func (a *DirActor) save(ctx context.Context, notifyParent bool) error {
	const op = "fs5.DirActor.save"

	data, err := a.encodeStateBytes()
	if err != nil {
		return errors.E(op, err)
	}

	switch link := a.ctx.Link.(type) {
	case LocalFileLink:
		id, err := a.ctx.MetaBlobStore.ImportBytes(ctx, data)
		if err != nil {
			return errors.E(op, errors.IO, err)
		}
		if a.ctx.Pins != nil {
			previous := a.currentHash
			if previous != (blob.Hash{}) && previous != id.Hash {
				_, _ = a.ctx.Pins.UnpinHash(ctx, previous, pin.LocalFsHead())
			}
			if err := a.ctx.Pins.PinHash(ctx, id.Hash, pin.LocalFsHead()); err != nil {
				return errors.E(op, err)
			}
		}
		if err := writeFileAtomically(link.File, data); err != nil {
			return errors.E(op, errors.IO, err)
		}
		a.currentHash = id.Hash
		a.lastSerializedLen = len(data)
		a.dirty = false
		return nil

	case DirHandleLink:
		id, err := a.ctx.MetaBlobStore.ImportBytes(ctx, data)
		if err != nil {
			return errors.E(op, errors.IO, err)
		}
		changed := id.Hash != link.InitialHash
		link.InitialHash = id.Hash
		a.ctx.Link = link
		a.currentHash = id.Hash
		a.lastSerializedLen = len(data)
		a.dirty = false
		if notifyParent && changed && link.Parent != nil {
			if err := link.Parent.SendMsg(ctx, updateDirRefHashMsg{path: link.Path, hash: id.Hash}); err != nil {
				return errors.E(op, err)
			}
		}
		return nil

	case RegistryKeyLink:
		id, err := a.ctx.MetaBlobStore.ImportBytes(ctx, data)
		if err != nil {
			return errors.E(op, errors.IO, err)
		}
		revision := a.registryRevision + 1
		if link.SigningKeyRef == nil {
			return errors.E(op, errors.SignatureRequired, errors.Str("no signing key for registry-backed directory"))
		}
		// The registry entry only points at the content-addressed
		// blob just imported above; it never inlines the directory
		// bytes themselves, which routinely exceed the registry's
		// inline data size limit.
		msg := registry.Message{
			Type:     registry.MessageTypeRegistry,
			Key:      link.PublicKey,
			Revision: revision,
			Hash:     id.Hash,
		}
		seed := link.SigningKeyRef.Bytes()
		priv := ed25519.NewKeyFromSeed(seed[:])
		msg, err = msg.Sign(priv)
		if err != nil {
			return errors.E(op, err)
		}
		if err := a.ctx.Registry.Set(ctx, msg); err != nil {
			return errors.E(op, err)
		}
		a.registryRevision = revision
		a.currentHash = id.Hash
		a.lastSerializedLen = len(data)
		a.dirty = false
		return nil

	default:
		return errors.E(op, errors.Invalid, errors.Str("unknown parent link kind"))
	}
}

// saveIfDirty recursively saves every dirty child before considering
// this directory: a child whose hash changed marks this directory
// dirty too, since its Dirs/Shards entry must be updated to match.
// The root (a LocalFileLink) always walks its children even when not
// itself dirty, so a deeply nested write is never left unflushed.
func (a *DirActor) saveIfDirty(ctx context.Context) (blob.Hash, error) {
	_, isRoot := a.ctx.Link.(LocalFileLink)

	type namedResult struct {
		name    string
		bucket  uint8
		isShard bool
		hash    blob.Hash
		changed bool
	}

	g, gctx := errgroup.WithContext(ctx)
	resultsCh := make(chan namedResult, len(a.dirHandles)+len(a.shardHandles))

	for name, h := range a.dirHandles {
		name, h := name, h
		g.Go(func() error {
			hash, changed, err := sendSaveIfDirty(gctx, h)
			if err != nil {
				return err
			}
			resultsCh <- namedResult{name: name, hash: hash, changed: changed}
			return nil
		})
	}
	for bucket, h := range a.shardHandles {
		bucket, h := bucket, h
		g.Go(func() error {
			hash, changed, err := sendSaveIfDirty(gctx, h)
			if err != nil {
				return err
			}
			resultsCh <- namedResult{bucket: bucket, isShard: true, hash: hash, changed: changed}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return blob.Hash{}, err
	}
	close(resultsCh)

	for r := range resultsCh {
		if !r.changed {
			continue
		}
		if r.isShard {
			ref := a.state.Shards[r.bucket]
			ref.Hash = r.hash
			a.state.Shards[r.bucket] = ref
		} else {
			ref := a.state.Dirs[r.name]
			ref.Hash = r.hash
			a.state.Dirs[r.name] = ref
		}
		a.dirty = true
	}

	if !a.dirty && !isRoot {
		return a.currentHash, nil
	}
	if a.dirty {
		if err := a.shardIfNeeded(ctx); err != nil {
			return blob.Hash{}, err
		}
		if err := a.checkAutoPromote(ctx); err != nil {
			return blob.Hash{}, err
		}
		if err := a.save(ctx, false); err != nil {
			return blob.Hash{}, err
		}
	}
	return a.currentHash, nil
}

// sendSaveIfDirty asks child to save itself if dirty (recursively),
// returning its resulting hash and whether that hash changed from
// what the caller already knew.
func sendSaveIfDirty(ctx context.Context, child *DirActorHandle) (newHash blob.Hash, changed bool, err error) {
	resp := make(chan saveIfDirtyResult, 1)
	if err := child.SendMsg(ctx, saveIfDirtyMsg{resp: resp}); err != nil {
		return blob.Hash{}, false, err
	}
	select {
	case r := <-resp:
		return r.hash, r.changed, r.err
	case <-ctx.Done():
		return blob.Hash{}, false, ctx.Err()
	}
}

type saveIfDirtyResult struct {
	hash    blob.Hash
	changed bool
	err     error
}

type saveIfDirtyMsg struct {
	resp chan saveIfDirtyResult
}

func (m saveIfDirtyMsg) apply(a *DirActor) {
	before := a.currentHash
	hash, err := a.saveIfDirty(context.Background())
	if m.resp == nil {
		return
	}
	m.resp <- saveIfDirtyResult{hash: hash, changed: hash != before, err: err}
}

type updateDirRefHashMsg struct {
	path DirHandlePath
	hash blob.Hash
}

func (m updateDirRefHashMsg) apply(a *DirActor) {
	switch m.path.Kind {
	case DirHandlePathName:
		ref, ok := a.state.Dirs[m.path.Name]
		if !ok {
			return
		}
		ref.Hash = m.hash
		a.state.Dirs[m.path.Name] = ref
	case DirHandlePathShard:
		ref, ok := a.state.Shards[m.path.Shard]
		if !ok {
			return
		}
		ref.Hash = m.hash
		a.state.Shards[m.path.Shard] = ref
	}
	if err := a.markDirty(context.Background()); err != nil {
		log.Error.Printf("fs5: markDirty after updateDirRefHash: %v", err)
	}
}

// writeFileAtomically replaces f's contents with data in place: the
// root file stays open (and locked) for the actor's whole lifetime,
// so it is truncated and rewritten rather than renamed over.
func writeFileAtomically(f *os.File, data []byte) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}
