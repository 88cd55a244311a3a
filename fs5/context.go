// Package fs5 implements the hierarchical, content-addressed
// directory tree described by spec §4.5: per-directory actors that
// shard, promote, merge, and persist DirV1 snapshots over a blob
// store and registry.
package fs5

import (
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"s5.dev/s5/blob"
	"s5.dev/s5/dirmodel"
	"s5.dev/s5/errors"
	"s5.dev/s5/pin"
	"s5.dev/s5/registry"
	"s5.dev/s5/store"
)

// SigningKey is an Ed25519 private key seed used to sign registry
// updates for a mutable subdirectory. Its bytes are zeroed on Close.
type SigningKey struct {
	bytes [32]byte
}

// NewSigningKey wraps a 32-byte Ed25519 seed.
func NewSigningKey(b [32]byte) *SigningKey { return &SigningKey{bytes: b} }

// Bytes returns the raw seed.
func (k *SigningKey) Bytes() [32]byte { return k.bytes }

func (k *SigningKey) zero() {
	for i := range k.bytes {
		k.bytes[i] = 0
	}
}

// DirHandlePathKind discriminates DirHandlePath's two forms.
type DirHandlePathKind uint8

const (
	// DirHandlePathName addresses a child by its logical path element.
	DirHandlePathName DirHandlePathKind = iota
	// DirHandlePathShard addresses a child by shard bucket index.
	DirHandlePathShard
)

// DirHandlePath names how a child directory actor relates to its
// parent's state: either a named entry in Dirs, or a shard bucket.
type DirHandlePath struct {
	Kind  DirHandlePathKind
	Name  string
	Shard uint8
}

// ParentLink discriminates how a directory actor's state is tied to
// storage (spec §4.5's three DirContext variants).
type ParentLink interface{ isParentLink() }

// LocalFileLink is the root of a local FS5 tree, backed by an
// flocked root.fs5.cbor file.
type LocalFileLink struct {
	File *os.File
	Path string
}

func (LocalFileLink) isParentLink() {}

// DirHandleLink is a child directory addressed by content hash,
// linked to its parent so it can push UpdateDirRefHash notifications
// upward after a save.
type DirHandleLink struct {
	Path        DirHandlePath
	Parent      *DirActorHandle
	InitialHash blob.Hash
	ShardLevel  uint8
}

func (DirHandleLink) isParentLink() {}

// RegistryKeyLink is a mutable subdirectory addressed by a registry
// entry, optionally Ed25519-signed if SigningKeyRef is set.
type RegistryKeyLink struct {
	PublicKey     registry.StreamKey
	SigningKeyRef *SigningKey
}

func (RegistryKeyLink) isParentLink() {}

// DirContext is the context a directory actor needs to operate:
// storage backends, encryption keys, and a link to its parent.
type DirContext struct {
	Link           ParentLink
	EncryptionType *uint8
	Keys           map[uint8][32]byte
	MetaBlobStore  *blob.Engine
	Registry       registry.Api
	Pins           *pin.Set
	SigningKey     *SigningKey

	// RegistryDirHandles deduplicates actors for the same registry
	// key across concurrent opens, shared by every context derived
	// from the same root.
	RegistryDirHandles *sync.Map
}

// NewDirContext builds a context with the given parent link and
// storage backends; Pins and SigningKey are left unset.
func NewDirContext(link ParentLink, metaBlobStore *blob.Engine, reg registry.Api) *DirContext {
	return &DirContext{
		Link:               link,
		Keys:               map[uint8][32]byte{},
		MetaBlobStore:      metaBlobStore,
		Registry:           reg,
		RegistryDirHandles: &sync.Map{},
	}
}

// OpenLocalRoot opens (or initializes) a local FS5 root under dir:
// creates root.fs5.cbor and snapshots.fs5.cbor if missing, exclusively
// locks root.fs5.cbor, and wires a co-located blob store, registry,
// and pin set.
func OpenLocalRoot(dir string) (*DirContext, error) {
	const op = "fs5.OpenLocalRoot"

	rootPath := filepath.Join(dir, "root.fs5.cbor")
	snapshotsPath := filepath.Join(dir, "snapshots.fs5.cbor")

	if _, err := os.Stat(rootPath); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.E(op, errors.IO, err)
		}
		empty, err := dirmodel.NewDir().Marshal()
		if err != nil {
			return nil, errors.E(op, err)
		}
		if err := os.WriteFile(rootPath, empty, 0o600); err != nil {
			return nil, errors.E(op, errors.IO, err)
		}
	} else if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}

	if _, err := os.Stat(snapshotsPath); os.IsNotExist(err) {
		empty, err := dirmodel.NewDir().Marshal()
		if err != nil {
			return nil, errors.E(op, err)
		}
		if err := os.WriteFile(snapshotsPath, empty, 0o600); err != nil {
			return nil, errors.E(op, errors.IO, err)
		}
	}

	file, err := os.OpenFile(rootPath, os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		return nil, errors.E(op, errors.IO, errors.Str("root.fs5.cbor is locked by another process"))
	}

	metaStore, err := localMetaStore(dir)
	if err != nil {
		file.Close()
		return nil, errors.E(op, err)
	}

	regDB, err := registry.OpenBolt(filepath.Join(dir, "registry.db"))
	if err != nil {
		file.Close()
		return nil, errors.E(op, err)
	}

	ctx := NewDirContext(LocalFileLink{File: file, Path: rootPath}, metaStore, regDB)
	ctx.Pins = pin.NewSet(regDB)
	return ctx, nil
}

// localMetaStore builds the disk-backed blob engine co-located with a
// local FS5 root, under a "meta" subdirectory so it never collides
// with a sibling content blob store.
func localMetaStore(dir string) (*blob.Engine, error) {
	disk, err := store.NewDisk(filepath.Join(dir, "meta"), 0)
	if err != nil {
		return nil, err
	}
	return blob.NewEngine(disk, true), nil
}

// withNewRef derives a child directory context from ctx and dirRef,
// inheriting encryption type and keys (merged with dirRef's own), and
// sharing the blob store, registry, pins, and dedup map.
func (ctx *DirContext) withNewRef(dirRef dirmodel.DirRef, link ParentLink) *DirContext {
	var signingKey *SigningKey
	if rk, ok := link.(RegistryKeyLink); ok {
		signingKey = rk.SigningKeyRef
	} else {
		signingKey = ctx.SigningKey
	}

	encType := ctx.EncryptionType
	if dirRef.EncryptionType != nil {
		encType = dirRef.EncryptionType
	}

	keys := make(map[uint8][32]byte, len(ctx.Keys))
	for k, v := range ctx.Keys {
		keys[k] = v
	}
	if dirRef.Keys != nil {
		for k, v := range *dirRef.Keys {
			keys[k] = v
		}
	}

	return &DirContext{
		Link:               link,
		EncryptionType:     encType,
		Keys:               keys,
		MetaBlobStore:      ctx.MetaBlobStore,
		Registry:           ctx.Registry,
		Pins:               ctx.Pins,
		SigningKey:         signingKey,
		RegistryDirHandles: ctx.RegistryDirHandles,
	}
}

// Close zeroes key material. Safe to call more than once.
func (ctx *DirContext) Close() error {
	for k := range ctx.Keys {
		ctx.Keys[k] = [32]byte{}
	}
	if ctx.SigningKey != nil {
		ctx.SigningKey.zero()
	}
	if lf, ok := ctx.Link.(LocalFileLink); ok && lf.File != nil {
		return lf.File.Close()
	}
	return nil
}
