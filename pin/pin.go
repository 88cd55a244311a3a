// Package pin implements reference-counted pin metadata over a
// registry (spec §4.4): each blob hash's pinner set is itself a
// registry entry under a Blake3HashPin key, CBOR-encoded and
// maintained under a 64-way sharded lock.
package pin

import (
	"context"
	"sort"
	"sync"

	"s5.dev/s5/blob"
	"s5.dev/s5/cbor5"
	"s5.dev/s5/errors"
	"s5.dev/s5/registry"
)

// ContextKind discriminates the canonical PinContext tags (spec "Pin
// contexts"). Application-defined contexts use ContextOther with
// their own encoding in Label.
type ContextKind uint8

const (
	// ContextLocalFsHead pins the live root of a local FS5 tree.
	ContextLocalFsHead ContextKind = 0
	// ContextLocalFsSnapshot pins a named snapshot's root hash.
	ContextLocalFsSnapshot ContextKind = 1
	// ContextPeerPin pins on behalf of a remote peer, identified by
	// its Ed25519 public key.
	ContextPeerPin ContextKind = 2
	// ContextOther carries an application-defined tag in Label.
	ContextOther ContextKind = 255
)

// Context identifies a single holder of a pin on a blob hash.
// Contexts compare and sort structurally, so a sorted Vec<PinContext>
// is deterministic across nodes.
type Context struct {
	Kind  ContextKind `cbor:"0,keyasint"`
	Hash  *[32]byte   `cbor:"1,keyasint,omitempty"` // LocalFsSnapshot's root_hash
	Peer  *[32]byte   `cbor:"2,keyasint,omitempty"` // PeerPin's peer_id
	Label string      `cbor:"3,keyasint,omitempty"` // ContextOther's application tag
}

// LocalFsHead returns the pin context for a tree's own live root.
func LocalFsHead() Context { return Context{Kind: ContextLocalFsHead} }

// LocalFsSnapshot returns the pin context for a named snapshot's root.
func LocalFsSnapshot(rootHash [32]byte) Context {
	return Context{Kind: ContextLocalFsSnapshot, Hash: &rootHash}
}

// PeerPin returns the pin context held on behalf of peerID.
func PeerPin(peerID [32]byte) Context {
	return Context{Kind: ContextPeerPin, Peer: &peerID}
}

// Other returns an application-defined pin context identified by label.
func Other(label string) Context {
	return Context{Kind: ContextOther, Label: label}
}

func optHash(h *[32]byte) [32]byte {
	if h == nil {
		return [32]byte{}
	}
	return *h
}

// Equal reports whether c and other identify the same pinner. Hash
// and Peer are pointer fields so they must be compared by value, not
// by address.
func (c Context) Equal(other Context) bool {
	return c.Kind == other.Kind &&
		optHash(c.Hash) == optHash(other.Hash) &&
		optHash(c.Peer) == optHash(other.Peer) &&
		c.Label == other.Label
}

// less orders contexts deterministically for the sorted pinner-set
// encoding (spec §4.4's "sorted Vec<PinContext>").
func (c Context) less(other Context) bool {
	if c.Kind != other.Kind {
		return c.Kind < other.Kind
	}
	if ch, oh := optHash(c.Hash), optHash(other.Hash); ch != oh {
		return string(ch[:]) < string(oh[:])
	}
	if cp, op := optHash(c.Peer), optHash(other.Peer); cp != op {
		return string(cp[:]) < string(op[:])
	}
	return c.Label < other.Label
}

// Set is the pinner set backed by a single registry entry.
type Set struct {
	reg   registry.Api
	locks [64]sync.Mutex
}

// NewSet returns a pin set stored in reg.
func NewSet(reg registry.Api) *Set {
	return &Set{reg: reg}
}

func (s *Set) lockFor(hash blob.Hash) *sync.Mutex {
	return &s.locks[hash[0]%64]
}

func keyFor(hash blob.Hash) registry.StreamKey {
	return registry.Blake3HashPinKey(hash)
}

func (s *Set) getInternal(ctx context.Context, key registry.StreamKey) ([]Context, uint64, error) {
	msg, err := s.reg.Get(ctx, key)
	if errors.Is(errors.NotFound, err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, errors.E("pin.Set.getInternal", err)
	}
	if len(msg.Data) == 0 {
		return nil, msg.Revision, nil
	}
	var pinners []Context
	if err := cbor5.Unmarshal(msg.Data, &pinners); err != nil {
		return nil, 0, errors.E("pin.Set.getInternal", errors.CborError, err)
	}
	return pinners, msg.Revision, nil
}

// saveInternal persists pinners at newRevision, deleting the registry
// entry entirely when the set is empty (spec §4.4).
func (s *Set) saveInternal(ctx context.Context, key registry.StreamKey, pinners []Context, newRevision uint64) error {
	const op = "pin.Set.saveInternal"
	if len(pinners) == 0 {
		return s.reg.Delete(ctx, key)
	}
	sort.Slice(pinners, func(i, j int) bool { return pinners[i].less(pinners[j]) })
	data, err := cbor5.Marshal(pinners)
	if err != nil {
		return errors.E(op, errors.CborError, err)
	}
	msg, err := registry.New(registry.MessageTypeRegistry, key, newRevision, blob.Sum(data), nil, data)
	if err != nil {
		return errors.E(op, err)
	}
	return s.reg.Set(ctx, msg)
}

// PinHash adds context to hash's pinner set.
func (s *Set) PinHash(ctx context.Context, hash blob.Hash, context_ Context) error {
	lock := s.lockFor(hash)
	lock.Lock()
	defer lock.Unlock()

	key := keyFor(hash)
	pinners, revision, err := s.getInternal(ctx, key)
	if err != nil {
		return err
	}
	for _, p := range pinners {
		if p.Equal(context_) {
			return nil
		}
	}
	pinners = append(pinners, context_)
	return s.saveInternal(ctx, key, pinners, revision+1)
}

// UnpinHash removes context from hash's pinner set and reports
// whether the set is now empty.
func (s *Set) UnpinHash(ctx context.Context, hash blob.Hash, context_ Context) (empty bool, err error) {
	lock := s.lockFor(hash)
	lock.Lock()
	defer lock.Unlock()

	key := keyFor(hash)
	pinners, revision, err := s.getInternal(ctx, key)
	if err != nil {
		return false, err
	}
	idx := -1
	for i, p := range pinners {
		if p.Equal(context_) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return len(pinners) == 0, nil
	}
	pinners = append(pinners[:idx], pinners[idx+1:]...)
	if err := s.saveInternal(ctx, key, pinners, revision+1); err != nil {
		return false, err
	}
	return len(pinners) == 0, nil
}

// UnpinHashAll clears every pin on hash.
func (s *Set) UnpinHashAll(ctx context.Context, hash blob.Hash) error {
	lock := s.lockFor(hash)
	lock.Lock()
	defer lock.Unlock()

	key := keyFor(hash)
	pinners, revision, err := s.getInternal(ctx, key)
	if err != nil {
		return err
	}
	if len(pinners) == 0 {
		return nil
	}
	return s.saveInternal(ctx, key, nil, revision+1)
}

// GetPinners returns hash's current pinner set. Read-only: does not
// take the per-hash write lock.
func (s *Set) GetPinners(ctx context.Context, hash blob.Hash) ([]Context, error) {
	pinners, _, err := s.getInternal(ctx, keyFor(hash))
	return pinners, err
}

// IsPinned reports whether context is currently in hash's pinner set.
func (s *Set) IsPinned(ctx context.Context, hash blob.Hash, context_ Context) (bool, error) {
	pinners, err := s.GetPinners(ctx, hash)
	if err != nil {
		return false, err
	}
	for _, p := range pinners {
		if p.Equal(context_) {
			return true, nil
		}
	}
	return false, nil
}
