package registry

import (
	"context"
	"encoding/hex"
	"io"

	"s5.dev/s5/errors"
	"s5.dev/s5/store"
)

// ObjectStore is an Api backed by a generic store.Store, one object
// per key, for deployments that already have an object store (GCS,
// disk, memory) and don't want a separate embedded database.
type ObjectStore struct {
	backend store.Store
}

// NewObjectStore returns a registry backed by backend, storing one
// object per StreamKey under "registry/<hex key bytes>".
func NewObjectStore(backend store.Store) *ObjectStore {
	return &ObjectStore{backend: backend}
}

func objectStorePath(key StreamKey) string {
	k := key.Bytes()
	return "registry/" + hex.EncodeToString(k[:])
}

func (o *ObjectStore) Get(ctx context.Context, key StreamKey) (Message, error) {
	const op = "registry.ObjectStore.Get"
	r, err := o.backend.OpenReadStream(ctx, objectStorePath(key))
	if err != nil {
		if errors.Is(errors.NotFound, err) {
			return Message{}, errors.E(op, errors.NotFound)
		}
		return Message{}, errors.E(op, errors.IO, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return Message{}, errors.E(op, errors.IO, err)
	}
	return Deserialize(data)
}

func (o *ObjectStore) Set(ctx context.Context, msg Message) error {
	const op = "registry.ObjectStore.Set"
	existing, err := o.Get(ctx, msg.Key)
	var existingPtr *Message
	switch {
	case err == nil:
		existingPtr = &existing
	case errors.Is(errors.NotFound, err):
		existingPtr = nil
	default:
		return errors.E(op, err)
	}
	if err := shouldStoreOrStale(op, existingPtr, msg); err != nil {
		return err
	}
	if err := o.backend.PutBytes(ctx, objectStorePath(msg.Key), msg.Serialize()); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

func (o *ObjectStore) Delete(ctx context.Context, key StreamKey) error {
	const op = "registry.ObjectStore.Delete"
	if err := o.backend.Delete(ctx, objectStorePath(key)); err != nil && !errors.Is(errors.NotFound, err) {
		return errors.E(op, errors.IO, err)
	}
	return nil
}
