package registry

import (
	"context"

	bolt "go.etcd.io/bbolt"

	"s5.dev/s5/errors"
)

var bucketName = []byte("registry")

// Bolt is an Api backed by an embedded bbolt key-value file, the Go
// counterpart of the original implementation's redb-backed registry
// (one table, keyed by the (key_type, key_bytes) pair, values holding
// the serialized Message).
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (creating if absent) a bbolt-backed registry at path.
func OpenBolt(path string) (*Bolt, error) {
	const op = "registry.OpenBolt"
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.E(op, errors.IO, err)
	}
	return &Bolt{db: db}, nil
}

// Close releases the underlying database file.
func (b *Bolt) Close() error {
	if err := b.db.Close(); err != nil {
		return errors.E("registry.Bolt.Close", errors.IO, err)
	}
	return nil
}

func (b *Bolt) Get(ctx context.Context, key StreamKey) (Message, error) {
	const op = "registry.Bolt.Get"
	var msg Message
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		k := key.Bytes()
		v := tx.Bucket(bucketName).Get(k[:])
		if v == nil {
			return nil
		}
		found = true
		var decodeErr error
		msg, decodeErr = Deserialize(v)
		return decodeErr
	})
	if err != nil {
		return Message{}, errors.E(op, err)
	}
	if !found {
		return Message{}, errors.E(op, errors.NotFound)
	}
	return msg, nil
}

func (b *Bolt) Set(ctx context.Context, msg Message) error {
	const op = "registry.Bolt.Set"
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		k := msg.Key.Bytes()
		var existingPtr *Message
		if v := bucket.Get(k[:]); v != nil {
			existing, err := Deserialize(v)
			if err != nil {
				return errors.E(op, err)
			}
			existingPtr = &existing
		}
		if err := shouldStoreOrStale(op, existingPtr, msg); err != nil {
			return err
		}
		return bucket.Put(k[:], msg.Serialize())
	})
}

func (b *Bolt) Delete(ctx context.Context, key StreamKey) error {
	const op = "registry.Bolt.Delete"
	err := b.db.Update(func(tx *bolt.Tx) error {
		k := key.Bytes()
		return tx.Bucket(bucketName).Delete(k[:])
	})
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}
