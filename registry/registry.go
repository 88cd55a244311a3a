package registry

import (
	"context"

	"s5.dev/s5/errors"
)

// Api is the interface every registry backend implements: lookup,
// conditional set gated by ShouldStore, and delete (spec §4.3).
type Api interface {
	// Get returns the current Message for key, or a NotFound error if
	// none exists.
	Get(ctx context.Context, key StreamKey) (Message, error)
	// Set stores msg if it should replace any existing entry for its
	// key. Returns a StaleWrite error if msg loses to the existing
	// entry under ShouldStore.
	Set(ctx context.Context, msg Message) error
	// Delete removes any entry for key.
	Delete(ctx context.Context, key StreamKey) error
}

// shouldStoreOrStale is the common conditional-write check shared by
// every backend: msg may be written only if it beats existing (nil if
// no entry exists yet) under ShouldStore. Backends call this while
// holding whatever lock or transaction already serializes their
// reads and writes for the key.
func shouldStoreOrStale(op string, existing *Message, msg Message) error {
	if !msg.ShouldStore(existing) {
		return errors.E(op, errors.StaleWrite)
	}
	return nil
}
