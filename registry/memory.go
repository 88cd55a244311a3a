package registry

import (
	"context"
	"sync"

	"s5.dev/s5/errors"
)

// Memory is an in-process Api backed by a map, for tests and
// single-node deployments with no durability requirement.
type Memory struct {
	mu      sync.Mutex
	entries map[[1 + keySize]byte]Message
}

// NewMemory returns an empty Memory registry.
func NewMemory() *Memory {
	return &Memory{entries: make(map[[1 + keySize]byte]Message)}
}

func (m *Memory) Get(ctx context.Context, key StreamKey) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.entries[key.Bytes()]
	if !ok {
		return Message{}, errors.E("registry.Memory.Get", errors.NotFound)
	}
	return msg, nil
}

func (m *Memory) Set(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := msg.Key.Bytes()
	existing, ok := m.entries[k]
	var existingPtr *Message
	if ok {
		existingPtr = &existing
	}
	if err := shouldStoreOrStale("registry.Memory.Set", existingPtr, msg); err != nil {
		return err
	}
	m.entries[k] = msg
	return nil
}

func (m *Memory) Delete(ctx context.Context, key StreamKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key.Bytes())
	return nil
}
