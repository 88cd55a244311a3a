package registry

import (
	"context"

	"s5.dev/s5/errors"
)

// Transport is the minimal wire operation a remote registry peer
// exposes; registryrpc.Client implements it over the Registry RPC
// protocol (ALPN "s5/registry/0").
type Transport interface {
	// Get fetches key's current serialized Message, or (nil, nil) if
	// the peer has no entry for it.
	Get(ctx context.Context, keyType uint8, keyData [32]byte) ([]byte, error)
	// Set submits a serialized Message for storage.
	Set(ctx context.Context, serialized []byte) error
}

// Remote is an Api backed by a Transport to a single peer. Delete is a
// no-op: Transport has no delete operation, so Remote never forwards
// one, even to a peer that offers it (registryrpc.Client.Delete).
type Remote struct {
	transport Transport
}

// NewRemote returns a registry view backed by transport.
func NewRemote(transport Transport) *Remote {
	return &Remote{transport: transport}
}

func (r *Remote) Get(ctx context.Context, key StreamKey) (Message, error) {
	const op = "registry.Remote.Get"
	raw, err := r.transport.Get(ctx, uint8(key.Type), key.Data)
	if err != nil {
		return Message{}, errors.E(op, errors.IO, err)
	}
	if raw == nil {
		return Message{}, errors.E(op, errors.NotFound)
	}
	return Deserialize(raw)
}

func (r *Remote) Set(ctx context.Context, msg Message) error {
	const op = "registry.Remote.Set"
	if err := r.transport.Set(ctx, msg.Serialize()); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

func (r *Remote) Delete(ctx context.Context, key StreamKey) error {
	return nil
}
