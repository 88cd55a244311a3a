package registryrpc

import (
	"context"
	"sync"

	"s5.dev/s5/errors"
	"s5.dev/s5/rpcnet"
)

// Client implements registry.Transport over the Registry RPC
// protocol, so it can be wrapped transparently as a registry.Api via
// registry.NewRemote.
type Client struct {
	conn *rpcnet.Conn
	mu   sync.Mutex
}

// Dial opens a Registry RPC connection to addr over tr.
func Dial(ctx context.Context, tr *rpcnet.Transport, addr string) (*Client, error) {
	conn, err := tr.Dial(ctx, addr, rpcnet.ProtoRegistry)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Peer returns the identity the connection authenticated as.
func (c *Client) Peer() rpcnet.PeerID { return c.conn.Peer() }

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Get implements registry.Transport.
func (c *Client) Get(ctx context.Context, keyType uint8, keyData [32]byte) ([]byte, error) {
	const op = "registryrpc.Client.Get"
	c.mu.Lock()
	defer c.mu.Unlock()
	env := requestEnvelope{Op: OpGet, Get: &GetRequest{KeyType: keyType, KeyData: keyData}}
	if err := c.conn.SendMessage(env); err != nil {
		return nil, errors.E(op, err)
	}
	var resp GetResponse
	if err := c.conn.ReceiveMessage(&resp); err != nil {
		return nil, errors.E(op, err)
	}
	if resp.Error != "" {
		return nil, errors.E(op, errors.Other, errors.Str(resp.Error))
	}
	return resp.Serialized, nil
}

// Set implements registry.Transport.
func (c *Client) Set(ctx context.Context, serialized []byte) error {
	const op = "registryrpc.Client.Set"
	c.mu.Lock()
	defer c.mu.Unlock()
	env := requestEnvelope{Op: OpSet, Set: &SetRequest{Serialized: serialized}}
	if err := c.conn.SendMessage(env); err != nil {
		return errors.E(op, err)
	}
	var resp SetResponse
	if err := c.conn.ReceiveMessage(&resp); err != nil {
		return errors.E(op, err)
	}
	if resp.Error != "" {
		return errors.E(op, errors.Other, errors.Str(resp.Error))
	}
	return nil
}

// Delete asks the server to remove the entry for the given key through
// its registry.Api's Delete. It is not part of registry.Transport, so
// registry.Remote.Delete does not call it.
func (c *Client) Delete(ctx context.Context, keyType uint8, keyData [32]byte) error {
	const op = "registryrpc.Client.Delete"
	c.mu.Lock()
	defer c.mu.Unlock()
	env := requestEnvelope{Op: OpDelete, Delete: &DeleteRequest{KeyType: keyType, KeyData: keyData}}
	if err := c.conn.SendMessage(env); err != nil {
		return errors.E(op, err)
	}
	var resp DeleteResponse
	if err := c.conn.ReceiveMessage(&resp); err != nil {
		return errors.E(op, err)
	}
	if resp.Error != "" {
		return errors.E(op, errors.Other, errors.Str(resp.Error))
	}
	return nil
}
