package cache

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"s5.dev/s5/errors"
)

// Client talks to a local cache Server over gRPC. It implements
// registry.Transport, the same interface registryrpc.Client
// implements, so either can back a registry.Remote interchangeably.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a cache daemon at addr (typically a loopback
// address — this service is not meant to cross a network boundary).
func Dial(addr string) (*Client, error) {
	const op = "cache.Dial"
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("cbor")),
	)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error { return c.conn.Close() }

// Get implements registry.Transport.
func (c *Client) Get(ctx context.Context, keyType uint8, keyData [32]byte) ([]byte, error) {
	const op = "cache.Client.Get"
	req := &GetRequest{KeyType: keyType, KeyData: keyData}
	resp := new(GetResponse)
	if err := c.conn.Invoke(ctx, methodGet, req, resp); err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	if resp.Error != "" {
		return nil, errors.E(op, errors.Other, errors.Str(resp.Error))
	}
	return resp.Serialized, nil
}

// Set implements registry.Transport.
func (c *Client) Set(ctx context.Context, serialized []byte) error {
	const op = "cache.Client.Set"
	req := &SetRequest{Serialized: serialized}
	resp := new(SetResponse)
	if err := c.conn.Invoke(ctx, methodSet, req, resp); err != nil {
		return errors.E(op, errors.IO, err)
	}
	if resp.Error != "" {
		return errors.E(op, errors.Other, errors.Str(resp.Error))
	}
	return nil
}
