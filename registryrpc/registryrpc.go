// Package registryrpc implements the Registry RPC protocol (spec
// §4.7): three unary operations — Get, Set, Delete — carried over an
// rpcnet.Conn on ALPN "s5/registry/0", serving any registry.Api.
package registryrpc

import (
	"context"
	"io"

	"s5.dev/s5/errors"
	"s5.dev/s5/log"
	"s5.dev/s5/registry"
	"s5.dev/s5/rpcnet"
)

// Request op discriminators.
const (
	OpGet    uint8 = 1
	OpSet    uint8 = 2
	OpDelete uint8 = 3
)

type requestEnvelope struct {
	Op     uint8         `cbor:"0,keyasint"`
	Get    *GetRequest    `cbor:"1,keyasint,omitempty"`
	Set    *SetRequest    `cbor:"2,keyasint,omitempty"`
	Delete *DeleteRequest `cbor:"3,keyasint,omitempty"`
}

// GetRequest names a StreamKey by its raw (type, data) pair, the same
// shape registry.Transport.Get already takes.
type GetRequest struct {
	KeyType uint8
	KeyData [32]byte
}

// GetResponse carries the serialized registry.Message, or nil if the
// server has no entry for the key.
type GetResponse struct {
	Serialized []byte
	Error      string
}

// SetRequest carries a registry.Message.Serialize() payload.
type SetRequest struct {
	Serialized []byte
}

type SetResponse struct {
	Error string
}

// DeleteRequest names a key to remove.
type DeleteRequest struct {
	KeyType uint8
	KeyData [32]byte
}

type DeleteResponse struct {
	Error string
}

// Server answers Registry RPC requests against an underlying
// registry.Api, one goroutine per accepted connection.
type Server struct {
	api registry.Api
}

// NewServer returns a Server fronting api.
func NewServer(api registry.Api) *Server {
	return &Server{api: api}
}

// Serve accepts connections from ln until it errors or ctx is done.
func (s *Server) Serve(ctx context.Context, ln *rpcnet.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn *rpcnet.Conn) {
	defer conn.Close()
	peer := conn.Peer()
	for {
		var env requestEnvelope
		if err := conn.ReceiveMessage(&env); err != nil {
			if err != io.EOF {
				log.Debug.Printf("registryrpc: connection from %s ended: %v", peer, err)
			}
			return
		}
		var err error
		switch env.Op {
		case OpGet:
			err = s.handleGet(ctx, conn, env.Get)
		case OpSet:
			err = s.handleSet(ctx, conn, env.Set)
		case OpDelete:
			err = s.handleDelete(ctx, conn, env.Delete)
		default:
			log.Debug.Printf("registryrpc: unknown op %d from %s", env.Op, peer)
			return
		}
		if err != nil {
			log.Debug.Printf("registryrpc: request from %s failed: %v", peer, err)
			return
		}
	}
}

func (s *Server) handleGet(ctx context.Context, conn *rpcnet.Conn, req *GetRequest) error {
	if req == nil {
		return errors.E("registryrpc.Server.handleGet", errors.Invalid, errors.Str("missing request body"))
	}
	key := registry.StreamKey{Type: registry.KeyType(req.KeyType), Data: req.KeyData}
	msg, err := s.api.Get(ctx, key)
	if err != nil {
		if errors.Is(errors.NotFound, err) {
			return conn.SendMessage(GetResponse{})
		}
		return conn.SendMessage(GetResponse{Error: err.Error()})
	}
	return conn.SendMessage(GetResponse{Serialized: msg.Serialize()})
}

func (s *Server) handleSet(ctx context.Context, conn *rpcnet.Conn, req *SetRequest) error {
	if req == nil {
		return errors.E("registryrpc.Server.handleSet", errors.Invalid, errors.Str("missing request body"))
	}
	msg, err := registry.Deserialize(req.Serialized)
	if err != nil {
		return conn.SendMessage(SetResponse{Error: err.Error()})
	}
	if !msg.VerifySignature() {
		return conn.SendMessage(SetResponse{Error: "invalid signature"})
	}
	if err := s.api.Set(ctx, msg); err != nil {
		return conn.SendMessage(SetResponse{Error: err.Error()})
	}
	return conn.SendMessage(SetResponse{})
}

func (s *Server) handleDelete(ctx context.Context, conn *rpcnet.Conn, req *DeleteRequest) error {
	if req == nil {
		return errors.E("registryrpc.Server.handleDelete", errors.Invalid, errors.Str("missing request body"))
	}
	key := registry.StreamKey{Type: registry.KeyType(req.KeyType), Data: req.KeyData}
	if err := s.api.Delete(ctx, key); err != nil {
		return conn.SendMessage(DeleteResponse{Error: err.Error()})
	}
	return conn.SendMessage(DeleteResponse{})
}
