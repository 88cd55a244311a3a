// Package cache adapts the teacher's grpc/dircacheserver into a local
// read-through cache daemon for registry lookups: a gRPC service,
// reachable only on the local machine, that caches registry.Api Get
// results for a fixed TTL and forwards misses (and all Sets) to an
// upstream registry.Api. It is an optional ambient component, not a
// peer-to-peer wire protocol participant — registryrpc's Server/Client
// remain the only thing another S5 node ever talks to.
package cache

import (
	"context"
	"sync"
	"time"

	"s5.dev/s5/errors"
	"s5.dev/s5/registry"
)

// entry is one cached registry lookup outcome; notFound distinguishes
// a cached miss (itself worth caching, so a hammering caller doesn't
// repeatedly round-trip to upstream for a key that doesn't exist) from
// a cached hit.
type entry struct {
	msg      registry.Message
	notFound bool
	expires  time.Time
}

// Server answers Get/Set against an in-memory TTL cache, reading
// through to upstream on a miss and writing through on every Set. The
// teacher's clog additionally persists entries to an append-only log
// so a restarted dircacheserver can serve stale-but-present answers
// immediately; this cache deliberately skips that persistence; it is
// a local accelerator, not a system of record. See DESIGN.md.
type Server struct {
	upstream registry.Api
	ttl      time.Duration

	mu      sync.Mutex
	entries map[[33]byte]entry
}

// NewServer returns a Server caching upstream's answers for ttl.
func NewServer(upstream registry.Api, ttl time.Duration) *Server {
	return &Server{upstream: upstream, ttl: ttl, entries: make(map[[33]byte]entry)}
}

func cacheKey(keyType uint8, keyData [32]byte) [33]byte {
	var k [33]byte
	k[0] = keyType
	copy(k[1:], keyData[:])
	return k
}

func (s *Server) lookup(ck [33]byte) (entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[ck]
	if !ok || time.Now().After(e.expires) {
		return entry{}, false
	}
	return e, true
}

func (s *Server) store(ck [33]byte, e entry) {
	s.mu.Lock()
	s.entries[ck] = e
	s.mu.Unlock()
}

// Get implements the Cache gRPC service's Get method.
func (s *Server) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	ck := cacheKey(req.KeyType, req.KeyData)
	if e, ok := s.lookup(ck); ok {
		if e.notFound {
			return &GetResponse{}, nil
		}
		return &GetResponse{Serialized: e.msg.Serialize()}, nil
	}

	key := registry.StreamKey{Type: registry.KeyType(req.KeyType), Data: req.KeyData}
	msg, err := s.upstream.Get(ctx, key)
	if err != nil {
		if errors.Is(errors.NotFound, err) {
			s.store(ck, entry{notFound: true, expires: time.Now().Add(s.ttl)})
			return &GetResponse{}, nil
		}
		return &GetResponse{Error: err.Error()}, nil
	}
	s.store(ck, entry{msg: msg, expires: time.Now().Add(s.ttl)})
	return &GetResponse{Serialized: msg.Serialize()}, nil
}

// Set implements the Cache gRPC service's Set method: it writes
// through to upstream and, only on success, refreshes the local cache
// entry for the message's key.
func (s *Server) Set(ctx context.Context, req *SetRequest) (*SetResponse, error) {
	msg, err := registry.Deserialize(req.Serialized)
	if err != nil {
		return &SetResponse{Error: err.Error()}, nil
	}
	if err := s.upstream.Set(ctx, msg); err != nil {
		return &SetResponse{Error: err.Error()}, nil
	}
	ck := cacheKey(uint8(msg.Key.Type), msg.Key.Data)
	s.store(ck, entry{msg: msg, expires: time.Now().Add(s.ttl)})
	return &SetResponse{}, nil
}
