package cache_test

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"

	"s5.dev/s5/blob"
	"s5.dev/s5/registry"
	"s5.dev/s5/registryrpc/cache"
)

func startCacheServer(t *testing.T, upstream registry.Api, ttl time.Duration) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	gs := grpc.NewServer()
	cache.Register(gs, cache.NewServer(upstream, ttl))
	go gs.Serve(ln)
	t.Cleanup(gs.Stop)
	return ln.Addr().String()
}

func TestCacheReadsThroughOnMiss(t *testing.T) {
	ctx := context.Background()
	upstream := registry.NewMemory()

	var keyData [32]byte
	keyData[0] = 5
	key := registry.LocalKey(keyData)
	msg, err := registry.New(registry.MessageTypeRegistry, key, 1, blob.Sum([]byte("v")), nil, []byte("hit"))
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	if err := upstream.Set(ctx, msg); err != nil {
		t.Fatalf("upstream.Set: %v", err)
	}

	addr := startCacheServer(t, upstream, time.Minute)
	client, err := cache.Dial(addr)
	if err != nil {
		t.Fatalf("cache.Dial: %v", err)
	}
	defer client.Close()

	remote := registry.NewRemote(client)
	got, err := remote.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Data) != "hit" {
		t.Fatalf("unexpected data: %q", got.Data)
	}
}

func TestCacheSetWritesThroughToUpstream(t *testing.T) {
	ctx := context.Background()
	upstream := registry.NewMemory()
	addr := startCacheServer(t, upstream, time.Minute)
	client, err := cache.Dial(addr)
	if err != nil {
		t.Fatalf("cache.Dial: %v", err)
	}
	defer client.Close()

	remote := registry.NewRemote(client)

	var keyData [32]byte
	keyData[1] = 7
	key := registry.LocalKey(keyData)
	msg, err := registry.New(registry.MessageTypeRegistry, key, 2, blob.Sum([]byte("w")), nil, []byte("written"))
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	if err := remote.Set(ctx, msg); err != nil {
		t.Fatalf("Set: %v", err)
	}

	direct, err := upstream.Get(ctx, key)
	if err != nil {
		t.Fatalf("upstream.Get: %v", err)
	}
	if string(direct.Data) != "written" {
		t.Fatalf("upstream did not receive the write-through: %q", direct.Data)
	}
}
