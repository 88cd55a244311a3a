package registryrpc_test

import (
	"context"
	"crypto/ed25519"
	"testing"

	"s5.dev/s5/blob"
	"s5.dev/s5/errors"
	"s5.dev/s5/registry"
	"s5.dev/s5/registryrpc"
	"s5.dev/s5/rpcnet"
)

func mustTransport(t *testing.T) *rpcnet.Transport {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tr, err := rpcnet.NewTransport(priv)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	return tr
}

func startServer(t *testing.T, api registry.Api) *rpcnet.Listener {
	t.Helper()
	tr := mustTransport(t)
	ln, err := tr.Listen("127.0.0.1:0", rpcnet.ProtoRegistry)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	server := registryrpc.NewServer(api)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go server.Serve(ctx, ln)
	return ln
}

func TestRemoteGetSetRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := registry.NewMemory()
	ln := startServer(t, mem)
	defer ln.Close()

	clientTr := mustTransport(t)
	client, err := registryrpc.Dial(ctx, clientTr, ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	remote := registry.NewRemote(client)

	var keyData [32]byte
	keyData[0] = 1
	key := registry.LocalKey(keyData)

	msg, err := registry.New(registry.MessageTypeRegistry, key, 3, blob.Sum([]byte("v1")), nil, []byte("payload"))
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	if err := remote.Set(ctx, msg); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := remote.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Revision != 3 || string(got.Data) != "payload" {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestRemoteGetNotFound(t *testing.T) {
	ctx := context.Background()
	mem := registry.NewMemory()
	ln := startServer(t, mem)
	defer ln.Close()

	clientTr := mustTransport(t)
	client, err := registryrpc.Dial(ctx, clientTr, ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	remote := registry.NewRemote(client)

	var keyData [32]byte
	keyData[0] = 9
	key := registry.LocalKey(keyData)

	if _, err := remote.Get(ctx, key); !errors.Is(errors.NotFound, err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
