package blobrpc_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"testing"

	"s5.dev/s5/blob"
	"s5.dev/s5/blobrpc"
	"s5.dev/s5/pin"
	"s5.dev/s5/registry"
	"s5.dev/s5/rpcnet"
	"s5.dev/s5/store"
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

func startServer(t *testing.T, eng *blob.Engine, pins *pin.Set, allow func(rpcnet.PeerID) (blobrpc.PeerConfigBlobs, bool)) (*rpcnet.Transport, *rpcnet.Listener) {
	t.Helper()
	tr := mustTransport(t)
	ln, err := tr.Listen("127.0.0.1:0", rpcnet.ProtoBlobs)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	server := blobrpc.NewServer(map[string]*blob.Engine{"main": eng}, pins, allow)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go server.Serve(ctx, ln)
	return tr, ln
}

func dialClient(t *testing.T, ln *rpcnet.Listener) *blobrpc.Client {
	t.Helper()
	clientTr := mustTransport(t)
	c, err := blobrpc.Dial(context.Background(), clientTr, ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestUploadThenQueryThenDownload(t *testing.T) {
	ctx := context.Background()
	eng := blob.NewEngine(store.NewMemory(), false)
	pins := pin.NewSet(registry.NewMemory())

	allow := func(rpcnet.PeerID) (blobrpc.PeerConfigBlobs, bool) {
		main := "main"
		return blobrpc.PeerConfigBlobs{ReadableStores: []string{"main"}, StoreUploadsIn: &main}, true
	}
	_, ln := startServer(t, eng, pins, allow)
	defer ln.Close()
	client := dialClient(t, ln)

	data := []byte("hello blob rpc")
	h := blob.Sum(data)

	if err := client.Upload(ctx, h, uint64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	resp, err := client.Query(ctx, h)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !resp.Exists {
		t.Fatalf("Query: expected blob to exist after upload")
	}
	if resp.Size == nil || *resp.Size != uint64(len(data)) {
		t.Fatalf("Query: unexpected size %v", resp.Size)
	}

	got, err := client.Download(ctx, h, 0, -1)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Download = %q, want %q", got, data)
	}
}

func TestUploadRejectedWithoutACL(t *testing.T) {
	ctx := context.Background()
	eng := blob.NewEngine(store.NewMemory(), false)
	pins := pin.NewSet(registry.NewMemory())

	allow := func(rpcnet.PeerID) (blobrpc.PeerConfigBlobs, bool) {
		return blobrpc.PeerConfigBlobs{ReadableStores: []string{"main"}}, true // no StoreUploadsIn
	}
	_, ln := startServer(t, eng, pins, allow)
	defer ln.Close()
	client := dialClient(t, ln)

	data := []byte("denied upload")
	h := blob.Sum(data)
	if err := client.Upload(ctx, h, uint64(len(data)), bytes.NewReader(data)); err == nil {
		t.Fatalf("expected upload to be rejected")
	}
}

func TestDeleteUnpinsAndRemovesWhenEmpty(t *testing.T) {
	ctx := context.Background()
	eng := blob.NewEngine(store.NewMemory(), false)
	pins := pin.NewSet(registry.NewMemory())

	allow := func(rpcnet.PeerID) (blobrpc.PeerConfigBlobs, bool) {
		main := "main"
		return blobrpc.PeerConfigBlobs{ReadableStores: []string{"main"}, StoreUploadsIn: &main}, true
	}
	_, ln := startServer(t, eng, pins, allow)
	defer ln.Close()
	client := dialClient(t, ln)

	data := []byte("to be deleted")
	h := blob.Sum(data)
	if err := client.Upload(ctx, h, uint64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	deleted, err := client.Delete(ctx, h)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !deleted {
		t.Fatalf("expected the blob's only pin to be removed, deleting it")
	}

	resp, err := client.Query(ctx, h)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.Exists {
		t.Fatalf("blob should no longer exist after delete")
	}
}

func TestQueryBlinded(t *testing.T) {
	ctx := context.Background()
	eng := blob.NewEngine(store.NewMemory(), false)
	pins := pin.NewSet(registry.NewMemory())

	allow := func(rpcnet.PeerID) (blobrpc.PeerConfigBlobs, bool) {
		main := "main"
		return blobrpc.PeerConfigBlobs{ReadableStores: []string{"main"}, StoreUploadsIn: &main}, true
	}
	_, ln := startServer(t, eng, pins, allow)
	defer ln.Close()
	client := dialClient(t, ln)

	data := []byte("blinded lookup target")
	h := blob.Sum(data)
	if err := client.Upload(ctx, h, uint64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	blinded := blob.Sum(h[:])
	exists, err := client.QueryBlinded(ctx, blinded)
	if err != nil {
		t.Fatalf("QueryBlinded: %v", err)
	}
	if !exists {
		t.Fatalf("expected blinded lookup to find the uploaded blob")
	}

	missing, err := client.QueryBlinded(ctx, blob.Sum([]byte("not present")))
	if err != nil {
		t.Fatalf("QueryBlinded: %v", err)
	}
	if missing {
		t.Fatalf("expected blinded lookup for an unrelated hash to report absent")
	}
}
