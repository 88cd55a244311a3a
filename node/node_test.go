package node_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"net"
	"path/filepath"
	"testing"
	"time"

	"s5.dev/s5/blob"
	"s5.dev/s5/blobrpc"
	"s5.dev/s5/node"
	"s5.dev/s5/registryrpc"
	"s5.dev/s5/rpcnet"
)

func newTestConfig(dir string, peers map[string]node.PeerACL) *node.Config {
	return &node.Config{
		MetaDir:          filepath.Join(dir, "meta"),
		IdentitySeedPath: filepath.Join(dir, "identity.seed"),
		BlobsAddr:        "127.0.0.1:0",
		RegistryAddr:     "127.0.0.1:0",
		Peers:            peers,
	}
}

func TestNewGeneratesAndReusesIdentity(t *testing.T) {
	dir := t.TempDir()
	n1, err := node.New(newTestConfig(dir, nil))
	if err != nil {
		t.Fatalf("node.New: %v", err)
	}
	defer n1.Close()
	id1 := n1.Identity()
	if id1 == (rpcnet.PeerID{}) {
		t.Fatalf("expected a non-zero identity")
	}

	cfg2 := newTestConfig(dir, nil)
	cfg2.MetaDir = filepath.Join(dir, "meta2")
	n2, err := node.New(cfg2)
	if err != nil {
		t.Fatalf("node.New (second): %v", err)
	}
	defer n2.Close()

	if n1.Identity() != n2.Identity() {
		t.Fatalf("expected the same identity seed file to produce the same peer id")
	}
}

// clientTransport builds a standalone rpcnet.Transport for a test's own
// identity, returning both the transport and its hex-encoded peer id
// (the form node.Config.Peers keys on).
func clientTransport(t *testing.T) (*rpcnet.Transport, string) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey: %v", err)
	}
	tr, err := rpcnet.NewTransport(priv)
	if err != nil {
		t.Fatalf("rpcnet.NewTransport: %v", err)
	}
	return tr, tr.SelfID().String()
}

func TestServeBlobAndRegistryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	clientTr, clientHex := clientTransport(t)

	cfg := newTestConfig(dir, map[string]node.PeerACL{
		clientHex: {ReadableStores: []string{"meta"}, StoreUploadsIn: "meta"},
	})
	n, err := node.New(cfg)
	if err != nil {
		t.Fatalf("node.New: %v", err)
	}
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- n.Serve(ctx) }()

	blobsAddr := waitForAddr(t, n.BlobsAddr)
	registryAddr := waitForAddr(t, n.RegistryAddr)

	blobClient, err := blobrpc.Dial(ctx, clientTr, blobsAddr)
	if err != nil {
		t.Fatalf("blobrpc.Dial: %v", err)
	}
	defer blobClient.Close()

	payload := []byte("node package round trip")
	h := blob.Sum(payload)
	if err := blobClient.Upload(ctx, h, uint64(len(payload)), bytes.NewReader(payload)); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	resp, err := blobClient.Query(ctx, h)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !resp.Exists {
		t.Fatalf("expected uploaded blob to exist")
	}

	registryClient, err := registryrpc.Dial(ctx, clientTr, registryAddr)
	if err != nil {
		t.Fatalf("registryrpc.Dial: %v", err)
	}
	defer registryClient.Close()

	data, err := registryClient.Get(ctx, 0, [32]byte{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if data != nil {
		t.Fatalf("expected a clean miss against an empty registry, got %d bytes", len(data))
	}

	cancel()
	if err := <-serveErr; err != context.Canceled {
		t.Fatalf("Serve: expected context.Canceled, got %v", err)
	}
}

func TestBuildACLRejectsBadHex(t *testing.T) {
	dir := t.TempDir()
	cfg := newTestConfig(dir, map[string]node.PeerACL{
		"not-valid-hex": {ReadableStores: []string{"meta"}},
	})
	if _, err := node.New(cfg); err == nil {
		t.Fatalf("expected node.New to reject a malformed peer id")
	}
}

func TestBuildStoreBackendRejectsUnknownName(t *testing.T) {
	dir := t.TempDir()
	cfg := newTestConfig(dir, nil)
	cfg.Stores = map[string]node.StoreConfig{
		"extra": {Backend: "not-a-real-backend"},
	}
	if _, err := node.New(cfg); err == nil {
		t.Fatalf("expected node.New to reject an unknown store backend")
	}
}

func TestMemoryStoreBackendIsWired(t *testing.T) {
	dir := t.TempDir()
	cfg := newTestConfig(dir, nil)
	cfg.Stores = map[string]node.StoreConfig{
		"extra": {Backend: "memory"},
	}
	n, err := node.New(cfg)
	if err != nil {
		t.Fatalf("node.New: %v", err)
	}
	defer n.Close()

	stores := n.Stores()
	if _, ok := stores["meta"]; !ok {
		t.Fatalf("expected the always-present meta store")
	}
	if _, ok := stores["extra"]; !ok {
		t.Fatalf("expected the configured extra memory store")
	}
}

func waitForAddr(t *testing.T, get func() net.Addr) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a := get(); a != nil {
			return a.String()
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for listener address")
	return ""
}
