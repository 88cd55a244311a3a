package node

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"net"
	"sync"

	"s5.dev/s5/blob"
	"s5.dev/s5/blobrpc"
	"s5.dev/s5/errors"
	"s5.dev/s5/fs5"
	"s5.dev/s5/log"
	"s5.dev/s5/registry"
	"s5.dev/s5/registryrpc"
	"s5.dev/s5/rpcnet"
	"s5.dev/s5/store"
)

// Node wires together a local FS5 tree, named blob stores, and the
// Blob RPC / Registry RPC servers that expose them to other peers.
type Node struct {
	cfg       *Config
	identity  ed25519.PrivateKey
	transport *rpcnet.Transport

	fs     *fs5.FS5
	stores map[string]*blob.Engine

	blobServer     *blobrpc.Server
	registryServer *registryrpc.Server

	mu         sync.Mutex
	blobsLn    *rpcnet.Listener
	registryLn *rpcnet.Listener
}

// New opens cfg's FS5 tree and named stores and wires the RPC servers
// over them, but does not yet listen — call Serve to start accepting
// connections.
func New(cfg *Config) (*Node, error) {
	const op = "node.New"

	identity, err := loadOrCreateIdentity(cfg.IdentitySeedPath)
	if err != nil {
		return nil, errors.E(op, err)
	}
	transport, err := rpcnet.NewTransport(identity)
	if err != nil {
		return nil, errors.E(op, err)
	}

	fsTree, err := fs5.Open(cfg.MetaDir)
	if err != nil {
		return nil, errors.E(op, err)
	}

	stores := map[string]*blob.Engine{"meta": fsTree.MetaBlobStore()}
	for name, sc := range cfg.Stores {
		backend, err := buildStoreBackend(sc)
		if err != nil {
			fsTree.Shutdown()
			return nil, errors.E(op, err)
		}
		stores[name] = blob.NewEngine(backend, true)
	}

	n := &Node{
		cfg:       cfg,
		identity:  identity,
		transport: transport,
		fs:        fsTree,
		stores:    stores,
	}

	acl, err := buildACL(cfg.Peers)
	if err != nil {
		fsTree.Shutdown()
		return nil, errors.E(op, err)
	}
	n.blobServer = blobrpc.NewServer(stores, fsTree.Pins(), acl)
	n.registryServer = registryrpc.NewServer(fsTree.Registry())

	return n, nil
}

// buildStoreBackend constructs the store.Store named by sc.Backend.
func buildStoreBackend(sc StoreConfig) (store.Store, error) {
	const op = "node.buildStoreBackend"
	switch sc.Backend {
	case "memory":
		return store.NewMemory(), nil
	case "disk":
		return store.NewDisk(sc.Path, 0)
	case "gcs":
		return store.NewGCS(context.Background(), sc.Bucket)
	case "s3":
		return store.NewS3(sc.Bucket), nil
	default:
		return nil, errors.E(op, errors.Invalid, errors.Str("unknown store backend: "+sc.Backend))
	}
}

// buildACL compiles the hex-keyed peer map into a lookup closure
// keyed by rpcnet.PeerID, the shape blobrpc.NewServer expects.
func buildACL(peers map[string]PeerACL) (func(rpcnet.PeerID) (blobrpc.PeerConfigBlobs, bool), error) {
	const op = "node.buildACL"
	byPeer := make(map[rpcnet.PeerID]blobrpc.PeerConfigBlobs, len(peers))
	for hexID, acl := range peers {
		raw, err := hex.DecodeString(hexID)
		if err != nil || len(raw) != 32 {
			return nil, errors.E(op, errors.Invalid, errors.Str("bad peer id: "+hexID))
		}
		var id rpcnet.PeerID
		copy(id[:], raw)
		var uploadsIn *string
		if acl.StoreUploadsIn != "" {
			s := acl.StoreUploadsIn
			uploadsIn = &s
		}
		byPeer[id] = blobrpc.PeerConfigBlobs{ReadableStores: acl.ReadableStores, StoreUploadsIn: uploadsIn}
	}
	return func(id rpcnet.PeerID) (blobrpc.PeerConfigBlobs, bool) {
		cfg, ok := byPeer[id]
		return cfg, ok
	}, nil
}

// Identity returns the node's own peer identity.
func (n *Node) Identity() rpcnet.PeerID { return n.transport.SelfID() }

// BlobsAddr and RegistryAddr return the addresses the node is actually
// listening on, once Serve has bound them — useful when cfg's
// configured address used port 0. They return nil before Serve binds.
func (n *Node) BlobsAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.blobsLn == nil {
		return nil
	}
	return n.blobsLn.Addr()
}

func (n *Node) RegistryAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.registryLn == nil {
		return nil
	}
	return n.registryLn.Addr()
}

// FS returns the node's local FS5 tree.
func (n *Node) FS() *fs5.FS5 { return n.fs }

// Stores returns the node's named blob stores, including the
// always-present "meta" store backing its local FS5 tree.
func (n *Node) Stores() map[string]*blob.Engine { return n.stores }

// Registry returns the node's backing registry.Api, the same one its
// FS5 tree and Registry RPC server share.
func (n *Node) Registry() registry.Api { return n.fs.Registry() }

// Serve starts the Blob RPC and Registry RPC listeners and blocks
// until ctx is done or either fails.
func (n *Node) Serve(ctx context.Context) error {
	const op = "node.Node.Serve"
	blobsLn, err := n.transport.Listen(n.cfg.BlobsAddr, rpcnet.ProtoBlobs)
	if err != nil {
		return errors.E(op, err)
	}
	registryLn, err := n.transport.Listen(n.cfg.RegistryAddr, rpcnet.ProtoRegistry)
	if err != nil {
		blobsLn.Close()
		return errors.E(op, err)
	}

	n.mu.Lock()
	n.blobsLn, n.registryLn = blobsLn, registryLn
	n.mu.Unlock()

	errCh := make(chan error, 2)
	go func() { errCh <- n.blobServer.Serve(ctx, blobsLn) }()
	go func() { errCh <- n.registryServer.Serve(ctx, registryLn) }()

	select {
	case <-ctx.Done():
		blobsLn.Close()
		registryLn.Close()
		<-errCh
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		log.Error.Printf("node: a listener stopped: %v", err)
		blobsLn.Close()
		registryLn.Close()
		<-errCh
		return err
	}
}

// Close shuts down the node's listeners (if Serve was ever called) and
// its FS5 tree.
func (n *Node) Close() {
	n.mu.Lock()
	if n.blobsLn != nil {
		n.blobsLn.Close()
	}
	if n.registryLn != nil {
		n.registryLn.Close()
	}
	n.mu.Unlock()
	n.fs.Shutdown()
}
