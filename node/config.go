// Package node is the wiring glue binding fs5, blob, registry, pin,
// rpcnet, blobrpc and registryrpc into a running peer: a
// library, not a CLI, the way serverutil/keyserver.Main wires its own
// dependencies together for an embedding main package to call.
package node

import (
	"os"

	yaml "gopkg.in/yaml.v2"

	"s5.dev/s5/errors"
)

// StoreConfig names one named blob store a node exposes to peers
// (spec §4.6's readable_stores/store_uploads_in operate on these
// names).
type StoreConfig struct {
	Backend string `yaml:"backend"` // "memory", "disk", "gcs", or "s3"
	Path    string `yaml:"path"`    // disk backend's base directory
	Bucket  string `yaml:"bucket"`  // gcs/s3 backend's bucket name
}

// PeerACL is one entry of PeerConfigBlobs (spec §4.6), keyed in
// Config.Peers by the peer's hex-encoded Ed25519 public key.
type PeerACL struct {
	ReadableStores []string `yaml:"readable_stores"`
	StoreUploadsIn string   `yaml:"store_uploads_in"` // empty string: uploads rejected
}

// Config is the node's on-disk configuration: store backend
// selection, bucket/basePath, peer ACLs, and the node's own identity
// seed path. Deliberately thin, per spec.md §1's exclusion of
// configuration-file parsing as a CLI concern — this struct exists to
// be handed to New, not to grow a command surface.
type Config struct {
	// MetaDir is the local FS5 tree root (spec §6's R): holds
	// root.fs5.cbor, snapshots.fs5.cbor, registry.db, and the "meta"
	// blob store.
	MetaDir string `yaml:"meta_dir"`

	// IdentitySeedPath holds this node's 32-byte Ed25519 seed. It is
	// generated and persisted on first use if absent.
	IdentitySeedPath string `yaml:"identity_seed_path"`

	// BlobsAddr and RegistryAddr are the listen addresses for Blob RPC
	// and Registry RPC respectively — two addresses rather than one
	// multiplexed port, since rpcnet.Transport.Listen fixes a
	// listener's ALPN set at construction time.
	BlobsAddr    string `yaml:"blobs_addr"`
	RegistryAddr string `yaml:"registry_addr"`

	// Stores are additional named blob stores (besides "meta", which
	// always exists and is backed by the FS5 tree's own meta store)
	// peers can be granted access to.
	Stores map[string]StoreConfig `yaml:"stores"`

	// Peers maps a hex-encoded Ed25519 public key to the ACL granted
	// to connections authenticating as that key.
	Peers map[string]PeerACL `yaml:"peers"`
}

// LoadConfig reads and parses a Config from a YAML file at path,
// following the teacher's own rc-file convention
// (serverutil/keyserver's yaml.Unmarshal-based mailConfig).
func LoadConfig(path string) (*Config, error) {
	const op = "node.LoadConfig"
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.E(op, errors.Invalid, err)
	}
	return &cfg, nil
}
