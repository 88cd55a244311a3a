package node

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"

	"s5.dev/s5/errors"
)

// loadOrCreateIdentity reads a 32-byte Ed25519 seed from path,
// generating and persisting a fresh one (0600, creating parent
// directories as needed) if the file doesn't exist yet — mirroring
// the teacher's own treatment of factotum key material as a small
// file a node owns outright rather than something re-derived each run.
func loadOrCreateIdentity(path string) (ed25519.PrivateKey, error) {
	const op = "node.loadOrCreateIdentity"
	seed, err := os.ReadFile(path)
	if err == nil {
		if len(seed) != ed25519.SeedSize {
			return nil, errors.E(op, errors.Invalid, errors.Str("identity seed file has the wrong length"))
		}
		return ed25519.NewKeyFromSeed(seed), nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.E(op, errors.IO, err)
	}

	newSeed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(newSeed); err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, errors.E(op, errors.IO, err)
		}
	}
	if err := os.WriteFile(path, newSeed, 0600); err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return ed25519.NewKeyFromSeed(newSeed), nil
}
