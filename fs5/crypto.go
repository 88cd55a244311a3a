package fs5

import (
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"

	"s5.dev/s5/errors"
)

// encryptionKeyID is the DirContext.Keys slot used for a directory's
// own content encryption key (spec §4.5's per-directory encryption).
const encryptionKeyID uint8 = 0x0e

// encryptDirBytes seals plaintext under key, prefixing the output
// with its random 24-byte nonce.
func encryptDirBytes(key [32]byte, plaintext []byte) ([]byte, error) {
	const op = "fs5.encryptDirBytes"
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, errors.E(op, errors.Other, err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

// decryptDirBytes reverses encryptDirBytes.
func decryptDirBytes(key [32]byte, data []byte) ([]byte, error) {
	const op = "fs5.decryptDirBytes"
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, errors.E(op, errors.Other, err)
	}
	if len(data) < chacha20poly1305.NonceSizeX {
		return nil, errors.E(op, errors.DecryptError, errors.Str("ciphertext too short"))
	}
	nonce, ciphertext := data[:chacha20poly1305.NonceSizeX], data[chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.E(op, errors.DecryptError, err)
	}
	return plaintext, nil
}

// EncryptionKeyID is the DirContext.Keys slot holding a directory's
// own content encryption key, exported so the gc package can resolve
// a DirRef's key without duplicating the crypto layout.
const EncryptionKeyID = encryptionKeyID

// DecryptDirBytes exports decryptDirBytes for use outside the
// package (the gc package's reachability walk needs to open encrypted
// directories the same way the actor tree does).
func DecryptDirBytes(key [32]byte, data []byte) ([]byte, error) {
	return decryptDirBytes(key, data)
}

// newEncryptionKey generates a fresh random directory content key.
func newEncryptionKey() ([32]byte, error) {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, errors.E("fs5.newEncryptionKey", errors.IO, err)
	}
	return key, nil
}
