// Package paths codes blob hashes into store.Store keys, choosing
// between a flat layout and a bucketed-prefix layout depending on the
// backend's case sensitivity and recommended directory size.
package paths

import (
	"encoding/base32"
	"encoding/base64"
	"strings"

	"github.com/mr-tron/base58"

	"s5.dev/s5/blob"
	"s5.dev/s5/store"
)

// fsEncoding is RFC 4648 base32, lowercase and unpadded — safe on
// case-insensitive filesystems (matches base32_fs in the original
// implementation).
var fsEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// caseSensitiveEncoding is unpadded base64url, used on backends whose
// Features report CaseSensitive (store.Memory, store.Disk on a
// case-sensitive filesystem); store.GCS reports false and gets base32.
var caseSensitiveEncoding = base64.URLEncoding.WithPadding(base64.NoPadding)

// PathForHash returns the bare path segment for hash, bucketed into a
// two- or three-level prefix tree when features.RecommendedMaxDirSize
// is small, matching the original implementation's path_for_hash.
func PathForHash(hash blob.Hash, features store.Features) string {
	var s string
	if features.CaseSensitive {
		s = caseSensitiveEncoding.EncodeToString(hash[:])
	} else {
		s = fsEncoding.EncodeToString(hash[:])
	}

	if features.RecommendedMaxDirSize < 10000 {
		if features.CaseSensitive {
			return s[0:2] + "/" + s[2:4] + "/" + s[4:]
		}
		return s[0:2] + "/" + s[2:4] + "/" + s[4:6] + "/" + s[6:]
	}
	return s
}

// BlobPathForHash returns the store key for a blob's main content.
func BlobPathForHash(hash blob.Hash, features store.Features) string {
	return "blob3/" + PathForHash(hash, features)
}

// Obao6PathForHash returns the store key for a blob's Bao outboard.
func Obao6PathForHash(hash blob.Hash, features store.Features) string {
	return "obao6/" + PathForHash(hash, features)
}

// HashFromBlobPath recovers the Hash encoded in a "blob3/..." key, or
// reports ok=false if path isn't a recognized blob path.
func HashFromBlobPath(path string, features store.Features) (hash blob.Hash, ok bool) {
	const prefix = "blob3/"
	if !strings.HasPrefix(path, prefix) {
		return blob.Hash{}, false
	}
	encoded := strings.ReplaceAll(path[len(prefix):], "/", "")
	if encoded == "" {
		return blob.Hash{}, false
	}

	var raw []byte
	var err error
	if features.CaseSensitive {
		raw, err = caseSensitiveEncoding.DecodeString(encoded)
	} else {
		raw, err = fsEncoding.DecodeString(encoded)
	}
	if err != nil || len(raw) != 32 {
		return blob.Hash{}, false
	}
	copy(hash[:], raw)
	return hash, true
}

// ShortID renders data in base58btc, a human-inspectable, url-safe
// short form.
func ShortID(data []byte) string {
	return base58.Encode(data)
}
