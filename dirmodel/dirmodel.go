// Package dirmodel implements the CBOR directory schema: DirV1
// snapshots and the FileRef/DirRef entries they contain, with stable
// numbered fields (spec §3/§6) so that independently written decoders
// agree on wire layout across versions.
package dirmodel

import (
	"github.com/fxamacker/cbor/v2"

	"s5.dev/s5/cbor5"
	"s5.dev/s5/errors"
)

// Magic values for DirV1.Magic.
const (
	MagicDir    = "S5.pro"
	MagicWebApp = "S5.pro/web"
)

// DirRefType discriminates how a DirRef's hash field is interpreted.
type DirRefType uint8

const (
	// DirRefBlake3Hash addresses an immutable DirV1 snapshot by its
	// content hash.
	DirRefBlake3Hash DirRefType = 0x03
	// DirRefRegistryKey addresses a mutable subdirectory by the
	// registry key whose current value is its DirV1 hash.
	DirRefRegistryKey DirRefType = 0x11
)

// EncryptionXChaCha20Poly1305 is DirRef.EncryptionType's value when the
// referenced directory's contents are encrypted with XChaCha20-Poly1305.
const EncryptionXChaCha20Poly1305 = 0x02

// DirHeader carries a directory's sharding state and optional
// web-serving hints.
type DirHeader struct {
	// ShardLevel is set once a directory has been sharded (spec
	// §4.5); its absence means Dirs/Files are authoritative.
	ShardLevel *uint8 `cbor:"4,keyasint,omitempty"`
	// TryFiles lists fallback file names web-serving front ends
	// should try in order for a missing path (e.g. "index.html").
	TryFiles *[]string `cbor:"6,keyasint,omitempty"`
	// ErrorPages maps an HTTP status code to a file name to serve
	// in its place.
	ErrorPages *map[uint16]string `cbor:"14,keyasint,omitempty"`
	// RandomID disambiguates two otherwise-identical empty
	// directories so their hashes differ.
	RandomID *[16]byte `cbor:"255,keyasint,omitempty"`
}

// DirRef is a directory entry: a reference-type discriminant, a
// 32-byte hash or public key, optional per-directory encryption keys,
// and optional timestamps.
type DirRef struct {
	RefType DirRefType `cbor:"0,keyasint"`
	Hash    [32]byte   `cbor:"1,keyasint"`
	TsSeconds *uint32    `cbor:"3,keyasint,omitempty"`
	TsNanos   *uint32    `cbor:"4,keyasint,omitempty"`
	// Keys maps a key id to a 32-byte decryption key for this
	// subdirectory's contents.
	Keys *map[uint8][32]byte `cbor:"12,keyasint,omitempty"`
	// EncryptionType is set to EncryptionXChaCha20Poly1305 when Keys
	// is populated.
	EncryptionType *uint8 `cbor:"14,keyasint,omitempty"`
}

// NewDirRefFromHash returns a DirRef addressing a directory snapshot
// by content hash, with no encryption metadata.
func NewDirRefFromHash(hash [32]byte) DirRef {
	return DirRef{RefType: DirRefBlake3Hash, Hash: hash}
}

// FileRefType discriminates how a FileRef's hash field is interpreted.
type FileRefType uint8

const (
	// FileRefBlake3Hash addresses immutable content by its hash.
	FileRefBlake3Hash FileRefType = 0x03
	// FileRefRegistryKey addresses mutable content by registry key.
	FileRefRegistryKey FileRefType = 0x11
	// FileRefTombstone marks a deleted file; Hash is copied from its
	// last live version and Prev/FirstVersion preserve history.
	FileRefTombstone FileRefType = 0x00
)

// WebArchiveMetadata records the HTTP request/response context a file
// was captured under, for directories serving archived web content
// (supplementing spec §3's FileRef with a feature present in the
// original implementation's web-archiving support).
type WebArchiveMetadata struct {
	IPAddr          string     `cbor:"0,keyasint"`
	ReqHTTPVersion  uint8      `cbor:"1,keyasint"`
	ReqHeaders      [][2]string `cbor:"2,keyasint"`
	ResHTTPVersion  uint8      `cbor:"3,keyasint"`
	ResStatusCode   uint16     `cbor:"4,keyasint"`
	ResStatusReason string     `cbor:"5,keyasint"`
	ResHeaders      [][2]string `cbor:"6,keyasint"`
}

// FileRef is a file entry: a reference-type discriminant, content
// hash and size, optional timestamp, media type, candidate
// BlobLocations, and version-chain links.
//
// An inline-blob FileRef (spec §3) stores its data directly as a
// single IdentityRawBinary Location in Locations; callers decide that
// policy, dirmodel only carries the shape.
type FileRef struct {
	RefType   FileRefType      `cbor:"0,keyasint"`
	Hash      [32]byte         `cbor:"1,keyasint"`
	Size      uint64           `cbor:"2,keyasint"`
	Timestamp *uint32          `cbor:"3,keyasint,omitempty"`
	TimestampSubsecNanos *uint32 `cbor:"4,keyasint,omitempty"`
	// Locations holds raw blob.Location CBOR encodings (spec §3's
	// BlobLocation list); dirmodel does not import the blob package,
	// so it stays independent of blob's concrete Location type.
	Locations []cbor.RawMessage `cbor:"5,keyasint,omitempty"`
	MediaType *string           `cbor:"6,keyasint,omitempty"`

	Warc *WebArchiveMetadata `cbor:"21,keyasint,omitempty"`

	// Prev is the content hash of the previous version of this file,
	// if any.
	Prev *[32]byte `cbor:"23,keyasint,omitempty"`
	// FirstVersion is the content hash of the first version in this
	// file's version chain.
	FirstVersion *[32]byte `cbor:"24,keyasint,omitempty"`
	// VersionCount is the number of versions in the chain ending at
	// this FileRef, inclusive.
	VersionCount *uint64 `cbor:"25,keyasint,omitempty"`
}

// NewFileRef returns a live FileRef addressing content by hash and size.
func NewFileRef(hash [32]byte, size uint64) FileRef {
	return FileRef{RefType: FileRefBlake3Hash, Hash: hash, Size: size}
}

// NewTombstone returns a FileRef marking prev's file as deleted,
// preserving its version chain.
func NewTombstone(prev FileRef, prevHash [32]byte) FileRef {
	t := FileRef{
		RefType:      FileRefTombstone,
		Hash:         prev.Hash,
		Size:         prev.Size,
		FirstVersion: prev.FirstVersion,
	}
	t.Prev = &prevHash
	if t.FirstVersion == nil {
		t.FirstVersion = &prevHash
	}
	count := uint64(1)
	if prev.VersionCount != nil {
		count = *prev.VersionCount + 1
	}
	t.VersionCount = &count
	return t
}

// IsTombstone reports whether f marks a deleted file.
func (f FileRef) IsTombstone() bool { return f.RefType == FileRefTombstone }

// DirV1 is an immutable directory snapshot: an array of
// [magic, header, dirs, files, shards] (spec §3).
type DirV1 struct {
	_       struct{}           `cbor:",toarray"`
	Magic   string
	Header  DirHeader
	Dirs    map[string]DirRef
	Files   map[string]FileRef
	Shards  map[uint8]DirRef
}

// NewDir returns an empty directory snapshot.
func NewDir() DirV1 {
	return DirV1{Magic: MagicDir, Dirs: map[string]DirRef{}, Files: map[string]FileRef{}, Shards: map[uint8]DirRef{}}
}

// NewWebAppDir returns an empty directory snapshot preconfigured to
// serve "index.html" as a fallback for missing paths.
func NewWebAppDir() DirV1 {
	tryFiles := []string{"index.html"}
	return DirV1{
		Magic:  MagicWebApp,
		Header: DirHeader{TryFiles: &tryFiles},
		Dirs:   map[string]DirRef{},
		Files:  map[string]FileRef{},
		Shards: map[uint8]DirRef{},
	}
}

// IsSharded reports whether d's authoritative content lives in Shards
// rather than Dirs/Files directly (spec §3's DirV1 invariant).
func (d DirV1) IsSharded() bool { return d.Header.ShardLevel != nil }

// Marshal encodes d deterministically (Testable Property 4: two
// encode/decode/encode round trips produce byte-identical output).
func (d DirV1) Marshal() ([]byte, error) {
	b, err := cbor5.Marshal(d)
	if err != nil {
		return nil, errors.E("dirmodel.DirV1.Marshal", errors.CborError, err)
	}
	return b, nil
}

// Unmarshal decodes a DirV1 previously produced by Marshal.
func Unmarshal(data []byte) (DirV1, error) {
	var d DirV1
	if err := cbor5.Unmarshal(data, &d); err != nil {
		return DirV1{}, errors.E("dirmodel.Unmarshal", errors.CborError, err)
	}
	if d.Magic != MagicDir && d.Magic != MagicWebApp {
		return DirV1{}, errors.E("dirmodel.Unmarshal", errors.Invalid, errors.Str("unrecognized directory magic"))
	}
	return d, nil
}
