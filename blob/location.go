package blob

import (
	"github.com/fxamacker/cbor/v2"

	"s5.dev/s5/cbor5"
	"s5.dev/s5/errors"
)

// Location tag values (spec §3's BlobLocation table).
const (
	TagIdentityRawBinary           = 0x00
	TagURL                         = 0x01
	TagIroh                        = 0x04
	TagMultihashSha1               = 0x11
	TagMultihashSha2_256           = 0x12
	TagMultihashBlake3             = 0x1e
	TagSiaFile                     = 0x41
	TagCompressionZstd             = 0xc2
	TagCompressionBrotli           = 0xcb
	TagMultihashMd5                = 0xd5
	TagEncryptionXChaCha20Poly1305 = 0xe2
)

// Location describes how to obtain a blob's bytes. It is a tagged
// union (spec §3); Locations may nest (encryption wraps a hash
// location wrapping a Sia location, etc.) and may carry secret key
// material that callers must treat as sensitive.
type Location interface {
	Tag() byte
	cborFields() []interface{}
}

// IdentityRawBinary stores the blob's bytes inline.
type IdentityRawBinary struct{ Data []byte }

func (IdentityRawBinary) Tag() byte                    { return TagIdentityRawBinary }
func (l IdentityRawBinary) cborFields() []interface{} { return []interface{}{l.Data} }

// URL is an http(s) download location.
type URL struct{ URL string }

func (URL) Tag() byte                    { return TagURL }
func (l URL) cborFields() []interface{} { return []interface{}{l.URL} }

// Iroh identifies a blob by Iroh node id, optionally only partially
// available at that node.
type Iroh struct {
	Host    [32]byte
	Partial bool
}

func (Iroh) Tag() byte { return TagIroh }
func (l Iroh) cborFields() []interface{} {
	return []interface{}{l.Host[:], l.Partial}
}

// MultihashSha1 holds a 20-byte SHA-1 digest.
type MultihashSha1 struct{ Hash [20]byte }

func (MultihashSha1) Tag() byte                    { return TagMultihashSha1 }
func (l MultihashSha1) cborFields() []interface{} { return []interface{}{l.Hash[:]} }

// MultihashSha2_256 holds a 32-byte SHA-256 digest.
type MultihashSha2_256 struct{ Hash [32]byte }

func (MultihashSha2_256) Tag() byte                    { return TagMultihashSha2_256 }
func (l MultihashSha2_256) cborFields() []interface{} { return []interface{}{l.Hash[:]} }

// MultihashBlake3 holds the canonical BLAKE3 hash of the blob.
type MultihashBlake3 struct{ Hash Hash }

func (MultihashBlake3) Tag() byte                    { return TagMultihashBlake3 }
func (l MultihashBlake3) cborFields() []interface{} { return []interface{}{l.Hash[:]} }

// MultihashMd5 holds a 16-byte MD5 digest.
type MultihashMd5 struct{ Hash [16]byte }

func (MultihashMd5) Tag() byte                    { return TagMultihashMd5 }
func (l MultihashMd5) cborFields() []interface{} { return []interface{}{l.Hash[:]} }

// SiaFileHost describes one Sia renter-host session used to fetch a
// shard of a SiaFile.
type SiaFileHost struct {
	HostKey                    string
	V2SiamuxAddresses          []string
	EphemeralAccountPrivateKey [32]byte
}

// SiaFileSlab is one erasure-coded slab of a SiaFile.
type SiaFileSlab struct {
	SlabEncryptionKey [32]byte
	ShardRoots        map[uint8][32]byte
}

// SiaFile describes a blob stored as a set of erasure-coded slabs on
// the Sia network (renterd). Go has no first-class renterd client in
// the reference stack; this type only carries metadata. Nothing in
// this module fetches or reassembles a SiaFile's slabs.
type SiaFile struct {
	Size               uint64
	SlabSize           uint32
	MinShards          uint8
	Hosts              map[uint8]SiaFileHost
	FileEncryptionKey  [32]byte
	Slabs              []SiaFileSlab
}

func (SiaFile) Tag() byte { return TagSiaFile }
func (l SiaFile) cborFields() []interface{} {
	return []interface{}{l.Size, l.SlabSize, l.MinShards, l.Hosts, l.FileEncryptionKey[:], l.Slabs}
}

// CompressionZstd wraps Inner: fetching it and decompressing with
// zstd yields the blob's bytes.
type CompressionZstd struct{ Inner Location }

func (CompressionZstd) Tag() byte { return TagCompressionZstd }
func (l CompressionZstd) cborFields() []interface{} {
	return []interface{}{mustMarshal(l.Inner)}
}

// CompressionBrotli wraps Inner: fetching it and decompressing with
// brotli yields the blob's bytes.
type CompressionBrotli struct{ Inner Location }

func (CompressionBrotli) Tag() byte { return TagCompressionBrotli }
func (l CompressionBrotli) cborFields() []interface{} {
	return []interface{}{mustMarshal(l.Inner)}
}

// EncryptionXChaCha20Poly1305 wraps Inner: fetching it and decrypting
// each BlockSize-aligned chunk with XChaCha20-Poly1305 under Key
// yields the blob's bytes.
type EncryptionXChaCha20Poly1305 struct {
	Inner     Location
	Key       [32]byte
	BlockSize uint64
}

func (EncryptionXChaCha20Poly1305) Tag() byte { return TagEncryptionXChaCha20Poly1305 }
func (l EncryptionXChaCha20Poly1305) cborFields() []interface{} {
	return []interface{}{mustMarshal(l.Inner), l.Key[:], l.BlockSize}
}

func mustMarshal(l Location) []byte {
	b, err := Marshal(l)
	if err != nil {
		panic(err)
	}
	return b
}

// Marshal encodes loc as a deterministic CBOR array: [tag, field...].
func Marshal(loc Location) ([]byte, error) {
	fields := loc.cborFields()
	arr := make([]interface{}, 0, 1+len(fields))
	arr = append(arr, loc.Tag())
	arr = append(arr, fields...)
	return cbor5.Marshal(arr)
}

// UnmarshalLocation decodes a Location previously produced by Marshal,
// rejecting unknown tags per spec §7's "reject unknown tags on decode"
// rule for variant types.
func UnmarshalLocation(data []byte) (Location, error) {
	const op = "blob.UnmarshalLocation"
	var raw []cbor.RawMessage
	if err := cbor5.Unmarshal(data, &raw); err != nil {
		return nil, errors.E(op, errors.CborError, err)
	}
	if len(raw) == 0 {
		return nil, errors.E(op, errors.CborError, errors.Str("empty location array"))
	}
	var tag uint64
	if err := cbor5.Unmarshal(raw[0], &tag); err != nil {
		return nil, errors.E(op, errors.CborError, err)
	}
	rest := raw[1:]

	switch byte(tag) {
	case TagIdentityRawBinary:
		var data []byte
		if err := need1(op, rest, &data); err != nil {
			return nil, err
		}
		return IdentityRawBinary{Data: data}, nil
	case TagURL:
		var u string
		if err := need1(op, rest, &u); err != nil {
			return nil, err
		}
		return URL{URL: u}, nil
	case TagIroh:
		if len(rest) < 2 {
			return nil, errors.E(op, errors.CborError, errors.Str("short Iroh location"))
		}
		var host []byte
		var partial bool
		if err := cbor5.Unmarshal(rest[0], &host); err != nil {
			return nil, errors.E(op, errors.CborError, err)
		}
		if err := cbor5.Unmarshal(rest[1], &partial); err != nil {
			return nil, errors.E(op, errors.CborError, err)
		}
		var loc Iroh
		if len(host) != 32 {
			return nil, errors.E(op, errors.CborError, errors.Str("iroh host must be 32 bytes"))
		}
		copy(loc.Host[:], host)
		loc.Partial = partial
		return loc, nil
	case TagMultihashSha1:
		b, err := need1Bytes(op, rest, 20)
		if err != nil {
			return nil, err
		}
		var loc MultihashSha1
		copy(loc.Hash[:], b)
		return loc, nil
	case TagMultihashSha2_256:
		b, err := need1Bytes(op, rest, 32)
		if err != nil {
			return nil, err
		}
		var loc MultihashSha2_256
		copy(loc.Hash[:], b)
		return loc, nil
	case TagMultihashBlake3:
		b, err := need1Bytes(op, rest, 32)
		if err != nil {
			return nil, err
		}
		var loc MultihashBlake3
		copy(loc.Hash[:], b)
		return loc, nil
	case TagMultihashMd5:
		b, err := need1Bytes(op, rest, 16)
		if err != nil {
			return nil, err
		}
		var loc MultihashMd5
		copy(loc.Hash[:], b)
		return loc, nil
	case TagCompressionZstd:
		inner, err := needInner(op, rest)
		if err != nil {
			return nil, err
		}
		return CompressionZstd{Inner: inner}, nil
	case TagCompressionBrotli:
		inner, err := needInner(op, rest)
		if err != nil {
			return nil, err
		}
		return CompressionBrotli{Inner: inner}, nil
	case TagEncryptionXChaCha20Poly1305:
		if len(rest) < 3 {
			return nil, errors.E(op, errors.CborError, errors.Str("short encryption location"))
		}
		var innerBytes, key []byte
		var blockSize uint64
		if err := cbor5.Unmarshal(rest[0], &innerBytes); err != nil {
			return nil, errors.E(op, errors.CborError, err)
		}
		inner, err := UnmarshalLocation(innerBytes)
		if err != nil {
			return nil, err
		}
		if err := cbor5.Unmarshal(rest[1], &key); err != nil {
			return nil, errors.E(op, errors.CborError, err)
		}
		if err := cbor5.Unmarshal(rest[2], &blockSize); err != nil {
			return nil, errors.E(op, errors.CborError, err)
		}
		if len(key) != 32 {
			return nil, errors.E(op, errors.CborError, errors.Str("encryption key must be 32 bytes"))
		}
		var loc EncryptionXChaCha20Poly1305
		copy(loc.Key[:], key)
		loc.Inner = inner
		loc.BlockSize = blockSize
		return loc, nil
	case TagSiaFile:
		return unmarshalSiaFile(op, rest)
	default:
		return nil, errors.E(op, errors.CborError, errors.Str("unknown BlobLocation tag"))
	}
}

func need1(op string, rest []cbor.RawMessage, out interface{}) error {
	if len(rest) < 1 {
		return errors.E(op, errors.CborError, errors.Str("missing location payload"))
	}
	if err := cbor5.Unmarshal(rest[0], out); err != nil {
		return errors.E(op, errors.CborError, err)
	}
	return nil
}

func need1Bytes(op string, rest []cbor.RawMessage, n int) ([]byte, error) {
	var b []byte
	if err := need1(op, rest, &b); err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, errors.E(op, errors.CborError, errors.Str("wrong digest length"))
	}
	return b, nil
}

func needInner(op string, rest []cbor.RawMessage) (Location, error) {
	var b []byte
	if err := need1(op, rest, &b); err != nil {
		return nil, err
	}
	return UnmarshalLocation(b)
}

func unmarshalSiaFile(op string, rest []cbor.RawMessage) (Location, error) {
	if len(rest) < 6 {
		return nil, errors.E(op, errors.CborError, errors.Str("short SiaFile location"))
	}
	var loc SiaFile
	if err := cbor5.Unmarshal(rest[0], &loc.Size); err != nil {
		return nil, errors.E(op, errors.CborError, err)
	}
	if err := cbor5.Unmarshal(rest[1], &loc.SlabSize); err != nil {
		return nil, errors.E(op, errors.CborError, err)
	}
	if err := cbor5.Unmarshal(rest[2], &loc.MinShards); err != nil {
		return nil, errors.E(op, errors.CborError, err)
	}
	var hosts map[uint8]rawSiaFileHost
	if err := cbor5.Unmarshal(rest[3], &hosts); err != nil {
		return nil, errors.E(op, errors.CborError, err)
	}
	loc.Hosts = make(map[uint8]SiaFileHost, len(hosts))
	for k, v := range hosts {
		var h SiaFileHost
		h.HostKey = v.HostKey
		h.V2SiamuxAddresses = v.V2SiamuxAddresses
		if len(v.EphemeralAccountPrivateKey) != 32 {
			return nil, errors.E(op, errors.CborError, errors.Str("bad sia host key length"))
		}
		copy(h.EphemeralAccountPrivateKey[:], v.EphemeralAccountPrivateKey)
		loc.Hosts[k] = h
	}
	var key []byte
	if err := cbor5.Unmarshal(rest[4], &key); err != nil {
		return nil, errors.E(op, errors.CborError, err)
	}
	if len(key) != 32 {
		return nil, errors.E(op, errors.CborError, errors.Str("sia file encryption key must be 32 bytes"))
	}
	copy(loc.FileEncryptionKey[:], key)
	var slabs []rawSiaFileSlab
	if err := cbor5.Unmarshal(rest[5], &slabs); err != nil {
		return nil, errors.E(op, errors.CborError, err)
	}
	loc.Slabs = make([]SiaFileSlab, len(slabs))
	for i, s := range slabs {
		if len(s.SlabEncryptionKey) != 32 {
			return nil, errors.E(op, errors.CborError, errors.Str("bad slab key length"))
		}
		var slab SiaFileSlab
		copy(slab.SlabEncryptionKey[:], s.SlabEncryptionKey)
		slab.ShardRoots = make(map[uint8][32]byte, len(s.ShardRoots))
		for k, v := range s.ShardRoots {
			if len(v) != 32 {
				return nil, errors.E(op, errors.CborError, errors.Str("bad shard root length"))
			}
			var root [32]byte
			copy(root[:], v)
			slab.ShardRoots[k] = root
		}
		loc.Slabs[i] = slab
	}
	return loc, nil
}

type rawSiaFileHost struct {
	HostKey                    string
	V2SiamuxAddresses          []string
	EphemeralAccountPrivateKey []byte
}

type rawSiaFileSlab struct {
	SlabEncryptionKey []byte
	ShardRoots        map[uint8][]byte
}
