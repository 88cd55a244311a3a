package blob

import (
	"github.com/multiformats/go-multibase"

	"s5.dev/s5/errors"
)

const (
	magicByte     = 0x5b
	blobTypeDefault = 0x82
	multihashBlake3 = 0x1e
)

// Id is the canonical content identifier for a blob: a BLAKE3 Hash
// paired with the blob's byte size. Its wire form is
// [0x5b][0x82][0x1e][hash:32][size, little-endian, trailing-zero-stripped],
// and its string form is that wire form multibase-encoded (base32
// lowercase, no padding, by default; Parse accepts any multibase the
// ecosystem defines).
type Id struct {
	Hash Hash
	Size uint64
}

// Bytes renders id in its canonical binary form (spec §3 / Testable
// Property 3): a 3-byte prefix, the 32-byte hash, and the smallest
// little-endian encoding of Size with trailing zero bytes stripped.
func (id Id) Bytes() []byte {
	sizeBytes := leTrimmed(id.Size)
	out := make([]byte, 0, 3+32+len(sizeBytes))
	out = append(out, magicByte, blobTypeDefault, multihashBlake3)
	out = append(out, id.Hash[:]...)
	out = append(out, sizeBytes...)
	return out
}

// String renders id using the canonical base32-lowercase multibase
// encoding, matching the original implementation's Display impl.
func (id Id) String() string {
	s, err := multibase.Encode(multibase.Base32, id.Bytes())
	if err != nil {
		// Base32 encoding of arbitrary bytes never fails.
		panic(err)
	}
	return s
}

// leTrimmed encodes n as little-endian bytes with trailing (high-order)
// zero bytes stripped; n == 0 encodes as zero bytes.
func leTrimmed(n uint64) []byte {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(n >> (8 * i))
	}
	end := 8
	for end > 0 && buf[end-1] == 0 {
		end--
	}
	return buf[:end]
}

func leToUint64(b []byte) (uint64, error) {
	if len(b) > 8 {
		return 0, errors.E("blob.Id", errors.Invalid, errors.Str("size field too long"))
	}
	var n uint64
	for i, x := range b {
		n |= uint64(x) << (8 * i)
	}
	return n, nil
}

// ParseIdBytes decodes the canonical binary form produced by Bytes.
func ParseIdBytes(b []byte) (Id, error) {
	const op = "blob.ParseIdBytes"
	if len(b) < 35 {
		return Id{}, errors.E(op, errors.Invalid, errors.Str("blob id too short"))
	}
	if b[0] != magicByte || b[1] != blobTypeDefault || b[2] != multihashBlake3 {
		return Id{}, errors.E(op, errors.Invalid, errors.Str("bad magic/type/multihash bytes"))
	}
	sizeBytes := b[35:]
	if len(sizeBytes) > 8 {
		return Id{}, errors.E(op, errors.Invalid, errors.Str("size field too long"))
	}
	size, err := leToUint64(sizeBytes)
	if err != nil {
		return Id{}, errors.E(op, err)
	}
	var id Id
	copy(id.Hash[:], b[3:35])
	id.Size = size
	return id, nil
}

// Parse decodes any multibase-encoded BlobId string: base16, base32
// (upper or lower), base58btc, or base64url, matching the four forms
// exercised by the original implementation's round-trip tests.
func Parse(s string) (Id, error) {
	const op = "blob.Parse"
	if s == "" {
		return Id{}, errors.E(op, errors.Invalid, errors.Str("empty blob id"))
	}
	_, data, err := multibase.Decode(s)
	if err != nil {
		return Id{}, errors.E(op, errors.Invalid, err)
	}
	id, err := ParseIdBytes(data)
	if err != nil {
		return Id{}, errors.E(op, err)
	}
	return id, nil
}

// ForData computes the Id of data directly.
func ForData(data []byte) Id {
	return Id{Hash: Sum(data), Size: uint64(len(data))}
}
