// Package registry implements the unified registry/stream data model
// (spec §3/§4.3): StreamKey/StreamMessage wire codec, deterministic
// conflict resolution, and the RegistryApi interface with its
// in-memory, embedded-KV, object-store, and remote backends.
package registry

import (
	"bytes"
	"crypto/ed25519"

	"s5.dev/s5/blob"
	"s5.dev/s5/errors"
)

const (
	keySize       = 32
	hashSize      = 32
	signatureSize = 64

	// MaxInlineDataSize bounds inline payload size for every key type
	// except Blake3HashPin.
	MaxInlineDataSize = 1024
)

// KeyType identifies the cryptographic shape of a StreamKey.
type KeyType uint8

const (
	KeyTypeLocal             KeyType = 0
	KeyTypePublicKeyEd25519  KeyType = 1
	KeyTypeBlake3HashPin     KeyType = 3
)

// StreamKey identifies the owner/topic of a stream or registry entry.
type StreamKey struct {
	Type KeyType
	Data [keySize]byte
}

// LocalKey returns a StreamKey with no cryptographic identity.
func LocalKey(data [keySize]byte) StreamKey {
	return StreamKey{Type: KeyTypeLocal, Data: data}
}

// Ed25519Key returns a StreamKey requiring a valid signature from pub.
func Ed25519Key(pub ed25519.PublicKey) StreamKey {
	var k StreamKey
	k.Type = KeyTypePublicKeyEd25519
	copy(k.Data[:], pub)
	return k
}

// Blake3HashPinKey returns a StreamKey used to store the pinner set for
// a blob hash (spec §4.4).
func Blake3HashPinKey(hash blob.Hash) StreamKey {
	return StreamKey{Type: KeyTypeBlake3HashPin, Data: [32]byte(hash)}
}

// RequiresSignature reports whether messages under k must carry a
// valid Ed25519 signature.
func (k StreamKey) RequiresSignature() bool { return k.SignatureLen() > 0 }

// SignatureLen returns the exact signature length required for k.
func (k StreamKey) SignatureLen() int {
	if k.Type == KeyTypePublicKeyEd25519 {
		return signatureSize
	}
	return 0
}

// EnforceInlineLimit reports whether MaxInlineDataSize applies to
// messages under k. Blake3HashPin keys are exempt so large pin sets
// can be stored inline.
func (k StreamKey) EnforceInlineLimit() bool { return k.Type != KeyTypeBlake3HashPin }

// Bytes renders the key as its on-wire (type, data) pair, used as the
// composite lookup key for KV-backed registries.
func (k StreamKey) Bytes() [1 + keySize]byte {
	var out [1 + keySize]byte
	out[0] = byte(k.Type)
	copy(out[1:], k.Data[:])
	return out
}

// MessageType distinguishes an append-only stream entry from a
// mutable registry entry.
type MessageType uint8

const (
	MessageTypeStream   MessageType = 0
	MessageTypeRegistry MessageType = 1
)

func parseMessageType(b byte) (MessageType, error) {
	switch b {
	case 0:
		return MessageTypeStream, nil
	case 1:
		return MessageTypeRegistry, nil
	default:
		return 0, errors.E("registry.MessageType", errors.Invalid, errors.Str("unknown message type"))
	}
}

func parseKeyType(b byte) (KeyType, error) {
	switch b {
	case 0:
		return KeyTypeLocal, nil
	case 1:
		return KeyTypePublicKeyEd25519, nil
	case 3:
		return KeyTypeBlake3HashPin, nil
	default:
		return 0, errors.E("registry.KeyType", errors.Invalid, errors.Str("unknown key type"))
	}
}

// Message is a single stream entry or registry update (spec §3's
// StreamMessage).
type Message struct {
	Type      MessageType
	Key       StreamKey
	Revision  uint64
	Hash      blob.Hash
	Signature []byte
	Data      []byte // nil if absent
}

// New validates and returns a Message, enforcing signature presence
// and length and the inline-data size limit.
func New(typ MessageType, key StreamKey, revision uint64, hash blob.Hash, signature, data []byte) (Message, error) {
	const op = "registry.New"
	if key.RequiresSignature() && len(signature) == 0 {
		return Message{}, errors.E(op, errors.SignatureRequired)
	}
	if want := key.SignatureLen(); len(signature) != want {
		return Message{}, errors.E(op, errors.Invalid, errors.Str("wrong signature length"))
	}
	if key.EnforceInlineLimit() && len(data) > MaxInlineDataSize {
		return Message{}, errors.E(op, errors.Invalid, errors.Str("inline data too large"))
	}
	return Message{Type: typ, Key: key, Revision: revision, Hash: hash, Signature: signature, Data: data}, nil
}

// signedPreimage is the byte sequence Ed25519-signed messages sign
// over: type_id || key_type || key || revision_be || 0x21 || hash.
func signedPreimage(typ MessageType, key StreamKey, revision uint64, hash blob.Hash) []byte {
	buf := make([]byte, 0, 1+1+keySize+8+1+hashSize)
	buf = append(buf, byte(typ), byte(key.Type))
	buf = append(buf, key.Data[:]...)
	buf = appendUint64BE(buf, revision)
	buf = append(buf, 0x21)
	buf = append(buf, hash[:]...)
	return buf
}

// Sign computes m's Ed25519 signature under priv and returns a copy of
// m with Signature populated. m.Key must be an Ed25519 key.
func (m Message) Sign(priv ed25519.PrivateKey) (Message, error) {
	const op = "registry.Message.Sign"
	if m.Key.Type != KeyTypePublicKeyEd25519 {
		return Message{}, errors.E(op, errors.Invalid, errors.Str("key is not an Ed25519 key"))
	}
	m.Signature = ed25519.Sign(priv, signedPreimage(m.Type, m.Key, m.Revision, m.Hash))
	return m, nil
}

// VerifySignature reports whether m's signature is valid for its key
// (a no-op success for non-Ed25519 keys, which carry no signature).
func (m Message) VerifySignature() bool {
	if m.Key.Type != KeyTypePublicKeyEd25519 {
		return true
	}
	if len(m.Signature) != signatureSize {
		return false
	}
	pub := ed25519.PublicKey(m.Key.Data[:])
	return ed25519.Verify(pub, signedPreimage(m.Type, m.Key, m.Revision, m.Hash), m.Signature)
}

func appendUint64BE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func readUint64BE(b []byte) uint64 {
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}

// Serialize encodes m to its fixed-prefix wire format: type(1),
// key-type(1), key(32), revision(8 BE), hash(32), signature(0 or 64),
// optional trailing inline data.
func (m Message) Serialize() []byte {
	buf := make([]byte, 0, 1+1+keySize+8+hashSize+len(m.Signature)+len(m.Data))
	buf = append(buf, byte(m.Type), byte(m.Key.Type))
	buf = append(buf, m.Key.Data[:]...)
	buf = appendUint64BE(buf, m.Revision)
	buf = append(buf, m.Hash[:]...)
	buf = append(buf, m.Signature...)
	buf = append(buf, m.Data...)
	return buf
}

// Deserialize decodes a Message from its wire format, validating
// message type, key type, and exact signature length, then re-running
// New's size/signature checks.
func Deserialize(b []byte) (Message, error) {
	const op = "registry.Deserialize"
	const minLen = 1 + 1 + keySize + 8 + hashSize
	if len(b) < minLen {
		return Message{}, errors.E(op, errors.Invalid, errors.Str("insufficient bytes"))
	}
	typ, err := parseMessageType(b[0])
	if err != nil {
		return Message{}, errors.E(op, err)
	}
	keyType, err := parseKeyType(b[1])
	if err != nil {
		return Message{}, errors.E(op, err)
	}
	var key StreamKey
	key.Type = keyType
	copy(key.Data[:], b[2:2+keySize])

	rest := b[2+keySize:]
	revision := readUint64BE(rest[:8])
	rest = rest[8:]

	var hash blob.Hash
	copy(hash[:], rest[:hashSize])
	rest = rest[hashSize:]

	sigLen := key.SignatureLen()
	if len(rest) < sigLen {
		return Message{}, errors.E(op, errors.Invalid, errors.Str("insufficient bytes for signature"))
	}
	var signature []byte
	if sigLen > 0 {
		signature = make([]byte, sigLen)
		copy(signature, rest[:sigLen])
	}
	rest = rest[sigLen:]

	var data []byte
	if len(rest) > 0 {
		data = make([]byte, len(rest))
		copy(data, rest)
	}

	return New(typ, key, revision, hash, signature, data)
}

// Less reports whether m sorts before other under the registry
// ordering: higher revision wins; on a tie, the lexicographically
// smaller hash wins.
func (m Message) Less(other Message) bool {
	if m.Revision != other.Revision {
		return m.Revision < other.Revision
	}
	// Reversed: a smaller hash must compare as "greater" so it wins.
	return bytes.Compare(m.Hash[:], other.Hash[:]) > 0
}

// ShouldStore reports whether m should replace existing (nil if no
// entry exists yet): stream messages always store; registry messages
// store only if m strictly beats existing under Less.
func (m Message) ShouldStore(existing *Message) bool {
	if m.Type == MessageTypeStream {
		return true
	}
	if existing == nil {
		return true
	}
	return existing.Less(m)
}
