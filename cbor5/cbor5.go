// Package cbor5 centralizes the CBOR encode/decode options used across
// s5's wire types (DirV1, FileRef, DirRef, StreamMessage payloads). A
// single shared EncMode/DecMode keeps encoding deterministic, which
// Testable Property 4 of spec.md depends on: encoding the same value
// twice must produce byte-identical output.
package cbor5

import (
	"github.com/fxamacker/cbor/v2"
)

// maxInlineBytes bounds the whole input Unmarshal accepts, and so every
// byte/string value decoded from it, per spec §6 ("Decoding must reject oversized byte/string
// values (> 16 MiB)").
const maxInlineBytes = 16 * 1024 * 1024

// EncMode is the shared deterministic encoder used for every s5 CBOR
// value so that re-encoding a decoded value reproduces the original
// bytes.
var EncMode cbor.EncMode

// DecMode is the shared decoder, configured with caps on array length,
// map size and nesting depth. It sets no byte/string size limit itself;
// the 16 MiB input limit is applied by Unmarshal.
var DecMode cbor.DecMode

func init() {
	encOpts := cbor.CoreDetEncOptions()
	var err error
	EncMode, err = encOpts.EncMode()
	if err != nil {
		panic(err)
	}

	decOpts := cbor.DecOptions{
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 20,
		MaxNestedLevels:  32,
	}
	DecMode, err = decOpts.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes v using the shared deterministic encoder.
func Marshal(v interface{}) ([]byte, error) {
	return EncMode.Marshal(v)
}

// Unmarshal decodes data into v using the shared decoder.
func Unmarshal(data []byte, v interface{}) error {
	if len(data) > maxInlineBytes {
		return errTooLarge
	}
	return DecMode.Unmarshal(data, v)
}

var errTooLarge = cborTooLargeError{}

type cborTooLargeError struct{}

func (cborTooLargeError) Error() string { return "cbor5: value exceeds 16 MiB decode limit" }
