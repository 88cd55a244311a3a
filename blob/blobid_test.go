package blob

import (
	"bytes"
	"testing"

	"github.com/multiformats/go-multibase"
)

func TestIdBytesLayout(t *testing.T) {
	id := Id{Hash: Sum([]byte("test")), Size: 256}
	b := id.Bytes()
	if len(b) != 37 {
		t.Fatalf("len(Bytes()) = %d, want 37", len(b))
	}
	if b[0] != 0x5b || b[1] != 0x82 || b[2] != 0x1e {
		t.Fatalf("bad prefix: % x", b[:3])
	}
	if !bytes.Equal(b[3:35], id.Hash[:]) {
		t.Fatalf("hash bytes mismatch")
	}
	if !bytes.Equal(b[35:], []byte{0x00, 0x01}) {
		t.Fatalf("size bytes = % x, want 00 01", b[35:])
	}
}

func TestIdZeroSizeHasNoSizeBytes(t *testing.T) {
	id := Id{Hash: Empty, Size: 0}
	b := id.Bytes()
	if len(b) != 35 {
		t.Fatalf("len(Bytes()) = %d, want 35 for size 0", len(b))
	}
}

func TestIdRoundTripMultibase(t *testing.T) {
	id := Id{Hash: Sum([]byte("round trip id")), Size: 12345}

	// base32 (canonical String() form).
	s := id.String()
	got, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(base32): %v", err)
	}
	if got != id {
		t.Fatalf("round trip via base32 mismatch: got %+v want %+v", got, id)
	}

	// Testable Property 2: parse(encode(x)) == x across every multibase.
	for _, enc := range []multibase.Encoding{
		multibase.Base16, multibase.Base32, multibase.Base58BTC, multibase.Base64url,
	} {
		s, err := multibase.Encode(enc, id.Bytes())
		if err != nil {
			t.Fatalf("multibase.Encode(%v): %v", enc, err)
		}
		got, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%v): %v", enc, err)
		}
		if got != id {
			t.Fatalf("round trip via encoding %v mismatch: got %+v want %+v", enc, got, id)
		}
	}
}

func TestParseIdBytesRejectsShort(t *testing.T) {
	if _, err := ParseIdBytes(make([]byte, 34)); err == nil {
		t.Fatalf("expected error for short input")
	}
}

func TestParseIdBytesRejectsBadMagic(t *testing.T) {
	b := Id{Hash: Empty, Size: 0}.Bytes()
	b[0] = 0x00
	if _, err := ParseIdBytes(b); err == nil {
		t.Fatalf("expected error for bad magic byte")
	}
}

func TestForData(t *testing.T) {
	data := []byte("hello")
	id := ForData(data)
	if id.Hash != Sum(data) || id.Size != 5 {
		t.Fatalf("ForData mismatch: %+v", id)
	}
}
