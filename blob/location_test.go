package blob

import (
	"reflect"
	"testing"

	"s5.dev/s5/cbor5"
)

func roundTrip(t *testing.T, loc Location) Location {
	t.Helper()
	b, err := Marshal(loc)
	if err != nil {
		t.Fatalf("Marshal(%T): %v", loc, err)
	}
	got, err := UnmarshalLocation(b)
	if err != nil {
		t.Fatalf("UnmarshalLocation(%T): %v", loc, err)
	}
	return got
}

func TestLocationRoundTripSimpleVariants(t *testing.T) {
	cases := []Location{
		IdentityRawBinary{Data: []byte("hello")},
		URL{URL: "https://example.com/blob"},
		Iroh{Host: [32]byte{1, 2, 3}, Partial: true},
		MultihashSha1{Hash: [20]byte{9}},
		MultihashSha2_256{Hash: [32]byte{9, 9}},
		MultihashBlake3{Hash: Sum([]byte("loc"))},
		MultihashMd5{Hash: [16]byte{7}},
	}
	for _, c := range cases {
		got := roundTrip(t, c)
		if !reflect.DeepEqual(got, c) {
			t.Fatalf("round trip mismatch: got %#v want %#v", got, c)
		}
	}
}

func TestLocationNesting(t *testing.T) {
	inner := MultihashBlake3{Hash: Sum([]byte("nested"))}
	enc := EncryptionXChaCha20Poly1305{Inner: inner, Key: [32]byte{1}, BlockSize: 65536}
	got := roundTrip(t, enc)
	decEnc, ok := got.(EncryptionXChaCha20Poly1305)
	if !ok {
		t.Fatalf("got %T, want EncryptionXChaCha20Poly1305", got)
	}
	if decEnc.Key != enc.Key || decEnc.BlockSize != enc.BlockSize {
		t.Fatalf("outer fields mismatch: %+v", decEnc)
	}
	if decEnc.Inner != inner {
		t.Fatalf("inner location mismatch: got %#v want %#v", decEnc.Inner, inner)
	}

	zstd := CompressionZstd{Inner: enc}
	gotZstd := roundTrip(t, zstd)
	decZstd, ok := gotZstd.(CompressionZstd)
	if !ok {
		t.Fatalf("got %T, want CompressionZstd", gotZstd)
	}
	if decZstd.Inner != decEnc {
		t.Fatalf("double-nested location mismatch")
	}
}

func TestUnmarshalLocationRejectsUnknownTag(t *testing.T) {
	b, err := cbor5.Marshal([]interface{}{uint8(0xf7), []byte("x")})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := UnmarshalLocation(b); err == nil {
		t.Fatalf("expected error for unknown tag")
	}
}

func TestLocationTag(t *testing.T) {
	if (MultihashBlake3{}).Tag() != TagMultihashBlake3 {
		t.Fatalf("wrong tag constant")
	}
}
