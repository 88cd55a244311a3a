package paths

import (
	"testing"

	"s5.dev/s5/blob"
	"s5.dev/s5/store"
)

func TestPathForHashBucketing(t *testing.T) {
	h := blob.Sum([]byte("bucket me"))

	insensitive := store.Features{CaseSensitive: false, RecommendedMaxDirSize: 100}
	p := BlobPathForHash(h, insensitive)
	if got, want := p[:6], "blob3/"; got != want {
		t.Fatalf("prefix = %q, want %q", got, want)
	}

	sensitive := store.Features{CaseSensitive: true, RecommendedMaxDirSize: 100}
	ps := BlobPathForHash(h, sensitive)
	if ps == p {
		t.Fatalf("case-sensitive and case-insensitive paths should differ")
	}
}

func TestPathForHashFlatAboveThreshold(t *testing.T) {
	h := blob.Sum([]byte("flat"))
	flat := store.Features{CaseSensitive: false, RecommendedMaxDirSize: 1_000_000}
	p := PathForHash(h, flat)
	for _, c := range p {
		if c == '/' {
			t.Fatalf("expected flat path with no separators, got %q", p)
		}
	}
}

func TestHashFromBlobPathRoundTrip(t *testing.T) {
	for _, sensitive := range []bool{true, false} {
		features := store.Features{CaseSensitive: sensitive, RecommendedMaxDirSize: 100}
		h := blob.Sum([]byte("round trip path"))
		p := BlobPathForHash(h, features)
		got, ok := HashFromBlobPath(p, features)
		if !ok {
			t.Fatalf("HashFromBlobPath(%q) failed to decode (case_sensitive=%v)", p, sensitive)
		}
		if got != h {
			t.Fatalf("decoded hash mismatch: got %s want %s", got, h)
		}
	}
}

func TestHashFromBlobPathRejectsWrongPrefix(t *testing.T) {
	features := store.Features{RecommendedMaxDirSize: 100}
	if _, ok := HashFromBlobPath("obao6/xx/yy/zz", features); ok {
		t.Fatalf("expected rejection of non-blob3 prefix")
	}
}

func TestObao6PathDistinctFromBlobPath(t *testing.T) {
	h := blob.Sum([]byte("obao"))
	features := store.Features{RecommendedMaxDirSize: 100}
	if BlobPathForHash(h, features) == Obao6PathForHash(h, features) {
		t.Fatalf("blob and outboard paths must not collide")
	}
}
