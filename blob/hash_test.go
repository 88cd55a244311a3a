package blob

import "testing"

func TestSumHello(t *testing.T) {
	h := Sum([]byte("hello"))
	want := "ea8f163db38682925e4491c5e58d4bb3506ef8c14eb78a86e908c5624a67200f"
	if got := h.String(); got != want {
		t.Fatalf("Sum(hello) = %s, want %s", got, want)
	}
}

func TestEmptyHash(t *testing.T) {
	want := "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"
	if got := Empty.String(); got != want {
		t.Fatalf("Empty = %s, want %s", got, want)
	}
	if Sum(nil) != Empty {
		t.Fatalf("Sum(nil) != Empty")
	}
}

func TestHasherMatchesSum(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	h := NewHasher()
	h.Write(data[:10])
	h.Write(data[10:])
	if h.Sum() != Sum(data) {
		t.Fatalf("incremental hasher disagrees with Sum")
	}
}

func TestParseHashRoundTrip(t *testing.T) {
	h := Sum([]byte("round trip"))
	parsed, err := ParseHash(h.String())
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if parsed != h {
		t.Fatalf("ParseHash(String()) != original")
	}
}
