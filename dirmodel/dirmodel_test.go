package dirmodel

import (
	"bytes"
	"testing"
)

func TestDirV1RoundTrip(t *testing.T) {
	d := NewDir()
	d.Files["a.txt"] = NewFileRef([32]byte{1}, 5)
	d.Dirs["sub"] = NewDirRefFromHash([32]byte{2})

	b1, err := d.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(b1)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Magic != MagicDir {
		t.Fatalf("magic = %q", got.Magic)
	}
	if len(got.Files) != 1 || len(got.Dirs) != 1 {
		t.Fatalf("unexpected entry counts: %+v", got)
	}
}

func TestDirV1DeterministicReencoding(t *testing.T) {
	// Testable Property 4: encode(decode(encode(D))) == encode(D).
	d := NewDir()
	d.Files["z.bin"] = NewFileRef([32]byte{9, 9, 9}, 4096)
	d.Files["a.bin"] = NewFileRef([32]byte{1, 1, 1}, 10)
	shardLevel := uint8(2)
	d.Header.ShardLevel = &shardLevel

	b1, err := d.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	d2, err := Unmarshal(b1)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	b2, err := d2.Marshal()
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("re-encoding is not byte-identical:\n%x\n%x", b1, b2)
	}
}

func TestWebAppDirHasTryFiles(t *testing.T) {
	d := NewWebAppDir()
	if d.Magic != MagicWebApp {
		t.Fatalf("magic = %q, want %q", d.Magic, MagicWebApp)
	}
	if d.Header.TryFiles == nil || (*d.Header.TryFiles)[0] != "index.html" {
		t.Fatalf("expected try_files = [index.html], got %+v", d.Header.TryFiles)
	}
}

func TestTombstonePreservesVersionChain(t *testing.T) {
	genesis := [32]byte{1}
	live := NewFileRef([32]byte{2}, 100)
	live.FirstVersion = &genesis
	one := uint64(1)
	live.VersionCount = &one

	liveHash := [32]byte{2}
	tomb := NewTombstone(live, liveHash)

	if !tomb.IsTombstone() {
		t.Fatalf("expected tombstone ref type")
	}
	if tomb.Hash != live.Hash {
		t.Fatalf("tombstone hash should copy the last live version's hash")
	}
	if tomb.Prev == nil || *tomb.Prev != liveHash {
		t.Fatalf("tombstone prev should point at the live version")
	}
	if tomb.FirstVersion == nil || *tomb.FirstVersion != genesis {
		t.Fatalf("tombstone should preserve first_version")
	}
	if tomb.VersionCount == nil || *tomb.VersionCount != 2 {
		t.Fatalf("version_count = %v, want 2", tomb.VersionCount)
	}
}

func TestIsShardedReflectsHeader(t *testing.T) {
	d := NewDir()
	if d.IsSharded() {
		t.Fatalf("fresh directory should not be sharded")
	}
	level := uint8(1)
	d.Header.ShardLevel = &level
	if !d.IsSharded() {
		t.Fatalf("expected sharded after setting ShardLevel")
	}
}
