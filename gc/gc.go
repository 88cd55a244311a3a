// Package gc implements a conservative mark-and-sweep collector over
// a node's shared meta blob store: a blob survives if it is pinned or
// reachable from a live fs5 tree's root.fs5.cbor or snapshots.fs5.cbor,
// and is deleted otherwise.
package gc

import (
	"context"
	"math/rand"
	"path/filepath"

	"s5.dev/s5/blob"
	"s5.dev/s5/cbor5"
	"s5.dev/s5/dirmodel"
	"s5.dev/s5/errors"
	"s5.dev/s5/fs5"
	"s5.dev/s5/log"
	"s5.dev/s5/pin"
)

// Report summarizes a Sweep run.
type Report struct {
	Total              int
	KeptByPins         int
	KeptByReachability int
	Deleted            int
	// Candidates lists every blob judged deletable by the pin/reachability
	// invariants, populated regardless of dryRun.
	Candidates   []blob.Hash
	DeleteErrors []DeleteError
}

// DeleteError pairs a GC candidate's hash with the error encountered
// trying to delete it.
type DeleteError struct {
	Hash blob.Hash
	Err  error
}

// decryptDirRefBytes decrypts data per ref's own encryption metadata,
// returning data unchanged if ref carries none.
func decryptDirRefBytes(ref dirmodel.DirRef, data []byte) ([]byte, error) {
	if ref.EncryptionType == nil || ref.Keys == nil {
		return data, nil
	}
	if *ref.EncryptionType != dirmodel.EncryptionXChaCha20Poly1305 {
		return data, nil
	}
	key, ok := (*ref.Keys)[fs5.EncryptionKeyID]
	if !ok {
		return nil, errors.E("gc.decryptDirRefBytes", errors.DecryptError, errors.Str("missing directory content key"))
	}
	return fs5.DecryptDirBytes(key, data)
}

// fetchHistoricalFileRef reads the blob a version-chain ancestor hash
// names and decodes it as a FileRef. fs5 records the earlier versions'
// content hashes in Prev/FirstVersion, so for trees fs5 writes the
// decode fails and the walk stops at that ancestor, whose hash the
// caller has already marked reachable.
func fetchHistoricalFileRef(ctx context.Context, metaStore *blob.Engine, hash [32]byte) (dirmodel.FileRef, error) {
	const op = "gc.fetchHistoricalFileRef"
	data, err := metaStore.ReadAsBytes(ctx, blob.Hash(hash), 0, -1)
	if err != nil {
		return dirmodel.FileRef{}, errors.E(op, err)
	}
	var f dirmodel.FileRef
	if err := cbor5.Unmarshal(data, &f); err != nil {
		return dirmodel.FileRef{}, errors.E(op, errors.CborError, err)
	}
	return f, nil
}

// collectHashesFromDir marks every hash dir's Files reach as
// reachable, including their full version-history chain. A tombstone
// doesn't contribute its own (duplicated) content hash directly, but
// its chain is still walked so the history it preserves stays live.
func collectHashesFromDir(ctx context.Context, metaStore *blob.Engine, dir dirmodel.DirV1, reachable map[blob.Hash]struct{}) {
	for _, f := range dir.Files {
		walkVersionChain(ctx, metaStore, f, reachable)
	}
}

func walkVersionChain(ctx context.Context, metaStore *blob.Engine, f dirmodel.FileRef, reachable map[blob.Hash]struct{}) {
	// Iterative stack-based walk rather than recursive, so a
	// pathologically long version history doesn't grow the call stack.
	stack := []dirmodel.FileRef{f}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !cur.IsTombstone() {
			reachable[blob.Hash(cur.Hash)] = struct{}{}
		}
		// Walk both prev and first_version: first_version is usually a
		// shortcut into a chain already reachable via prev, but walking
		// it too tolerates a broken prev link without losing the
		// chain's origin, matching the conservative original behavior.
		for _, ancestor := range []*[32]byte{cur.Prev, cur.FirstVersion} {
			if ancestor == nil {
				continue
			}
			reachable[blob.Hash(*ancestor)] = struct{}{}
			hist, err := fetchHistoricalFileRef(ctx, metaStore, *ancestor)
			if err != nil {
				log.Debug.Printf("gc: skipping unreadable version-chain ancestor %x: %v", *ancestor, err)
				continue
			}
			stack = append(stack, hist)
		}
	}
}

// CollectReachable walks every live directory reachable from rootDir's
// root.fs5.cbor and snapshots.fs5.cbor, transitively through
// Dirs/Shards, collecting every directory blob hash and every file
// content/version hash found along the way. Any subtree that can't be
// read or decoded (missing blob, decrypt failure, corrupt CBOR) is
// conservatively skipped rather than treated as garbage: Sweep never
// deletes something CollectReachable couldn't prove was reachable.
func CollectReachable(ctx context.Context, metaStore *blob.Engine, rootDir string) (map[blob.Hash]struct{}, error) {
	reachable := map[blob.Hash]struct{}{}

	walkFromLocalFile := func(path string) {
		data, err := fs5.ReadFileIfExists(path)
		if err != nil || data == nil {
			return
		}
		dir, err := dirmodel.Unmarshal(data)
		if err != nil {
			log.Debug.Printf("gc: skipping unreadable root %q: %v", path, err)
			return
		}
		walkDirTree(ctx, metaStore, dir, reachable)
	}

	walkFromLocalFile(filepath.Join(rootDir, "root.fs5.cbor"))
	walkFromLocalFile(filepath.Join(rootDir, "snapshots.fs5.cbor"))

	return reachable, nil
}

// walkDirTree marks dir's own entries reachable and recurses into
// every child Dirs/Shards DirRef by content hash.
func walkDirTree(ctx context.Context, metaStore *blob.Engine, dir dirmodel.DirV1, reachable map[blob.Hash]struct{}) {
	collectHashesFromDir(ctx, metaStore, dir, reachable)

	visit := func(ref dirmodel.DirRef) {
		if ref.RefType != dirmodel.DirRefBlake3Hash {
			// Registry-backed subdirectories are reachable through
			// their own registry entry's pin, not a hash walk: their
			// current target hash is mutable, not a stable tree edge.
			return
		}
		h := blob.Hash(ref.Hash)
		if _, already := reachable[h]; already {
			return
		}
		reachable[h] = struct{}{}

		data, err := metaStore.ReadAsBytes(ctx, h, 0, -1)
		if err != nil {
			log.Debug.Printf("gc: skipping unreadable directory %x: %v", h, err)
			return
		}
		plain, err := decryptDirRefBytes(ref, data)
		if err != nil {
			log.Debug.Printf("gc: skipping undecryptable directory %x: %v", h, err)
			return
		}
		child, err := dirmodel.Unmarshal(plain)
		if err != nil {
			log.Debug.Printf("gc: skipping unparseable directory %x: %v", h, err)
			return
		}
		walkDirTree(ctx, metaStore, child, reachable)
	}

	for _, ref := range dir.Dirs {
		visit(ref)
	}
	for _, ref := range dir.Shards {
		visit(ref)
	}
}

// Sweep walks metaStore, keeping any blob with at least one pin or
// that is present in reachable, and deleting everything else unless
// dryRun is set.
func Sweep(ctx context.Context, metaStore *blob.Engine, reachable map[blob.Hash]struct{}, pins *pin.Set, dryRun bool) (Report, error) {
	const op = "gc.Sweep"

	var report Report
	hashes, errc := metaStore.List(ctx)
	for h := range hashes {
		report.Total++

		keptByPin := false
		if pins != nil {
			pinners, err := pins.GetPinners(ctx, h)
			if err == nil && len(pinners) > 0 {
				keptByPin = true
			}
		}
		if keptByPin {
			report.KeptByPins++
			continue
		}
		if _, ok := reachable[h]; ok {
			report.KeptByReachability++
			continue
		}

		report.Candidates = append(report.Candidates, h)
		if dryRun {
			continue
		}
		if err := metaStore.Delete(ctx, h); err != nil {
			report.DeleteErrors = append(report.DeleteErrors, DeleteError{Hash: h, Err: err})
			continue
		}
		report.Deleted++
	}
	if err, ok := <-errc; ok && err != nil {
		return report, errors.E(op, err)
	}
	return report, nil
}

// VerifySample re-hashes n blobs chosen at random from kept (the
// complement of a sweep's candidates) and reports any whose stored
// content no longer matches its claimed hash, surfacing the s5_cli
// `gc --verify` sampling check as a library call rather than a CLI
// command.
func VerifySample(ctx context.Context, metaStore *blob.Engine, kept []blob.Hash, n int, rng *rand.Rand) ([]blob.Hash, error) {
	const op = "gc.VerifySample"
	if n > len(kept) {
		n = len(kept)
	}
	perm := rng.Perm(len(kept))[:n]

	var mismatched []blob.Hash
	for _, idx := range perm {
		h := kept[idx]
		data, err := metaStore.ReadAsBytes(ctx, h, 0, -1)
		if err != nil {
			return mismatched, errors.E(op, h, err)
		}
		if blob.Sum(data) != h {
			mismatched = append(mismatched, h)
		}
	}
	return mismatched, nil
}
