// Package bao computes a pre-order Merkle outboard over 64 KiB blocks
// of a blob, modeled on the bao/bao_tree verified-streaming format used
// by the original implementation (itself borrowed from Iroh). There is
// no published Go port of bao_tree; this is a from-scratch
// reimplementation of its block size and pre-order layout using
// zeebo/blake3's keyed-hash mode for domain separation between leaf
// and parent nodes, rather than a byte-exact port of the upstream
// binary format.
package bao

import (
	"io"

	"github.com/zeebo/blake3"

	"s5.dev/s5/blob"
	"s5.dev/s5/errors"
)

// BlockSize is the leaf chunk size: 2^6 * 1024 = 64 KiB, matching
// S5_BLOCK_SIZE in the original implementation.
const BlockSize = 64 * 1024

// leafKey and parentKey separate leaf-hash and parent-hash domains so
// a parent node's 64-byte input can never be misread as two leaves
// (and vice versa).
var (
	leafKey   = keyFromString("s5 bao leaf node")
	parentKey = keyFromString("s5 bao parent node")
)

func keyFromString(s string) [32]byte {
	return blake3.Sum256([]byte(s))
}

func hashLeaf(data []byte) blob.Hash {
	h, err := blake3.NewKeyed(leafKey[:])
	if err != nil {
		panic(err) // leafKey is always exactly 32 bytes
	}
	h.Write(data)
	var out blob.Hash
	copy(out[:], h.Sum(nil))
	return out
}

func hashParent(left, right blob.Hash) blob.Hash {
	h, err := blake3.NewKeyed(parentKey[:])
	if err != nil {
		panic(err) // parentKey is always exactly 32 bytes
	}
	h.Write(left[:])
	h.Write(right[:])
	var out blob.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Outboard is the pre-order sequence of (left, right) 32-byte hash
// pairs produced while folding a blob's leaf hashes into its root,
// without a length prefix (matching "without length prefix" in the
// original's doc comment; callers know the size out of band).
type Outboard []byte

// ComputeOutboard reads all of r (exactly size bytes) and returns the
// blob's root Hash along with its outboard. A single-block blob (size
// <= BlockSize) has an empty outboard: its root is the leaf hash
// directly.
func ComputeOutboard(r io.Reader, size uint64) (blob.Hash, Outboard, error) {
	const op = "bao.ComputeOutboard"
	nBlocks := numBlocks(size)
	if nBlocks == 0 {
		return blob.Empty, nil, nil
	}
	leaves := make([]blob.Hash, nBlocks)
	buf := make([]byte, BlockSize)
	for i := uint64(0); i < nBlocks; i++ {
		n, err := io.ReadFull(r, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return blob.Hash{}, nil, errors.E(op, errors.IO, err)
		}
		leaves[i] = hashLeaf(buf[:n])
	}
	var ob Outboard
	root := fold(leaves, &ob)
	return root, ob, nil
}

// numBlocks returns the number of BlockSize leaves covering size bytes
// (a zero-byte blob has zero leaves; any positive size has at least one).
func numBlocks(size uint64) uint64 {
	if size == 0 {
		return 0
	}
	return (size + BlockSize - 1) / BlockSize
}

// fold recursively combines leaves[lo:hi] into a single root hash,
// appending each internal node's (left, right) child hashes to ob in
// pre-order as it descends — this is the outboard data a verifier
// replays to check a leaf without hashing the whole blob.
func fold(leaves []blob.Hash, ob *Outboard) blob.Hash {
	if len(leaves) == 1 {
		return leaves[0]
	}
	splitLen := leftSubtreeSize(uint64(len(leaves)))
	// Reserve this node's pair before descending so it precedes the
	// pairs of its children.
	pos := len(*ob)
	*ob = append(*ob, make([]byte, 64)...)
	left := fold(leaves[:splitLen], ob)
	right := fold(leaves[splitLen:], ob)
	copy((*ob)[pos:pos+32], left[:])
	copy((*ob)[pos+32:pos+64], right[:])
	return hashParent(left, right)
}

// leftSubtreeSize returns the size of the left subtree in a balanced
// binary split of n leaves: the largest power of two strictly less
// than n, matching bao_tree's "bao balanced tree" split rule.
func leftSubtreeSize(n uint64) uint64 {
	p := uint64(1)
	for p*2 < n {
		p *= 2
	}
	return p
}

// VerifyFull recomputes the root hash of all of r (size bytes) and
// reports whether it matches want. Unlike the upstream bao_tree
// format, this implementation does not support verifying an
// individual slice against the outboard without re-hashing every
// leaf in its path; only whole-blob verification is provided.
func VerifyFull(r io.Reader, size uint64, want blob.Hash) (bool, error) {
	root, _, err := ComputeOutboard(r, size)
	if err != nil {
		return false, err
	}
	return root == want, nil
}
