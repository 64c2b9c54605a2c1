// Copyright 2025 Certen Protocol
//
// Binary Merkle trees over 32-byte hashes
//
// The tree backs two contracts: the transaction-outcomes hash of a block
// (so membership proofs for a single outcome stay short) and the structural
// block-state hash (a composition over the entity-table roots). Odd levels
// duplicate their last node, and the empty tree has a fixed root so blocks
// without transactions still hash deterministically.

package merkle

import (
	"crypto/sha256"
	"errors"
	"fmt"
)

var (
	ErrInvalidLeafHash = errors.New("leaf hash must be 32 bytes")
	ErrLeafOutOfRange  = errors.New("leaf index out of range")
	ErrInvalidProof    = errors.New("invalid merkle proof")
)

// emptyRoot is the root of the zero-leaf tree: SHA256 of the empty string.
var emptyRoot = sha256.Sum256(nil)

// EmptyRoot returns the canonical root of a tree with no leaves.
func EmptyRoot() [32]byte { return emptyRoot }

// Tree is a binary Merkle tree, built once and then read-only. Trees are
// built inside the coordinator's critical section, so there is no internal
// locking.
type Tree struct {
	levels [][][32]byte // levels[0] are the leaves, last level is the root
}

// BuildTree constructs a tree from leaf hashes. A nil or empty slice yields
// the empty tree.
func BuildTree(leaves [][32]byte) *Tree {
	t := &Tree{}
	if len(leaves) == 0 {
		return t
	}
	level := make([][32]byte, len(leaves))
	copy(level, leaves)
	t.levels = append(t.levels, level)
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t
}

// BuildTreeBytes is BuildTree over raw 32-byte slices.
func BuildTreeBytes(leaves [][]byte) (*Tree, error) {
	fixed := make([][32]byte, len(leaves))
	for i, leaf := range leaves {
		if len(leaf) != 32 {
			return nil, fmt.Errorf("%w: leaf %d has %d bytes", ErrInvalidLeafHash, i, len(leaf))
		}
		copy(fixed[i][:], leaf)
	}
	return BuildTree(fixed), nil
}

// Root returns the tree root.
func (t *Tree) Root() [32]byte {
	if len(t.levels) == 0 {
		return emptyRoot
	}
	return t.levels[len(t.levels)-1][0]
}

// LeafCount returns the number of leaves.
func (t *Tree) LeafCount() int {
	if len(t.levels) == 0 {
		return 0
	}
	return len(t.levels[0])
}

// Prove generates the inclusion receipt for the leaf at index.
func (t *Tree) Prove(index int) (*Receipt, error) {
	if len(t.levels) == 0 || index < 0 || index >= len(t.levels[0]) {
		return nil, ErrLeafOutOfRange
	}
	r := &Receipt{
		Start:  t.levels[0][index],
		Anchor: t.Root(),
	}
	current := index
	for level := 0; level < len(t.levels)-1; level++ {
		nodes := t.levels[level]
		var step ReceiptEntry
		if current%2 == 0 {
			sibling := current
			if current+1 < len(nodes) {
				sibling = current + 1
			}
			step = ReceiptEntry{Hash: nodes[sibling], Right: true}
		} else {
			step = ReceiptEntry{Hash: nodes[current-1], Right: false}
		}
		r.Entries = append(r.Entries, step)
		current /= 2
	}
	return r, nil
}

// RootOfHashes is the common one-shot: build and return just the root.
func RootOfHashes(leaves [][32]byte) [32]byte {
	return BuildTree(leaves).Root()
}

// hashPair is the node compression: SHA256(left || right).
func hashPair(left, right [32]byte) [32]byte {
	var combined [64]byte
	copy(combined[:32], left[:])
	copy(combined[32:], right[:])
	return sha256.Sum256(combined[:])
}
