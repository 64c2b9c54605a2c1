// Copyright 2025 Certen Protocol
//
// Merkle Tree Tests

package merkle

import (
	"crypto/sha256"
	"testing"
)

func leafOf(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

func TestBuildTree_Empty(t *testing.T) {
	tree := BuildTree(nil)
	if tree.Root() != EmptyRoot() {
		t.Errorf("empty tree root mismatch: got %x, want %x", tree.Root(), EmptyRoot())
	}
	if tree.LeafCount() != 0 {
		t.Errorf("leaf count mismatch: got %d, want 0", tree.LeafCount())
	}
}

func TestBuildTree_SingleLeaf(t *testing.T) {
	leaf := leafOf("test data")
	tree := BuildTree([][32]byte{leaf})

	// Single leaf tree: root equals leaf
	if tree.Root() != leaf {
		t.Errorf("single leaf root mismatch: got %x, want %x", tree.Root(), leaf)
	}
	if tree.LeafCount() != 1 {
		t.Errorf("leaf count mismatch: got %d, want 1", tree.LeafCount())
	}
}

func TestBuildTree_TwoLeaves(t *testing.T) {
	a, b := leafOf("a"), leafOf("b")
	tree := BuildTree([][32]byte{a, b})

	want := hashPair(a, b)
	if tree.Root() != want {
		t.Errorf("root mismatch: got %x, want %x", tree.Root(), want)
	}
}

func TestBuildTree_OddLeavesDuplicateLast(t *testing.T) {
	a, b, c := leafOf("a"), leafOf("b"), leafOf("c")
	tree := BuildTree([][32]byte{a, b, c})

	want := hashPair(hashPair(a, b), hashPair(c, c))
	if tree.Root() != want {
		t.Errorf("root mismatch: got %x, want %x", tree.Root(), want)
	}
}

func TestProve_AllLeavesVerify(t *testing.T) {
	var leaves [][32]byte
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		leaves = append(leaves, leafOf(s))
	}
	tree := BuildTree(leaves)

	for i := range leaves {
		proof, err := tree.Prove(i)
		if err != nil {
			t.Fatalf("prove leaf %d: %v", i, err)
		}
		if proof.Start != leaves[i] {
			t.Errorf("proof %d start mismatch", i)
		}
		if proof.Anchor != tree.Root() {
			t.Errorf("proof %d anchor mismatch", i)
		}
		if err := proof.Validate(); err != nil {
			t.Errorf("proof %d does not validate: %v", i, err)
		}
	}
}

func TestProve_TamperedProofFails(t *testing.T) {
	leaves := [][32]byte{leafOf("a"), leafOf("b"), leafOf("c"), leafOf("d")}
	tree := BuildTree(leaves)

	proof, err := tree.Prove(2)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	proof.Entries[0].Hash[0] ^= 0xff
	if err := proof.Validate(); err == nil {
		t.Error("tampered proof validated")
	}
}

func TestProve_OutOfRange(t *testing.T) {
	tree := BuildTree([][32]byte{leafOf("a")})
	if _, err := tree.Prove(1); err == nil {
		t.Error("expected error for out-of-range index")
	}
	if _, err := BuildTree(nil).Prove(0); err == nil {
		t.Error("expected error for empty tree")
	}
}

func TestBuildTreeBytes_RejectsBadLength(t *testing.T) {
	if _, err := BuildTreeBytes([][]byte{{1, 2, 3}}); err == nil {
		t.Error("expected error for short leaf")
	}
}

func TestRootOfHashes_MatchesBuild(t *testing.T) {
	leaves := [][32]byte{leafOf("x"), leafOf("y")}
	if RootOfHashes(leaves) != BuildTree(leaves).Root() {
		t.Error("RootOfHashes disagrees with BuildTree")
	}
}
