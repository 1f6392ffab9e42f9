package chain

import "testing"

func TestMerkleBranchesSingleTx(t *testing.T) {
	coinbase := [32]byte{1}
	if got := merkleBranches([][32]byte{coinbase}); got != nil {
		t.Fatalf("expected nil branches for single-tx block, got %v", got)
	}
}

func TestMerkleRootRoundTrip(t *testing.T) {
	txids := [][32]byte{{1}, {2}, {3}}
	branches := merkleBranches(txids)
	if len(branches) != 2 {
		t.Fatalf("branches len=%d want 2 for 3 leaves (padded to 4)", len(branches))
	}

	// Recompute the root directly and check it matches folding branches
	// against the coinbase leaf, the way an sv2 client reconstructs it.
	level := append([][32]byte(nil), txids...)
	for len(level) > 1 {
		level = nextMerkleLevel(level)
	}
	want := level[0]

	got := merkleRootFromBranches(txids[0], branches)
	if got != want {
		t.Fatalf("merkleRootFromBranches=%x want %x", got, want)
	}
}

func TestMerkleBranchesEvenCount(t *testing.T) {
	txids := [][32]byte{{1}, {2}, {3}, {4}}
	branches := merkleBranches(txids)
	if len(branches) != 2 {
		t.Fatalf("branches len=%d want 2", len(branches))
	}
	level := append([][32]byte(nil), txids...)
	for len(level) > 1 {
		level = nextMerkleLevel(level)
	}
	if got := merkleRootFromBranches(txids[0], branches); got != level[0] {
		t.Fatalf("root mismatch: got %x want %x", got, level[0])
	}
}
