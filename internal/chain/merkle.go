package chain

import sha256simd "github.com/minio/sha256-simd"

func doubleSHA256(b []byte) [32]byte {
	first := sha256simd.Sum256(b)
	return sha256simd.Sum256(first[:])
}

// BlockMerkleRoot hashes each of txs (coinbase first) and folds them into
// the block's Merkle root, for verifying a client's submitted solution.
func BlockMerkleRoot(txs [][]byte) [32]byte {
	if len(txs) == 0 {
		return [32]byte{}
	}
	hashes := make([][32]byte, len(txs))
	for i, tx := range txs {
		hashes[i] = doubleSHA256(tx)
	}
	if len(hashes) == 1 {
		return hashes[0]
	}
	branches := merkleBranches(hashes)
	return merkleRootFromBranches(hashes[0], branches)
}

// MerkleBranches is the exported entry point for callers outside this
// package (the provider's NewTemplate builder) assembling the merkle_path
// field from a template's transaction list.
func MerkleBranches(txids [][32]byte) [][32]byte { return merkleBranches(txids) }

// TxHash double-SHA256-hashes raw transaction bytes the way this package's
// merkle tree identifies leaves.
func TxHash(tx []byte) [32]byte { return doubleSHA256(tx) }

// merkleBranches returns the branch hashes a light client needs to fold a
// fixed coinbase into the block's Merkle root: one hash per tree level,
// each the sibling of the node on the path from the coinbase leaf to the
// root. txids[0] is treated as the coinbase placeholder and is never
// included as a sibling of itself past level 0.
func merkleBranches(txids [][32]byte) [][32]byte {
	if len(txids) <= 1 {
		return nil
	}
	level := make([][32]byte, len(txids))
	copy(level, txids)

	var branches [][32]byte
	for len(level) > 1 {
		branches = append(branches, level[1])
		level = nextMerkleLevel(level)
	}
	return branches
}

func nextMerkleLevel(level [][32]byte) [][32]byte {
	if len(level)%2 == 1 {
		level = append(level, level[len(level)-1])
	}
	next := make([][32]byte, 0, len(level)/2)
	for i := 0; i < len(level); i += 2 {
		var buf [64]byte
		copy(buf[:32], level[i][:])
		copy(buf[32:], level[i+1][:])
		next = append(next, doubleSHA256(buf[:]))
	}
	return next
}

// merkleRootFromBranches folds branch into a running hash the way an sv2
// client applies CoinbaseTxOutputs' eventual coinbase hash against
// NewTemplate's merkle_path: it assumes coinbase occupies leaf 0.
func merkleRootFromBranches(coinbaseHash [32]byte, branches [][32]byte) [32]byte {
	root := coinbaseHash
	for _, b := range branches {
		var buf [64]byte
		copy(buf[:32], root[:])
		copy(buf[32:], b[:])
		root = doubleSHA256(buf[:])
	}
	return root
}
