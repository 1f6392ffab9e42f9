// Package chain abstracts the host blockchain/mempool the Template Provider
// draws block templates from, mirroring the chain-interface boundary the
// upstream Sv2 Template Provider calls synchronously from its single
// scheduler thread.
package chain

import (
	"context"
	"time"
)

// TxFee pairs a transaction's serialized bytes with its fee in satoshis, as
// returned alongside a freshly built template.
type TxFee struct {
	Tx  []byte
	Fee int64
}

// BlockTemplate is the chain collaborator's view of a candidate block: the
// non-coinbase transactions in inclusion order plus enough header material
// for the caller to assemble its own coinbase and Merkle root.
type BlockTemplate struct {
	Height              int64
	Version             uint32
	PrevHash            [32]byte
	Bits                uint32
	Target              [32]byte
	MinTime             uint32
	CurTime             uint32
	CoinbaseValue       int64
	WitnessCommitment   []byte
	WitnessReserveValue []byte // first stack element of the coinbase's input witness
	CoinbaseFlags       []byte
	Transactions        []TxFee
	MempoolVersion      uint64
}

// Source is the chain collaborator interface the scheduler calls
// synchronously from its single worker thread: IBD gating, best-block-change
// notification, mempool freshness, template construction, and submission.
type Source interface {
	// IsIBD reports whether the node is still in initial block download.
	IsIBD(ctx context.Context) (bool, error)

	// WaitBestBlockChange blocks up to timeout for the best block hash to
	// change, returning the new hash if it did.
	WaitBestBlockChange(ctx context.Context, timeout time.Duration) (changed bool, bestHash [32]byte, err error)

	// MempoolVersion returns a counter that increases whenever the mempool's
	// contents change, used to gate unnecessary template rebuilds.
	MempoolVersion(ctx context.Context) (uint64, error)

	// BuildTemplate assembles a candidate block template leaving room for
	// maxWeight total weight, already net of the caller's coinbase budget.
	BuildTemplate(ctx context.Context, maxWeight uint64) (BlockTemplate, error)

	// SubmitBlock submits a fully assembled block (header + all
	// transactions, coinbase first) to the network.
	SubmitBlock(ctx context.Context, block []byte) (bool, error)
}
