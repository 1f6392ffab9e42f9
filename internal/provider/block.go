package provider

import (
	"encoding/binary"
	"fmt"

	"github.com/stratum-tools/sv2-template-provider/internal/chain"
	"github.com/stratum-tools/sv2-template-provider/internal/sv2"
)

// assembleBlock substitutes sol's coinbase into tpl as vtx[0], overwrites
// the header fields the client is allowed to pick (version, time, nonce),
// recomputes the Merkle root over the final transaction set, and serializes
// the full block the way SubmitBlock's RPC expects it: an 80-byte header
// followed by a varint transaction count and each transaction's raw bytes,
// coinbase first.
func assembleBlock(tpl chain.BlockTemplate, sol sv2.SubmitSolution) ([]byte, error) {
	if len(sol.CoinbaseTx) == 0 {
		return nil, fmt.Errorf("submit_solution: empty coinbase transaction")
	}

	txs := make([][]byte, len(tpl.Transactions)+1)
	txs[0] = sol.CoinbaseTx
	for i, tx := range tpl.Transactions {
		txs[i+1] = tx.Tx
	}
	merkleRoot := chain.BlockMerkleRoot(txs)

	header := make([]byte, 80)
	binary.LittleEndian.PutUint32(header[0:4], sol.Version)
	copy(header[4:36], tpl.PrevHash[:])
	copy(header[36:68], merkleRoot[:])
	binary.LittleEndian.PutUint32(header[68:72], sol.HeaderTimestamp)
	binary.LittleEndian.PutUint32(header[72:76], tpl.Bits)
	binary.LittleEndian.PutUint32(header[76:80], sol.HeaderNonce)

	block := append([]byte{}, header...)
	block = append(block, chain.EncodeVarInt(uint64(len(txs)))...)
	for _, tx := range txs {
		block = append(block, tx...)
	}
	return block, nil
}
