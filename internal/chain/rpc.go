package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// RPCClient is a minimal bitcoind JSON-RPC client, the same shape as the
// teacher's hand-rolled caller (no third-party JSON-RPC library appears
// anywhere in the example pack, so this stays on net/http + encoding/json).
type RPCClient struct {
	url  string
	user string
	pass string
	hc   *http.Client
}

// NewRPCClient builds a client against url, authenticating with user/pass
// (cookie-file or rpcuser/rpcpassword, per the caller's config).
func NewRPCClient(url, user, pass string) *RPCClient {
	return &RPCClient{url: url, user: user, pass: pass, hc: &http.Client{Timeout: 30 * time.Second}}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *RPCClient) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: "sv2tp", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("chain: marshal rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chain: build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.user, c.pass)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("chain: rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("chain: decode rpc %s response: %w", method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("chain: rpc %s: %s (code %d)", method, rr.Error.Message, rr.Error.Code)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rr.Result, out)
}

// RPCSource is the Source backed by a live bitcoind over RPC, grounded on
// the teacher's getblocktemplate/submitblock/getbestblockhash call sites.
type RPCSource struct {
	rpc          *RPCClient
	mempoolVer   atomic.Uint64
	pollInterval time.Duration

	mu              sync.Mutex
	lastBest        [32]byte
	lastMempoolSize int64
}

// NewRPCSource wraps rpc as a Source, polling getbestblockhash at
// pollInterval to implement WaitBestBlockChange.
func NewRPCSource(rpc *RPCClient, pollInterval time.Duration) *RPCSource {
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	return &RPCSource{rpc: rpc, pollInterval: pollInterval}
}

func (s *RPCSource) IsIBD(ctx context.Context) (bool, error) {
	var info struct {
		InitialBlockDownload bool `json:"initialblockdownload"`
	}
	if err := s.rpc.call(ctx, "getblockchaininfo", nil, &info); err != nil {
		return false, err
	}
	return info.InitialBlockDownload, nil
}

func (s *RPCSource) bestBlockHash(ctx context.Context) ([32]byte, error) {
	var hex64 string
	if err := s.rpc.call(ctx, "getbestblockhash", nil, &hex64); err != nil {
		return [32]byte{}, err
	}
	return decodeHashLE(hex64)
}

// WaitBestBlockChange polls getbestblockhash at s.pollInterval until it
// differs from the last observed value or timeout elapses. The upstream
// chain engine exposes this as a condvar; bitcoind's RPC surface gives us
// only polling. The deadline is checked only after each poll, so a call
// can run up to one pollInterval past timeout.
func (s *RPCSource) WaitBestBlockChange(ctx context.Context, timeout time.Duration) (bool, [32]byte, error) {
	deadline := time.Now().Add(timeout)
	s.mu.Lock()
	last := s.lastBest
	s.mu.Unlock()

	for {
		cur, err := s.bestBlockHash(ctx)
		if err != nil {
			return false, [32]byte{}, err
		}
		if cur != last {
			s.mu.Lock()
			s.lastBest = cur
			s.mu.Unlock()
			return true, cur, nil
		}
		if time.Now().After(deadline) {
			return false, last, nil
		}
		select {
		case <-ctx.Done():
			return false, last, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// MempoolVersion increments a local counter each time getmempoolinfo
// reports a different transaction count, since bitcoind has no single
// monotonic mempool-generation RPC field.
func (s *RPCSource) MempoolVersion(ctx context.Context) (uint64, error) {
	var info struct {
		Size int64 `json:"size"`
	}
	if err := s.rpc.call(ctx, "getmempoolinfo", nil, &info); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if info.Size != s.lastMempoolSize {
		s.lastMempoolSize = info.Size
		s.mempoolVer.Add(1)
	}
	return s.mempoolVer.Load(), nil
}

type gbtTransaction struct {
	Data string `json:"data"`
	Fee  int64  `json:"fee"`
}

type gbtResult struct {
	Version                  int32            `json:"version"`
	Height                   int64            `json:"height"`
	Previous                 string           `json:"previousblockhash"`
	Bits                     string           `json:"bits"`
	Target                   string           `json:"target"`
	CurTime                  int64            `json:"curtime"`
	Mintime                  int64            `json:"mintime"`
	CoinbaseValue            int64            `json:"coinbasevalue"`
	DefaultWitnessCommitment string           `json:"default_witness_commitment"`
	Transactions             []gbtTransaction `json:"transactions"`
	CoinbaseAux              struct {
		Flags string `json:"flags"`
	} `json:"coinbaseaux"`
}

// BuildTemplate calls bitcoind's getblocktemplate and keeps its
// transactions, in order, while their estimated weight fits maxWeight (a
// budget that already has the caller's coinbase_max_additional_size carved
// out of it). The budget itself is not sent to bitcoind.
func (s *RPCSource) BuildTemplate(ctx context.Context, maxWeight uint64) (BlockTemplate, error) {
	params := map[string]any{
		"rules":        []string{"segwit"},
		"capabilities": []string{"coinbasetxn", "workid"},
	}
	var tpl gbtResult
	if err := s.rpc.call(ctx, "getblocktemplate", []any{params}, &tpl); err != nil {
		return BlockTemplate{}, err
	}

	prevHash, err := decodeHashLE(tpl.Previous)
	if err != nil {
		return BlockTemplate{}, fmt.Errorf("chain: decode previousblockhash: %w", err)
	}
	var bitsBytes [4]byte
	if _, err := hex.Decode(bitsBytes[:], []byte(tpl.Bits)); err != nil {
		return BlockTemplate{}, fmt.Errorf("chain: decode bits: %w", err)
	}
	var target [32]byte
	if tb, err := hex.DecodeString(tpl.Target); err == nil {
		copy(target[32-len(tb):], tb)
	}
	var commitment, flags []byte
	if tpl.DefaultWitnessCommitment != "" {
		if commitment, err = hex.DecodeString(tpl.DefaultWitnessCommitment); err != nil {
			return BlockTemplate{}, fmt.Errorf("chain: decode witness commitment: %w", err)
		}
	}
	if tpl.CoinbaseAux.Flags != "" {
		if flags, err = hex.DecodeString(tpl.CoinbaseAux.Flags); err != nil {
			return BlockTemplate{}, fmt.Errorf("chain: decode coinbase flags: %w", err)
		}
	}

	txs := make([]TxFee, 0, len(tpl.Transactions))
	var usedWeight uint64
	for _, t := range tpl.Transactions {
		raw, err := hex.DecodeString(t.Data)
		if err != nil {
			return BlockTemplate{}, fmt.Errorf("chain: decode transaction data: %w", err)
		}
		// A coarse weight estimate (bytes*4) is enough to honor the caller's
		// budget; precise segwit weight accounting happens in bitcoind
		// itself, which already built this template under its own
		// -blockmaxweight limit.
		w := uint64(len(raw)) * 4
		if usedWeight+w > maxWeight {
			break
		}
		usedWeight += w
		txs = append(txs, TxFee{Tx: raw, Fee: t.Fee})
	}

	mempoolVer, err := s.MempoolVersion(ctx)
	if err != nil {
		return BlockTemplate{}, err
	}

	return BlockTemplate{
		Height:              tpl.Height,
		Version:             uint32(tpl.Version),
		PrevHash:            prevHash,
		Bits:                beUint32(bitsBytes),
		Target:              target,
		MinTime:             uint32(tpl.Mintime),
		CurTime:             uint32(tpl.CurTime),
		CoinbaseValue:       tpl.CoinbaseValue,
		WitnessCommitment:   commitment,
		WitnessReserveValue: witnessReserveValue(commitment),
		CoinbaseFlags:       flags,
		Transactions:        txs,
		MempoolVersion:      mempoolVer,
	}, nil
}

// witnessReserveValue returns the coinbase witness reserve value bitcoind
// assumed when it computed default_witness_commitment: 32 zero bytes (BIP141
// leaves the value otherwise unconstrained, but getblocktemplate always
// commits to the all-zero reserved value rather than a random one).
func witnessReserveValue(commitment []byte) []byte {
	if len(commitment) == 0 {
		return nil
	}
	return make([]byte, 32)
}

// SubmitBlock submits block with a single submitblock call; an RPC error
// or a reject reason is returned to the caller as is, without a retry.
func (s *RPCSource) SubmitBlock(ctx context.Context, block []byte) (bool, error) {
	blockHex := hex.EncodeToString(block)
	var result any
	err := s.rpc.call(ctx, "submitblock", []any{blockHex}, &result)
	if err != nil {
		return false, err
	}
	// bitcoind returns null on success and a reject-reason string otherwise.
	if result != nil {
		if reason, ok := result.(string); ok && reason != "" {
			return false, fmt.Errorf("chain: submitblock rejected: %s", reason)
		}
	}
	return true, nil
}

// decodeHashLE parses a bitcoind RPC hash string (display/big-endian hex,
// e.g. getbestblockhash's result) into the little-endian wire order the
// rest of this package and the sv2 messages use, via chainhash's own
// display/internal byte-order conversion rather than a hand-rolled reversal.
func decodeHashLE(h string) ([32]byte, error) {
	hash, err := chainhash.NewHashFromStr(h)
	if err != nil {
		return [32]byte{}, fmt.Errorf("chain: invalid hash hex %q: %w", h, err)
	}
	return *hash, nil
}

func beUint32(b [4]byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
