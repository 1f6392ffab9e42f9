package provider

import (
	"context"

	"github.com/stratum-tools/sv2-template-provider/internal/chain"
	"github.com/stratum-tools/sv2-template-provider/internal/sv2"
)

// onBestBlockChanged implements §4.7's best-block branch: the template
// cache is fully cleared (no partial invalidation — upstream's design note
// treats the cache as cheap enough to rebuild wholesale rather than GC'd
// incrementally) and every negotiated client's fee-delta baseline resets to
// zero, then every client that has already told us its coinbase budget gets
// a fresh, immediately active template.
//
// Every negotiated client needs its own template built and mailed out the
// instant the tip changes, and a single slow peer's socket must not delay
// delivery to the rest. The cache mutation and the RPC-backed template
// build stay on this goroutine (the single-mutator invariant), but the
// actual frame writes fan out across the bounded send pool's workers
// (fanout.go).
func (p *Provider) onBestBlockChanged(ctx context.Context, hash [32]byte) {
	p.cache = make(map[uint64]chain.BlockTemplate)
	p.log.Debug("best block changed, template cache cleared", "hash", hash)
	for _, c := range p.clients {
		c.latestTemplateFees = 0
		if !c.cbsizeReceived {
			continue
		}
		frames, fees, err := p.buildSendFrames(ctx, c, true)
		if err != nil {
			p.disconnectClient(c, err.Error())
			continue
		}
		if len(frames) == 0 {
			continue
		}
		c.latestTemplateFees = fees
		p.enqueueDeliver(c, frames)
	}
}

// onTimerTick implements §4.7's periodic branch: should_build fires only
// when the mempool has actually moved since the last template this tick's
// clients received, gating unnecessary rebuilds when nothing changed.
func (p *Provider) onTimerTick(ctx context.Context) {
	ibd, err := p.chainSrc.IsIBD(ctx)
	if err != nil {
		p.log.Warn("timer tick: IsIBD failed", "error", err)
		return
	}
	if ibd {
		return
	}
	version, err := p.chainSrc.MempoolVersion(ctx)
	if err != nil {
		p.log.Warn("timer tick: MempoolVersion failed", "error", err)
		return
	}
	if version <= p.lastMempoolVer {
		return
	}
	p.lastMempoolVer = version
	for _, c := range p.clients {
		if !c.cbsizeReceived {
			continue
		}
		if err := p.sendWork(ctx, c, false); err != nil {
			p.disconnectClient(c, err.Error())
		}
	}
}

// sendWork builds and sends one client a new template, matching §4.7's
// send_work: a new template_id is minted, the fee-delta gate can skip a
// purely-refreshed (non-prevhash) send, and NewTemplate is always sent
// before SetNewPrevHash when both go out for the same template. It writes
// inline, for the first coinbase_output_data_size of one client and for the
// periodic mempool-driven tick, which calls it for each client in turn.
func (p *Provider) sendWork(ctx context.Context, c *client, sendNewPrevHash bool) error {
	frames, fees, err := p.buildSendFrames(ctx, c, sendNewPrevHash)
	if err != nil || len(frames) == 0 {
		return err
	}
	for _, f := range frames {
		if err := c.send(f.msgType, f.payload); err != nil {
			return err
		}
	}
	c.latestTemplateFees = fees
	return nil
}

// sendFrame is one pre-encoded outbound message, ordered.
type sendFrame struct {
	msgType sv2.MsgType
	payload []byte
}

// buildSendFrames does all of send_work's state mutation (RPC template
// build, cache insert, template_id mint) and returns the frames to deliver
// in order, without writing to the wire itself — the caller chooses whether
// to send inline (sendWork) or hand the frames to the bounded delivery pool
// (onBestBlockChanged's fan-out). An empty, nil-error result means the
// fee-delta gate skipped this refresh, or that the template build failed
// (the failure is logged and nothing is sent).
func (p *Provider) buildSendFrames(ctx context.Context, c *client, sendNewPrevHash bool) ([]sendFrame, int64, error) {
	maxWeight := p.cfg.MaxBlockWeight
	if uint64(c.coinbaseMaxAdditionalSize) < maxWeight {
		maxWeight -= uint64(c.coinbaseMaxAdditionalSize)
	} else {
		maxWeight = 0
	}

	tpl, err := p.chainSrc.BuildTemplate(ctx, maxWeight)
	if err != nil {
		p.log.Error("build template failed", "client", c.id, "error", err)
		return nil, 0, nil
	}

	var fees int64
	for _, tx := range tpl.Transactions {
		if tx.Fee > 0 {
			fees += tx.Fee
		}
	}
	if !sendNewPrevHash && c.latestTemplateFees+p.cfg.MinimumFeeDelta > fees {
		return nil, 0, nil
	}

	p.nextTemplateID++
	templateID := p.nextTemplateID
	p.cache[templateID] = tpl

	parts := chain.BuildCoinbaseParts(tpl.Height, tpl.CoinbaseValue, p.cfg.ExtranonceLen,
		tpl.WitnessCommitment, tpl.CoinbaseFlags, p.cfg.CoinbaseTag)

	txids := make([][32]byte, len(tpl.Transactions)+1)
	for i, tx := range tpl.Transactions {
		txids[i+1] = chain.TxHash(tx.Tx)
	}
	branches := chain.MerkleBranches(txids)

	newTemplate := sv2.NewTemplate{
		TemplateID:               templateID,
		FutureTemplate:           sendNewPrevHash,
		Version:                  tpl.Version,
		CoinbaseTxVersion:        parts.TxVersion,
		CoinbasePrefix:           parts.Prefix,
		CoinbaseTxInputSequence:  parts.InputSequence,
		CoinbaseTxValueRemaining: parts.ValueRemaining,
		CoinbaseTxOutputsCount:   parts.OutputsCount,
		CoinbaseTxOutputs:        parts.Outputs,
		CoinbaseTxLocktime:       parts.Locktime,
		MerklePath:               branches,
	}
	frames := []sendFrame{{sv2.MsgNewTemplate, newTemplate.Encode()}}

	if sendNewPrevHash {
		setPrevHash := sv2.SetNewPrevHash{
			TemplateID:      templateID,
			PrevHash:        tpl.PrevHash,
			HeaderTimestamp: tpl.CurTime,
			NBits:           tpl.Bits,
			Target:          tpl.Target,
		}
		frames = append(frames, sendFrame{sv2.MsgSetNewPrevHash, setPrevHash.Encode()})
	}

	return frames, fees, nil
}
