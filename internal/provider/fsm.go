package provider

import (
	"context"
	"fmt"

	"github.com/stratum-tools/sv2-template-provider/internal/sv2"
)

// handleInbound is the single entry point the run loop calls for every
// event a client's reader goroutine posts: a terminal read/handshake error,
// or one decoded frame to dispatch. Per §7's error table, any error raised
// while handling a frame disconnects the client; an unrecognized message
// type is logged and the connection is kept.
func (p *Provider) handleInbound(ctx context.Context, ev inboundEvent) {
	c, ok := p.clients[ev.id]
	if !ok {
		return
	}
	if ev.err != nil {
		p.disconnectClient(c, ev.err.Error())
		return
	}
	if err := p.dispatch(ctx, c, ev.hdr, ev.payload); err != nil {
		p.disconnectClient(c, err.Error())
	}
}

func (p *Provider) dispatch(ctx context.Context, c *client, hdr sv2.Header, payload []byte) error {
	switch hdr.MsgType {
	case sv2.MsgSetupConnection:
		return p.handleSetupConnection(c, payload)
	case sv2.MsgCoinbaseOutputDataSize:
		return p.handleCoinbaseOutputDataSize(ctx, c, payload)
	case sv2.MsgSubmitSolution:
		return p.handleSubmitSolution(ctx, c, payload)
	case sv2.MsgRequestTransactionData:
		return p.handleRequestTransactionData(c, payload)
	default:
		p.log.Warn("unknown message type, ignoring", "client", c.id, "msg_type", hdr.MsgType)
		return nil
	}
}

func (p *Provider) handleSetupConnection(c *client, payload []byte) error {
	if c.setupConfirmed {
		return fmt.Errorf("setup_connection already confirmed for client %d", c.id)
	}
	req, err := sv2.DecodeSetupConnection(payload)
	if err != nil {
		return fmt.Errorf("decode setup_connection: %w", err)
	}
	if req.Protocol != sv2.TPSubprotocol {
		return p.rejectSetupConnection(c, "unsupported-protocol", req)
	}
	if req.MinVersion > p.cfg.ProtocolVersion || req.MaxVersion < p.cfg.ProtocolVersion {
		return p.rejectSetupConnection(c, "protocol-version-mismatch", req)
	}
	resp := sv2.SetupConnectionSuccess{UsedVersion: p.cfg.ProtocolVersion, OptionalFeatures: p.cfg.OptionalFeatures}
	if err := c.send(sv2.MsgSetupConnectionSuccess, resp.Encode()); err != nil {
		return err
	}
	c.setupConfirmed = true
	p.log.Debug("setup_connection accepted", "client", c.id)
	return nil
}

// rejectSetupConnection sends the SetupConnectionError reply, then returns
// an error so dispatch's caller (handleInbound) disconnects the client per
// §4.6/§7: every protocol or version mismatch ends the connection, it does
// not leave the client sitting unconfirmed.
func (p *Provider) rejectSetupConnection(c *client, code string, req sv2.SetupConnection) error {
	errMsg := sv2.SetupConnectionError{Flags: 0, ErrorCode: code}
	if sendErr := c.send(sv2.MsgSetupConnectionError, errMsg.Encode()); sendErr != nil {
		return sendErr
	}
	p.log.Warn("setup_connection rejected", "client", c.id, "code", code, "protocol", req.Protocol,
		"min", req.MinVersion, "max", req.MaxVersion)
	return fmt.Errorf("setup_connection rejected: %s", code)
}

func (p *Provider) handleCoinbaseOutputDataSize(ctx context.Context, c *client, payload []byte) error {
	req, err := sv2.DecodeCoinbaseOutputDataSize(payload)
	if err != nil {
		return fmt.Errorf("decode coinbase_output_data_size: %w", err)
	}
	if !c.setupConfirmed {
		return fmt.Errorf("coinbase_output_data_size before setup_connection.success")
	}
	if uint64(req.CoinbaseOutputMaxAdditionalSize) > p.cfg.MaxBlockWeight {
		return fmt.Errorf("coinbase_output_data_size %d exceeds max block weight %d",
			req.CoinbaseOutputMaxAdditionalSize, p.cfg.MaxBlockWeight)
	}
	c.coinbaseMaxAdditionalSize = req.CoinbaseOutputMaxAdditionalSize
	c.cbsizeReceived = true
	return p.sendWork(ctx, c, true)
}

func (p *Provider) handleSubmitSolution(ctx context.Context, c *client, payload []byte) error {
	sol, err := sv2.DecodeSubmitSolution(payload)
	if err != nil {
		return fmt.Errorf("decode submit_solution: %w", err)
	}
	if !c.setupConfirmed || !c.cbsizeReceived {
		p.log.Warn("submit_solution before negotiation complete, dropping", "client", c.id)
		return nil
	}
	tpl, ok := p.cache[sol.TemplateID]
	if !ok {
		p.log.Debug("submit_solution for unknown template_id, dropping", "client", c.id, "template_id", sol.TemplateID)
		return nil
	}
	block, err := assembleBlock(tpl, sol)
	if err != nil {
		p.log.Warn("failed to assemble submitted block, dropping", "client", c.id, "error", err)
		return nil
	}
	accepted, err := p.chainSrc.SubmitBlock(ctx, block)
	if err != nil {
		p.log.Error("submit_block rpc failed", "client", c.id, "template_id", sol.TemplateID, "error", err)
		return nil
	}
	if accepted {
		p.log.Info("block accepted", "client", c.id, "template_id", sol.TemplateID, "height", tpl.Height)
	} else {
		p.log.Warn("block rejected by chain", "client", c.id, "template_id", sol.TemplateID, "height", tpl.Height)
	}
	return nil
}

func (p *Provider) handleRequestTransactionData(c *client, payload []byte) error {
	req, err := sv2.DecodeRequestTransactionData(payload)
	if err != nil {
		return fmt.Errorf("decode request_transaction_data: %w", err)
	}
	tpl, ok := p.cache[req.TemplateID]
	if !ok {
		p.log.Debug("request_transaction_data cache miss", "client", c.id, "template_id", req.TemplateID)
		resp := sv2.RequestTransactionDataError{TemplateID: req.TemplateID, ErrorCode: "template-id-not-found"}
		return c.send(sv2.MsgRequestTransactionDataError, resp.Encode())
	}
	txs := make([][]byte, len(tpl.Transactions))
	for i, tx := range tpl.Transactions {
		txs[i] = tx.Tx
	}
	resp := sv2.RequestTransactionDataSuccess{
		TemplateID:          req.TemplateID,
		WitnessReserveValue: tpl.WitnessReserveValue,
		Transactions:        txs,
	}
	return c.send(sv2.MsgRequestTransactionDataSuccess, resp.Encode())
}
