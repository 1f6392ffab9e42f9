package provider

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/stratum-tools/sv2-template-provider/internal/chain"
	"github.com/stratum-tools/sv2-template-provider/internal/noise"
	"github.com/stratum-tools/sv2-template-provider/internal/obslog"
	"github.com/stratum-tools/sv2-template-provider/internal/sv2"
)

func mustKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	priv, err := noise.GenerateStaticKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv
}

// buildSessionPair drives a full in-memory Noise_NX handshake and returns
// both sides' Transport-state sessions, with no network involved.
func buildSessionPair(t *testing.T) (initiator, responder *noise.Session) {
	t.Helper()
	authority := mustKey(t)
	responderStatic := mustKey(t)
	cert, err := noise.SignCertificate(authority, 0, 0, 0xFFFFFFFF, noise.XOnly(responderStatic.PubKey()))
	if err != nil {
		t.Fatalf("sign certificate: %v", err)
	}
	initiator, err = noise.NewInitiatorSession(authority.PubKey())
	if err != nil {
		t.Fatalf("new initiator session: %v", err)
	}
	responder, err = noise.NewResponderSession(responderStatic, cert)
	if err != nil {
		t.Fatalf("new responder session: %v", err)
	}
	act1, err := initiator.NextWrite()
	if err != nil {
		t.Fatalf("build act1: %v", err)
	}
	if err := responder.ReadHandshake(act1, time.Now()); err != nil {
		t.Fatalf("responder read act1: %v", err)
	}
	act2, err := responder.NextWrite()
	if err != nil {
		t.Fatalf("build act2: %v", err)
	}
	if err := initiator.ReadHandshake(act2, time.Now()); err != nil {
		t.Fatalf("initiator read act2: %v", err)
	}
	return initiator, responder
}

// testProvider wires a Provider and one already-handshaken client backed by
// a net.Pipe, returning the matching client-side session+conn the test
// drives to read whatever the provider sends.
func testProvider(t *testing.T, src chain.Source) (p *Provider, c *client, clientConn net.Conn, clientSess *noise.Session) {
	t.Helper()
	initiatorSess, responderSess := buildSessionPair(t)
	serverEnd, clientEnd := net.Pipe()
	t.Cleanup(func() { serverEnd.Close(); clientEnd.Close() })

	cfg := Config{
		ProtocolVersion: 2,
		MinimumFeeDelta: 1000,
		MaxBlockWeight:  4_000_000,
		ExtranonceLen:   8,
		CoinbaseTag:     "sv2tp",
	}
	p = New(cfg, src, obslog.New())
	c = &client{id: 1, conn: serverEnd, sess: responderSess}
	p.clients[c.id] = c
	return p, c, clientEnd, initiatorSess
}

func TestHandleSetupConnectionAcceptsMatchingVersion(t *testing.T) {
	p, c, clientConn, clientSess := testProvider(t, chain.NewMockSource())

	req := sv2.SetupConnection{Protocol: sv2.TPSubprotocol, MinVersion: 1, MaxVersion: 2}
	errCh := make(chan error, 1)
	go func() { errCh <- p.handleSetupConnection(c, req.Encode()) }()

	hdr, payload, err := sv2.ReadFrame(clientConn, clientSess)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if hdr.MsgType != sv2.MsgSetupConnectionSuccess {
		t.Fatalf("msg type=%v want SetupConnectionSuccess", hdr.MsgType)
	}
	resp, err := sv2.DecodeSetupConnectionSuccess(payload)
	if err != nil {
		t.Fatalf("decode success: %v", err)
	}
	if resp.UsedVersion != 2 {
		t.Fatalf("used_version=%d want 2", resp.UsedVersion)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("handleSetupConnection: %v", err)
	}
	if !c.setupConfirmed {
		t.Fatalf("expected setupConfirmed=true")
	}
}

func TestHandleSetupConnectionRejectsVersionMismatch(t *testing.T) {
	p, c, clientConn, clientSess := testProvider(t, chain.NewMockSource())

	req := sv2.SetupConnection{Protocol: sv2.TPSubprotocol, MinVersion: 5, MaxVersion: 9}
	errCh := make(chan error, 1)
	go func() { errCh <- p.handleSetupConnection(c, req.Encode()) }()

	hdr, payload, err := sv2.ReadFrame(clientConn, clientSess)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if hdr.MsgType != sv2.MsgSetupConnectionError {
		t.Fatalf("msg type=%v want SetupConnectionError", hdr.MsgType)
	}
	errResp, err := sv2.DecodeSetupConnectionError(payload)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.ErrorCode != "protocol-version-mismatch" {
		t.Fatalf("error_code=%q want protocol-version-mismatch", errResp.ErrorCode)
	}
	// A rejected setup_connection must propagate an error so the caller
	// (dispatch/handleInbound) disconnects the client instead of leaving it
	// sitting unconfirmed.
	if err := <-errCh; err == nil {
		t.Fatalf("expected handleSetupConnection to return an error on rejection")
	}
	if c.setupConfirmed {
		t.Fatalf("expected setupConfirmed=false after version mismatch")
	}
}

func TestHandleSetupConnectionRejectsUnsupportedProtocol(t *testing.T) {
	p, c, clientConn, clientSess := testProvider(t, chain.NewMockSource())

	req := sv2.SetupConnection{Protocol: 0x01, MinVersion: 1, MaxVersion: 2}
	errCh := make(chan error, 1)
	go func() { errCh <- p.handleSetupConnection(c, req.Encode()) }()

	hdr, payload, err := sv2.ReadFrame(clientConn, clientSess)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if hdr.MsgType != sv2.MsgSetupConnectionError {
		t.Fatalf("msg type=%v want SetupConnectionError", hdr.MsgType)
	}
	errResp, err := sv2.DecodeSetupConnectionError(payload)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.ErrorCode != "unsupported-protocol" {
		t.Fatalf("error_code=%q want unsupported-protocol", errResp.ErrorCode)
	}
	if err := <-errCh; err == nil {
		t.Fatalf("expected handleSetupConnection to return an error on rejection")
	}
}

func TestHandleSetupConnectionRejectsAlreadyConfirmed(t *testing.T) {
	p, c, _, _ := testProvider(t, chain.NewMockSource())
	c.setupConfirmed = true

	req := sv2.SetupConnection{Protocol: sv2.TPSubprotocol, MinVersion: 1, MaxVersion: 2}
	if err := p.handleSetupConnection(c, req.Encode()); err == nil {
		t.Fatalf("expected handleSetupConnection to reject an already-confirmed client")
	}
}

func TestSendWorkSendsTemplateThenPrevHash(t *testing.T) {
	mock := chain.NewMockSource()
	mock.SetNextTemplate(chain.BlockTemplate{
		Height:        800_000,
		Version:       0x20000000,
		Bits:          0x170b1895,
		CoinbaseValue: 625_000_000,
	})
	p, c, clientConn, clientSess := testProvider(t, mock)
	c.cbsizeReceived = true

	errCh := make(chan error, 1)
	go func() { errCh <- p.sendWork(context.Background(), c, true) }()

	hdr1, payload1, err := sv2.ReadFrame(clientConn, clientSess)
	if err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	if hdr1.MsgType != sv2.MsgNewTemplate {
		t.Fatalf("first msg=%v want NewTemplate", hdr1.MsgType)
	}
	nt, err := sv2.DecodeNewTemplate(payload1)
	if err != nil {
		t.Fatalf("decode new_template: %v", err)
	}
	if !nt.FutureTemplate {
		t.Fatalf("expected FutureTemplate=true when send_new_prevhash=true")
	}

	hdr2, payload2, err := sv2.ReadFrame(clientConn, clientSess)
	if err != nil {
		t.Fatalf("read second frame: %v", err)
	}
	if hdr2.MsgType != sv2.MsgSetNewPrevHash {
		t.Fatalf("second msg=%v want SetNewPrevHash", hdr2.MsgType)
	}
	snp, err := sv2.DecodeSetNewPrevHash(payload2)
	if err != nil {
		t.Fatalf("decode set_new_prev_hash: %v", err)
	}
	if snp.TemplateID != nt.TemplateID {
		t.Fatalf("template id mismatch: new_template=%d set_new_prev_hash=%d", nt.TemplateID, snp.TemplateID)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("sendWork: %v", err)
	}
}

func TestSendWorkFeeDeltaGateSkipsStaleRefresh(t *testing.T) {
	mock := chain.NewMockSource()
	mock.SetNextTemplate(chain.BlockTemplate{
		Height:       800_000,
		Transactions: []chain.TxFee{{Tx: []byte{0x01}, Fee: 100}},
	})
	p, c, _, _ := testProvider(t, mock)
	c.cbsizeReceived = true
	c.latestTemplateFees = 100_000 // far above this template's 100 sats + delta

	if err := p.sendWork(context.Background(), c, false); err != nil {
		t.Fatalf("sendWork: %v", err)
	}
	if len(p.cache) != 0 {
		t.Fatalf("expected skipped send_work to leave cache empty, got %d entries", len(p.cache))
	}
}

func TestOnBestBlockChangedDeliversThroughSendPool(t *testing.T) {
	mock := chain.NewMockSource()
	mock.SetNextTemplate(chain.BlockTemplate{Height: 800_001, Bits: 0x170b1895})
	p, c, clientConn, clientSess := testProvider(t, mock)
	c.cbsizeReceived = true
	p.startSendPool()
	t.Cleanup(p.stopSendPool)

	p.onBestBlockChanged(context.Background(), [32]byte{0x01})

	hdr1, _, err := sv2.ReadFrame(clientConn, clientSess)
	if err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	if hdr1.MsgType != sv2.MsgNewTemplate {
		t.Fatalf("first msg=%v want NewTemplate", hdr1.MsgType)
	}
	hdr2, _, err := sv2.ReadFrame(clientConn, clientSess)
	if err != nil {
		t.Fatalf("read second frame: %v", err)
	}
	if hdr2.MsgType != sv2.MsgSetNewPrevHash {
		t.Fatalf("second msg=%v want SetNewPrevHash", hdr2.MsgType)
	}
	if len(p.cache) != 1 {
		t.Fatalf("expected one cached template, got %d", len(p.cache))
	}
}

func TestRequestTransactionDataCacheMissRepliesError(t *testing.T) {
	p, c, clientConn, clientSess := testProvider(t, chain.NewMockSource())

	req := sv2.RequestTransactionData{TemplateID: 999}
	errCh := make(chan error, 1)
	go func() { errCh <- p.handleRequestTransactionData(c, req.Encode()) }()

	hdr, payload, err := sv2.ReadFrame(clientConn, clientSess)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if hdr.MsgType != sv2.MsgRequestTransactionDataError {
		t.Fatalf("msg type=%v want RequestTransactionDataError", hdr.MsgType)
	}
	resp, err := sv2.DecodeRequestTransactionDataError(payload)
	if err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.ErrorCode != "template-id-not-found" {
		t.Fatalf("error_code=%q want template-id-not-found", resp.ErrorCode)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("handleRequestTransactionData: %v", err)
	}
}
