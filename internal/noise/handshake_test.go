package noise

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
)

func mustStaticKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	priv, err := GenerateStaticKey()
	if err != nil {
		t.Fatalf("generate static key: %v", err)
	}
	return priv
}

func buildSessions(t *testing.T, validFrom, validTo uint32) (*Session, *Session, *btcec.PrivateKey) {
	t.Helper()
	authorityPriv := mustStaticKey(t)
	responderStatic := mustStaticKey(t)

	cert, err := SignCertificate(authorityPriv, 0, validFrom, validTo, XOnly(responderStatic.PubKey()))
	if err != nil {
		t.Fatalf("sign certificate: %v", err)
	}

	initiator, err := NewInitiatorSession(authorityPriv.PubKey())
	if err != nil {
		t.Fatalf("new initiator session: %v", err)
	}
	responder, err := NewResponderSession(responderStatic, cert)
	if err != nil {
		t.Fatalf("new responder session: %v", err)
	}
	return initiator, responder, authorityPriv
}

// runHandshake drives a full Noise_NX exchange over in-memory byte slices,
// the way Scenario A of the spec describes it: initiator sends 64 bytes,
// responder replies with exactly Act2Len bytes.
func runHandshake(t *testing.T, initiator, responder *Session, now time.Time) {
	t.Helper()
	act1, err := initiator.NextWrite()
	if err != nil {
		t.Fatalf("initiator write act1: %v", err)
	}
	if len(act1) != Act1Len {
		t.Fatalf("act1 len=%d want %d", len(act1), Act1Len)
	}
	if err := responder.ReadHandshake(act1, now); err != nil {
		t.Fatalf("responder read act1: %v", err)
	}
	act2, err := responder.NextWrite()
	if err != nil {
		t.Fatalf("responder write act2: %v", err)
	}
	if len(act2) != Act2Len {
		t.Fatalf("act2 len=%d want %d", len(act2), Act2Len)
	}
	if err := initiator.ReadHandshake(act2, now); err != nil {
		t.Fatalf("initiator read act2: %v", err)
	}
}

func TestHandshakeSuccessBothSidesReachTransport(t *testing.T) {
	initiator, responder, _ := buildSessions(t, 0, 0xFFFFFFFF)
	now := time.Unix(1_700_000_000, 0)
	runHandshake(t, initiator, responder, now)

	if !initiator.HandshakeComplete() || !responder.HandshakeComplete() {
		t.Fatalf("both sides should have reached transport")
	}
	if initiator.HandshakeHash() != responder.HandshakeHash() {
		t.Fatalf("final hash mismatch between initiator and responder")
	}
}

func TestHandshakeKeysAreCrossed(t *testing.T) {
	initiator, responder, _ := buildSessions(t, 0, 0xFFFFFFFF)
	now := time.Unix(1_700_000_000, 0)
	runHandshake(t, initiator, responder, now)

	plaintext := []byte("ping")
	ct, err := initiator.EncryptMessage(plaintext)
	if err != nil {
		t.Fatalf("initiator encrypt: %v", err)
	}
	pt, ok := responder.DecryptMessage(ct)
	if !ok {
		t.Fatalf("responder failed to decrypt initiator's message")
	}
	if string(pt) != string(plaintext) {
		t.Fatalf("got %q want %q", pt, plaintext)
	}
}

func TestHandshakeExpiredCertificateFails(t *testing.T) {
	initiator, responder, _ := buildSessions(t, 0, 100)
	now := time.Unix(1_700_000_000, 0) // long after ValidTo=100

	act1, err := initiator.NextWrite()
	if err != nil {
		t.Fatalf("initiator write act1: %v", err)
	}
	if err := responder.ReadHandshake(act1, now); err != nil {
		t.Fatalf("responder read act1: %v", err)
	}
	act2, err := responder.NextWrite()
	if err != nil {
		t.Fatalf("responder write act2: %v", err)
	}
	if err := initiator.ReadHandshake(act2, now); err == nil {
		t.Fatalf("expected expired certificate to fail verification")
	}
}

func TestHandshakeWrongAuthorityKeyFails(t *testing.T) {
	responderStatic := mustStaticKey(t)
	wrongAuthority := mustStaticKey(t)
	realAuthority := mustStaticKey(t)

	cert, err := SignCertificate(realAuthority, 0, 0, 0xFFFFFFFF, XOnly(responderStatic.PubKey()))
	if err != nil {
		t.Fatalf("sign certificate: %v", err)
	}

	initiator, err := NewInitiatorSession(wrongAuthority.PubKey())
	if err != nil {
		t.Fatalf("new initiator session: %v", err)
	}
	responder, err := NewResponderSession(responderStatic, cert)
	if err != nil {
		t.Fatalf("new responder session: %v", err)
	}

	now := time.Unix(1_700_000_000, 0)
	act1, err := initiator.NextWrite()
	if err != nil {
		t.Fatalf("initiator write act1: %v", err)
	}
	if err := responder.ReadHandshake(act1, now); err != nil {
		t.Fatalf("responder read act1: %v", err)
	}
	act2, err := responder.NextWrite()
	if err != nil {
		t.Fatalf("responder write act2: %v", err)
	}
	if err := initiator.ReadHandshake(act2, now); err == nil {
		t.Fatalf("expected signature from wrong authority key to fail verification")
	}
}
