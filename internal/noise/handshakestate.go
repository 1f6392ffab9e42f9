package noise

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ellswift"
)

// Act1Len is the size of the initiator's first (and only) handshake
// message: a bare 64-byte ElligatorSwift-encoded ephemeral key.
const Act1Len = 64

// Act2Len is the size of the responder's reply: e (64) + encrypted static
// key (64+16) + encrypted certificate (74+16).
const Act2Len = 64 + (64 + 16) + (CertPayloadSize + 16)

// Role identifies which side of the Noise_NX pattern a HandshakeState
// plays. The pattern is "-> e; <- e, ee, s, es": the initiator is
// anonymous, the responder's static key (and certificate) is revealed.
type Role int

const (
	Initiator Role = iota
	Responder
)

// HandshakeState drives the Noise_NX handshake. Exactly one read and one
// write happen per side; on completion the caller calls Split and discards
// the HandshakeState.
type HandshakeState struct {
	sym  *SymmetricState
	role Role

	s KeyPair // our static key
	e KeyPair // our ephemeral key

	re [64]byte // remote ephemeral ellswift encoding
	rs [64]byte // remote static ellswift encoding

	cert              *Certificate     // responder: certificate to emit
	authorityPub      *btcec.PublicKey // initiator: key to verify the cert against
	remoteStaticXOnly [32]byte         // initiator: decoded remote static key, set after step 2
}

// NewInitiatorHandshake starts a handshake as the initiator, which will
// verify the responder's certificate against authorityPub.
func NewInitiatorHandshake(authorityPub *btcec.PublicKey) (*HandshakeState, error) {
	e, err := NewEphemeralKeyPair()
	if err != nil {
		return nil, err
	}
	return &HandshakeState{
		sym:          NewSymmetricState(),
		role:         Initiator,
		e:            e,
		authorityPub: authorityPub,
	}, nil
}

// NewResponderHandshake starts a handshake as the responder, which will
// reveal staticKey and emit cert to the initiator.
func NewResponderHandshake(staticKey *btcec.PrivateKey, cert Certificate) (*HandshakeState, error) {
	e, err := NewEphemeralKeyPair()
	if err != nil {
		return nil, err
	}
	s, err := NewStaticKeyPair(staticKey)
	if err != nil {
		return nil, err
	}
	return &HandshakeState{
		sym:  NewSymmetricState(),
		role: Responder,
		e:    e,
		s:    s,
		cert: &cert,
	}, nil
}

// WriteMsgE serializes the initiator's step-1 message: our ephemeral
// ElligatorSwift encoding, with no encryption (no key has been mixed yet).
func (h *HandshakeState) WriteMsgE() []byte {
	h.sym.MixHash(h.e.Ellswift[:])
	out := make([]byte, Act1Len)
	copy(out, h.e.Ellswift[:])
	return out
}

// ReadMsgE consumes the responder's step-1 read: the initiator's bare
// ephemeral key.
func (h *HandshakeState) ReadMsgE(msg []byte) error {
	if len(msg) != Act1Len {
		return fmt.Errorf("noise: act1 message len=%d want %d", len(msg), Act1Len)
	}
	copy(h.re[:], msg)
	h.sym.MixHash(h.re[:])
	return nil
}

// WriteMsgES performs the responder's step 2: e, ee, s, es, cert. It
// returns the 234-byte Act2 message.
func (h *HandshakeState) WriteMsgES() ([]byte, error) {
	if h.role != Responder {
		return nil, fmt.Errorf("noise: WriteMsgES called by non-responder")
	}
	out := make([]byte, 0, Act2Len)

	// e
	h.sym.MixHash(h.e.Ellswift[:])
	out = append(out, h.e.Ellswift[:]...)

	// ee
	ee, err := ellswift.V2Ecdh(h.e.Priv, h.re, h.e.Ellswift, false)
	if err != nil {
		return nil, fmt.Errorf("noise: ee ecdh: %w", err)
	}
	h.sym.MixKey((*ee)[:])

	// s
	encStatic, err := h.sym.EncryptAndHash(h.s.Ellswift[:])
	if err != nil {
		return nil, fmt.Errorf("noise: encrypt static key: %w", err)
	}
	out = append(out, encStatic...)

	// es
	es, err := ellswift.V2Ecdh(h.s.Priv, h.re, h.s.Ellswift, false)
	if err != nil {
		return nil, fmt.Errorf("noise: es ecdh: %w", err)
	}
	h.sym.MixKey((*es)[:])

	// certificate
	if h.cert == nil {
		return nil, fmt.Errorf("noise: responder has no certificate to send")
	}
	encCert, err := h.sym.EncryptAndHash(h.cert.Payload())
	if err != nil {
		return nil, fmt.Errorf("noise: encrypt certificate: %w", err)
	}
	out = append(out, encCert...)

	if len(out) != Act2Len {
		return nil, fmt.Errorf("noise: act2 message len=%d want %d", len(out), Act2Len)
	}
	return out, nil
}

// ReadMsgES performs the initiator's step 2: read e, ee, s (decrypt), es,
// cert (decrypt + verify). authorityPub must be set; now is used for the
// certificate validity-window check.
func (h *HandshakeState) ReadMsgES(msg []byte, now time.Time) error {
	if h.role != Initiator {
		return fmt.Errorf("noise: ReadMsgES called by non-initiator")
	}
	if len(msg) != Act2Len {
		return fmt.Errorf("noise: act2 message len=%d want %d", len(msg), Act2Len)
	}
	off := 0

	// e
	copy(h.re[:], msg[off:off+64])
	off += 64
	h.sym.MixHash(h.re[:])

	// ee
	ee, err := ellswift.V2Ecdh(h.e.Priv, h.re, h.e.Ellswift, true)
	if err != nil {
		return fmt.Errorf("noise: ee ecdh: %w", err)
	}
	h.sym.MixKey((*ee)[:])

	// s
	encStatic := msg[off : off+64+16]
	off += 64 + 16
	staticEnc, ok := h.sym.DecryptAndHash(encStatic)
	if !ok {
		return fmt.Errorf("noise: decrypt remote static key failed")
	}
	copy(h.rs[:], staticEnc)
	xonly, err := decodeXOnly(h.rs)
	if err != nil {
		return fmt.Errorf("noise: decode remote static key: %w", err)
	}
	h.remoteStaticXOnly = xonly

	// es: initiator uses its ephemeral key against the remote static key
	es, err := ellswift.V2Ecdh(h.e.Priv, h.rs, h.e.Ellswift, true)
	if err != nil {
		return fmt.Errorf("noise: es ecdh: %w", err)
	}
	h.sym.MixKey((*es)[:])

	// certificate
	encCert := msg[off : off+CertPayloadSize+16]
	certPayload, ok := h.sym.DecryptAndHash(encCert)
	if !ok {
		return fmt.Errorf("noise: decrypt certificate failed")
	}
	cert, err := ParseCertificatePayload(certPayload, xonly)
	if err != nil {
		return fmt.Errorf("noise: parse certificate: %w", err)
	}
	if h.authorityPub == nil {
		return fmt.Errorf("noise: no authority public key configured for verification")
	}
	if err := cert.Verify(h.authorityPub, now); err != nil {
		return fmt.Errorf("noise: certificate invalid: %w", err)
	}
	return nil
}

// Split finalizes the handshake, returning the send/recv CipherStates
// assigned per role (initiator send = c1/recv = c2, responder swapped) and
// the final transcript hash for channel binding.
func (h *HandshakeState) Split() (send, recv CipherState, hash [32]byte) {
	c1, c2 := h.sym.Split()
	hash = h.sym.HandshakeHash()
	if h.role == Initiator {
		return c1, c2, hash
	}
	return c2, c1, hash
}

// RemoteStaticPubKeyXOnly returns the decoded remote static key's x-only
// encoding, valid on the initiator after a successful ReadMsgES. ElSwift
// decoding only recovers an x-coordinate (the Noise_NX pattern's ES/ECDH
// steps never need the full point), so there is no full *btcec.PublicKey to
// hand back here.
func (h *HandshakeState) RemoteStaticPubKeyXOnly() [32]byte { return h.remoteStaticXOnly }

// decodeXOnly recovers the x-coordinate a 64-byte ElligatorSwift encoding
// maps to, via XSwiftEC applied to its (u, t) halves.
func decodeXOnly(enc [64]byte) ([32]byte, error) {
	var u, t btcec.FieldVal
	if u.SetByteSlice(enc[0:32]) {
		u.Normalize()
	}
	if t.SetByteSlice(enc[32:64]) {
		t.Normalize()
	}
	x, err := ellswift.XSwiftEC(&u, &t)
	if err != nil {
		return [32]byte{}, err
	}
	return *x.Bytes(), nil
}
