package noise

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
)

// SessionState is the public handshake/transport FSM exposed by Session.
type SessionState int

const (
	HandshakeStep1 SessionState = iota
	HandshakeStep2
	Transport
)

func (s SessionState) String() string {
	switch s {
	case HandshakeStep1:
		return "HANDSHAKE_STEP_1"
	case HandshakeStep2:
		return "HANDSHAKE_STEP_2"
	case Transport:
		return "TRANSPORT"
	default:
		return "UNKNOWN"
	}
}

// Session is the facade combining the handshake state machine with the
// transport cipher states it produces. It mirrors the upstream C++ Sv2Cipher:
// a tagged variant that replaces its handshake material in place once
// Split() runs, so handshake-only secrets don't outlive the handshake.
type Session struct {
	state SessionState
	role  Role

	hs *HandshakeState

	sendCS       CipherState
	recvCS       CipherState
	hash         [32]byte
	remoteStatic [32]byte
}

// NewInitiatorSession starts a Session that will initiate the handshake,
// verifying the remote certificate against authorityPub.
func NewInitiatorSession(authorityPub *btcec.PublicKey) (*Session, error) {
	hs, err := NewInitiatorHandshake(authorityPub)
	if err != nil {
		return nil, err
	}
	return &Session{state: HandshakeStep1, role: Initiator, hs: hs}, nil
}

// NewResponderSession starts a Session that will respond to a handshake,
// presenting cert signed over staticKey's public point.
func NewResponderSession(staticKey *btcec.PrivateKey, cert Certificate) (*Session, error) {
	hs, err := NewResponderHandshake(staticKey, cert)
	if err != nil {
		return nil, err
	}
	return &Session{state: HandshakeStep1, role: Responder, hs: hs}, nil
}

// State returns the current SessionState.
func (s *Session) State() SessionState { return s.state }

// HandshakeComplete reports whether the session has reached Transport.
func (s *Session) HandshakeComplete() bool { return s.state == Transport }

// HandshakeHash returns the channel-binding hash, valid once in Transport.
func (s *Session) HandshakeHash() [32]byte { return s.hash }

// RemoteStaticPubKeyXOnly exposes the verified remote static key's x-only
// encoding (initiator side only), valid once in Transport.
func (s *Session) RemoteStaticPubKeyXOnly() [32]byte { return s.remoteStatic }

// NextWrite produces the next handshake message this side must send, or
// an error if it is not this side's turn to write. Initiator: step 1.
// Responder: step 2 (after having read step 1).
func (s *Session) NextWrite() ([]byte, error) {
	switch {
	case s.role == Initiator && s.state == HandshakeStep1:
		msg := s.hs.WriteMsgE()
		s.state = HandshakeStep2
		return msg, nil
	case s.role == Responder && s.state == HandshakeStep2:
		msg, err := s.hs.WriteMsgES()
		if err != nil {
			return nil, err
		}
		s.finishHandshake()
		return msg, nil
	default:
		return nil, fmt.Errorf("noise: NextWrite called out of turn in state %s", s.state)
	}
}

// ReadHandshake consumes a handshake message appropriate to the current
// state: the initiator's bare e for a responder in step 1, or the
// responder's full e/ee/s/es/cert for an initiator in step 2.
func (s *Session) ReadHandshake(msg []byte, now time.Time) error {
	switch {
	case s.role == Responder && s.state == HandshakeStep1:
		if err := s.hs.ReadMsgE(msg); err != nil {
			return err
		}
		s.state = HandshakeStep2
		return nil
	case s.role == Initiator && s.state == HandshakeStep2:
		if err := s.hs.ReadMsgES(msg, now); err != nil {
			return err
		}
		s.finishHandshake()
		return nil
	default:
		return fmt.Errorf("noise: ReadHandshake called out of turn in state %s", s.state)
	}
}

func (s *Session) finishHandshake() {
	send, recv, hash := s.hs.Split()
	s.sendCS = send
	s.recvCS = recv
	s.hash = hash
	s.remoteStatic = s.hs.RemoteStaticPubKeyXOnly()
	s.hs = nil
	s.state = Transport
}

// EncryptMessage encrypts plaintext for the wire. Valid only in Transport.
func (s *Session) EncryptMessage(plaintext []byte) ([]byte, error) {
	if s.state != Transport {
		return nil, fmt.Errorf("noise: EncryptMessage called before handshake complete")
	}
	return s.sendCS.EncryptMessage(plaintext)
}

// DecryptMessage decrypts ciphertext from the wire. Valid only in
// Transport.
func (s *Session) DecryptMessage(ciphertext []byte) ([]byte, bool) {
	if s.state != Transport {
		return nil, false
	}
	return s.recvCS.DecryptMessage(ciphertext)
}

// EncryptedMessageSize is re-exported for callers sizing read buffers.
func (s *Session) EncryptedMessageSize(n int) int { return EncryptedMessageSize(n) }
