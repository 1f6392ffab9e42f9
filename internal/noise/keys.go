package noise

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ellswift"
)

// KeyPair is a secp256k1 keypair together with the 64-byte ElligatorSwift
// encoding of its public key used for the optimized X-only ECDH steps of
// the handshake (E, EE, ES).
type KeyPair struct {
	Priv     *btcec.PrivateKey
	Ellswift [64]byte
}

// NewEphemeralKeyPair generates a fresh keypair; used once per handshake
// for the e and (responder-side) e tokens.
func NewEphemeralKeyPair() (KeyPair, error) {
	priv, enc, err := ellswift.EllswiftCreate()
	if err != nil {
		return KeyPair{}, fmt.Errorf("noise: generate ephemeral key: %w", err)
	}
	return KeyPair{Priv: priv, Ellswift: enc}, nil
}

// NewStaticKeyPair wraps a long-term secret key, producing a fresh
// ElligatorSwift encoding of its (fixed) public point via XElligatorSwift,
// which samples a random (u, t) pair mapping to that x-coordinate. Re-
// encoding on every call (rather than caching one encoding for the process
// lifetime) means the same static point gets a different-looking 64-byte
// encoding each time it is used, which is what keeps a long-lived
// responder's wire bytes from being fingerprinted across connections.
func NewStaticKeyPair(priv *btcec.PrivateKey) (KeyPair, error) {
	if priv == nil {
		return KeyPair{}, fmt.Errorf("noise: nil static key")
	}
	u, t, err := ellswift.XElligatorSwift(xCoord(priv))
	if err != nil {
		return KeyPair{}, fmt.Errorf("noise: encode static key: %w", err)
	}
	var enc [64]byte
	uBytes, tBytes := u.Bytes(), t.Bytes()
	copy(enc[0:32], uBytes[:])
	copy(enc[32:64], tBytes[:])
	return KeyPair{Priv: priv, Ellswift: enc}, nil
}

// xCoord returns the x-coordinate of priv's public point, the input
// XElligatorSwift needs to encode an existing key rather than generate one.
func xCoord(priv *btcec.PrivateKey) *btcec.FieldVal {
	var pt btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&priv.Key, &pt)
	pt.ToAffine()
	return &pt.X
}

// GenerateStaticKey creates a brand-new long-term keypair, for first-run
// key material generation.
func GenerateStaticKey() (*btcec.PrivateKey, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return priv, nil
}

// XOnly returns the 32-byte x-only encoding of pub.
func XOnly(pub *btcec.PublicKey) [32]byte {
	var out [32]byte
	ser := pub.SerializeCompressed()
	copy(out[:], ser[1:])
	return out
}
