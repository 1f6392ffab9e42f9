package noise

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	sha256simd "github.com/minio/sha256-simd"
)

// CertPayloadSize is the on-wire size of the signature-noise-message
// payload: version(2) + valid_from(4) + valid_to(4) + sig(64); the static
// key itself is implicit (it is the key the certificate rides alongside).
const CertPayloadSize = 74

// Certificate is the responder's signed (version, valid_from, valid_to,
// static_key) blob. StaticKey is carried for hash computation and
// verification but is never itself serialized onto the wire (§3).
type Certificate struct {
	Version   uint16
	ValidFrom uint32
	ValidTo   uint32
	StaticKey [32]byte // x-only
	Sig       [64]byte
}

// certHash computes SHA256(version ‖ valid_from ‖ valid_to ‖ static_key),
// the message a Certificate's signature is over.
func certHash(version uint16, validFrom, validTo uint32, staticKey [32]byte) [32]byte {
	buf := make([]byte, 0, 2+4+4+32)
	buf = binary.LittleEndian.AppendUint16(buf, version)
	buf = binary.LittleEndian.AppendUint32(buf, validFrom)
	buf = binary.LittleEndian.AppendUint32(buf, validTo)
	buf = append(buf, staticKey[:]...)
	return sha256simd.Sum256(buf)
}

// SignCertificate builds and signs a Certificate for staticKey using
// authorityKey.
func SignCertificate(authorityKey *btcec.PrivateKey, version uint16, validFrom, validTo uint32, staticKey [32]byte) (Certificate, error) {
	hash := certHash(version, validFrom, validTo, staticKey)
	sig, err := schnorr.Sign(authorityKey, hash[:])
	if err != nil {
		return Certificate{}, fmt.Errorf("noise: sign certificate: %w", err)
	}
	cert := Certificate{Version: version, ValidFrom: validFrom, ValidTo: validTo, StaticKey: staticKey}
	copy(cert.Sig[:], sig.Serialize())
	return cert, nil
}

// Verify checks validity window (now must fall in [ValidFrom, ValidTo]) and
// the Schnorr signature against authorityPubKey.
func (c Certificate) Verify(authorityPubKey *btcec.PublicKey, now time.Time) error {
	nowSec := uint32(now.Unix())
	if nowSec < c.ValidFrom || nowSec > c.ValidTo {
		return fmt.Errorf("noise: certificate not valid at %d (window [%d,%d])", nowSec, c.ValidFrom, c.ValidTo)
	}
	sig, err := schnorr.ParseSignature(c.Sig[:])
	if err != nil {
		return fmt.Errorf("noise: parse certificate signature: %w", err)
	}
	hash := certHash(c.Version, c.ValidFrom, c.ValidTo, c.StaticKey)
	if !sig.Verify(hash[:], authorityPubKey) {
		return fmt.Errorf("noise: certificate signature verification failed")
	}
	return nil
}

// Payload serializes the wire form: version ‖ valid_from ‖ valid_to ‖ sig
// (74 bytes, CertPayloadSize).
func (c Certificate) Payload() []byte {
	buf := make([]byte, 0, CertPayloadSize)
	buf = binary.LittleEndian.AppendUint16(buf, c.Version)
	buf = binary.LittleEndian.AppendUint32(buf, c.ValidFrom)
	buf = binary.LittleEndian.AppendUint32(buf, c.ValidTo)
	buf = append(buf, c.Sig[:]...)
	return buf
}

// ParseCertificatePayload parses the 74-byte wire form, binding it to the
// given remote static key (which is not itself on the wire).
func ParseCertificatePayload(payload []byte, staticKey [32]byte) (Certificate, error) {
	if len(payload) != CertPayloadSize {
		return Certificate{}, fmt.Errorf("noise: certificate payload len=%d want %d", len(payload), CertPayloadSize)
	}
	cert := Certificate{StaticKey: staticKey}
	cert.Version = binary.LittleEndian.Uint16(payload[0:2])
	cert.ValidFrom = binary.LittleEndian.Uint32(payload[2:6])
	cert.ValidTo = binary.LittleEndian.Uint32(payload[6:10])
	copy(cert.Sig[:], payload[10:74])
	return cert, nil
}
