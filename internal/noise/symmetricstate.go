package noise

import (
	"crypto/hmac"

	sha256simd "github.com/minio/sha256-simd"
	"golang.org/x/crypto/hkdf"
)

// protocolName is the exact Noise protocol string negotiated by sv2.
const protocolName = "Noise_NX_EllSwiftXonly_ChaChaPoly_SHA256"

func sha256Sum(b []byte) [32]byte {
	return sha256simd.Sum256(b)
}

// SymmetricState carries the running chaining key and transcript hash used
// during the handshake, plus the single CipherState those feed into once a
// key has been mixed in.
type SymmetricState struct {
	ck     [32]byte
	h      [32]byte
	cipher CipherState
}

// NewSymmetricState initializes ck = SHA256(protocolName), h = SHA256(ck),
// the two fixed constants the Noise_NX handshake starts from.
func NewSymmetricState() *SymmetricState {
	s := &SymmetricState{}
	s.ck = sha256Sum([]byte(protocolName))
	s.h = sha256Sum(s.ck[:])
	return s
}

// MixHash folds data into the running transcript hash.
func (s *SymmetricState) MixHash(data []byte) {
	buf := make([]byte, 0, 32+len(data))
	buf = append(buf, s.h[:]...)
	buf = append(buf, data...)
	s.h = sha256Sum(buf)
}

// hkdf2 implements Noise's HKDF2: HKDF-Extract(SHA-256, salt, ikm) -> prk,
// then two successive HMAC outputs chained per §4.3 of the Noise spec. The
// extract step reuses x/crypto/hkdf's Extract so the PRK derivation matches
// the library the rest of the ecosystem uses for HKDF rather than hand
// rolling HMAC-extract again.
func hkdf2(salt, ikm []byte) (out0, out1 [32]byte) {
	prk := hkdf.Extract(sha256simd.New, ikm, salt)

	mac1 := hmac.New(sha256simd.New, prk)
	mac1.Write([]byte{0x01})
	t1 := mac1.Sum(nil)
	copy(out0[:], t1)

	mac2 := hmac.New(sha256simd.New, prk)
	mac2.Write(t1)
	mac2.Write([]byte{0x02})
	t2 := mac2.Sum(nil)
	copy(out1[:], t2)
	return
}

// MixKey derives a new chaining key and cipher key from ikm via HKDF2,
// installs the cipher key, and resets its nonce to zero.
func (s *SymmetricState) MixKey(ikm []byte) {
	ck, tempK := hkdf2(s.ck[:], ikm)
	s.ck = ck
	s.cipher.InitializeKey(tempK)
}

// EncryptAndHash encrypts plaintext under AD = h, then mixes the resulting
// ciphertext (including tag) into h.
func (s *SymmetricState) EncryptAndHash(plaintext []byte) ([]byte, error) {
	ciphertext, err := s.cipher.EncryptWithAd(s.h[:], plaintext)
	if err != nil {
		return nil, err
	}
	s.MixHash(ciphertext)
	return ciphertext, nil
}

// DecryptAndHash mixes ciphertext into h using the pre-decryption hash as
// AD, then decrypts. The hash absorbs ciphertext bytes, never plaintext, so
// both sides always agree on h regardless of decrypt success.
func (s *SymmetricState) DecryptAndHash(ciphertext []byte) ([]byte, bool) {
	ad := s.h
	plaintext, ok := s.cipher.DecryptWithAd(ad[:], ciphertext)
	s.MixHash(ciphertext)
	if !ok {
		return nil, false
	}
	return plaintext, true
}

// Split derives two CipherStates from the final chaining key for use as the
// send/recv transport ciphers. Caller assigns send/recv per role.
func (s *SymmetricState) Split() (c1, c2 CipherState) {
	k1, k2 := hkdf2(s.ck[:], nil)
	c1.InitializeKey(k1)
	c2.InitializeKey(k2)
	return
}

// HandshakeHash returns the current transcript hash, used for channel
// binding once the handshake completes.
func (s *SymmetricState) HandshakeHash() [32]byte { return s.h }
