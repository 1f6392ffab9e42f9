package noise

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// MaxChunkSize is the Noise-specified upper bound on a single AEAD message;
// sv2 payloads larger than this are split into chunks before encryption and
// reassembled after decryption.
const MaxChunkSize = 65535

const tagSize = 16

// CipherState holds an AEAD key and the 64-bit counter that feeds the
// 96-bit little-endian nonce. The key is fixed once installed; only the
// nonce advances, once per encrypt or decrypt call, success or failure.
type CipherState struct {
	key   [32]byte
	n     uint64
	ready bool
}

// InitializeKey installs key and resets the nonce to 0.
func (c *CipherState) InitializeKey(key [32]byte) {
	c.key = key
	c.n = 0
	c.ready = true
}

// HasKey reports whether a key has been installed.
func (c *CipherState) HasKey() bool { return c.ready }

// Nonce returns the next nonce that will be consumed.
func (c *CipherState) Nonce() uint64 { return c.n }

func nonceBytes(n uint64) [12]byte {
	var out [12]byte
	binary.LittleEndian.PutUint64(out[4:], n)
	return out
}

// EncryptWithAd encrypts plaintext under ad as associated data, returning a
// new slice with the 16-byte tag appended, and advances the nonce by one.
func (c *CipherState) EncryptWithAd(ad, plaintext []byte) ([]byte, error) {
	if !c.ready {
		return nil, fmt.Errorf("noise: cipher state has no key")
	}
	if c.n == ^uint64(0) {
		return nil, fmt.Errorf("noise: nonce exhausted")
	}
	aead, err := chacha20poly1305.New(c.key[:])
	if err != nil {
		return nil, err
	}
	nonce := nonceBytes(c.n)
	out := aead.Seal(nil, nonce[:], plaintext, ad)
	c.n++
	return out, nil
}

// DecryptWithAd authenticates and decrypts ciphertext under ad. The nonce
// still advances even when authentication fails, matching the Noise spec:
// each invocation consumes exactly one nonce value regardless of outcome.
func (c *CipherState) DecryptWithAd(ad, ciphertext []byte) ([]byte, bool) {
	if !c.ready {
		return nil, false
	}
	if c.n == ^uint64(0) {
		return nil, false
	}
	aead, err := chacha20poly1305.New(c.key[:])
	if err != nil {
		c.n++
		return nil, false
	}
	nonce := nonceBytes(c.n)
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, ad)
	c.n++
	if err != nil {
		return nil, false
	}
	return plaintext, true
}

// EncryptedMessageSize returns the on-wire size of an encrypted message
// carrying n bytes of plaintext, accounting for MaxChunkSize chunking.
func EncryptedMessageSize(n int) int {
	if n == 0 {
		return 0
	}
	chunks := (n + MaxChunkSize - 1) / MaxChunkSize
	return n + tagSize*chunks
}

// EncryptMessage splits plaintext into MaxChunkSize chunks, encrypts each
// with empty associated data, and concatenates the results.
func (c *CipherState) EncryptMessage(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, nil
	}
	out := make([]byte, 0, EncryptedMessageSize(len(plaintext)))
	for off := 0; off < len(plaintext); off += MaxChunkSize {
		end := off + MaxChunkSize
		if end > len(plaintext) {
			end = len(plaintext)
		}
		chunk, err := c.EncryptWithAd(nil, plaintext[off:end])
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// DecryptMessage is the inverse of EncryptMessage: it strips a 16-byte tag
// per 65551-byte encrypted chunk and returns the reassembled plaintext, or
// false if any chunk fails authentication.
func (c *CipherState) DecryptMessage(ciphertext []byte) ([]byte, bool) {
	if len(ciphertext) == 0 {
		return nil, true
	}
	const encChunk = MaxChunkSize + tagSize
	out := make([]byte, 0, len(ciphertext))
	for off := 0; off < len(ciphertext); off += encChunk {
		end := off + encChunk
		if end > len(ciphertext) {
			end = len(ciphertext)
		}
		plain, ok := c.DecryptWithAd(nil, ciphertext[off:end])
		if !ok {
			return nil, false
		}
		out = append(out, plain...)
	}
	return out, true
}
