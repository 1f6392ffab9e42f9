package noise

import (
	"bytes"
	"testing"
)

func testKey(b byte) [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = b
	}
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	var enc, dec CipherState
	enc.InitializeKey(testKey(0x11))
	dec.InitializeKey(testKey(0x11))

	plaintexts := [][]byte{nil, []byte("a"), []byte("stratum v2 template provider"), bytes.Repeat([]byte{0x42}, 200)}
	for _, p := range plaintexts {
		ad := []byte("associated")
		ct, err := enc.EncryptWithAd(ad, p)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		pt, ok := dec.DecryptWithAd(ad, ct)
		if !ok {
			t.Fatalf("decrypt failed for len %d", len(p))
		}
		if !bytes.Equal(pt, p) {
			t.Fatalf("round trip mismatch: got %x want %x", pt, p)
		}
		if enc.Nonce() != dec.Nonce() {
			t.Fatalf("nonce mismatch: enc=%d dec=%d", enc.Nonce(), dec.Nonce())
		}
	}
}

func TestDecryptTamperedCiphertextAdvancesNonce(t *testing.T) {
	var enc, dec CipherState
	enc.InitializeKey(testKey(0x22))
	dec.InitializeKey(testKey(0x22))

	ct, err := enc.EncryptWithAd(nil, []byte("hello"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	ct[0] ^= 0xFF
	before := dec.Nonce()
	_, ok := dec.DecryptWithAd(nil, ct)
	if ok {
		t.Fatalf("expected tampered ciphertext to fail authentication")
	}
	if dec.Nonce() != before+1 {
		t.Fatalf("nonce did not advance on failed decrypt: before=%d after=%d", before, dec.Nonce())
	}
}

func TestDecryptTamperedADAdvancesNonce(t *testing.T) {
	var enc, dec CipherState
	enc.InitializeKey(testKey(0x33))
	dec.InitializeKey(testKey(0x33))

	ct, err := enc.EncryptWithAd([]byte("ad1"), []byte("hello"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	before := dec.Nonce()
	_, ok := dec.DecryptWithAd([]byte("ad2"), ct)
	if ok {
		t.Fatalf("expected mismatched AD to fail authentication")
	}
	if dec.Nonce() != before+1 {
		t.Fatalf("nonce did not advance: before=%d after=%d", before, dec.Nonce())
	}
}

func TestEncryptedMessageSize(t *testing.T) {
	cases := []struct {
		n    int
		want int
	}{
		{0, 0},
		{1, 1 + 16},
		{65535, 65535 + 16},
		{65536, 65536 + 32},
		{131070, 131070 + 32},
		{131071, 131071 + 48},
	}
	for _, c := range cases {
		if got := EncryptedMessageSize(c.n); got != c.want {
			t.Errorf("EncryptedMessageSize(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestEncryptDecryptMessageChunking(t *testing.T) {
	var enc, dec CipherState
	enc.InitializeKey(testKey(0x44))
	dec.InitializeKey(testKey(0x44))

	plain := bytes.Repeat([]byte{0x5a}, 3*MaxChunkSize+17)
	ct, err := enc.EncryptMessage(plain)
	if err != nil {
		t.Fatalf("encrypt message: %v", err)
	}
	if len(ct) != EncryptedMessageSize(len(plain)) {
		t.Fatalf("ciphertext len=%d want %d", len(ct), EncryptedMessageSize(len(plain)))
	}
	pt, ok := dec.DecryptMessage(ct)
	if !ok {
		t.Fatalf("decrypt message failed")
	}
	if !bytes.Equal(pt, plain) {
		t.Fatalf("chunked round trip mismatch")
	}
}

func TestEncryptMessageEmpty(t *testing.T) {
	var enc CipherState
	enc.InitializeKey(testKey(0x55))
	ct, err := enc.EncryptMessage(nil)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if len(ct) != 0 {
		t.Fatalf("expected empty ciphertext for empty plaintext, got %d bytes", len(ct))
	}
}
