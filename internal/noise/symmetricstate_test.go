package noise

import "testing"

func TestSymmetricStateDeterminism(t *testing.T) {
	s1 := NewSymmetricState()
	s2 := NewSymmetricState()

	s1.MixHash([]byte("prologue"))
	s2.MixHash([]byte("prologue"))
	if s1.h != s2.h {
		t.Fatalf("hash mismatch after identical MixHash")
	}

	s1.MixKey([]byte("ikm-one"))
	s2.MixKey([]byte("ikm-one"))
	if s1.ck != s2.ck {
		t.Fatalf("chaining key mismatch after identical MixKey")
	}

	s1.MixHash([]byte("more"))
	s2.MixHash([]byte("more"))
	if s1.h != s2.h {
		t.Fatalf("hash mismatch after second MixHash")
	}
}

func TestEncryptAndHashRoundTrip(t *testing.T) {
	s1 := NewSymmetricState()
	s2 := NewSymmetricState()
	s1.MixKey([]byte("shared"))
	s2.MixKey([]byte("shared"))

	ct, err := s1.EncryptAndHash([]byte("certificate payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	pt, ok := s2.DecryptAndHash(ct)
	if !ok {
		t.Fatalf("decrypt failed")
	}
	if string(pt) != "certificate payload" {
		t.Fatalf("got %q", pt)
	}
	if s1.h != s2.h {
		t.Fatalf("hashes diverged after EncryptAndHash/DecryptAndHash pair")
	}
}

func TestSplitProducesDistinctCipherStates(t *testing.T) {
	s := NewSymmetricState()
	s.MixKey([]byte("seed"))
	c1, c2 := s.Split()
	if c1.key == c2.key {
		t.Fatalf("split produced identical keys")
	}
}
