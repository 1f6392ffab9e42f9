package chain

import "testing"

func TestBuildCoinbasePartsIncludesWitnessCommitment(t *testing.T) {
	commitment := make([]byte, 38)
	commitment[0], commitment[1] = 0x6a, 0x24
	parts := BuildCoinbaseParts(800_000, 625_000_000, 8, commitment, nil, "sv2tp")

	if parts.OutputsCount != 1 {
		t.Fatalf("outputs count=%d want 1", parts.OutputsCount)
	}
	if len(parts.Outputs) != 8+1+len(commitment) {
		t.Fatalf("outputs len=%d want %d", len(parts.Outputs), 8+1+len(commitment))
	}
	if parts.ValueRemaining != 625_000_000 {
		t.Fatalf("value remaining=%d want 625000000", parts.ValueRemaining)
	}
}

func TestBuildCoinbasePartsNoWitnessCommitment(t *testing.T) {
	parts := BuildCoinbaseParts(100, 5000, 8, nil, nil, "")
	if parts.OutputsCount != 0 {
		t.Fatalf("outputs count=%d want 0", parts.OutputsCount)
	}
	if len(parts.Outputs) != 0 {
		t.Fatalf("outputs len=%d want 0", len(parts.Outputs))
	}
}

func TestSerializeNumberScriptLengthPrefixMatchesHeights(t *testing.T) {
	cases := []int64{0, 1, 127, 128, 255, 256, 800_000, 21_000_000}
	for _, h := range cases {
		enc := serializeNumberScript(h)
		if len(enc) < 1 {
			t.Fatalf("height %d: empty encoding", h)
		}
		n := int(enc[0])
		if len(enc) != n+1 {
			t.Fatalf("height %d: len=%d want %d", h, len(enc), n+1)
		}
	}
}
