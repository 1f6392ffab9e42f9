package chain

import (
	"bytes"
	"encoding/binary"
)

// CoinbaseParts is the Template Provider's half of a coinbase transaction:
// everything that goes in NewTemplate so a client can append its own
// payout output(s) into the remaining value and append its own extranonce
// into the scriptSig, without the provider ever seeing the client's script.
type CoinbaseParts struct {
	Prefix          []byte
	InputSequence   uint32
	ValueRemaining  uint64
	OutputsCount    uint32
	Outputs         []byte
	Locktime        uint32
	TxVersion       uint32
}

// BuildCoinbaseParts assembles the provider side of a coinbase transaction
// for height, folding a witness commitment output (if non-empty) ahead of
// the value left for the client's payout outputs. extranonceLen is not
// used: the prefix reserves no extranonce bytes, and the client appends its
// own extranonce after it.
func BuildCoinbaseParts(height int64, coinbaseValue int64, extranonceLen int, witnessCommitment, flags []byte, tag string) CoinbaseParts {
	prefix := bytes.Join([][]byte{
		serializeNumberScript(height),
		flags,
		serializeStringScript(tag),
	}, nil)

	var outputs bytes.Buffer
	outputCount := uint32(0)
	if len(witnessCommitment) > 0 {
		var amount [8]byte
		outputs.Write(amount[:])
		writeVarInt(&outputs, uint64(len(witnessCommitment)))
		outputs.Write(witnessCommitment)
		outputCount++
	}

	return CoinbaseParts{
		Prefix:         prefix,
		InputSequence:  0xffffffff,
		ValueRemaining: uint64(coinbaseValue),
		OutputsCount:   outputCount,
		Outputs:        outputs.Bytes(),
		Locktime:       0,
		TxVersion:      2,
	}
}

// serializeNumberScript pushes n onto the scriptSig the way bitcoind's
// coinbase BIP34 height push does: minimal-length little-endian encoding
// preceded by its own length byte, OP_0 for n == 0.
func serializeNumberScript(n int64) []byte {
	if n == 0 {
		return []byte{0x00}
	}
	negative := n < 0
	abs := n
	if negative {
		abs = -abs
	}
	var b []byte
	for abs > 0 {
		b = append(b, byte(abs&0xff))
		abs >>= 8
	}
	if b[len(b)-1]&0x80 != 0 {
		if negative {
			b = append(b, 0x80)
		} else {
			b = append(b, 0x00)
		}
	} else if negative {
		b[len(b)-1] |= 0x80
	}
	return append([]byte{byte(len(b))}, b...)
}

// serializeStringScript pushes an arbitrary byte string as scriptSig data
// using the minimal push opcode for its length.
func serializeStringScript(s string) []byte {
	b := []byte(s)
	switch {
	case len(b) == 0:
		return nil
	case len(b) < 0x4c:
		return append([]byte{byte(len(b))}, b...)
	case len(b) <= 0xff:
		return append([]byte{0x4c, byte(len(b))}, b...)
	default:
		var prefix [3]byte
		prefix[0] = 0x4d
		binary.LittleEndian.PutUint16(prefix[1:], uint16(len(b)))
		return append(prefix[:], b...)
	}
}

// EncodeVarInt returns v's standard Bitcoin varint encoding, for callers
// outside this package assembling full transactions or blocks.
func EncodeVarInt(v uint64) []byte {
	var buf bytes.Buffer
	writeVarInt(&buf, v)
	return buf.Bytes()
}

func writeVarInt(buf *bytes.Buffer, v uint64) {
	switch {
	case v < 0xfd:
		buf.WriteByte(byte(v))
	case v <= 0xffff:
		buf.WriteByte(0xfd)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v))
		buf.Write(b[:])
	case v <= 0xffffffff:
		buf.WriteByte(0xfe)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v))
		buf.Write(b[:])
	default:
		buf.WriteByte(0xff)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		buf.Write(b[:])
	}
}
