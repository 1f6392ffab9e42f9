// Package sv2 implements the Stratum v2 message-level framing and the
// Template Provider subprotocol's typed messages: a fixed 6-byte header
// (extension_type, msg_type, msg_length) followed by a length-prefixed
// payload, both independently Noise-encrypted once the handshake completes.
package sv2

import (
	"encoding/binary"
	"fmt"
)

// HeaderLen is the size of the plaintext sv2 message header.
const HeaderLen = 6

// TPSubprotocol is the sv2 subprotocol identifier for Template Provider.
const TPSubprotocol = 0x02

// MsgType identifies an sv2 Template Provider message.
type MsgType byte

const (
	MsgSetupConnection                 MsgType = 0x00
	MsgSetupConnectionSuccess          MsgType = 0x01
	MsgSetupConnectionError            MsgType = 0x02
	MsgSubmitSolution                  MsgType = 0x60
	MsgCoinbaseOutputDataSize          MsgType = 0x70
	MsgNewTemplate                     MsgType = 0x71
	MsgSetNewPrevHash                  MsgType = 0x72
	MsgRequestTransactionData          MsgType = 0x73
	MsgRequestTransactionDataSuccess   MsgType = 0x74
	MsgRequestTransactionDataError     MsgType = 0x75
)

// Header is the 6-byte plaintext header carried (encrypted) ahead of every
// sv2 payload.
type Header struct {
	ExtensionType uint16
	MsgType       MsgType
	MsgLength     uint32 // fits in 24 bits on the wire
}

// Encode serializes h to its fixed 6-byte wire form.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderLen)
	binary.LittleEndian.PutUint16(buf[0:2], h.ExtensionType)
	buf[2] = byte(h.MsgType)
	putUint24LE(buf[3:6], h.MsgLength)
	return buf
}

// DecodeHeader parses a 6-byte wire header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("sv2: header len=%d want %d", len(b), HeaderLen)
	}
	return Header{
		ExtensionType: binary.LittleEndian.Uint16(b[0:2]),
		MsgType:       MsgType(b[2]),
		MsgLength:     readUint24LE(b[3:6]),
	}, nil
}

func putUint24LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func readUint24LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}
