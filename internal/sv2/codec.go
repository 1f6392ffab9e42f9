package sv2

import (
	"fmt"
	"io"

	"github.com/stratum-tools/sv2-template-provider/internal/noise"
)

// encryptedHeaderLen is the wire size of the Noise-encrypted 6-byte header:
// a single AEAD chunk, so exactly one 16-byte tag.
const encryptedHeaderLen = HeaderLen + 16

// WriteFrame encrypts header+payload under sess and writes both to w. The
// header and payload are independently encrypted, matching how upstream
// sv2 frames a message: the header alone tells the reader how many
// encrypted payload bytes to expect next.
func WriteFrame(w io.Writer, sess *noise.Session, msgType MsgType, extensionType uint16, payload []byte) error {
	hdr := Header{ExtensionType: extensionType, MsgType: msgType, MsgLength: uint32(len(payload))}
	encHdr, err := sess.EncryptMessage(hdr.Encode())
	if err != nil {
		return fmt.Errorf("sv2: encrypt header: %w", err)
	}
	if len(encHdr) != encryptedHeaderLen {
		return fmt.Errorf("sv2: encrypted header len=%d want %d", len(encHdr), encryptedHeaderLen)
	}
	if _, err := w.Write(encHdr); err != nil {
		return fmt.Errorf("sv2: write header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	encPayload, err := sess.EncryptMessage(payload)
	if err != nil {
		return fmt.Errorf("sv2: encrypt payload: %w", err)
	}
	if _, err := w.Write(encPayload); err != nil {
		return fmt.Errorf("sv2: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads and decrypts one message from r: a fixed 22-byte
// encrypted header, then exactly EncryptedMessageSize(msg_length) bytes of
// encrypted payload.
func ReadFrame(r io.Reader, sess *noise.Session) (Header, []byte, error) {
	encHdr := make([]byte, encryptedHeaderLen)
	if _, err := io.ReadFull(r, encHdr); err != nil {
		return Header{}, nil, fmt.Errorf("sv2: read header: %w", err)
	}
	plainHdr, ok := sess.DecryptMessage(encHdr)
	if !ok {
		return Header{}, nil, fmt.Errorf("sv2: header decryption failed")
	}
	hdr, err := DecodeHeader(plainHdr)
	if err != nil {
		return Header{}, nil, err
	}
	if hdr.MsgLength == 0 {
		return hdr, nil, nil
	}
	encLen := sess.EncryptedMessageSize(int(hdr.MsgLength))
	encPayload := make([]byte, encLen)
	if _, err := io.ReadFull(r, encPayload); err != nil {
		return Header{}, nil, fmt.Errorf("sv2: read payload: %w", err)
	}
	payload, ok := sess.DecryptMessage(encPayload)
	if !ok {
		return Header{}, nil, fmt.Errorf("sv2: payload decryption failed")
	}
	return hdr, payload, nil
}
