package sv2

import "fmt"

// SetupConnection is the first message a client sends, declaring which sv2
// subprotocol and version range it wants to speak.
type SetupConnection struct {
	Protocol         uint8
	MinVersion       uint16
	MaxVersion       uint16
	Flags            uint32
	EndpointHost     string
	EndpointPort     uint16
	Vendor           string
	HardwareVersion  string
	Firmware         string
	DeviceID         string
}

func (m SetupConnection) Encode() []byte {
	var w wireWriter
	w.u8(m.Protocol)
	w.u16(m.MinVersion)
	w.u16(m.MaxVersion)
	w.u32(m.Flags)
	w.str0255(m.EndpointHost)
	w.u16(m.EndpointPort)
	w.str0255(m.Vendor)
	w.str0255(m.HardwareVersion)
	w.str0255(m.Firmware)
	w.str0255(m.DeviceID)
	return w.bytes()
}

func DecodeSetupConnection(b []byte) (SetupConnection, error) {
	r := newWireReader(b)
	var m SetupConnection
	var err error
	if m.Protocol, err = r.u8(); err != nil {
		return m, err
	}
	if m.MinVersion, err = r.u16(); err != nil {
		return m, err
	}
	if m.MaxVersion, err = r.u16(); err != nil {
		return m, err
	}
	if m.Flags, err = r.u32(); err != nil {
		return m, err
	}
	if m.EndpointHost, err = r.str0255(); err != nil {
		return m, err
	}
	if m.EndpointPort, err = r.u16(); err != nil {
		return m, err
	}
	if m.Vendor, err = r.str0255(); err != nil {
		return m, err
	}
	if m.HardwareVersion, err = r.str0255(); err != nil {
		return m, err
	}
	if m.Firmware, err = r.str0255(); err != nil {
		return m, err
	}
	if m.DeviceID, err = r.str0255(); err != nil {
		return m, err
	}
	return m, r.requireDone()
}

// SetupConnectionSuccess confirms the negotiated version and feature flags.
type SetupConnectionSuccess struct {
	UsedVersion      uint16
	OptionalFeatures uint32
}

func (m SetupConnectionSuccess) Encode() []byte {
	var w wireWriter
	w.u16(m.UsedVersion)
	w.u32(m.OptionalFeatures)
	return w.bytes()
}

func DecodeSetupConnectionSuccess(b []byte) (SetupConnectionSuccess, error) {
	r := newWireReader(b)
	var m SetupConnectionSuccess
	var err error
	if m.UsedVersion, err = r.u16(); err != nil {
		return m, err
	}
	if m.OptionalFeatures, err = r.u32(); err != nil {
		return m, err
	}
	return m, r.requireDone()
}

// SetupConnectionError is returned on a subprotocol or version mismatch.
type SetupConnectionError struct {
	Flags    uint32
	ErrorCode string
}

func (m SetupConnectionError) Encode() []byte {
	var w wireWriter
	w.u32(m.Flags)
	w.str0255(m.ErrorCode)
	return w.bytes()
}

func DecodeSetupConnectionError(b []byte) (SetupConnectionError, error) {
	r := newWireReader(b)
	var m SetupConnectionError
	var err error
	if m.Flags, err = r.u32(); err != nil {
		return m, err
	}
	if m.ErrorCode, err = r.str0255(); err != nil {
		return m, err
	}
	return m, r.requireDone()
}

// CoinbaseOutputDataSize tells the provider how much additional space the
// client's own coinbase outputs will need.
type CoinbaseOutputDataSize struct {
	CoinbaseOutputMaxAdditionalSize uint32
}

func (m CoinbaseOutputDataSize) Encode() []byte {
	var w wireWriter
	w.u32(m.CoinbaseOutputMaxAdditionalSize)
	return w.bytes()
}

func DecodeCoinbaseOutputDataSize(b []byte) (CoinbaseOutputDataSize, error) {
	r := newWireReader(b)
	var m CoinbaseOutputDataSize
	var err error
	if m.CoinbaseOutputMaxAdditionalSize, err = r.u32(); err != nil {
		return m, err
	}
	return m, r.requireDone()
}

// NewTemplate carries a candidate block template's coinbase-building
// ingredients and the Merkle path needed to fold in the rest of the block's
// transactions without shipping them all.
type NewTemplate struct {
	TemplateID               uint64
	FutureTemplate           bool
	Version                  uint32
	CoinbaseTxVersion        uint32
	CoinbasePrefix           []byte
	CoinbaseTxInputSequence  uint32
	CoinbaseTxValueRemaining uint64
	CoinbaseTxOutputsCount   uint32
	CoinbaseTxOutputs        []byte
	CoinbaseTxLocktime       uint32
	MerklePath               [][32]byte
}

func (m NewTemplate) Encode() []byte {
	var w wireWriter
	w.u64(m.TemplateID)
	w.boolean(m.FutureTemplate)
	w.u32(m.Version)
	w.u32(m.CoinbaseTxVersion)
	w.b032(m.CoinbasePrefix)
	w.u32(m.CoinbaseTxInputSequence)
	w.u64(m.CoinbaseTxValueRemaining)
	w.u32(m.CoinbaseTxOutputsCount)
	w.b064k(m.CoinbaseTxOutputs)
	w.u32(m.CoinbaseTxLocktime)
	w.u8(uint8(len(m.MerklePath)))
	for _, h := range m.MerklePath {
		w.raw(h[:])
	}
	return w.bytes()
}

func DecodeNewTemplate(b []byte) (NewTemplate, error) {
	r := newWireReader(b)
	var m NewTemplate
	var err error
	if m.TemplateID, err = r.u64(); err != nil {
		return m, err
	}
	if m.FutureTemplate, err = r.boolean(); err != nil {
		return m, err
	}
	if m.Version, err = r.u32(); err != nil {
		return m, err
	}
	if m.CoinbaseTxVersion, err = r.u32(); err != nil {
		return m, err
	}
	if m.CoinbasePrefix, err = r.b032(); err != nil {
		return m, err
	}
	if m.CoinbaseTxInputSequence, err = r.u32(); err != nil {
		return m, err
	}
	if m.CoinbaseTxValueRemaining, err = r.u64(); err != nil {
		return m, err
	}
	if m.CoinbaseTxOutputsCount, err = r.u32(); err != nil {
		return m, err
	}
	if m.CoinbaseTxOutputs, err = r.b064k(); err != nil {
		return m, err
	}
	if m.CoinbaseTxLocktime, err = r.u32(); err != nil {
		return m, err
	}
	count, err := r.u8()
	if err != nil {
		return m, err
	}
	m.MerklePath = make([][32]byte, count)
	for i := range m.MerklePath {
		h, err := r.u256()
		if err != nil {
			return m, err
		}
		m.MerklePath[i] = h
	}
	return m, r.requireDone()
}

// SetNewPrevHash activates a previously-sent future template, or announces
// a template that is immediately active.
type SetNewPrevHash struct {
	TemplateID      uint64
	PrevHash        [32]byte
	HeaderTimestamp uint32
	NBits           uint32
	Target          [32]byte
}

func (m SetNewPrevHash) Encode() []byte {
	var w wireWriter
	w.u64(m.TemplateID)
	w.raw(m.PrevHash[:])
	w.u32(m.HeaderTimestamp)
	w.u32(m.NBits)
	w.raw(m.Target[:])
	return w.bytes()
}

func DecodeSetNewPrevHash(b []byte) (SetNewPrevHash, error) {
	r := newWireReader(b)
	var m SetNewPrevHash
	var err error
	if m.TemplateID, err = r.u64(); err != nil {
		return m, err
	}
	if m.PrevHash, err = r.u256(); err != nil {
		return m, err
	}
	if m.HeaderTimestamp, err = r.u32(); err != nil {
		return m, err
	}
	if m.NBits, err = r.u32(); err != nil {
		return m, err
	}
	if m.Target, err = r.u256(); err != nil {
		return m, err
	}
	return m, r.requireDone()
}

// RequestTransactionData asks for the non-coinbase transactions of a
// previously-announced template, e.g. to validate a share out-of-band.
type RequestTransactionData struct {
	TemplateID uint64
}

func (m RequestTransactionData) Encode() []byte {
	var w wireWriter
	w.u64(m.TemplateID)
	return w.bytes()
}

func DecodeRequestTransactionData(b []byte) (RequestTransactionData, error) {
	r := newWireReader(b)
	var m RequestTransactionData
	var err error
	if m.TemplateID, err = r.u64(); err != nil {
		return m, err
	}
	return m, r.requireDone()
}

// RequestTransactionDataSuccess carries every transaction in the template
// except the coinbase, plus the coinbase's witness reserve value (the
// first stack element of the coinbase's first input witness).
type RequestTransactionDataSuccess struct {
	TemplateID         uint64
	WitnessReserveValue []byte
	Transactions       [][]byte
}

func (m RequestTransactionDataSuccess) Encode() []byte {
	var w wireWriter
	w.u64(m.TemplateID)
	w.b064k(m.WitnessReserveValue)
	w.u16(uint16(len(m.Transactions)))
	for _, tx := range m.Transactions {
		w.b016m(tx)
	}
	return w.bytes()
}

func DecodeRequestTransactionDataSuccess(b []byte) (RequestTransactionDataSuccess, error) {
	r := newWireReader(b)
	var m RequestTransactionDataSuccess
	var err error
	if m.TemplateID, err = r.u64(); err != nil {
		return m, err
	}
	if m.WitnessReserveValue, err = r.b064k(); err != nil {
		return m, err
	}
	count, err := r.u16()
	if err != nil {
		return m, err
	}
	m.Transactions = make([][]byte, count)
	for i := range m.Transactions {
		if m.Transactions[i], err = r.b016m(); err != nil {
			return m, err
		}
	}
	return m, r.requireDone()
}

// RequestTransactionDataError is sent when the requested template_id is no
// longer (or never was) in the cache.
type RequestTransactionDataError struct {
	TemplateID uint64
	ErrorCode  string
}

func (m RequestTransactionDataError) Encode() []byte {
	var w wireWriter
	w.u64(m.TemplateID)
	w.str0255(m.ErrorCode)
	return w.bytes()
}

func DecodeRequestTransactionDataError(b []byte) (RequestTransactionDataError, error) {
	r := newWireReader(b)
	var m RequestTransactionDataError
	var err error
	if m.TemplateID, err = r.u64(); err != nil {
		return m, err
	}
	if m.ErrorCode, err = r.str0255(); err != nil {
		return m, err
	}
	return m, r.requireDone()
}

// SubmitSolution is a client's candidate solved block for a template.
type SubmitSolution struct {
	TemplateID      uint64
	Version         uint32
	HeaderTimestamp uint32
	HeaderNonce     uint32
	CoinbaseTx      []byte
}

func (m SubmitSolution) Encode() []byte {
	var w wireWriter
	w.u64(m.TemplateID)
	w.u32(m.Version)
	w.u32(m.HeaderTimestamp)
	w.u32(m.HeaderNonce)
	w.b064k(m.CoinbaseTx)
	return w.bytes()
}

func DecodeSubmitSolution(b []byte) (SubmitSolution, error) {
	r := newWireReader(b)
	var m SubmitSolution
	var err error
	if m.TemplateID, err = r.u64(); err != nil {
		return m, err
	}
	if m.Version, err = r.u32(); err != nil {
		return m, err
	}
	if m.HeaderTimestamp, err = r.u32(); err != nil {
		return m, err
	}
	if m.HeaderNonce, err = r.u32(); err != nil {
		return m, err
	}
	if m.CoinbaseTx, err = r.b064k(); err != nil {
		return m, err
	}
	return m, r.requireDone()
}

// ErrUnknownMsgType names a forward-compatible, unrecognized message type.
// The provider's dispatcher does not return it: it logs such messages and
// keeps the connection.
var ErrUnknownMsgType = fmt.Errorf("sv2: unknown message type")
