package protocol

// SyncType identifies a sync sub-message.
type SyncType uint8

const (
	SyncStep1  SyncType = 0x00 // State vector; asks the peer for what is missing
	SyncStep2  SyncType = 0x01 // Diff answering a step-1
	SyncUpdate SyncType = 0x02 // Incremental update
)

// String returns the string representation of the sync type.
func (st SyncType) String() string {
	switch st {
	case SyncStep1:
		return "Step1"
	case SyncStep2:
		return "Step2"
	case SyncUpdate:
		return "Update"
	default:
		return "Unknown"
	}
}

// Mutates reports whether a sync message of this type carries document
// content (as opposed to a request for content).
func (st SyncType) Mutates() bool {
	return st == SyncStep2 || st == SyncUpdate
}

// SyncMessage is a decoded sync payload.
type SyncMessage struct {
	Type SyncType
	Data []byte
}

// EncodeSync encodes a complete sync message, tag byte included.
func EncodeSync(st SyncType, data []byte) []byte {
	e := NewEncoderWithCap(2 + MaxVarintLen + len(data))
	e.WriteByte(byte(MessageSync))
	e.WriteUvarint(uint64(st))
	e.WriteVarBytes(data)
	return e.Bytes()
}

// EncodeSyncStep1 encodes a step-1 message carrying a state vector.
func EncodeSyncStep1(stateVector []byte) []byte {
	return EncodeSync(SyncStep1, stateVector)
}

// EncodeSyncStep2 encodes a step-2 message carrying a diff.
func EncodeSyncStep2(diff []byte) []byte {
	return EncodeSync(SyncStep2, diff)
}

// EncodeSyncUpdate encodes an update message.
func EncodeSyncUpdate(update []byte) []byte {
	return EncodeSync(SyncUpdate, update)
}

// DecodeSync decodes a sync payload (the bytes after the tag byte).
func DecodeSync(payload []byte) (*SyncMessage, error) {
	d := newOpDecoder("sync", payload)

	raw, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	st := SyncType(raw)
	switch st {
	case SyncStep1, SyncStep2, SyncUpdate:
	default:
		return nil, decodeError("sync", 0, ErrUnknownSyncType)
	}

	data, err := d.ReadVarBytes()
	if err != nil {
		return nil, err
	}

	return &SyncMessage{Type: st, Data: data}, nil
}
