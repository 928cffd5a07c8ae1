package protocol

import (
	"bytes"
	"encoding/json"
)

// nullState is the encoded state of a removed presence entry.
var nullState = []byte("null")

// PresenceUpdate is one entry of a presence message.
type PresenceUpdate struct {
	// ClientID is the opaque id of the client the entry describes.
	ClientID string

	// Clock orders updates for the same client. Higher wins.
	Clock uint64

	// State is the JSON-encoded entry; nil or "null" means removed.
	State json.RawMessage
}

// Removed reports whether the update removes the entry.
func (u PresenceUpdate) Removed() bool {
	s := bytes.TrimSpace(u.State)
	return len(s) == 0 || bytes.Equal(s, nullState) || bytes.Equal(s, []byte("{}"))
}

// EncodePresence encodes a complete presence message, tag byte included.
func EncodePresence(updates []PresenceUpdate) []byte {
	e := NewEncoderWithCap(1 + MaxVarintLen + len(updates)*32)
	e.WriteByte(byte(MessagePresence))
	EncodePresenceTo(e, updates)
	return e.Bytes()
}

// EncodePresenceTo writes a presence payload using the provided encoder.
func EncodePresenceTo(e *Encoder, updates []PresenceUpdate) {
	e.WriteUvarint(uint64(len(updates)))
	for _, u := range updates {
		e.WriteVarString(u.ClientID)
		e.WriteUvarint(u.Clock)
		if u.Removed() {
			e.WriteVarBytes(nullState)
		} else {
			e.WriteVarBytes(u.State)
		}
	}
}

// DecodePresence decodes a presence payload (the bytes after the tag byte).
// Every non-null state must be valid JSON.
func DecodePresence(payload []byte) ([]PresenceUpdate, error) {
	d := newOpDecoder("presence", payload)

	// clientID length + clock + state length: at least 3 bytes per entry.
	count, err := d.ReadCollectionCount(3)
	if err != nil {
		return nil, err
	}

	updates := make([]PresenceUpdate, 0, count)
	for i := 0; i < count; i++ {
		id, err := d.ReadVarString()
		if err != nil {
			return nil, err
		}
		clock, err := d.ReadUvarint()
		if err != nil {
			return nil, err
		}
		offset := d.Position()
		state, err := d.ReadVarBytes()
		if err != nil {
			return nil, err
		}

		u := PresenceUpdate{ClientID: id, Clock: clock, State: state}
		if !u.Removed() && !json.Valid(state) {
			return nil, decodeError("presence", offset, ErrInvalidPresenceData)
		}
		if u.Removed() {
			u.State = nil
		}
		updates = append(updates, u)
	}

	return updates, nil
}
