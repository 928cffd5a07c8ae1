package protocol

// MessageType is the tag byte that starts every message.
type MessageType uint8

const (
	MessageSync     MessageType = 0x00 // Document synchronization
	MessagePresence MessageType = 0x01 // Ephemeral presence
)

// String returns the string representation of the message type.
func (mt MessageType) String() string {
	switch mt {
	case MessageSync:
		return "Sync"
	case MessagePresence:
		return "Presence"
	default:
		return "Unknown"
	}
}

// Message is a decoded top-level message.
type Message struct {
	Type MessageType

	// Payload is everything after the tag byte. It references the
	// buffer passed to DecodeMessage.
	Payload []byte
}

// EncodeMessage prepends the tag byte to payload.
func EncodeMessage(mt MessageType, payload []byte) []byte {
	buf := make([]byte, 0, 1+len(payload))
	buf = append(buf, byte(mt))
	return append(buf, payload...)
}

// DecodeMessage splits a raw message into its tag and payload.
// Unknown tags are reported as ErrUnknownMessageType.
func DecodeMessage(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, decodeError("message", 0, ErrEmptyMessage)
	}

	mt := MessageType(data[0])
	switch mt {
	case MessageSync, MessagePresence:
	default:
		return nil, decodeError("message", 0, ErrUnknownMessageType)
	}

	return &Message{Type: mt, Payload: data[1:]}, nil
}
