package protocol

import (
	"encoding/json"
	"testing"
)

// FuzzDecodeMessage tests that decoding arbitrary bytes doesn't panic.
func FuzzDecodeMessage(f *testing.F) {
	f.Add(EncodeSyncStep1([]byte{0x00}))
	f.Add(EncodeSyncUpdate([]byte("update")))
	f.Add(EncodePresence([]PresenceUpdate{{ClientID: "c", Clock: 1, State: json.RawMessage(`{"a":1}`)}}))
	f.Add([]byte{0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0x0F})

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := DecodeMessage(data)
		if err != nil {
			return
		}
		switch msg.Type {
		case MessageSync:
			_, _ = DecodeSync(msg.Payload)
		case MessagePresence:
			_, _ = DecodePresence(msg.Payload)
		}
	})
}
