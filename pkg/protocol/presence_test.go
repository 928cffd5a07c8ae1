package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestPresenceRoundTrip(t *testing.T) {
	in := []PresenceUpdate{
		{ClientID: "u1", Clock: 3, State: json.RawMessage(`{"cursor":{"x":1,"y":2}}`)},
		{ClientID: "u2", Clock: 7, State: nil},
	}

	msg, err := DecodeMessage(EncodePresence(in))
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if msg.Type != MessagePresence {
		t.Fatalf("Type = %v, want Presence", msg.Type)
	}

	out, err := DecodePresence(msg.Payload)
	if err != nil {
		t.Fatalf("DecodePresence: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0].ClientID != "u1" || out[0].Clock != 3 || string(out[0].State) != `{"cursor":{"x":1,"y":2}}` {
		t.Errorf("entry 0 = %+v", out[0])
	}
	if out[1].ClientID != "u2" || out[1].Clock != 7 || !out[1].Removed() || out[1].State != nil {
		t.Errorf("entry 1 = %+v, want removed u2", out[1])
	}
}

func TestPresenceRemoved(t *testing.T) {
	tests := []struct {
		state string
		want  bool
	}{
		{"", true},
		{"null", true},
		{" null ", true},
		{"{}", true},
		{`{"name":"a"}`, false},
		{`"x"`, false},
	}

	for _, tc := range tests {
		u := PresenceUpdate{State: json.RawMessage(tc.state)}
		if got := u.Removed(); got != tc.want {
			t.Errorf("Removed(%q) = %v, want %v", tc.state, got, tc.want)
		}
	}
}

func TestDecodePresenceErrors(t *testing.T) {
	e := NewEncoder()
	e.WriteUvarint(1)
	e.WriteVarString("u1")
	e.WriteUvarint(1)
	e.WriteVarString("{not json")
	invalid := e.Bytes()

	tests := []struct {
		name    string
		payload []byte
		wantErr error
	}{
		{"empty", nil, ErrBufferTooShort},
		{"count_too_large", []byte{0x05, 0x00}, ErrBufferTooShort},
		{"truncated_entry", []byte{0x01, 0x02, 'u', '1', 0x01}, ErrBufferTooShort},
		{"invalid_json", invalid, ErrInvalidPresenceData},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodePresence(tc.payload)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("DecodePresence error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}
