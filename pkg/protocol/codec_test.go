package protocol

import (
	"errors"
	"testing"
)

func TestEncoderDecoder(t *testing.T) {
	e := NewEncoder()

	e.WriteByte(0x42)
	e.WriteUvarint(12345)
	e.WriteVarString("hello world")
	e.WriteVarBytes([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	e.WriteBytes([]byte{0x01, 0x02})

	d := NewDecoder(e.Bytes())

	b, err := d.ReadByte()
	if err != nil || b != 0x42 {
		t.Errorf("ReadByte() = %x, %v; want 0x42, nil", b, err)
	}

	uv, err := d.ReadUvarint()
	if err != nil || uv != 12345 {
		t.Errorf("ReadUvarint() = %d, %v; want 12345, nil", uv, err)
	}

	s, err := d.ReadVarString()
	if err != nil || s != "hello world" {
		t.Errorf("ReadVarString() = %q, %v; want \"hello world\", nil", s, err)
	}

	lb, err := d.ReadVarBytes()
	if err != nil || string(lb) != "\xDE\xAD\xBE\xEF" {
		t.Errorf("ReadVarBytes() = %x, %v; want deadbeef, nil", lb, err)
	}

	rest := d.Rest()
	if string(rest) != "\x01\x02" {
		t.Errorf("Rest() = %x, want 0102", rest)
	}
	if !d.EOF() {
		t.Errorf("EOF() = false after Rest, remaining %d", d.Remaining())
	}
}

func TestEncoderReset(t *testing.T) {
	e := NewEncoderWithCap(8)
	e.WriteVarString("abc")
	if e.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", e.Len())
	}
	e.Reset()
	if e.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", e.Len())
	}
}

func TestReadVarBytesReturnsCopy(t *testing.T) {
	buf := []byte{0x02, 0x0A, 0x0B}
	d := NewDecoder(buf)

	b, err := d.ReadVarBytes()
	if err != nil {
		t.Fatalf("ReadVarBytes: %v", err)
	}
	buf[1] = 0xFF
	if b[0] != 0x0A {
		t.Error("ReadVarBytes result aliases the input buffer")
	}
}

func TestDecoderErrors(t *testing.T) {
	tests := []struct {
		name    string
		buf     []byte
		read    func(d *Decoder) error
		wantErr error
		wantOff int
	}{
		{
			name:    "byte_on_empty",
			buf:     nil,
			read:    func(d *Decoder) error { _, err := d.ReadByte(); return err },
			wantErr: ErrBufferTooShort,
		},
		{
			name:    "truncated_varint",
			buf:     []byte{0x80},
			read:    func(d *Decoder) error { _, err := d.ReadUvarint(); return err },
			wantErr: ErrBufferTooShort,
		},
		{
			name:    "overflow_varint",
			buf:     []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01},
			read:    func(d *Decoder) error { _, err := d.ReadUvarint(); return err },
			wantErr: ErrVarintOverflow,
		},
		{
			name:    "length_past_end",
			buf:     []byte{0x05, 0x01, 0x02},
			read:    func(d *Decoder) error { _, err := d.ReadVarBytes(); return err },
			wantErr: ErrBufferTooShort,
			wantOff: 1,
		},
		{
			name:    "length_over_limit",
			buf:     AppendUvarint(nil, DefaultMaxAllocation+1),
			read:    func(d *Decoder) error { _, err := d.ReadVarString(); return err },
			wantErr: ErrAllocationTooLarge,
			wantOff: UvarintLen(DefaultMaxAllocation + 1),
		},
		{
			name:    "collection_over_limit",
			buf:     AppendUvarint(nil, MaxCollectionCount+1),
			read:    func(d *Decoder) error { _, err := d.ReadCollectionCount(1); return err },
			wantErr: ErrCollectionTooLarge,
			wantOff: UvarintLen(MaxCollectionCount + 1),
		},
		{
			name:    "collection_larger_than_buffer",
			buf:     []byte{0x03, 0x00, 0x00},
			read:    func(d *Decoder) error { _, err := d.ReadCollectionCount(1); return err },
			wantErr: ErrBufferTooShort,
			wantOff: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.read(NewDecoder(tc.buf))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("error = %v, want %v", err, tc.wantErr)
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("error %T is not a *DecodeError", err)
			}
			if de.Offset != tc.wantOff {
				t.Errorf("Offset = %d, want %d", de.Offset, tc.wantOff)
			}
		})
	}
}
