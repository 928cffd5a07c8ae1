package protocol

// Allocation limits to prevent DoS attacks via malicious length prefixes.
const (
	// DefaultMaxAllocation is the largest length prefix accepted for a
	// single byte array or string (16MB). Whole-document diffs can be
	// large, so this is more generous than a typical event payload.
	DefaultMaxAllocation = 16 * 1024 * 1024

	// MaxCollectionCount is the maximum number of items in a collection.
	// This prevents OOM from huge counts with small per-item overhead.
	MaxCollectionCount = 100_000
)

// Decoder is a binary decoder that reads from a byte buffer.
// Errors carry the offset at which they occurred.
type Decoder struct {
	buf []byte
	pos int
	op  string
}

// NewDecoder creates a new decoder from the given byte slice.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf, op: "message"}
}

func newOpDecoder(op string, buf []byte) *Decoder {
	return &Decoder{buf: buf, op: op}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

// EOF returns true if all bytes have been read.
func (d *Decoder) EOF() bool {
	return d.pos >= len(d.buf)
}

// Position returns the current read position.
func (d *Decoder) Position() int {
	return d.pos
}

// Rest returns the unread bytes and advances to the end of the buffer.
// The returned slice references the decoder's buffer.
func (d *Decoder) Rest() []byte {
	b := d.buf[d.pos:]
	d.pos = len(d.buf)
	return b
}

func (d *Decoder) fail(err error) error {
	return decodeError(d.op, d.pos, err)
}

// ReadByte reads a single byte.
func (d *Decoder) ReadByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, d.fail(ErrBufferTooShort)
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

// ReadUvarint reads an unsigned varint.
func (d *Decoder) ReadUvarint() (uint64, error) {
	v, n := DecodeUvarint(d.buf[d.pos:])
	switch {
	case n == -2:
		return 0, d.fail(ErrVarintOverflow)
	case n < 0:
		return 0, d.fail(ErrBufferTooShort)
	}
	d.pos += n
	return v, nil
}

func (d *Decoder) readLength() (int, error) {
	length, err := d.ReadUvarint()
	if err != nil {
		return 0, err
	}
	if length > DefaultMaxAllocation {
		return 0, d.fail(ErrAllocationTooLarge)
	}
	if length > uint64(d.Remaining()) {
		return 0, d.fail(ErrBufferTooShort)
	}
	return int(length), nil
}

// ReadVarBytes reads length-prefixed bytes.
// Returns a copy of the bytes (safe to retain).
func (d *Decoder) ReadVarBytes() ([]byte, error) {
	n, err := d.readLength()
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, d.buf[d.pos:d.pos+n])
	d.pos += n
	return b, nil
}

// ReadVarString reads a length-prefixed UTF-8 string.
func (d *Decoder) ReadVarString() (string, error) {
	n, err := d.readLength()
	if err != nil {
		return "", err
	}
	s := string(d.buf[d.pos : d.pos+n])
	d.pos += n
	return s, nil
}

// ReadCollectionCount reads a varint count and validates it against limits.
// Every item is assumed to occupy at least minItemSize bytes, so a count
// that cannot fit in the remaining buffer is rejected before allocating.
func (d *Decoder) ReadCollectionCount(minItemSize int) (int, error) {
	count, err := d.ReadUvarint()
	if err != nil {
		return 0, err
	}
	if count > MaxCollectionCount {
		return 0, d.fail(ErrCollectionTooLarge)
	}
	if minItemSize < 1 {
		minItemSize = 1
	}
	if count*uint64(minItemSize) > uint64(d.Remaining()) {
		return 0, d.fail(ErrBufferTooShort)
	}
	return int(count), nil
}
