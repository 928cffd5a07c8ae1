package protocol

import (
	"errors"
	"fmt"
)

// Decoding errors. A *DecodeError returned by this package always wraps
// one of these.
var (
	ErrBufferTooShort      = errors.New("protocol: buffer too short")
	ErrVarintOverflow      = errors.New("protocol: varint overflow")
	ErrAllocationTooLarge  = errors.New("protocol: allocation size exceeds limit")
	ErrCollectionTooLarge  = errors.New("protocol: collection count exceeds limit")
	ErrEmptyMessage        = errors.New("protocol: empty message")
	ErrUnknownMessageType  = errors.New("protocol: unknown message type")
	ErrUnknownSyncType     = errors.New("protocol: unknown sync message type")
	ErrInvalidPresenceData = errors.New("protocol: presence state is not valid JSON")
)

// DecodeError describes where and why a message failed to decode.
type DecodeError struct {
	// Op names the structure being decoded ("message", "sync", "presence").
	Op string

	// Offset is the byte offset into the message at which decoding failed.
	Offset int

	// Err is the underlying sentinel error.
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: decode %s at offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeError(op string, offset int, err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}
	return &DecodeError{Op: op, Offset: offset, Err: err}
}
