package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/jammwork/jammwork-sub000/pkg/protocol"
)

// CurrentRecordVersion is the current version of the record format.
// Increment when making breaking changes to the format.
const CurrentRecordVersion = 1

// compressThreshold is the state size above which records compress it.
const compressThreshold = 1024

// Record is the persisted form of a room, as stored by the Redis and S3
// backends.
type Record struct {
	Version      int    `cbor:"1,keyasint"`
	RoomID       string `cbor:"2,keyasint"`
	State        []byte `cbor:"3,keyasint"`
	Compressed   bool   `cbor:"4,keyasint,omitempty"`
	StateSize    int    `cbor:"5,keyasint,omitempty"`
	LastActivity int64  `cbor:"6,keyasint"`
	PersistedAt  int64  `cbor:"7,keyasint"`
}

// ErrUnsupportedRecord is returned for records written by a newer format.
var ErrUnsupportedRecord = errors.New("session: unsupported record version")

var (
	recordEncMode cbor.EncMode
	recordDecMode cbor.DecMode

	// zstd encoders and decoders are safe for concurrent use.
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	recordEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("session: CBOR encoder initialization failed: " + err.Error())
	}
	recordDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("session: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("session: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(protocol.DefaultMaxAllocation))
	if err != nil {
		panic("session: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodeRecord builds and encodes a record for roomID.
func EncodeRecord(roomID string, state []byte, lastActivity, persistedAt time.Time) ([]byte, error) {
	rec := Record{
		Version:      CurrentRecordVersion,
		RoomID:       roomID,
		State:        state,
		LastActivity: lastActivity.UnixNano(),
		PersistedAt:  persistedAt.UnixNano(),
	}

	if len(state) > compressThreshold {
		compressed := zstdEncoder.EncodeAll(state, nil)
		if len(compressed) < len(state) {
			rec.State = compressed
			rec.Compressed = true
			rec.StateSize = len(state)
		}
	}

	return recordEncMode.Marshal(&rec)
}

// DecodeRecord decodes a record and decompresses its state.
func DecodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := recordDecMode.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("session: decode record: %w", err)
	}
	if rec.Version > CurrentRecordVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedRecord, rec.Version)
	}

	if rec.Compressed {
		if rec.StateSize < 0 || rec.StateSize > protocol.DefaultMaxAllocation {
			return nil, fmt.Errorf("session: decompress record %s: invalid state size %d", rec.RoomID, rec.StateSize)
		}
		state, err := zstdDecoder.DecodeAll(rec.State, make([]byte, 0, rec.StateSize))
		if err != nil {
			return nil, fmt.Errorf("session: decompress record %s: %w", rec.RoomID, err)
		}
		if len(state) != rec.StateSize {
			return nil, fmt.Errorf("session: decompress record %s: got %d bytes, expected %d", rec.RoomID, len(state), rec.StateSize)
		}
		rec.State = state
		rec.Compressed = false
	}
	return &rec, nil
}

// LastActivityTime returns LastActivity as a time.Time.
func (r *Record) LastActivityTime() time.Time {
	return time.Unix(0, r.LastActivity)
}

// PersistedAtTime returns PersistedAt as a time.Time.
func (r *Record) PersistedAtTime() time.Time {
	return time.Unix(0, r.PersistedAt)
}
