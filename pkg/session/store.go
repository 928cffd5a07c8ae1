package session

import (
	"context"
	"errors"
	"time"
)

// RoomStore defines the interface for room persistence backends.
// Implementations must be safe for concurrent use.
type RoomStore interface {
	// Save persists the encoded document state of a room, overwriting any
	// previous record. Called by periodic sweeps, grace checks, eviction
	// and graceful shutdown.
	Save(ctx context.Context, roomID string, state []byte, lastActivity time.Time) error

	// Load retrieves the last saved state of a room.
	// Returns ErrRoomNotFound if the room was never saved.
	Load(ctx context.Context, roomID string) (state []byte, lastActivity time.Time, err error)

	// List returns the ids of every persisted room.
	List(ctx context.Context) ([]string, error)

	// Delete removes a room's record.
	// Should not return an error if the room doesn't exist.
	Delete(ctx context.Context, roomID string) error

	// Close releases any resources held by the store.
	Close() error
}

var (
	// ErrRoomNotFound is returned by RoomStore.Load for unknown rooms.
	ErrRoomNotFound = errors.New("session: room not found")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("session: store is closed")
)
