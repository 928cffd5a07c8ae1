package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory room store implementation.
// It's the default store and suitable for tests and single-process
// deployments where rooms need not survive a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	rooms  map[string]*storedRoom
	closed bool
}

type storedRoom struct {
	state        []byte
	lastActivity time.Time
}

// NewMemoryStore creates a new in-memory room store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]*storedRoom),
	}
}

// Save stores a copy of the room state.
func (m *MemoryStore) Save(ctx context.Context, roomID string, state []byte, lastActivity time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	// Make a copy of state to prevent mutations
	stateCopy := make([]byte, len(state))
	copy(stateCopy, state)

	m.rooms[roomID] = &storedRoom{
		state:        stateCopy,
		lastActivity: lastActivity,
	}
	return nil
}

// Load retrieves a copy of the room state.
func (m *MemoryStore) Load(ctx context.Context, roomID string) ([]byte, time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, time.Time{}, ErrStoreClosed
	}

	r, ok := m.rooms[roomID]
	if !ok {
		return nil, time.Time{}, ErrRoomNotFound
	}

	stateCopy := make([]byte, len(r.state))
	copy(stateCopy, r.state)
	return stateCopy, r.lastActivity, nil
}

// List returns the persisted room ids in sorted order.
func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a room from the store.
func (m *MemoryStore) Delete(ctx context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.rooms, roomID)
	return nil
}

// Close shuts down the store and releases resources.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.rooms = nil
	return nil
}

// Count returns the number of rooms in the store.
// This is for monitoring/testing purposes.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}
