package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jammwork/jammwork-sub000/internal/clock"
	"github.com/jammwork/jammwork-sub000/pkg/protocol"
)

var errSendFull = errors.New("send queue full")

// fakePeer records every frame it is sent.
type fakePeer struct {
	id   string
	user string

	mu      sync.Mutex
	frames  [][]byte
	sendErr error
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: id, user: "user-" + id}
}

func (p *fakePeer) ID() string     { return p.id }
func (p *fakePeer) UserID() string { return p.user }

func (p *fakePeer) Send(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.frames = append(p.frames, append([]byte(nil), frame...))
	return nil
}

// take returns and clears the recorded frames.
func (p *fakePeer) take() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.frames
	p.frames = nil
	return out
}

// hookStore wraps MemoryStore with failure injection and call hooks.
type hookStore struct {
	*MemoryStore

	mu       sync.Mutex
	saveErr  map[string]error
	loadErr  error
	saveHook func(roomID string)
	loadHook func(roomID string)

	loads atomic.Int32
	saves atomic.Int32
}

func newHookStore() *hookStore {
	return &hookStore{MemoryStore: NewMemoryStore(), saveErr: make(map[string]error)}
}

func (s *hookStore) Save(ctx context.Context, roomID string, state []byte, lastActivity time.Time) error {
	s.mu.Lock()
	hook := s.saveHook
	err := s.saveErr[roomID]
	s.mu.Unlock()

	s.saves.Add(1)
	if hook != nil {
		hook(roomID)
	}
	if err != nil {
		return err
	}
	return s.MemoryStore.Save(ctx, roomID, state, lastActivity)
}

func (s *hookStore) Load(ctx context.Context, roomID string) ([]byte, time.Time, error) {
	s.mu.Lock()
	hook := s.loadHook
	err := s.loadErr
	s.mu.Unlock()

	s.loads.Add(1)
	if hook != nil {
		hook(roomID)
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	return s.MemoryStore.Load(ctx, roomID)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T, store RoomStore, config RegistryConfig) (*Registry, *clock.FakeClock) {
	t.Helper()
	fc := clock.Fake(time.Unix(1700000000, 0))
	reg := NewRegistry(store, config, testLogger(), WithClock(fc))
	t.Cleanup(func() { _ = reg.Shutdown(context.Background()) })
	return reg, fc
}

func decodeFrame(t *testing.T, frame []byte) *protocol.Message {
	t.Helper()
	msg, err := protocol.DecodeMessage(frame)
	if err != nil {
		t.Fatalf("DecodeMessage(%x) error: %v", frame, err)
	}
	return msg
}

func decodeSyncFrame(t *testing.T, frame []byte) *protocol.SyncMessage {
	t.Helper()
	msg := decodeFrame(t, frame)
	if msg.Type != protocol.MessageSync {
		t.Fatalf("frame type = %v, want sync", msg.Type)
	}
	sm, err := protocol.DecodeSync(msg.Payload)
	if err != nil {
		t.Fatalf("DecodeSync error: %v", err)
	}
	return sm
}

func decodePresenceFrame(t *testing.T, frame []byte) []protocol.PresenceUpdate {
	t.Helper()
	msg := decodeFrame(t, frame)
	if msg.Type != protocol.MessagePresence {
		t.Fatalf("frame type = %v, want presence", msg.Type)
	}
	updates, err := protocol.DecodePresence(msg.Payload)
	if err != nil {
		t.Fatalf("DecodePresence error: %v", err)
	}
	return updates
}
