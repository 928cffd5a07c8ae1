package session

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

type mockRedisSetCall struct {
	key        string
	value      []byte
	expiration time.Duration
}

// mockRedisClient is an in-memory RedisClient.
type mockRedisClient struct {
	mu sync.Mutex

	data map[string][]byte
	sets map[string]map[string]bool

	setCalls []mockRedisSetCall
	setErr   error
	getErr   error
}

func newMockRedisClient() *mockRedisClient {
	return &mockRedisClient{
		data: make(map[string][]byte),
		sets: make(map[string]map[string]bool),
	}
}

func (c *mockRedisClient) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setCalls = append(c.setCalls, mockRedisSetCall{key: key, value: value, expiration: expiration})
	if c.setErr != nil {
		return c.setErr
	}
	c.data[key] = append([]byte(nil), value...)
	return nil
}

func (c *mockRedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	v, ok := c.data[key]
	if !ok {
		return nil, ErrRedisNil
	}
	return append([]byte(nil), v...), nil
}

func (c *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *mockRedisClient) SAdd(ctx context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sets[key] == nil {
		c.sets[key] = make(map[string]bool)
	}
	for _, m := range members {
		c.sets[key][m] = true
	}
	return nil
}

func (c *mockRedisClient) SRem(ctx context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range members {
		delete(c.sets[key], m)
	}
	return nil
}

func (c *mockRedisClient) SMembers(ctx context.Context, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sets[key]))
	for m := range c.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (c *mockRedisClient) Close() error { return nil }

func TestRedisStore_SaveLoadListDelete(t *testing.T) {
	client := newMockRedisClient()
	store := NewRedisStore(client, WithRedisPrefix("test:room:"), WithRedisTTL(time.Hour))
	ctx := context.Background()
	at := time.Unix(1700000000, 0)

	if err := store.Save(ctx, "r2", []byte("two"), at); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := store.Save(ctx, "r1", []byte("one"), at); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	client.mu.Lock()
	call := client.setCalls[0]
	client.mu.Unlock()
	if call.key != "test:room:r2" {
		t.Errorf("Set key = %q, want test:room:r2", call.key)
	}
	if call.expiration != time.Hour {
		t.Errorf("Set expiration = %v, want 1h", call.expiration)
	}

	state, last, err := store.Load(ctx, "r2")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if string(state) != "two" || !last.Equal(at) {
		t.Errorf("Load() = %q, %v", state, last)
	}

	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"r1", "r2"}) {
		t.Errorf("List() = %v, want [r1 r2]", ids)
	}

	if err := store.Delete(ctx, "r2"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, _, err := store.Load(ctx, "r2"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Load() after Delete error = %v, want ErrRoomNotFound", err)
	}
	ids, _ = store.List(ctx)
	if !reflect.DeepEqual(ids, []string{"r1"}) {
		t.Errorf("List() after Delete = %v, want [r1]", ids)
	}
}

func TestRedisStore_StoresEncodedRecord(t *testing.T) {
	client := newMockRedisClient()
	store := NewRedisStore(client)
	state := bytes.Repeat([]byte("abcd"), 1024)

	if err := store.Save(context.Background(), "big", state, time.Unix(5, 0)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	raw := client.data[store.Prefix()+"big"]
	if len(raw) >= len(state) {
		t.Errorf("stored %d bytes for %d bytes of repetitive state, want compression", len(raw), len(state))
	}
	rec, err := DecodeRecord(raw)
	if err != nil {
		t.Fatalf("DecodeRecord() error: %v", err)
	}
	if rec.RoomID != "big" || !bytes.Equal(rec.State, state) {
		t.Errorf("record = %s/%d bytes", rec.RoomID, len(rec.State))
	}
}

func TestRedisStore_Errors(t *testing.T) {
	client := newMockRedisClient()
	store := NewRedisStore(client)
	ctx := context.Background()

	boom := errors.New("connection refused")
	client.setErr = boom
	if err := store.Save(ctx, "r", []byte("x"), time.Now()); !errors.Is(err, boom) {
		t.Errorf("Save() error = %v, want wrapped %v", err, boom)
	}

	client.getErr = boom
	if _, _, err := store.Load(ctx, "r"); !errors.Is(err, boom) {
		t.Errorf("Load() error = %v, want wrapped %v", err, boom)
	}

	_ = store.Close()
	if _, _, err := store.Load(ctx, "r"); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Load() after Close error = %v, want ErrStoreClosed", err)
	}
}
