package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient defines the subset of Redis operations RedisStore needs.
// NewGoRedisClient adapts a github.com/redis/go-redis/v9 client.
type RedisClient interface {
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	// Get returns ErrRedisNil when the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	Close() error
}

// ErrRedisNil is returned by RedisClient.Get when a key doesn't exist.
var ErrRedisNil = errors.New("redis: nil")

// RedisStore is a Redis-backed room store.
// Each room is one key holding an encoded Record; a set indexes room ids
// for List.
type RedisStore struct {
	client RedisClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
	closed atomic.Bool
}

// RedisStoreOption configures RedisStore behavior.
type RedisStoreOption func(*redisStoreConfig)

type redisStoreConfig struct {
	prefix string
	ttl    time.Duration
}

// WithRedisPrefix sets the key prefix for room keys.
// Default: "relay:room:".
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(c *redisStoreConfig) {
		c.prefix = prefix
	}
}

// WithRedisTTL expires room records that are not saved again within ttl.
// Default: 0 (records never expire).
func WithRedisTTL(ttl time.Duration) RedisStoreOption {
	return func(c *redisStoreConfig) {
		c.ttl = ttl
	}
}

// NewRedisStore creates a new Redis-backed room store.
func NewRedisStore(client RedisClient, opts ...RedisStoreOption) *RedisStore {
	cfg := &redisStoreConfig{
		prefix: "relay:room:",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &RedisStore{
		client: client,
		prefix: cfg.prefix,
		ttl:    cfg.ttl,
		now:    time.Now,
	}
}

// key returns the Redis key for a room ID.
func (r *RedisStore) key(roomID string) string {
	return r.prefix + roomID
}

// indexKey returns the key of the set holding every room id.
func (r *RedisStore) indexKey() string {
	return strings.TrimSuffix(r.prefix, ":") + ":index"
}

// Save stores an encoded record for the room.
func (r *RedisStore) Save(ctx context.Context, roomID string, state []byte, lastActivity time.Time) error {
	if r.closed.Load() {
		return ErrStoreClosed
	}

	data, err := EncodeRecord(roomID, state, lastActivity, r.now())
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(roomID), data, r.ttl); err != nil {
		return fmt.Errorf("redis save %s: %w", roomID, err)
	}
	if err := r.client.SAdd(ctx, r.indexKey(), roomID); err != nil {
		return fmt.Errorf("redis index %s: %w", roomID, err)
	}
	return nil
}

// Load retrieves and decodes the room's record.
func (r *RedisStore) Load(ctx context.Context, roomID string) ([]byte, time.Time, error) {
	if r.closed.Load() {
		return nil, time.Time{}, ErrStoreClosed
	}

	data, err := r.client.Get(ctx, r.key(roomID))
	if err != nil {
		if errors.Is(err, ErrRedisNil) {
			return nil, time.Time{}, ErrRoomNotFound
		}
		return nil, time.Time{}, fmt.Errorf("redis load %s: %w", roomID, err)
	}

	rec, err := DecodeRecord(data)
	if err != nil {
		return nil, time.Time{}, err
	}
	return rec.State, rec.LastActivityTime(), nil
}

// List returns the indexed room ids in sorted order. Ids whose record
// expired may still be listed until they are deleted.
func (r *RedisStore) List(ctx context.Context) ([]string, error) {
	if r.closed.Load() {
		return nil, ErrStoreClosed
	}

	ids, err := r.client.SMembers(ctx, r.indexKey())
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a room's record and its index entry.
func (r *RedisStore) Delete(ctx context.Context, roomID string) error {
	if r.closed.Load() {
		return ErrStoreClosed
	}

	if err := r.client.Del(ctx, r.key(roomID)); err != nil {
		return fmt.Errorf("redis delete %s: %w", roomID, err)
	}
	return r.client.SRem(ctx, r.indexKey(), roomID)
}

// Close marks the store as closed.
// Note: This does not close the underlying Redis client,
// as it may be shared with other components.
func (r *RedisStore) Close() error {
	r.closed.Store(true)
	return nil
}

// Prefix returns the current key prefix.
func (r *RedisStore) Prefix() string {
	return r.prefix
}

// goRedisClient adapts *redis.Client to RedisClient.
type goRedisClient struct {
	c *redis.Client
}

// NewGoRedisClient wraps a go-redis client for use with NewRedisStore.
func NewGoRedisClient(c *redis.Client) RedisClient {
	return goRedisClient{c: c}
}

func (g goRedisClient) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return g.c.Set(ctx, key, value, expiration).Err()
}

func (g goRedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := g.c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRedisNil
	}
	return b, err
}

func (g goRedisClient) Del(ctx context.Context, keys ...string) error {
	return g.c.Del(ctx, keys...).Err()
}

func (g goRedisClient) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return g.c.SAdd(ctx, key, args...).Err()
}

func (g goRedisClient) SRem(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return g.c.SRem(ctx, key, args...).Err()
}

func (g goRedisClient) SMembers(ctx context.Context, key string) ([]string, error) {
	return g.c.SMembers(ctx, key).Result()
}

func (g goRedisClient) Close() error {
	return g.c.Close()
}
