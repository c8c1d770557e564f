// Package idempotency stores responses keyed by Idempotency-Key so repeated
// client requests replay the first result.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"tailorhub/internal/common/middleware"
)

// RedisConfig holds redis configuration
type RedisConfig struct {
	Enabled bool          `envconfig:"REDIS_ENABLED" default:"false"`
	Addr    string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	DB      int           `envconfig:"REDIS_DB" default:"0"`
	TTL     time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
}

var (
	_ middleware.IdempotencyStore = (*RedisStore)(nil)
	_ middleware.IdempotencyStore = (*MemoryStore)(nil)
)

const keyPrefix = "idem:"

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *RedisStore) Reserve(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, keyPrefix+key, value, ttl).Result()
}

func (s *RedisStore) Set(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, keyPrefix+key, response, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, keyPrefix+key).Err()
}

type memEntry struct {
	body    []byte
	expires time.Time
}

// MemoryStore is a process-local store used when redis is disabled.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memEntry), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if s.now().After(e.expires) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return e.body, true, nil
}

func (s *MemoryStore) Reserve(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && !s.now().After(e.expires) {
		return false, nil
	}
	s.entries[key] = memEntry{body: append([]byte(nil), value...), expires: s.now().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, response []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{body: append([]byte(nil), response...), expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
