package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MikeGii/vomm-sub003/model"
)

// Store deduplicates work mutation requests. Clients send an
// X-Idempotency-Key header with Start, Cancel and ResolveEvent calls; a
// retry under the same key replays the original response instead of
// re-executing the operation. Keys follow "idem:{playerId}:{key}".
type Store interface {
	// Check looks up a previous response. A hit with a matching input hash
	// returns the cached response; a hit with a different hash returns a
	// conflict error, because the caller is reusing a key for new input.
	Check(ctx context.Context, key string, inputHash string) (resp *StoredResponse, found bool, err error)

	// Store saves a response under the key for ttl.
	Store(ctx context.Context, key string, inputHash string, resp StoredResponse, ttl time.Duration) error
}

// StoredResponse is the cached outcome of a mutation request.
type StoredResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type record struct {
	InputHash string         `json:"input_hash"`
	Response  StoredResponse `json:"response"`
}

func keyReused(key string) error {
	return model.NewConflictError(
		fmt.Sprintf("idempotency key %q already used with different input", key),
	)
}

// FormatKey builds the standard idempotency key.
func FormatKey(playerID, key string) string {
	return fmt.Sprintf("idem:%s:%s", playerID, key)
}

// MemoryStore keeps records in a map with lazy TTL expiry. Used by tests
// and single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memRecord
}

type memRecord struct {
	record
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memRecord)}
}

func (s *MemoryStore) Check(_ context.Context, key string, inputHash string) (*StoredResponse, bool, error) {
	s.mu.RLock()
	rec, exists := s.records[key]
	s.mu.RUnlock()
	if !exists {
		return nil, false, nil
	}

	if time.Now().After(rec.expiresAt) {
		s.mu.Lock()
		delete(s.records, key)
		s.mu.Unlock()
		return nil, false, nil
	}

	if rec.InputHash != inputHash {
		return nil, true, keyReused(key)
	}
	resp := rec.Response
	return &resp, true, nil
}

func (s *MemoryStore) Store(_ context.Context, key string, inputHash string, resp StoredResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = memRecord{
		record:    record{InputHash: inputHash, Response: resp},
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(_ context.Context) error { return nil }

// Len reports the record count, expired entries included. For tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// RedisStore shares idempotency records across instances, with redis
// handling TTL expiry.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a redis-backed idempotency store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Check(ctx context.Context, key string, inputHash string) (*StoredResponse, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency record %q: %w", key, err)
	}
	if rec.InputHash != inputHash {
		return nil, true, keyReused(key)
	}
	return &rec.Response, true, nil
}

func (s *RedisStore) Store(ctx context.Context, key string, inputHash string, resp StoredResponse, ttl time.Duration) error {
	data, err := json.Marshal(record{InputHash: inputHash, Response: resp})
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings the redis server.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
