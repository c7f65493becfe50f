package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is the persisted state of one fixed rate-limit window
type Window struct {
	Count   int   `json:"count"`
	ResetAt int64 `json:"resetAt"` // unix seconds
}

// Store persists rate-limit windows. Get returns nil, nil for an absent key.
type Store interface {
	Get(ctx context.Context, key string) (*Window, error)
	Set(ctx context.Context, key string, w Window, ttl time.Duration) error
}

// atomicStore is implemented by stores that can check-and-increment in one step
type atomicStore interface {
	Increment(ctx context.Context, key string, limit int, window time.Duration, now int64) (Window, bool, error)
}

// RedisStore keeps windows in Redis as JSON values
type RedisStore struct {
	redis redis.Cmdable
}

// NewRedisStore creates a window store on top of a Redis client
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{redis: client}
}

// Get reads the window stored under key
func (s *RedisStore) Get(ctx context.Context, key string) (*Window, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var w Window
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("invalid window at %s: %w", key, err)
	}
	return &w, nil
}

// Set writes the window under key with the given TTL
func (s *RedisStore) Set(ctx context.Context, key string, w Window, ttl time.Duration) error {
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

// incrementScript reads, resets if expired, and increments a window in one
// round trip. The value format matches RedisStore.Set so both modes can share keys.
var incrementScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])
	local window = tonumber(ARGV[3])

	local count = 0
	local resetAt = now + window

	local raw = redis.call('GET', key)
	if raw then
		local w = cjson.decode(raw)
		if now <= tonumber(w.resetAt) then
			count = tonumber(w.count)
			resetAt = tonumber(w.resetAt)
		end
	end

	count = count + 1
	if count > limit then
		return {0, count - 1, resetAt}
	end

	redis.call('SET', key, cjson.encode({count = count, resetAt = resetAt}), 'EX', window)
	return {1, count, resetAt}
`)

// Increment runs the fixed-window check-and-increment atomically in Redis
func (s *RedisStore) Increment(ctx context.Context, key string, limit int, window time.Duration, now int64) (Window, bool, error) {
	res, err := incrementScript.Run(ctx, s.redis, []string{key}, now, limit, windowSeconds(window)).Int64Slice()
	if err != nil {
		return Window{}, false, err
	}
	if len(res) != 3 {
		return Window{}, false, fmt.Errorf("unexpected script result length %d", len(res))
	}
	return Window{Count: int(res[1]), ResetAt: res[2]}, res[0] == 1, nil
}

type memoryEntry struct {
	window    Window
	expiresAt time.Time
}

// maxMemoryEntries triggers a sweep of expired entries
const maxMemoryEntries = 10000

// MemoryStore keeps windows in process memory. It is the fallback when the
// shared store is unreachable.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   Clock
}

// NewMemoryStore creates an empty in-memory window store
func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		clock:   clock,
	}
}

// Get returns the window for key, or nil if absent or expired
func (s *MemoryStore) Get(_ context.Context, key string) (*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if !s.clock().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, nil
	}
	w := e.window
	return &w, nil
}

// Set stores the window for key until ttl elapses
func (s *MemoryStore) Set(_ context.Context, key string, w Window, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if len(s.entries) >= maxMemoryEntries {
		for k, e := range s.entries {
			if !now.Before(e.expiresAt) {
				delete(s.entries, k)
			}
		}
	}
	s.entries[key] = memoryEntry{window: w, expiresAt: now.Add(ttl)}
	return nil
}

// Len returns the number of stored windows, expired ones included
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
