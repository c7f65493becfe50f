package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/portfolio-dashboard/internal/logging"
	"github.com/portfolio-dashboard/internal/types"
	"golang.org/x/sync/singleflight"
)

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyBalances is for aggregated multi-chain balances
	CacheKeyBalances CacheKeyType = "balances"
	// CacheKeyDeFi is for protocol position summaries
	CacheKeyDeFi CacheKeyType = "defi"
)

// GenerateCacheKey builds <type>:<param1>:<param2>:... with lowercased params
func GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, string(keyType))
	for _, p := range params {
		parts = append(parts, strings.ToLower(p))
	}
	return strings.Join(parts, ":")
}

// BalancesKey returns balances:<address>:<sorted,chains>. The chain order in
// the request does not affect the key.
func BalancesKey(address string, chains []types.ChainID) string {
	names := make([]string, len(chains))
	for i, c := range chains {
		names[i] = string(c)
	}
	sort.Strings(names)
	return GenerateCacheKey(CacheKeyBalances, address, strings.Join(names, ","))
}

// DeFiKey returns defi:<protocol>:<address>
func DeFiKey(protocol, address string) string {
	return GenerateCacheKey(CacheKeyDeFi, protocol, address)
}

// CacheStats counts cache outcomes since process start
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`
}

// CacheStore is a JSON response cache over a KeyValueStore. It never fails a
// caller: unreachable backends read as misses and write failures are logged.
type CacheStore struct {
	store  KeyValueStore
	logger *logging.Logger
	group  singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// NewCacheStore creates a new cache store
func NewCacheStore(store KeyValueStore, logger *logging.Logger) *CacheStore {
	if logger == nil {
		logger = logging.Nop()
	}
	return &CacheStore{
		store:  store,
		logger: logger.WithField("component", "cache"),
	}
}

// Get decodes the value stored under key into dest. It reports false on a
// miss, a decode failure, or an unreachable backend.
func (c *CacheStore) Get(ctx context.Context, key string, dest interface{}) bool {
	if c.store == nil {
		c.misses.Add(1)
		return false
	}

	data, err := c.store.Get(ctx, key)
	if err != nil {
		c.misses.Add(1)
		if !errors.Is(err, ErrCacheMiss) {
			c.errors.Add(1)
			c.logger.WithError(err).WithField("key", key).Warn("Cache read failed, treating as miss")
		}
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.misses.Add(1)
		c.errors.Add(1)
		c.logger.WithError(err).WithField("key", key).Warn("Cached value could not be decoded, treating as miss")
		return false
	}

	c.hits.Add(1)
	return true
}

// Set stores value under key for ttl. Failures are logged and swallowed.
func (c *CacheStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if c.store == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		c.errors.Add(1)
		c.logger.WithError(err).WithField("key", key).Error("Failed to encode cache value")
		return
	}

	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		c.errors.Add(1)
		c.logger.WithError(err).WithField("key", key).Warn("Cache write failed")
	}
}

// Remember serves key from cache or runs fetch, caching its result for ttl.
// Concurrent misses on the same key share one fetch. hit reports whether the
// value came from the cache. Fetch errors are returned and not cached.
//
// The shared fetch is detached from the cancellation of the request that
// started it; each caller still stops waiting when its own ctx is done.
func (c *CacheStore) Remember(ctx context.Context, key string, ttl time.Duration, dest interface{}, fetch func(ctx context.Context) (interface{}, error)) (hit bool, err error) {
	if c.Get(ctx, key, dest) {
		return true, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		value, err := fetch(shared)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode fetched value: %w", err)
		}
		if c.store != nil {
			if err := c.store.Set(shared, key, data, ttl); err != nil {
				c.errors.Add(1)
				c.logger.WithError(err).WithField("key", key).Warn("Cache write failed")
			}
		}
		return data, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return false, res.Err
	}

	if err := json.Unmarshal(res.Val.([]byte), dest); err != nil {
		return false, fmt.Errorf("failed to decode fetched value: %w", err)
	}
	return false, nil
}

// Stats returns a snapshot of the cache counters
func (c *CacheStore) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errors.Load(),
	}
}
