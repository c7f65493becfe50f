package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/portfolio-dashboard/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedPayload struct {
	Address string            `json:"address"`
	Tokens  []string          `json:"tokens"`
	Errors  map[string]string `json:"errors"`
}

// setupTestCache starts miniredis and returns a cache store on top of it
func setupTestCache(t *testing.T) (*CacheStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCacheStore(NewRedisCacheFromClient(client), nil), mr
}

// missingStore behaves like a backend that never holds anything
type missingStore struct{}

func (missingStore) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }
func (missingStore) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// brokenStore behaves like an unreachable backend
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("dial tcp 127.0.0.1:6379: connection refused")
}
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("dial tcp 127.0.0.1:6379: connection refused")
}

func TestCacheStore_RoundTrip(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := testContext(t)

	want := cachedPayload{
		Address: "0xabc",
		Tokens:  []string{"USDC", "WETH"},
		Errors:  map[string]string{"polygon": "timeout"},
	}
	cache.Set(ctx, "balances:0xabc:ethereum,polygon", want, time.Minute)

	var got cachedPayload
	require.True(t, cache.Get(ctx, "balances:0xabc:ethereum,polygon", &got))
	assert.Equal(t, want, got)
	assert.Equal(t, int64(1), cache.Stats().Hits)
}

func TestCacheStore_ExpiredEntryIsMiss(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := testContext(t)

	cache.Set(ctx, "k", cachedPayload{Address: "0xabc"}, 30*time.Second)
	mr.FastForward(31 * time.Second)

	var got cachedPayload
	assert.False(t, cache.Get(ctx, "k", &got))
}

func TestCacheStore_CorruptValueIsMiss(t *testing.T) {
	cache, mr := setupTestCache(t)
	require.NoError(t, mr.Set("k", "{not json"))

	var got cachedPayload
	assert.False(t, cache.Get(testContext(t), "k", &got))
	assert.Equal(t, int64(1), cache.Stats().Errors)
}

func TestCacheStore_AlwaysMissStore(t *testing.T) {
	cache := NewCacheStore(missingStore{}, nil)
	ctx := testContext(t)

	cache.Set(ctx, "k", cachedPayload{Address: "0xabc"}, time.Minute)

	var got cachedPayload
	assert.False(t, cache.Get(ctx, "k", &got))
}

func TestCacheStore_UnreachableBackendNeverFails(t *testing.T) {
	cache := NewCacheStore(brokenStore{}, nil)
	ctx := testContext(t)

	assert.NotPanics(t, func() {
		cache.Set(ctx, "k", cachedPayload{}, time.Minute)
	})

	var got cachedPayload
	assert.False(t, cache.Get(ctx, "k", &got))

	hit, err := cache.Remember(ctx, "k", time.Minute, &got, func(context.Context) (interface{}, error) {
		return cachedPayload{Address: "0xfresh"}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "0xfresh", got.Address)
	assert.GreaterOrEqual(t, cache.Stats().Errors, int64(2))
}

func TestCacheStore_RememberHitAndMiss(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := testContext(t)

	calls := 0
	fetch := func(context.Context) (interface{}, error) {
		calls++
		return cachedPayload{Address: "0xabc"}, nil
	}

	var first, second cachedPayload
	hit, err := cache.Remember(ctx, "k", time.Minute, &first, fetch)
	require.NoError(t, err)
	assert.False(t, hit)

	hit, err = cache.Remember(ctx, "k", time.Minute, &second, fetch)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestCacheStore_RememberDoesNotCacheErrors(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := testContext(t)

	var got cachedPayload
	_, err := cache.Remember(ctx, "k", time.Minute, &got, func(context.Context) (interface{}, error) {
		return nil, errors.New("upstream down")
	})
	require.Error(t, err)
	assert.False(t, mr.Exists("k"))
}

func TestCacheStore_RememberCoalescesConcurrentMisses(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := testContext(t)

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (interface{}, error) {
		calls.Add(1)
		<-release
		return cachedPayload{Address: "0xabc"}, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]cachedPayload, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := cache.Remember(ctx, "k", time.Minute, &results[i], fetch)
			assert.NoError(t, err)
		}(i)
	}

	// let the goroutines pile up on the in-flight fetch
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(2))
	for _, r := range results {
		assert.Equal(t, "0xabc", r.Address)
	}
}

func TestBalancesKey(t *testing.T) {
	a := BalancesKey("0xABCdef", []types.ChainID{types.ChainPolygon, types.ChainEthereum})
	b := BalancesKey("0xabcDEF", []types.ChainID{types.ChainEthereum, types.ChainPolygon})

	assert.Equal(t, "balances:0xabcdef:ethereum,polygon", a)
	assert.Equal(t, a, b)
	assert.Equal(t, "defi:lido:0xabc", DeFiKey("lido", "0xABC"))
}
