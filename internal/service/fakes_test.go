package service

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/portfolio-dashboard/internal/adapter"
	"github.com/portfolio-dashboard/internal/storage"
	"github.com/portfolio-dashboard/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// newTestCache returns a cache store backed by miniredis
func newTestCache(t *testing.T) (*storage.CacheStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return storage.NewCacheStore(storage.NewRedisCacheFromClient(client), nil), mr
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func bigInt(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad big int " + s)
	}
	return n
}

// fakePrices is a PriceSource over fixed maps
type fakePrices struct {
	mu          sync.Mutex
	simple      map[string]adapter.SimplePrice
	byAddress   map[string]adapter.TokenPrice
	err         error
	simpleCalls int
	tokenCalls  int
}

func (f *fakePrices) GetSimplePrices(_ context.Context, ids []string, _ string) (map[string]adapter.SimplePrice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simpleCalls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]adapter.SimplePrice)
	for _, id := range ids {
		if p, ok := f.simple[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakePrices) GetTokenPricesByAddress(_ context.Context, _ string, addresses []string, _ string) (map[string]adapter.TokenPrice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenCalls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]adapter.TokenPrice)
	for _, a := range addresses {
		if p, ok := f.byAddress[a]; ok {
			out[a] = p
		}
	}
	return out, nil
}

// fakeBalances is a TokenBalanceSource over fixed data
type fakeBalances struct {
	enabled  bool
	raw      []adapter.RawTokenBalance
	skipped  []error
	metadata map[string]adapter.TokenMetadata
	listErr  error
	metaErr  error
	calls    int
}

func (f *fakeBalances) Enabled(types.ChainID) bool { return f.enabled }

func (f *fakeBalances) GetTokenBalances(context.Context, types.ChainID, string) ([]adapter.RawTokenBalance, []error, error) {
	f.calls++
	if f.listErr != nil {
		return nil, nil, f.listErr
	}
	return f.raw, f.skipped, nil
}

func (f *fakeBalances) GetTokenMetadata(_ context.Context, _ types.ChainID, contracts []string) (map[string]adapter.TokenMetadata, error) {
	out := make(map[string]adapter.TokenMetadata)
	for _, c := range contracts {
		if m, ok := f.metadata[c]; ok {
			out[c] = m
		}
	}
	return out, f.metaErr
}
