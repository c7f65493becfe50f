package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/portfolio-dashboard/internal/logging"
	"github.com/portfolio-dashboard/internal/storage"
	"github.com/portfolio-dashboard/internal/types"
	"github.com/shopspring/decimal"
)

// Aggregation defaults
const (
	DefaultBalancesTTL  = 60 * time.Second
	DefaultChainTimeout = 15 * time.Second
)

// ChainBalanceFetcher returns the holdings of an address on one chain
type ChainBalanceFetcher interface {
	GetTokenBalances(ctx context.Context, address string, chain types.ChainID) ([]types.TokenHolding, error)
}

// ChainFlags reports which chains a request asked for
type ChainFlags struct {
	Ethereum bool `json:"ethereum"`
	Polygon  bool `json:"polygon"`
	Arbitrum bool `json:"arbitrum"`
}

// NewChainFlags marks every chain in chains as requested
func NewChainFlags(chains []types.ChainID) ChainFlags {
	var f ChainFlags
	for _, c := range chains {
		switch c {
		case types.ChainEthereum:
			f.Ethereum = true
		case types.ChainPolygon:
			f.Polygon = true
		case types.ChainArbitrum:
			f.Arbitrum = true
		}
	}
	return f
}

// BalancesResponse is the aggregated, cacheable balances payload
type BalancesResponse struct {
	Address       string                  `json:"address"`
	Chains        ChainFlags              `json:"chains"`
	Tokens        []types.TokenHoldingDTO `json:"tokens"`
	Errors        map[string]string       `json:"errors"`
	TotalValueUSD float64                 `json:"totalValueUsd"`
}

// AggregationConfig holds the aggregation tunables
type AggregationConfig struct {
	CacheTTL     time.Duration
	ChainTimeout time.Duration
	// Monitor, when set, records every chain fetch
	Monitor *FetchMonitor
}

// AggregationService fans a balances request out over chains and merges the
// results. A failing chain never fails the whole request.
type AggregationService struct {
	fetcher      ChainBalanceFetcher
	cache        *storage.CacheStore
	cacheTTL     time.Duration
	chainTimeout time.Duration
	monitor      *FetchMonitor
	logger       *logging.Logger
}

// NewAggregationService creates a new aggregation service
func NewAggregationService(fetcher ChainBalanceFetcher, cache *storage.CacheStore, cfg AggregationConfig, logger *logging.Logger) *AggregationService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultBalancesTTL
	}
	if cfg.ChainTimeout <= 0 {
		cfg.ChainTimeout = DefaultChainTimeout
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &AggregationService{
		fetcher:      fetcher,
		cache:        cache,
		cacheTTL:     cfg.CacheTTL,
		chainTimeout: cfg.ChainTimeout,
		monitor:      cfg.Monitor,
		logger:       logger.WithField("component", "aggregation"),
	}
}

// GetBalances returns the merged holdings of address across chains, served
// from cache when possible. hit reports a cache hit.
func (s *AggregationService) GetBalances(ctx context.Context, address string, chains []types.ChainID) (resp *BalancesResponse, hit bool, err error) {
	address = strings.ToLower(address)
	key := storage.BalancesKey(address, chains)

	if s.cache == nil {
		r := s.aggregate(ctx, address, chains)
		return r, false, nil
	}

	var cached BalancesResponse
	hit, err = s.cache.Remember(ctx, key, s.cacheTTL, &cached, func(ctx context.Context) (interface{}, error) {
		return s.aggregate(ctx, address, chains), nil
	})
	if err != nil {
		return nil, false, err
	}
	if cached.Errors == nil {
		cached.Errors = map[string]string{}
	}
	if cached.Tokens == nil {
		cached.Tokens = []types.TokenHoldingDTO{}
	}
	return &cached, hit, nil
}

type chainResult struct {
	holdings []types.TokenHolding
	err      error
}

// aggregate fetches every requested chain concurrently and joins the results
// in SupportedChains order
func (s *AggregationService) aggregate(ctx context.Context, address string, chains []types.ChainID) *BalancesResponse {
	ordered := orderChains(chains)
	results := make([]chainResult, len(ordered))

	var wg sync.WaitGroup
	for i, chain := range ordered {
		wg.Add(1)
		go func(i int, chain types.ChainID) {
			defer wg.Done()
			results[i] = s.fetchChain(ctx, address, chain)
		}(i, chain)
	}
	wg.Wait()

	resp := &BalancesResponse{
		Address: address,
		Chains:  NewChainFlags(chains),
		Tokens:  []types.TokenHoldingDTO{},
		Errors:  map[string]string{},
	}

	merged := make([]types.TokenHolding, 0)
	for i, chain := range ordered {
		if err := results[i].err; err != nil {
			resp.Errors[string(chain)] = err.Error()
			s.logger.WithError(err).WithFields(map[string]interface{}{
				"chain":   string(chain),
				"address": address,
			}).Warn("Chain balance fetch failed")
			continue
		}
		merged = append(merged, results[i].holdings...)
	}

	SortHoldings(merged)

	total := decimal.Zero
	for i := range merged {
		resp.Tokens = append(resp.Tokens, merged[i].DTO())
		total = total.Add(merged[i].SortValue())
	}
	resp.TotalValueUSD, _ = total.Float64()

	return resp
}

// fetchChain runs one chain fetch under the per-chain timeout. The timeout
// holds even if the fetcher ignores its context. Panics in the fetcher are
// reported as a chain failure.
func (s *AggregationService) fetchChain(ctx context.Context, address string, chain types.ChainID) chainResult {
	ctx, cancel := context.WithTimeout(ctx, s.chainTimeout)
	defer cancel()
	start := time.Now()

	done := make(chan chainResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- chainResult{err: fmt.Errorf("panic fetching %s balances: %v", chain, r)}
			}
		}()
		holdings, err := s.fetcher.GetTokenBalances(ctx, address, chain)
		done <- chainResult{holdings: holdings, err: err}
	}()

	var res chainResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = chainResult{err: ctx.Err()}
	}

	timedOut := res.err != nil && errors.Is(res.err, context.DeadlineExceeded)
	s.monitor.Record(chain, time.Since(start), res.err != nil, timedOut)

	if timedOut {
		return chainResult{err: fmt.Errorf("timed out after %s", s.chainTimeout)}
	}
	return res
}

// orderChains deduplicates chains and sorts them into SupportedChains order
func orderChains(chains []types.ChainID) []types.ChainID {
	want := make(map[types.ChainID]bool, len(chains))
	for _, c := range chains {
		want[c] = true
	}
	out := make([]types.ChainID, 0, len(want))
	for _, c := range types.SupportedChains {
		if want[c] {
			out = append(out, c)
		}
	}
	return out
}
