package adapter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/portfolio-dashboard/internal/types"
	"golang.org/x/time/rate"
)

// DefaultMetadataBatchSize is the number of alchemy_getTokenMetadata calls per JSON-RPC batch
const DefaultMetadataBatchSize = 25

// RawTokenBalance is one validated entry of alchemy_getTokenBalances
type RawTokenBalance struct {
	ContractAddress string // lowercase
	Balance         *big.Int
}

// TokenMetadata is the decoded result of alchemy_getTokenMetadata.
// Any field may be missing.
type TokenMetadata struct {
	Name     *string `json:"name"`
	Symbol   *string `json:"symbol"`
	Decimals *int    `json:"decimals"`
	Logo     *string `json:"logo"`
}

type alchemyTokenBalance struct {
	ContractAddress string  `json:"contractAddress"`
	TokenBalance    *string `json:"tokenBalance"`
	Error           *string `json:"error"`
}

type alchemyTokenBalancesResult struct {
	Address       string                `json:"address"`
	TokenBalances []alchemyTokenBalance `json:"tokenBalances"`
}

// AlchemyConfig configures an AlchemyClient
type AlchemyConfig struct {
	// URLFor returns the JSON-RPC endpoint for a chain, or "" when unconfigured
	URLFor            func(chain types.ChainID) string
	MetadataBatchSize int
	// RequestsPerSecond paces outbound calls; zero means unlimited
	RequestsPerSecond float64
}

// AlchemyClient queries Alchemy's enhanced token APIs over JSON-RPC
type AlchemyClient struct {
	urlFor    func(chain types.ChainID) string
	batchSize int
	limiter   *rate.Limiter

	mu      sync.Mutex
	clients map[string]*rpc.Client
}

// NewAlchemyClient creates a new Alchemy client
func NewAlchemyClient(cfg AlchemyConfig) *AlchemyClient {
	batchSize := cfg.MetadataBatchSize
	if batchSize <= 0 {
		batchSize = DefaultMetadataBatchSize
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	urlFor := cfg.URLFor
	if urlFor == nil {
		urlFor = func(types.ChainID) string { return "" }
	}
	return &AlchemyClient{
		urlFor:    urlFor,
		batchSize: batchSize,
		limiter:   rate.NewLimiter(limit, 1),
		clients:   make(map[string]*rpc.Client),
	}
}

// Enabled reports whether an endpoint is configured for the chain
func (c *AlchemyClient) Enabled(chain types.ChainID) bool {
	return c.urlFor(chain) != ""
}

// client returns a cached RPC client for the chain's endpoint
func (c *AlchemyClient) client(ctx context.Context, chain types.ChainID) (*rpc.Client, error) {
	url := c.urlFor(chain)
	if url == "" {
		return nil, ErrNotConfigured
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.clients[url]; ok {
		return cl, nil
	}
	cl, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, NewAdapterError(chain, "Dial", err, nil)
	}
	c.clients[url] = cl
	return cl, nil
}

// GetTokenBalances lists the ERC-20 balances of address on chain. Zero
// balances are dropped. Entries that fail validation are returned as
// *ParseError values in skipped instead of failing the call.
func (c *AlchemyClient) GetTokenBalances(ctx context.Context, chain types.ChainID, address string) (balances []RawTokenBalance, skipped []error, err error) {
	cl, err := c.client(ctx, chain)
	if err != nil {
		return nil, nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	var result alchemyTokenBalancesResult
	if err := cl.CallContext(ctx, &result, "alchemy_getTokenBalances", address, "erc20"); err != nil {
		return nil, nil, NewAdapterError(chain, "GetTokenBalances", err, nil)
	}

	balances = make([]RawTokenBalance, 0, len(result.TokenBalances))
	for _, tb := range result.TokenBalances {
		raw, perr := validateTokenBalance(tb)
		if perr != nil {
			skipped = append(skipped, perr)
			continue
		}
		if raw.Balance.Sign() == 0 {
			continue
		}
		balances = append(balances, raw)
	}
	return balances, skipped, nil
}

// validateTokenBalance turns one untyped balance entry into a RawTokenBalance
func validateTokenBalance(tb alchemyTokenBalance) (RawTokenBalance, error) {
	const source = "alchemy_getTokenBalances"

	if !common.IsHexAddress(tb.ContractAddress) {
		return RawTokenBalance{}, &ParseError{Source: source, Field: "contractAddress", Value: tb.ContractAddress, Err: errors.New("not a hex address")}
	}
	if tb.Error != nil {
		return RawTokenBalance{}, &ParseError{Source: source, Field: "tokenBalance", Value: tb.ContractAddress, Err: errors.New(*tb.Error)}
	}
	if tb.TokenBalance == nil {
		return RawTokenBalance{}, &ParseError{Source: source, Field: "tokenBalance", Value: tb.ContractAddress, Err: errors.New("missing")}
	}

	balance, err := ParseHexQuantity(*tb.TokenBalance)
	if err != nil {
		return RawTokenBalance{}, &ParseError{Source: source, Field: "tokenBalance", Value: *tb.TokenBalance, Err: err}
	}

	return RawTokenBalance{
		ContractAddress: strings.ToLower(tb.ContractAddress),
		Balance:         balance,
	}, nil
}

// ParseHexQuantity decodes a 0x-prefixed hex integer. Unlike
// hexutil.DecodeBig it accepts the zero-padded 32-byte words Alchemy returns.
func ParseHexQuantity(s string) (*big.Int, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, hexutil.ErrMissingPrefix
	}
	digits := strings.TrimLeft(s[2:], "0")
	if digits == "" {
		return new(big.Int), nil
	}
	return hexutil.DecodeBig("0x" + digits)
}

// GetTokenMetadata fetches metadata for each contract in JSON-RPC batches.
// A failed entry is simply absent from the result. The returned error reports
// batches that failed as a whole; the map still holds everything that succeeded.
func (c *AlchemyClient) GetTokenMetadata(ctx context.Context, chain types.ChainID, contracts []string) (map[string]TokenMetadata, error) {
	out := make(map[string]TokenMetadata, len(contracts))
	if len(contracts) == 0 {
		return out, nil
	}

	cl, err := c.client(ctx, chain)
	if err != nil {
		return out, err
	}

	var batchErrs []error
	for start := 0; start < len(contracts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(contracts) {
			end = len(contracts)
		}
		chunk := contracts[start:end]

		if err := c.limiter.Wait(ctx); err != nil {
			return out, err
		}

		results := make([]TokenMetadata, len(chunk))
		batch := make([]rpc.BatchElem, len(chunk))
		for i, contract := range chunk {
			batch[i] = rpc.BatchElem{
				Method: "alchemy_getTokenMetadata",
				Args:   []interface{}{contract},
				Result: &results[i],
			}
		}

		if err := cl.BatchCallContext(ctx, batch); err != nil {
			batchErrs = append(batchErrs, fmt.Errorf("metadata batch %d-%d: %w", start, end, err))
			continue
		}
		for i, elem := range batch {
			if elem.Error != nil {
				continue
			}
			out[strings.ToLower(chunk[i])] = results[i]
		}
	}

	if len(batchErrs) > 0 {
		return out, NewAdapterError(chain, "GetTokenMetadata", errors.Join(batchErrs...), nil)
	}
	return out, nil
}

// Close closes every cached RPC client
func (c *AlchemyClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for url, cl := range c.clients {
		cl.Close()
		delete(c.clients, url)
	}
}
