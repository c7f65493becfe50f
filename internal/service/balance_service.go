package service

import (
	"context"
	"sort"
	"strings"

	"github.com/portfolio-dashboard/internal/adapter"
	"github.com/portfolio-dashboard/internal/circuitbreaker"
	"github.com/portfolio-dashboard/internal/logging"
	"github.com/portfolio-dashboard/internal/types"
	"github.com/shopspring/decimal"
)

// VsCurrency is the quote currency for every price lookup
const VsCurrency = "usd"

// TokenBalanceSource lists ERC-20 balances and token metadata for a chain
type TokenBalanceSource interface {
	Enabled(chain types.ChainID) bool
	GetTokenBalances(ctx context.Context, chain types.ChainID, address string) ([]adapter.RawTokenBalance, []error, error)
	GetTokenMetadata(ctx context.Context, chain types.ChainID, contracts []string) (map[string]adapter.TokenMetadata, error)
}

// PriceSource resolves USD prices
type PriceSource interface {
	GetSimplePrices(ctx context.Context, ids []string, vsCurrency string) (map[string]adapter.SimplePrice, error)
	GetTokenPricesByAddress(ctx context.Context, platform string, addresses []string, vsCurrency string) (map[string]adapter.TokenPrice, error)
}

// BalanceService builds priced token holdings for one address on one chain
type BalanceService struct {
	balances TokenBalanceSource
	prices   PriceSource
	breaker  *circuitbreaker.Breaker
	logger   *logging.Logger
}

// NewBalanceService creates a new balance service
func NewBalanceService(balances TokenBalanceSource, prices PriceSource, logger *logging.Logger) *BalanceService {
	if logger == nil {
		logger = logging.Nop()
	}
	return &BalanceService{
		balances: balances,
		prices:   prices,
		logger:   logger.WithField("component", "balances"),
	}
}

// WithPriceBreaker guards price lookups with b. While it is open holdings
// are returned unpriced without calling the price source.
func (s *BalanceService) WithPriceBreaker(b *circuitbreaker.Breaker) *BalanceService {
	s.breaker = b
	return s
}

// GetTokenBalances returns the non-zero ERC-20 holdings of address on chain,
// sorted by descending USD value.
//
// Without a configured balance provider the result is empty. Metadata and
// price failures degrade the holdings instead of failing the call; a failure
// of the balance listing itself is returned.
func (s *BalanceService) GetTokenBalances(ctx context.Context, address string, chain types.ChainID) ([]types.TokenHolding, error) {
	if chain.Index() < 0 {
		return nil, adapter.ErrUnsupportedChain
	}
	logger := logging.FromContext(ctx, s.logger).WithField("chain", string(chain))

	if !s.balances.Enabled(chain) {
		logger.Debug("No balance provider configured, returning no holdings")
		return []types.TokenHolding{}, nil
	}

	raw, skipped, err := s.balances.GetTokenBalances(ctx, chain, address)
	if err != nil {
		return nil, err
	}
	for _, perr := range skipped {
		logger.WithError(perr).Warn("Skipping malformed token balance")
	}
	if len(raw) == 0 {
		return []types.TokenHolding{}, nil
	}

	contracts := uniqueContracts(raw)

	metadata, err := s.balances.GetTokenMetadata(ctx, chain, contracts)
	if err != nil {
		logger.WithError(err).Warn("Token metadata partially unavailable")
	}

	var prices map[string]adapter.TokenPrice
	if s.prices != nil {
		err = s.breaker.Execute(func() error {
			var perr error
			prices, perr = s.prices.GetTokenPricesByAddress(ctx, chain.CoinGeckoPlatform(), contracts, VsCurrency)
			return perr
		})
		if err != nil {
			logger.WithError(err).Warn("Token prices unavailable, returning unpriced holdings")
		}
	}

	holdings := make([]types.TokenHolding, 0, len(raw))
	for _, rb := range raw {
		holdings = append(holdings, buildHolding(chain, rb, metadata[rb.ContractAddress], prices))
	}

	SortHoldings(holdings)
	return holdings, nil
}

// uniqueContracts returns the contract addresses in first-seen order
func uniqueContracts(raw []adapter.RawTokenBalance) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, rb := range raw {
		if _, ok := seen[rb.ContractAddress]; ok {
			continue
		}
		seen[rb.ContractAddress] = struct{}{}
		out = append(out, rb.ContractAddress)
	}
	return out
}

func buildHolding(chain types.ChainID, rb adapter.RawTokenBalance, meta adapter.TokenMetadata, prices map[string]adapter.TokenPrice) types.TokenHolding {
	h := types.TokenHolding{
		Chain:           chain,
		ContractAddress: strings.ToLower(rb.ContractAddress),
		Symbol:          meta.Symbol,
		Name:            meta.Name,
		Balance:         rb.Balance,
	}
	if meta.Decimals != nil && *meta.Decimals >= 0 {
		d := *meta.Decimals
		h.Decimals = &d
	}
	decimals := h.EffectiveDecimals()
	h.Formatted = types.FormatUnits(rb.Balance, decimals)

	if p, ok := prices[h.ContractAddress]; ok {
		price := p.Price
		value := price.Mul(decimal.NewFromBigInt(rb.Balance, -int32(decimals)))
		h.PriceUSD = &price
		h.ValueUSD = &value
	}
	return h
}

// SortHoldings orders holdings by descending USD value. Unpriced holdings
// count as zero; ties fall back to contract address, then input order.
func SortHoldings(holdings []types.TokenHolding) {
	sort.SliceStable(holdings, func(i, j int) bool {
		vi, vj := holdings[i].SortValue(), holdings[j].SortValue()
		if c := vi.Cmp(vj); c != 0 {
			return c > 0
		}
		return holdings[i].ContractAddress < holdings[j].ContractAddress
	})
}
