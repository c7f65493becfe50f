package service

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/portfolio-dashboard/internal/adapter"
	"github.com/portfolio-dashboard/internal/logging"
	"github.com/portfolio-dashboard/internal/storage"
	"github.com/portfolio-dashboard/internal/types"
	"github.com/shopspring/decimal"
)

// DefaultDeFiTTL is how long staking positions stay cached
const DefaultDeFiTTL = 5 * time.Minute

// Protocol ids used in cache keys and response sources
const (
	ProtocolAave       = "aave-v3"
	ProtocolLido       = "lido"
	ProtocolRocketPool = "rocket-pool"
)

// CoinGecko ids of the liquid staking tokens
const (
	coinGeckoStETH = "staked-ether"
	coinGeckoRETH  = "rocket-pool-eth"
)

// stakingDecimals is the decimals of stETH, rETH and the rETH exchange rate
const stakingDecimals = 18

// AaveSource returns a user's Aave reserves on one chain
type AaveSource interface {
	GetAaveUserPositions(ctx context.Context, chain types.ChainID, address string) (*adapter.AaveUserPositions, error)
}

// StakingAPRSource returns protocol APRs in percent
type StakingAPRSource interface {
	GetLidoAPR(ctx context.Context) (float64, error)
	GetRocketPoolAPR(ctx context.Context) (float64, error)
}

// TokenReader reads token contracts directly
type TokenReader interface {
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
	ExchangeRate(ctx context.Context, token common.Address) (*big.Int, error)
}

// AaveChainPosition summarizes a user's Aave position on one chain
type AaveChainPosition struct {
	Chain         types.ChainID `json:"chain"`
	SuppliedCount int           `json:"suppliedCount"`
	BorrowedCount int           `json:"borrowedCount"`
	// HealthFactor is nil when the subgraph does not report one
	HealthFactor *float64 `json:"healthFactor"`
}

// AaveTotals sums the per-chain counts
type AaveTotals struct {
	Supplied            int `json:"supplied"`
	Borrowed            int `json:"borrowed"`
	ChainsWithPositions int `json:"chainsWithPositions"`
}

// AavePositionsSummary is the Aave position of a user across chains
type AavePositionsSummary struct {
	Chains []AaveChainPosition `json:"chains"`
	Totals AaveTotals          `json:"totals"`
}

// LidoPosition is a user's stETH holding
type LidoPosition struct {
	Address      string   `json:"address"`
	StETHBalance string   `json:"stethBalance"`
	Formatted    string   `json:"formatted"`
	APR          *float64 `json:"apr"`
	PriceUSD     *float64 `json:"priceUsd,omitempty"`
	ValueUSD     *float64 `json:"valueUsd,omitempty"`
}

// RocketPoolPosition is a user's rETH holding
type RocketPoolPosition struct {
	Address      string   `json:"address"`
	RETHBalance  string   `json:"rethBalance"`
	Formatted    string   `json:"formatted"`
	ExchangeRate string   `json:"exchangeRate"` // ETH per rETH
	ETHValue     string   `json:"ethValue"`
	APR          *float64 `json:"apr"`
	PriceUSD     *float64 `json:"priceUsd,omitempty"`
	ValueUSD     *float64 `json:"valueUsd,omitempty"`
}

// DeFiService computes protocol position summaries
type DeFiService struct {
	aave   AaveSource
	apr    StakingAPRSource
	reader TokenReader
	prices PriceSource
	cache  *storage.CacheStore
	ttl    time.Duration
	logger *logging.Logger
}

// DeFiServiceConfig wires a DeFiService. Reader may be nil when no Ethereum
// RPC endpoint is configured; staking lookups then fail.
type DeFiServiceConfig struct {
	Aave   AaveSource
	APR    StakingAPRSource
	Reader TokenReader
	Prices PriceSource
	Cache  *storage.CacheStore
	TTL    time.Duration
	Logger *logging.Logger
}

// NewDeFiService creates a new DeFi service
func NewDeFiService(cfg DeFiServiceConfig) *DeFiService {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultDeFiTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &DeFiService{
		aave:   cfg.Aave,
		apr:    cfg.APR,
		reader: cfg.Reader,
		prices: cfg.Prices,
		cache:  cfg.Cache,
		ttl:    ttl,
		logger: logger.WithField("component", "defi"),
	}
}

// GetAavePositions queries each chain's subgraph and summarizes the user's
// supplied and borrowed reserves. Any chain failure fails the call.
func (s *DeFiService) GetAavePositions(ctx context.Context, address string, chains []types.ChainID) (*AavePositionsSummary, error) {
	address = strings.ToLower(address)
	ordered := orderChains(chains)

	positions := make([]*adapter.AaveUserPositions, len(ordered))
	errs := make([]error, len(ordered))

	var wg sync.WaitGroup
	for i, chain := range ordered {
		wg.Add(1)
		go func(i int, chain types.ChainID) {
			defer wg.Done()
			positions[i], errs[i] = s.aave.GetAaveUserPositions(ctx, chain, address)
		}(i, chain)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	summary := &AavePositionsSummary{Chains: make([]AaveChainPosition, 0, len(ordered))}
	for i, chain := range ordered {
		cp := summarizeAave(chain, positions[i])
		summary.Chains = append(summary.Chains, cp)
		summary.Totals.Supplied += cp.SuppliedCount
		summary.Totals.Borrowed += cp.BorrowedCount
		if cp.SuppliedCount+cp.BorrowedCount > 0 {
			summary.Totals.ChainsWithPositions++
		}
	}
	return summary, nil
}

func summarizeAave(chain types.ChainID, pos *adapter.AaveUserPositions) AaveChainPosition {
	cp := AaveChainPosition{Chain: chain}
	if pos == nil {
		return cp
	}
	for _, r := range pos.Reserves {
		if IsActiveAmount(r.CurrentATokenBalance) {
			cp.SuppliedCount++
		}
		if IsActiveAmount(r.CurrentVariableDebt) || IsActiveAmount(r.CurrentStableDebt) {
			cp.BorrowedCount++
		}
	}
	cp.HealthFactor = ParseHealthFactor(pos.HealthFactor)
	return cp
}

// IsActiveAmount reports whether a numeric string has any non-zero digit.
// This tolerates scientific notation and zero padding from the subgraph.
func IsActiveAmount(s string) bool {
	return strings.ContainsAny(s, "123456789")
}

// ParseHealthFactor rescales a 1e18 fixed-point health factor. Missing or
// unparsable values give nil, never zero.
func ParseHealthFactor(raw *string) *float64 {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(*raw))
	if err != nil {
		return nil
	}
	f, _ := d.Shift(-18).Float64()
	return &f
}

// GetLidoPosition returns the user's stETH position. hit reports a cache hit.
func (s *DeFiService) GetLidoPosition(ctx context.Context, address string) (pos *LidoPosition, hit bool, err error) {
	address = strings.ToLower(address)
	var out LidoPosition
	hit, err = s.remember(ctx, storage.DeFiKey(ProtocolLido, address), &out, func(ctx context.Context) (interface{}, error) {
		return s.fetchLido(ctx, address)
	})
	if err != nil {
		return nil, false, err
	}
	return &out, hit, nil
}

func (s *DeFiService) fetchLido(ctx context.Context, address string) (*LidoPosition, error) {
	if s.reader == nil {
		return nil, adapter.ErrNotConfigured
	}
	balance, err := s.reader.BalanceOf(ctx, adapter.StETHAddress, common.HexToAddress(address))
	if err != nil {
		return nil, err
	}

	pos := &LidoPosition{
		Address:      address,
		StETHBalance: balance.String(),
		Formatted:    types.FormatUnits(balance, stakingDecimals),
	}

	if s.apr != nil {
		if apr, err := s.apr.GetLidoAPR(ctx); err != nil {
			s.logger.WithError(err).Warn("Lido APR unavailable")
		} else {
			pos.APR = &apr
		}
	}

	pos.PriceUSD, pos.ValueUSD = s.stakingValue(ctx, coinGeckoStETH, decimal.NewFromBigInt(balance, -stakingDecimals))
	return pos, nil
}

// GetRocketPoolPosition returns the user's rETH position. hit reports a cache hit.
func (s *DeFiService) GetRocketPoolPosition(ctx context.Context, address string) (pos *RocketPoolPosition, hit bool, err error) {
	address = strings.ToLower(address)
	var out RocketPoolPosition
	hit, err = s.remember(ctx, storage.DeFiKey(ProtocolRocketPool, address), &out, func(ctx context.Context) (interface{}, error) {
		return s.fetchRocketPool(ctx, address)
	})
	if err != nil {
		return nil, false, err
	}
	return &out, hit, nil
}

func (s *DeFiService) fetchRocketPool(ctx context.Context, address string) (*RocketPoolPosition, error) {
	if s.reader == nil {
		return nil, adapter.ErrNotConfigured
	}
	balance, err := s.reader.BalanceOf(ctx, adapter.RETHAddress, common.HexToAddress(address))
	if err != nil {
		return nil, err
	}
	rate, err := s.reader.ExchangeRate(ctx, adapter.RETHAddress)
	if err != nil {
		return nil, err
	}

	amount := decimal.NewFromBigInt(balance, -stakingDecimals)
	rateDec := decimal.NewFromBigInt(rate, -stakingDecimals)

	pos := &RocketPoolPosition{
		Address:      address,
		RETHBalance:  balance.String(),
		Formatted:    amount.String(),
		ExchangeRate: rateDec.String(),
		ETHValue:     amount.Mul(rateDec).String(),
	}

	if s.apr != nil {
		if apr, err := s.apr.GetRocketPoolAPR(ctx); err != nil {
			s.logger.WithError(err).Warn("Rocket Pool APR unavailable")
		} else {
			pos.APR = &apr
		}
	}

	pos.PriceUSD, pos.ValueUSD = s.stakingValue(ctx, coinGeckoRETH, amount)
	return pos, nil
}

// stakingValue prices amount of a CoinGecko coin. Price failures give nils.
func (s *DeFiService) stakingValue(ctx context.Context, coinID string, amount decimal.Decimal) (price, value *float64) {
	if s.prices == nil {
		return nil, nil
	}
	prices, err := s.prices.GetSimplePrices(ctx, []string{coinID}, VsCurrency)
	if err != nil {
		s.logger.WithError(err).WithField("coin", coinID).Warn("Staking token price unavailable")
		return nil, nil
	}
	p, ok := prices[coinID]
	if !ok {
		return nil, nil
	}
	pf, _ := p.Price.Float64()
	vf, _ := p.Price.Mul(amount).Float64()
	return &pf, &vf
}

func (s *DeFiService) remember(ctx context.Context, key string, dest interface{}, fetch func(ctx context.Context) (interface{}, error)) (bool, error) {
	if s.cache == nil {
		v, err := fetch(ctx)
		if err != nil {
			return false, err
		}
		return false, assign(dest, v)
	}
	return s.cache.Remember(ctx, key, s.ttl, dest, fetch)
}

// assign copies a freshly fetched position into dest
func assign(dest, v interface{}) error {
	switch d := dest.(type) {
	case *LidoPosition:
		if p, ok := v.(*LidoPosition); ok {
			*d = *p
			return nil
		}
	case *RocketPoolPosition:
		if p, ok := v.(*RocketPoolPosition); ok {
			*d = *p
			return nil
		}
	}
	return errors.New("unexpected position type")
}
