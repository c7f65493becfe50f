// Package types provides common type definitions for the portfolio dashboard.
package types

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ChainID represents supported blockchain networks
type ChainID string

const (
	// ChainEthereum represents the Ethereum mainnet
	ChainEthereum ChainID = "ethereum"
	// ChainPolygon represents the Polygon PoS network
	ChainPolygon ChainID = "polygon"
	// ChainArbitrum represents the Arbitrum One network
	ChainArbitrum ChainID = "arbitrum"
)

// SupportedChains lists every chain the aggregation pipeline accepts, in the
// fixed order results are joined in.
var SupportedChains = []ChainID{ChainEthereum, ChainPolygon, ChainArbitrum}

// ParseChainID resolves a user-supplied chain name. Matching is case-insensitive.
func ParseChainID(s string) (ChainID, bool) {
	id := ChainID(strings.ToLower(strings.TrimSpace(s)))
	for _, c := range SupportedChains {
		if c == id {
			return c, true
		}
	}
	return "", false
}

// Index returns the position of the chain in SupportedChains, or -1.
func (c ChainID) Index() int {
	for i, s := range SupportedChains {
		if s == c {
			return i
		}
	}
	return -1
}

// AlchemyNetwork returns the Alchemy network slug used in RPC URLs
func (c ChainID) AlchemyNetwork() string {
	switch c {
	case ChainEthereum:
		return "eth-mainnet"
	case ChainPolygon:
		return "polygon-mainnet"
	case ChainArbitrum:
		return "arb-mainnet"
	default:
		return ""
	}
}

// CoinGeckoPlatform returns the CoinGecko asset platform id for contract price lookups
func (c ChainID) CoinGeckoPlatform() string {
	switch c {
	case ChainEthereum:
		return "ethereum"
	case ChainPolygon:
		return "polygon-pos"
	case ChainArbitrum:
		return "arbitrum-one"
	default:
		return ""
	}
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// DefaultDecimals is assumed when token metadata omits decimals
const DefaultDecimals = 18

// TokenHolding is one ERC-20 balance on one chain for one address.
// Built fresh per aggregation request and never mutated afterwards.
type TokenHolding struct {
	Chain           ChainID
	ContractAddress string // lowercase
	Symbol          *string
	Name            *string
	Decimals        *int
	Balance         *big.Int // raw units, never negative
	Formatted       string
	PriceUSD        *decimal.Decimal
	ValueUSD        *decimal.Decimal // set only when PriceUSD is set
}

// EffectiveDecimals returns the token decimals, defaulting to DefaultDecimals
func (h *TokenHolding) EffectiveDecimals() int {
	if h.Decimals != nil {
		return *h.Decimals
	}
	return DefaultDecimals
}

// SortValue returns the USD value used for ordering; unresolved values count as zero
func (h *TokenHolding) SortValue() decimal.Decimal {
	if h.ValueUSD == nil {
		return decimal.Zero
	}
	return *h.ValueUSD
}

// TokenHoldingDTO is the JSON shape of a TokenHolding. Balance is a decimal
// string since JSON numbers cannot carry uint256 values losslessly.
type TokenHoldingDTO struct {
	Chain           ChainID  `json:"chain"`
	ContractAddress string   `json:"contractAddress"`
	Symbol          *string  `json:"symbol,omitempty"`
	Name            *string  `json:"name,omitempty"`
	Decimals        *int     `json:"decimals,omitempty"`
	Balance         string   `json:"balance"`
	Formatted       string   `json:"formatted"`
	PriceUSD        *float64 `json:"priceUsd,omitempty"`
	ValueUSD        *float64 `json:"valueUsd,omitempty"`
}

// DTO converts the holding into its wire representation
func (h *TokenHolding) DTO() TokenHoldingDTO {
	balance := "0"
	if h.Balance != nil {
		balance = h.Balance.String()
	}
	return TokenHoldingDTO{
		Chain:           h.Chain,
		ContractAddress: h.ContractAddress,
		Symbol:          h.Symbol,
		Name:            h.Name,
		Decimals:        h.Decimals,
		Balance:         balance,
		Formatted:       h.Formatted,
		PriceUSD:        decimalPtrToFloat(h.PriceUSD),
		ValueUSD:        decimalPtrToFloat(h.ValueUSD),
	}
}

func decimalPtrToFloat(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f, _ := d.Float64()
	return &f
}

// FormatUnits shifts a raw integer amount by 10^decimals without any floating
// point step. Trailing fractional zeros are dropped.
func FormatUnits(raw *big.Int, decimals int) string {
	if raw == nil {
		return "0"
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)).String()
}
