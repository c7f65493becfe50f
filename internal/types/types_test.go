package types

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseChainID(t *testing.T) {
	tests := []struct {
		input string
		want  ChainID
		ok    bool
	}{
		{"ethereum", ChainEthereum, true},
		{"Polygon", ChainPolygon, true},
		{" arbitrum ", ChainArbitrum, true},
		{"optimism", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseChainID(tt.input)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseChainID(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestChainIndexFollowsJoinOrder(t *testing.T) {
	for i, c := range SupportedChains {
		if c.Index() != i {
			t.Errorf("%s.Index() = %d, want %d", c, c.Index(), i)
		}
	}
	if ChainID("base").Index() != -1 {
		t.Error("unsupported chain should have index -1")
	}
}

func TestFormatUnits(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		decimals int
		want     string
	}{
		{"one ether", "1000000000000000000", 18, "1"},
		{"fractional", "1500000", 6, "1.5"},
		{"tiny", "1", 18, "0.000000000000000001"},
		{"zero", "0", 18, "0"},
		{"no decimals", "42", 0, "42"},
		{"uint256 max", "115792089237316195423570985008687907853269984665640564039457584007913129639935", 18,
			"115792089237316195423570985008687907853269984665640564039457.584007913129639935"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, ok := new(big.Int).SetString(tt.raw, 10)
			if !ok {
				t.Fatalf("bad fixture %q", tt.raw)
			}
			if got := FormatUnits(raw, tt.decimals); got != tt.want {
				t.Errorf("FormatUnits(%s, %d) = %s, want %s", tt.raw, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestTokenHoldingDTO(t *testing.T) {
	symbol := "USDC"
	price := decimal.NewFromInt(1)
	value := decimal.RequireFromString("2.5")
	h := &TokenHolding{
		Chain:           ChainPolygon,
		ContractAddress: "0x2791bca1f2de4661ed88a30c99a7a9449aa84174",
		Symbol:          &symbol,
		Balance:         big.NewInt(2500000),
		Formatted:       "2.5",
		PriceUSD:        &price,
		ValueUSD:        &value,
	}

	dto := h.DTO()
	if dto.Balance != "2500000" {
		t.Errorf("Balance = %s, want 2500000", dto.Balance)
	}
	if dto.ValueUSD == nil || *dto.ValueUSD != 2.5 {
		t.Errorf("ValueUSD = %v, want 2.5", dto.ValueUSD)
	}
	if h.EffectiveDecimals() != DefaultDecimals {
		t.Errorf("EffectiveDecimals() = %d, want %d", h.EffectiveDecimals(), DefaultDecimals)
	}

	unpriced := &TokenHolding{Chain: ChainEthereum, Balance: big.NewInt(1)}
	if unpriced.DTO().ValueUSD != nil {
		t.Error("unpriced holding should not carry valueUsd")
	}
	if !unpriced.SortValue().IsZero() {
		t.Error("unpriced holding should sort as zero")
	}
}
