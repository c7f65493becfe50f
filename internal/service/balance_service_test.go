package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/portfolio-dashboard/internal/adapter"
	"github.com/portfolio-dashboard/internal/circuitbreaker"
	"github.com/portfolio-dashboard/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	usdcAddr = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	linkAddr = "0x514910771af9ca656af840dff83e8264ecf986ca"
	junkAddr = "0x0000000000000000000000000000000000000bad"
	owner    = "0xd8da6bf26964af9d7eed9e03e53415d37aa96045"
)

func TestBalanceService_GetTokenBalances(t *testing.T) {
	balances := &fakeBalances{
		enabled: true,
		raw: []adapter.RawTokenBalance{
			{ContractAddress: linkAddr, Balance: bigInt("2000000000000000000")},
			{ContractAddress: junkAddr, Balance: bigInt("5")},
			{ContractAddress: usdcAddr, Balance: bigInt("1000000")},
		},
		metadata: map[string]adapter.TokenMetadata{
			linkAddr: {Symbol: strPtr("LINK"), Name: strPtr("ChainLink Token"), Decimals: intPtr(18)},
			usdcAddr: {Symbol: strPtr("USDC"), Name: strPtr("USD Coin"), Decimals: intPtr(6)},
		},
	}
	prices := &fakePrices{byAddress: map[string]adapter.TokenPrice{
		linkAddr: {Price: dec("1.5")},
		usdcAddr: {Price: dec("10")},
	}}

	svc := NewBalanceService(balances, prices, nil)
	holdings, err := svc.GetTokenBalances(context.Background(), owner, types.ChainEthereum)
	require.NoError(t, err)
	require.Len(t, holdings, 3)

	// USDC is worth 10, LINK 3, the unpriced token sorts last
	assert.Equal(t, usdcAddr, holdings[0].ContractAddress)
	assert.Equal(t, "1", holdings[0].Formatted)
	assert.True(t, holdings[0].ValueUSD.Equal(dec("10")))

	assert.Equal(t, linkAddr, holdings[1].ContractAddress)
	assert.Equal(t, "2", holdings[1].Formatted)
	assert.True(t, holdings[1].ValueUSD.Equal(dec("3")))
	assert.Equal(t, "LINK", *holdings[1].Symbol)

	assert.Equal(t, junkAddr, holdings[2].ContractAddress)
	assert.Nil(t, holdings[2].PriceUSD)
	assert.Nil(t, holdings[2].ValueUSD)
	assert.Nil(t, holdings[2].Decimals, "missing metadata leaves decimals unset")
	assert.Equal(t, "0.000000000000000005", holdings[2].Formatted)

	for _, h := range holdings {
		assert.Equal(t, types.ChainEthereum, h.Chain)
	}
	assert.Equal(t, 1, prices.tokenCalls, "prices are fetched in one bulk call")
}

func TestBalanceService_NoProviderConfigured(t *testing.T) {
	balances := &fakeBalances{enabled: false}
	prices := &fakePrices{}

	holdings, err := NewBalanceService(balances, prices, nil).GetTokenBalances(context.Background(), owner, types.ChainPolygon)
	require.NoError(t, err)
	assert.Empty(t, holdings)
	assert.NotNil(t, holdings)
	assert.Zero(t, balances.calls)
	assert.Zero(t, prices.tokenCalls)
}

func TestBalanceService_PriceFailureLeavesHoldingsUnpriced(t *testing.T) {
	balances := &fakeBalances{
		enabled: true,
		raw: []adapter.RawTokenBalance{
			{ContractAddress: usdcAddr, Balance: bigInt("2500000")},
			{ContractAddress: linkAddr, Balance: bigInt("1")},
		},
		metadata: map[string]adapter.TokenMetadata{
			usdcAddr: {Decimals: intPtr(6)},
		},
		metaErr: errors.New("metadata batch failed"),
	}
	prices := &fakePrices{err: errors.New("coingecko down")}

	holdings, err := NewBalanceService(balances, prices, nil).GetTokenBalances(context.Background(), owner, types.ChainArbitrum)
	require.NoError(t, err)
	require.Len(t, holdings, 2)
	for _, h := range holdings {
		assert.Nil(t, h.PriceUSD)
		assert.Nil(t, h.ValueUSD)
	}
	// with equal (zero) values the order falls back to the contract address
	assert.Equal(t, linkAddr, holdings[0].ContractAddress)
	assert.Equal(t, "2.5", holdings[1].Formatted)
}

func TestBalanceService_PriceBreakerSkipsFailingSource(t *testing.T) {
	balances := &fakeBalances{
		enabled: true,
		raw:     []adapter.RawTokenBalance{{ContractAddress: usdcAddr, Balance: bigInt("1000000")}},
	}
	prices := &fakePrices{err: errors.New("coingecko returned 429")}
	breaker := circuitbreaker.NewBreaker(circuitbreaker.Config{Name: "coingecko", MaxFailures: 2})
	svc := NewBalanceService(balances, prices, nil).WithPriceBreaker(breaker)

	for i := 0; i < 4; i++ {
		holdings, err := svc.GetTokenBalances(context.Background(), owner, types.ChainEthereum)
		require.NoError(t, err)
		require.Len(t, holdings, 1)
		assert.Nil(t, holdings[0].ValueUSD)
	}

	assert.Equal(t, 2, prices.tokenCalls, "an open breaker stops calling the price source")
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())
}

func TestBalanceService_PriceTimeoutsDoNotOpenBreaker(t *testing.T) {
	balances := &fakeBalances{
		enabled: true,
		raw:     []adapter.RawTokenBalance{{ContractAddress: usdcAddr, Balance: bigInt("1000000")}},
	}
	prices := &fakePrices{err: fmt.Errorf("coingecko rate limit wait: %w", context.DeadlineExceeded)}
	breaker := circuitbreaker.NewBreaker(circuitbreaker.Config{Name: "coingecko", MaxFailures: 2})
	svc := NewBalanceService(balances, prices, nil).WithPriceBreaker(breaker)

	for i := 0; i < 4; i++ {
		holdings, err := svc.GetTokenBalances(context.Background(), owner, types.ChainEthereum)
		require.NoError(t, err)
		require.Len(t, holdings, 1)
		assert.Nil(t, holdings[0].ValueUSD)
	}

	assert.Equal(t, 4, prices.tokenCalls)
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
}

func TestBalanceService_ListingFailurePropagates(t *testing.T) {
	listErr := errors.New("alchemy unavailable")
	balances := &fakeBalances{enabled: true, listErr: listErr}

	_, err := NewBalanceService(balances, &fakePrices{}, nil).GetTokenBalances(context.Background(), owner, types.ChainEthereum)
	assert.ErrorIs(t, err, listErr)
}

func TestBalanceService_UnsupportedChain(t *testing.T) {
	_, err := NewBalanceService(&fakeBalances{enabled: true}, nil, nil).GetTokenBalances(context.Background(), owner, types.ChainID("solana"))
	assert.ErrorIs(t, err, adapter.ErrUnsupportedChain)
}

func TestSortHoldings(t *testing.T) {
	holdings := []types.TokenHolding{
		{ContractAddress: "0xc", ValueUSD: nil},
		{ContractAddress: "0xb", ValueUSD: decPtr("5")},
		{ContractAddress: "0xa", ValueUSD: decPtr("0")},
		{ContractAddress: "0xd", ValueUSD: decPtr("100.25")},
	}
	SortHoldings(holdings)

	got := make([]string, len(holdings))
	for i, h := range holdings {
		got[i] = h.ContractAddress
	}
	assert.Equal(t, []string{"0xd", "0xb", "0xa", "0xc"}, got)
}
