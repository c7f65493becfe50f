package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/portfolio-dashboard/internal/adapter"
	"github.com/portfolio-dashboard/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAave struct {
	mu        sync.Mutex
	positions map[types.ChainID]*adapter.AaveUserPositions
	errs      map[types.ChainID]error
	addresses []string
}

func (f *fakeAave) GetAaveUserPositions(_ context.Context, chain types.ChainID, address string) (*adapter.AaveUserPositions, error) {
	f.mu.Lock()
	f.addresses = append(f.addresses, address)
	f.mu.Unlock()
	if err := f.errs[chain]; err != nil {
		return nil, err
	}
	return f.positions[chain], nil
}

type fakeAPR struct {
	lido, rocketPool float64
	err              error
}

func (f *fakeAPR) GetLidoAPR(context.Context) (float64, error)       { return f.lido, f.err }
func (f *fakeAPR) GetRocketPoolAPR(context.Context) (float64, error) { return f.rocketPool, f.err }

type fakeReader struct {
	balances map[common.Address]*big.Int
	rate     *big.Int
	err      error
	calls    int
}

func (f *fakeReader) BalanceOf(_ context.Context, token, _ common.Address) (*big.Int, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.balances[token], nil
}

func (f *fakeReader) ExchangeRate(context.Context, common.Address) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rate, nil
}

func TestGetAavePositions(t *testing.T) {
	aave := &fakeAave{positions: map[types.ChainID]*adapter.AaveUserPositions{
		types.ChainEthereum: {
			HealthFactor: strPtr("1850000000000000000"),
			Reserves: []adapter.AaveReserve{
				{CurrentATokenBalance: "1000000", CurrentVariableDebt: "0", CurrentStableDebt: "0"},
				{CurrentATokenBalance: "0", CurrentVariableDebt: "250000000000000000", CurrentStableDebt: "0"},
				{CurrentATokenBalance: "0.0", CurrentVariableDebt: "0e0", CurrentStableDebt: "000"},
				{CurrentATokenBalance: "5e-7", CurrentVariableDebt: "0", CurrentStableDebt: "12"},
			},
		},
		types.ChainPolygon: {
			HealthFactor: nil,
			Reserves: []adapter.AaveReserve{
				{CurrentATokenBalance: "0", CurrentVariableDebt: "0", CurrentStableDebt: "0"},
			},
		},
	}}
	svc := NewDeFiService(DeFiServiceConfig{Aave: aave})

	summary, err := svc.GetAavePositions(context.Background(), "0xD8DA6BF26964AF9D7EED9E03E53415D37AA96045",
		[]types.ChainID{types.ChainPolygon, types.ChainEthereum})
	require.NoError(t, err)
	require.Len(t, summary.Chains, 2)

	eth := summary.Chains[0]
	assert.Equal(t, types.ChainEthereum, eth.Chain)
	assert.Equal(t, 2, eth.SuppliedCount)
	assert.Equal(t, 2, eth.BorrowedCount)
	require.NotNil(t, eth.HealthFactor)
	assert.InDelta(t, 1.85, *eth.HealthFactor, 1e-12)

	poly := summary.Chains[1]
	assert.Equal(t, types.ChainPolygon, poly.Chain)
	assert.Zero(t, poly.SuppliedCount)
	assert.Nil(t, poly.HealthFactor, "missing health factor is null, never zero")

	assert.Equal(t, AaveTotals{Supplied: 2, Borrowed: 2, ChainsWithPositions: 1}, summary.Totals)

	for _, a := range aave.addresses {
		assert.Equal(t, owner, a)
	}
}

func TestGetAavePositions_NoUser(t *testing.T) {
	svc := NewDeFiService(DeFiServiceConfig{Aave: &fakeAave{}})
	summary, err := svc.GetAavePositions(context.Background(), owner, []types.ChainID{types.ChainArbitrum})
	require.NoError(t, err)
	require.Len(t, summary.Chains, 1)
	assert.Equal(t, AaveChainPosition{Chain: types.ChainArbitrum}, summary.Chains[0])
	assert.Zero(t, summary.Totals.ChainsWithPositions)
}

func TestGetAavePositions_ChainFailurePropagates(t *testing.T) {
	subgraphErr := errors.New("subgraph indexing error")
	aave := &fakeAave{errs: map[types.ChainID]error{types.ChainPolygon: subgraphErr}}

	_, err := NewDeFiService(DeFiServiceConfig{Aave: aave}).
		GetAavePositions(context.Background(), owner, []types.ChainID{types.ChainEthereum, types.ChainPolygon})
	assert.ErrorIs(t, err, subgraphErr)
}

func TestIsActiveAmount(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"0", false},
		{"", false},
		{"0.000", false},
		{"0e0", false},
		{"000000", false},
		{"1", true},
		{"0.0001", true},
		{"1e-18", true},
		{"1000000000000000000000", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsActiveAmount(tt.in), "input %q", tt.in)
	}
}

func TestParseHealthFactor(t *testing.T) {
	tests := []struct {
		name string
		in   *string
		want *float64
	}{
		{"absent", nil, nil},
		{"empty", strPtr(""), nil},
		{"garbage", strPtr("healthy"), nil},
		{"one", strPtr("1000000000000000000"), floatPtr(1)},
		{"fractional", strPtr("950000000000000000"), floatPtr(0.95)},
		{"decimal input", strPtr("1500000000000000000.0"), floatPtr(1.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseHealthFactor(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 1e-12)
		})
	}
}

func floatPtr(f float64) *float64 { return &f }

func TestGetLidoPosition(t *testing.T) {
	cache, _ := newTestCache(t)
	reader := &fakeReader{balances: map[common.Address]*big.Int{
		adapter.StETHAddress: bigInt("2500000000000000000"),
	}}
	prices := &fakePrices{simple: map[string]adapter.SimplePrice{
		"staked-ether": {Price: dec("2000")},
	}}
	svc := NewDeFiService(DeFiServiceConfig{
		APR:    &fakeAPR{lido: 3.1},
		Reader: reader,
		Prices: prices,
		Cache:  cache,
	})

	pos, hit, err := svc.GetLidoPosition(context.Background(), "0xD8DA6BF26964AF9D7EED9E03E53415D37AA96045")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, owner, pos.Address)
	assert.Equal(t, "2500000000000000000", pos.StETHBalance)
	assert.Equal(t, "2.5", pos.Formatted)
	require.NotNil(t, pos.APR)
	assert.InDelta(t, 3.1, *pos.APR, 1e-9)
	require.NotNil(t, pos.ValueUSD)
	assert.InDelta(t, 5000, *pos.ValueUSD, 1e-9)

	again, hit, err := svc.GetLidoPosition(context.Background(), owner)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, pos, again)
	assert.Equal(t, 1, reader.calls)
}

func TestGetLidoPosition_DegradedSources(t *testing.T) {
	reader := &fakeReader{balances: map[common.Address]*big.Int{
		adapter.StETHAddress: bigInt("1000000000000000000"),
	}}
	svc := NewDeFiService(DeFiServiceConfig{
		APR:    &fakeAPR{err: errors.New("lido api down")},
		Reader: reader,
		Prices: &fakePrices{err: errors.New("rate limited")},
	})

	pos, hit, err := svc.GetLidoPosition(context.Background(), owner)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Nil(t, pos.APR)
	assert.Nil(t, pos.PriceUSD)
	assert.Nil(t, pos.ValueUSD)
	assert.Equal(t, "1", pos.Formatted)
}

func TestGetLidoPosition_BalanceFailurePropagates(t *testing.T) {
	cache, mr := newTestCache(t)
	rpcErr := errors.New("execution reverted")
	svc := NewDeFiService(DeFiServiceConfig{Reader: &fakeReader{err: rpcErr}, Cache: cache})

	_, _, err := svc.GetLidoPosition(context.Background(), owner)
	assert.ErrorIs(t, err, rpcErr)
	assert.Empty(t, mr.Keys(), "failures are not cached")

	_, _, err = NewDeFiService(DeFiServiceConfig{}).GetLidoPosition(context.Background(), owner)
	assert.ErrorIs(t, err, adapter.ErrNotConfigured)
}

func TestGetRocketPoolPosition(t *testing.T) {
	reader := &fakeReader{
		balances: map[common.Address]*big.Int{adapter.RETHAddress: bigInt("1500000000000000000")},
		rate:     bigInt("1100000000000000000"),
	}
	prices := &fakePrices{simple: map[string]adapter.SimplePrice{
		"rocket-pool-eth": {Price: dec("2200")},
	}}
	svc := NewDeFiService(DeFiServiceConfig{
		APR:    &fakeAPR{rocketPool: 2.8},
		Reader: reader,
		Prices: prices,
	})

	pos, _, err := svc.GetRocketPoolPosition(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", pos.RETHBalance)
	assert.Equal(t, "1.5", pos.Formatted)
	assert.Equal(t, "1.1", pos.ExchangeRate)
	assert.Equal(t, "1.65", pos.ETHValue)
	require.NotNil(t, pos.APR)
	assert.InDelta(t, 2.8, *pos.APR, 1e-9)
	require.NotNil(t, pos.ValueUSD)
	assert.InDelta(t, 3300, *pos.ValueUSD, 1e-9)
}
