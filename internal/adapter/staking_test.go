package adapter

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStakingAPIClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case lidoAPRPath:
			_, _ = w.Write([]byte(`{"data":{"aprs":[{"timeUnix":1700000000,"apr":3.2}],"smaApr":3.05},"meta":{"symbol":"stETH"}}`))
		case rocketPoolAPRPath:
			_, _ = w.Write([]byte(`{"yearlyAPR":"2.91"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewStakingAPIClient(srv.URL, srv.URL+"/", 0)

	apr, err := client.GetLidoAPR(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 3.05, apr, 1e-9)

	apr, err = client.GetRocketPoolAPR(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 2.91, apr, 1e-9)
}

func TestStakingAPIClient_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == lidoAPRPath {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewStakingAPIClient(srv.URL, srv.URL, 0)

	_, err := client.GetLidoAPR(context.Background())
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, "lido-api", statusErr.Service)

	_, err = client.GetRocketPoolAPR(context.Background())
	var parseErr *ParseError
	assert.True(t, errors.As(err, &parseErr))

	_, err = NewStakingAPIClient("", "", 0).GetLidoAPR(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

type fakeCaller struct {
	calls []ethereum.CallMsg
	reply func(msg ethereum.CallMsg) ([]byte, error)
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls = append(f.calls, msg)
	return f.reply(msg)
}

func TestTokenContractReader(t *testing.T) {
	caller := &fakeCaller{}
	reader, err := NewTokenContractReader(caller)
	require.NoError(t, err)

	balanceOf := reader.abi.Methods["balanceOf"]
	exchangeRate := reader.abi.Methods["getExchangeRate"]
	holder := common.HexToAddress("0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045")

	caller.reply = func(msg ethereum.CallMsg) ([]byte, error) {
		switch string(msg.Data[:4]) {
		case string(balanceOf.ID):
			return balanceOf.Outputs.Pack(big.NewInt(1_500_000_000_000_000_000))
		case string(exchangeRate.ID):
			return exchangeRate.Outputs.Pack(big.NewInt(1_100_000_000_000_000_000))
		}
		return nil, errors.New("unknown selector")
	}

	bal, err := reader.BalanceOf(context.Background(), StETHAddress, holder)
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", bal.String())
	require.Len(t, caller.calls, 1)
	assert.Equal(t, StETHAddress, *caller.calls[0].To)

	rate, err := reader.ExchangeRate(context.Background(), RETHAddress)
	require.NoError(t, err)
	assert.Equal(t, "1100000000000000000", rate.String())
}

func TestTokenContractReader_Errors(t *testing.T) {
	caller := &fakeCaller{reply: func(ethereum.CallMsg) ([]byte, error) {
		return []byte{0x01}, nil
	}}
	reader, err := NewTokenContractReader(caller)
	require.NoError(t, err)

	_, err = reader.BalanceOf(context.Background(), RETHAddress, common.Address{})
	var parseErr *ParseError
	assert.True(t, errors.As(err, &parseErr))

	caller.reply = func(ethereum.CallMsg) ([]byte, error) { return nil, errors.New("execution reverted") }
	_, err = reader.ExchangeRate(context.Background(), RETHAddress)
	assert.ErrorContains(t, err, "execution reverted")
}
