package adapter

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Liquid staking token contracts on Ethereum mainnet
var (
	StETHAddress = common.HexToAddress("0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84")
	RETHAddress  = common.HexToAddress("0xae78736Cd615f374D3085123A210448E74Fc6393")
)

// stakingTokenABI covers the view methods read from stETH and rETH
const stakingTokenABI = `[
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"getExchangeRate","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// ContractCaller executes read-only contract calls
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Ensure ethclient.Client implements ContractCaller
var _ ContractCaller = (*ethclient.Client)(nil)

// TokenContractReader reads balances and rates straight from token contracts
type TokenContractReader struct {
	caller ContractCaller
	abi    abi.ABI
}

// NewTokenContractReader creates a reader on top of a contract caller
func NewTokenContractReader(caller ContractCaller) (*TokenContractReader, error) {
	parsed, err := abi.JSON(strings.NewReader(stakingTokenABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ABI: %w", err)
	}
	return &TokenContractReader{caller: caller, abi: parsed}, nil
}

// DialTokenContractReader connects to an Ethereum JSON-RPC endpoint
func DialTokenContractReader(ctx context.Context, rpcURL string) (*TokenContractReader, *ethclient.Client, error) {
	if rpcURL == "" {
		return nil, nil, ErrNotConfigured
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial ethereum rpc: %w", err)
	}
	reader, err := NewTokenContractReader(client)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return reader, client, nil
}

func (r *TokenContractReader) callUint256(ctx context.Context, token common.Address, method string, args ...interface{}) (*big.Int, error) {
	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call to %s failed: %w", method, token.Hex(), err)
	}

	values, err := r.abi.Unpack(method, out)
	if err != nil {
		return nil, &ParseError{Source: method, Field: "output", Value: fmt.Sprintf("0x%x", out), Err: err}
	}
	if len(values) != 1 {
		return nil, &ParseError{Source: method, Field: "output", Value: fmt.Sprintf("0x%x", out), Err: fmt.Errorf("expected 1 value, got %d", len(values))}
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, &ParseError{Source: method, Field: "output", Value: fmt.Sprintf("%v", values[0]), Err: fmt.Errorf("not a uint256")}
	}
	return v, nil
}

// BalanceOf returns holder's raw balance of an ERC-20 token
func (r *TokenContractReader) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	return r.callUint256(ctx, token, "balanceOf", holder)
}

// ExchangeRate returns rETH's ETH value per token, scaled by 1e18
func (r *TokenContractReader) ExchangeRate(ctx context.Context, token common.Address) (*big.Int, error) {
	return r.callUint256(ctx, token, "getExchangeRate")
}
