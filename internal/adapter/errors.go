// Package adapter holds the clients for the upstream data providers: Alchemy
// JSON-RPC, CoinGecko, the Aave subgraphs, the staking APIs and direct
// contract reads.
package adapter

import (
	"errors"
	"fmt"

	"github.com/portfolio-dashboard/internal/types"
)

var (
	// ErrUnsupportedChain indicates the chain has no provider mapping
	ErrUnsupportedChain = errors.New("unsupported chain")

	// ErrNotConfigured indicates the provider has no endpoint or credential
	ErrNotConfigured = errors.New("provider not configured")
)

// AdapterError wraps errors with additional context
type AdapterError struct {
	Chain   types.ChainID
	Op      string // operation that failed, e.g. "GetTokenBalances"
	Err     error
	Details map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("%s %s: %v (details: %+v)", e.Chain, e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s %s: %v", e.Chain, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(chain types.ChainID, op string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Chain:   chain,
		Op:      op,
		Err:     err,
		Details: details,
	}
}

// HTTPStatusError is returned when an upstream answers with a non-2xx status
type HTTPStatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Service, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Service, e.StatusCode)
}

// ParseError marks an upstream value that failed validation
type ParseError struct {
	Source string // e.g. "alchemy_getTokenBalances"
	Field  string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: invalid %s %q: %v", e.Source, e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// maxErrorBody caps how much of an upstream error body is kept
const maxErrorBody = 256

func truncateBody(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
