package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// DefaultCoinGeckoBaseURL is the public CoinGecko API
const DefaultCoinGeckoBaseURL = "https://api.coingecko.com/api/v3"

// SimplePrice is a coin price with its optional 24h change in percent
type SimplePrice struct {
	Price     decimal.Decimal
	Change24h *float64
}

// TokenPrice is the price of a token contract
type TokenPrice struct {
	Price decimal.Decimal
}

// CoinGeckoConfig configures a CoinGeckoClient
type CoinGeckoConfig struct {
	BaseURL           string
	APIKey            string
	RequestsPerMinute int
	Timeout           time.Duration
}

// CoinGeckoClient resolves USD prices from CoinGecko. It does not retry.
type CoinGeckoClient struct {
	baseURL    string
	apiKey     string
	httpClient *resty.Client
	limiter    *rate.Limiter
}

// NewCoinGeckoClient creates a new CoinGecko client
func NewCoinGeckoClient(cfg CoinGeckoConfig) *CoinGeckoClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultCoinGeckoBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	return &CoinGeckoClient{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: newRESTClient(timeout),
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// apiKeyHeader picks the header for the configured plan
func (c *CoinGeckoClient) apiKeyHeader() string {
	if strings.Contains(c.baseURL, "pro-api") {
		return "x-cg-pro-api-key"
	}
	return "x-cg-demo-api-key"
}

func (c *CoinGeckoClient) get(ctx context.Context, path string, query map[string]string, dest interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// Wait refuses up front when the next token lands after the deadline
		return fmt.Errorf("coingecko rate limit wait: %w", context.DeadlineExceeded)
	}

	req := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParams(query)
	if c.apiKey != "" {
		req.SetHeader(c.apiKeyHeader(), c.apiKey)
	}

	resp, err := req.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("coingecko request failed: %w", err)
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return &HTTPStatusError{Service: "coingecko", StatusCode: resp.StatusCode(), Body: truncateBody(resp.Body())}
	}

	dec := json.NewDecoder(bytes.NewReader(resp.Body()))
	dec.UseNumber()
	if err := dec.Decode(dest); err != nil {
		return &ParseError{Source: "coingecko", Field: "body", Value: truncateBody(resp.Body()), Err: err}
	}
	return nil
}

// GetSimplePrices returns prices for CoinGecko coin ids in vsCurrency.
// Ids missing from the response are absent from the map.
func (c *CoinGeckoClient) GetSimplePrices(ctx context.Context, ids []string, vsCurrency string) (map[string]SimplePrice, error) {
	out := make(map[string]SimplePrice)
	if len(ids) == 0 {
		return out, nil
	}
	vs := strings.ToLower(vsCurrency)

	var body map[string]map[string]json.Number
	err := c.get(ctx, "/simple/price", map[string]string{
		"ids":                 strings.Join(ids, ","),
		"vs_currencies":       vs,
		"include_24hr_change": "true",
	}, &body)
	if err != nil {
		return nil, err
	}

	for id, fields := range body {
		raw, ok := fields[vs]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(raw.String())
		if err != nil {
			continue
		}
		sp := SimplePrice{Price: price}
		if ch, ok := fields[vs+"_24h_change"]; ok {
			if f, err := ch.Float64(); err == nil {
				sp.Change24h = &f
			}
		}
		out[id] = sp
	}
	return out, nil
}

// GetTokenPricesByAddress returns prices for token contracts on a CoinGecko
// asset platform. Result keys are lowercase addresses.
func (c *CoinGeckoClient) GetTokenPricesByAddress(ctx context.Context, platform string, addresses []string, vsCurrency string) (map[string]TokenPrice, error) {
	out := make(map[string]TokenPrice)
	if len(addresses) == 0 {
		return out, nil
	}
	vs := strings.ToLower(vsCurrency)

	var body map[string]map[string]json.Number
	err := c.get(ctx, "/simple/token_price/"+platform, map[string]string{
		"contract_addresses": strings.Join(addresses, ","),
		"vs_currencies":      vs,
	}, &body)
	if err != nil {
		return nil, err
	}

	for addr, fields := range body {
		raw, ok := fields[vs]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(raw.String())
		if err != nil {
			continue
		}
		out[strings.ToLower(addr)] = TokenPrice{Price: price}
	}
	return out, nil
}
