package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Staking API paths
const (
	lidoAPRPath       = "/v1/protocol/steth/apr/sma"
	rocketPoolAPRPath = "/api/mainnet/apr"
)

// StakingAPIClient reads protocol APRs from the Lido and Rocket Pool public APIs
type StakingAPIClient struct {
	lidoURL       string
	rocketPoolURL string
	httpClient    *resty.Client
}

// NewStakingAPIClient creates a new staking API client
func NewStakingAPIClient(lidoURL, rocketPoolURL string, timeout time.Duration) *StakingAPIClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &StakingAPIClient{
		lidoURL:       strings.TrimRight(lidoURL, "/"),
		rocketPoolURL: strings.TrimRight(rocketPoolURL, "/"),
		httpClient:    newRESTClient(timeout),
	}
}

// flexFloat decodes a JSON number or a numeric string
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

func (c *StakingAPIClient) getJSON(ctx context.Context, service, url string, dest interface{}) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(url)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", service, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return &HTTPStatusError{Service: service, StatusCode: resp.StatusCode(), Body: truncateBody(resp.Body())}
	}
	if err := json.Unmarshal(resp.Body(), dest); err != nil {
		return &ParseError{Source: service, Field: "body", Value: truncateBody(resp.Body()), Err: err}
	}
	return nil
}

// GetLidoAPR returns the stETH simple-moving-average APR in percent
func (c *StakingAPIClient) GetLidoAPR(ctx context.Context) (float64, error) {
	if c.lidoURL == "" {
		return 0, ErrNotConfigured
	}

	var body struct {
		Data struct {
			SMAApr *flexFloat `json:"smaApr"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "lido-api", c.lidoURL+lidoAPRPath, &body); err != nil {
		return 0, err
	}
	if body.Data.SMAApr == nil {
		return 0, &ParseError{Source: "lido-api", Field: "data.smaApr", Value: "", Err: fmt.Errorf("missing")}
	}
	return float64(*body.Data.SMAApr), nil
}

// GetRocketPoolAPR returns the rETH yearly APR in percent
func (c *StakingAPIClient) GetRocketPoolAPR(ctx context.Context) (float64, error) {
	if c.rocketPoolURL == "" {
		return 0, ErrNotConfigured
	}

	var body struct {
		YearlyAPR *flexFloat `json:"yearlyAPR"`
	}
	if err := c.getJSON(ctx, "rocketpool-api", c.rocketPoolURL+rocketPoolAPRPath, &body); err != nil {
		return 0, err
	}
	if body.YearlyAPR == nil {
		return 0, &ParseError{Source: "rocketpool-api", Field: "yearlyAPR", Value: "", Err: fmt.Errorf("missing")}
	}
	return float64(*body.YearlyAPR), nil
}
