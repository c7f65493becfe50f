package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/portfolio-dashboard/internal/types"
)

// aaveUserPositionsQuery fetches a user's reserves and, when the deployment
// exposes it, the user's health factor
const aaveUserPositionsQuery = `query UserPositions($user: String!) {
  user(id: $user) {
    id
    healthFactor
  }
  userReserves(where: { user: $user }) {
    currentATokenBalance
    currentVariableDebt
    currentStableDebt
    reserve {
      symbol
      decimals
      underlyingAsset
    }
  }
}`

// AaveReserve is one reserve position of a user as reported by the subgraph.
// Amounts are kept as the raw numeric strings the subgraph returns.
type AaveReserve struct {
	CurrentATokenBalance string `json:"currentATokenBalance"`
	CurrentVariableDebt  string `json:"currentVariableDebt"`
	CurrentStableDebt    string `json:"currentStableDebt"`
	Reserve              struct {
		Symbol          string `json:"symbol"`
		Decimals        int    `json:"decimals"`
		UnderlyingAsset string `json:"underlyingAsset"`
	} `json:"reserve"`
}

// AaveUserPositions is the subgraph answer for one user on one chain
type AaveUserPositions struct {
	// HealthFactor is the raw 1e18 fixed-point string, nil when not reported
	HealthFactor *string
	Reserves     []AaveReserve
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type aavePositionsResponse struct {
	Data *struct {
		User *struct {
			ID           string           `json:"id"`
			HealthFactor *json.RawMessage `json:"healthFactor"`
		} `json:"user"`
		UserReserves []AaveReserve `json:"userReserves"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// SubgraphClient queries the per-chain Aave v3 subgraphs over GraphQL
type SubgraphClient struct {
	endpoints  map[types.ChainID]string
	httpClient *resty.Client
}

// NewSubgraphClient creates a client for the given chain endpoints
func NewSubgraphClient(endpoints map[types.ChainID]string, timeout time.Duration) *SubgraphClient {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &SubgraphClient{
		endpoints:  endpoints,
		httpClient: newRESTClient(timeout),
	}
}

// GetAaveUserPositions runs the positions query against chain's subgraph
func (c *SubgraphClient) GetAaveUserPositions(ctx context.Context, chain types.ChainID, address string) (*AaveUserPositions, error) {
	endpoint, ok := c.endpoints[chain]
	if !ok || endpoint == "" {
		return nil, NewAdapterError(chain, "GetAaveUserPositions", ErrUnsupportedChain, nil)
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(graphQLRequest{
			Query:     aaveUserPositionsQuery,
			Variables: map[string]interface{}{"user": strings.ToLower(address)},
		}).
		Post(endpoint)
	if err != nil {
		return nil, NewAdapterError(chain, "GetAaveUserPositions", err, nil)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, NewAdapterError(chain, "GetAaveUserPositions",
			&HTTPStatusError{Service: "aave-subgraph", StatusCode: resp.StatusCode(), Body: truncateBody(resp.Body())}, nil)
	}

	var body aavePositionsResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, &ParseError{Source: "aave-subgraph", Field: "body", Value: truncateBody(resp.Body()), Err: err}
	}
	if len(body.Errors) > 0 {
		msgs := make([]string, len(body.Errors))
		for i, e := range body.Errors {
			msgs[i] = e.Message
		}
		return nil, NewAdapterError(chain, "GetAaveUserPositions", errors.New(strings.Join(msgs, "; ")), nil)
	}
	if body.Data == nil {
		return nil, &ParseError{Source: "aave-subgraph", Field: "data", Value: "null", Err: errors.New("missing data")}
	}

	positions := &AaveUserPositions{Reserves: body.Data.UserReserves}
	if positions.Reserves == nil {
		positions.Reserves = []AaveReserve{}
	}
	if u := body.Data.User; u != nil && u.HealthFactor != nil {
		positions.HealthFactor = rawNumberString(*u.HealthFactor)
	}
	return positions, nil
}

// rawNumberString accepts a JSON string or number and returns its text;
// null yields nil
func rawNumberString(raw json.RawMessage) *string {
	if strings.TrimSpace(string(raw)) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		str := n.String()
		return &str
	}
	return nil
}
