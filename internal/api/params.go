package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	apperrors "github.com/portfolio-dashboard/internal/errors"
	"github.com/portfolio-dashboard/internal/ratelimit"
	"github.com/portfolio-dashboard/internal/types"
)

// Rate limit route names
const (
	routeBalances   = "balances"
	routeExport     = "balances-export"
	routeAave       = "defi-aave"
	routeLido       = "defi-lido"
	routeRocketPool = "defi-rocket-pool"
	routeSnapshots  = "snapshots"
)

// HeaderCache reports whether a response came from the cache
const HeaderCache = "X-Cache"

func setCacheHeader(w http.ResponseWriter, hit bool) {
	if hit {
		w.Header().Set(HeaderCache, "HIT")
		return
	}
	w.Header().Set(HeaderCache, "MISS")
}

// addressParam validates the address query parameter and returns it lowercased
func addressParam(r *http.Request) (string, error) {
	return validateAddress(r.URL.Query().Get("address"))
}

// validateAddress checks a raw address and returns it lowercased
func validateAddress(raw string) (string, error) {
	address := strings.TrimSpace(raw)
	if address == "" {
		return "", apperrors.NewMissingParameterError("address")
	}
	if !common.IsHexAddress(address) {
		return "", apperrors.NewInvalidAddressError(address)
	}
	return strings.ToLower(address), nil
}

// chainsParam parses a comma-separated chain list. An absent parameter
// selects every supported chain.
func chainsParam(r *http.Request) ([]types.ChainID, error) {
	raw, present := r.URL.Query()["chains"]
	if !present {
		return types.SupportedChains, nil
	}

	var chains []types.ChainID
	seen := make(map[types.ChainID]bool)
	for _, part := range strings.Split(strings.Join(raw, ","), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		chain, ok := types.ParseChainID(part)
		if !ok {
			return nil, apperrors.NewInvalidParameterError("chains", "unsupported chain '"+part+"'")
		}
		if !seen[chain] {
			seen[chain] = true
			chains = append(chains, chain)
		}
	}
	if len(chains) == 0 {
		return nil, apperrors.NewInvalidParameterError("chains", "at least one chain is required")
	}
	return chains, nil
}

// intParam reads an optional non-negative integer query parameter
func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewInvalidParameterError(name, "must be an integer")
	}
	return n, nil
}

// allow counts the request against its window and writes the rate-limit
// headers. A denied request has already been answered when it returns false.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, route, address string) bool {
	if s.limiter == nil {
		return true
	}
	key := ratelimit.KeyFor(route, clientIP(r), address)
	res := s.limiter.Allow(r.Context(), key, s.config.RateLimit, s.config.RateLimitWindow)
	ratelimit.WriteHeaders(w.Header(), res)
	if !res.Allowed {
		s.respondError(w, r, apperrors.NewRateLimitError(res.RetryAfter, res.ResetAt))
		return false
	}
	return true
}
