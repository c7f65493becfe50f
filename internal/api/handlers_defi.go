package api

import (
	"net/http"

	apperrors "github.com/portfolio-dashboard/internal/errors"
	"github.com/portfolio-dashboard/internal/service"
)

// ProtocolResponse wraps protocol data with its source
type ProtocolResponse struct {
	Source string      `json:"source"`
	Data   interface{} `json:"data"`
}

// handleGetAave handles GET /api/defi/aave?address=&chains=
func (s *Server) handleGetAave(w http.ResponseWriter, r *http.Request) {
	address, err := addressParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	chains, err := chainsParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if !s.allow(w, r, routeAave, address) {
		return
	}

	summary, err := s.defi.GetAavePositions(r.Context(), address, chains)
	if err != nil {
		s.respondError(w, r, apperrors.NewProviderError(service.ProtocolAave, err))
		return
	}

	respondJSON(w, http.StatusOK, ProtocolResponse{Source: service.ProtocolAave, Data: summary})
}

// handleGetLido handles GET /api/defi/lido?address=
func (s *Server) handleGetLido(w http.ResponseWriter, r *http.Request) {
	address, err := addressParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if !s.allow(w, r, routeLido, address) {
		return
	}

	pos, hit, err := s.defi.GetLidoPosition(r.Context(), address)
	if err != nil {
		s.respondError(w, r, apperrors.NewProviderError(service.ProtocolLido, err))
		return
	}

	setCacheHeader(w, hit)
	respondJSON(w, http.StatusOK, ProtocolResponse{Source: service.ProtocolLido, Data: pos})
}

// handleGetRocketPool handles GET /api/defi/rocket-pool?address=
func (s *Server) handleGetRocketPool(w http.ResponseWriter, r *http.Request) {
	address, err := addressParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if !s.allow(w, r, routeRocketPool, address) {
		return
	}

	pos, hit, err := s.defi.GetRocketPoolPosition(r.Context(), address)
	if err != nil {
		s.respondError(w, r, apperrors.NewProviderError(service.ProtocolRocketPool, err))
		return
	}

	setCacheHeader(w, hit)
	respondJSON(w, http.StatusOK, ProtocolResponse{Source: service.ProtocolRocketPool, Data: pos})
}
