package api

import (
	"fmt"
	"net/http"

	"github.com/portfolio-dashboard/internal/export"
)

// handleGetBalances handles GET /api/balances?address=&chains=
func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
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

	if !s.allow(w, r, routeBalances, address) {
		return
	}

	resp, hit, err := s.balances.GetBalances(r.Context(), address, chains)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	setCacheHeader(w, hit)
	respondJSON(w, http.StatusOK, resp)
}

// handleExportBalances handles GET /api/balances/export?address=&chains=&chain=
//
// The export runs the same aggregation as /api/balances and renders the
// holdings of one chain, or all of them, as CSV.
func (s *Server) handleExportBalances(w http.ResponseWriter, r *http.Request) {
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
	chain := r.URL.Query().Get("chain")

	if !s.allow(w, r, routeExport, address) {
		return
	}

	resp, hit, err := s.balances.GetBalances(r.Context(), address, chains)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	body, err := export.ToCSV(resp.Tokens, chain)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	name := chain
	if name == "" {
		name = export.AllChains
	}
	setCacheHeader(w, hit)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="portfolio-%s-%s.csv"`, address, name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
