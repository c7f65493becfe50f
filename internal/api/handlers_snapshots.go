package api

import (
	"net/http"

	"github.com/gorilla/mux"
	apperrors "github.com/portfolio-dashboard/internal/errors"
	"github.com/portfolio-dashboard/internal/service"
)

// CreateSnapshotRequest is the body of POST /api/snapshots
type CreateSnapshotRequest struct {
	Address string                       `json:"address"`
	Tokens  []service.SnapshotTokenInput `json:"tokens"`
}

// SnapshotListResponse is the body of GET /api/snapshots
type SnapshotListResponse struct {
	Address   string                        `json:"address"`
	Limit     int                           `json:"limit"`
	Offset    int                           `json:"offset"`
	Snapshots []service.SnapshotSummaryView `json:"snapshots"`
}

// handleCreateSnapshot handles POST /api/snapshots
func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req CreateSnapshotRequest
	if err := parseJSONBody(w, r, &req); err != nil {
		s.respondError(w, r, apperrors.NewInvalidParameterError("body", "must be a JSON object with an address and a tokens array"))
		return
	}

	address, err := validateAddress(req.Address)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.Tokens == nil {
		s.respondError(w, r, apperrors.NewInvalidParameterError("tokens", "must be an array"))
		return
	}

	if !s.allow(w, r, routeSnapshots, address) {
		return
	}

	receipt, err := s.snapshots.CreateSnapshot(r.Context(), address, req.Tokens)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, receipt)
}

// handleListSnapshots handles GET /api/snapshots?address=&limit=&offset=
func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	address, err := addressParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	limit, err := intParam(r, "limit", service.DefaultSnapshotLimit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	limit, offset = service.ClampPage(limit, offset)

	snapshots, err := s.snapshots.ListSnapshots(r.Context(), address, limit, offset)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, SnapshotListResponse{
		Address:   address,
		Limit:     limit,
		Offset:    offset,
		Snapshots: snapshots,
	})
}

// handleGetLatestSnapshot handles GET /api/snapshots/latest?address=
func (s *Server) handleGetLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	address, err := addressParam(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	snapshot, err := s.snapshots.GetLatestSnapshot(r.Context(), address)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, snapshot)
}

// handleGetSnapshot handles GET /api/snapshots/{id}
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	snapshot, err := s.snapshots.GetSnapshotByID(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, snapshot)
}
