package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/portfolio-dashboard/internal/errors"
	"github.com/portfolio-dashboard/internal/logging"
	"github.com/portfolio-dashboard/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError categorizes err and writes it. Server-side failures are
// logged with their cause; the client only sees the generic message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)
	if catErr.StatusCode >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), s.logger).
			WithError(err).
			WithField("code", catErr.Code).
			Error("Request failed")
	}
	writeError(w, catErr)
}

// writeError sends a categorized error response.
func writeError(w http.ResponseWriter, catErr *apperrors.CategorizedError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(catErr.StatusCode)

	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: *catErr.ToServiceError()})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// parseJSONBody parses JSON request body.
func parseJSONBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return decoder.Decode(v)
}
