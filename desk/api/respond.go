package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration"
	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/adapters"
	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
)

var errMissingDeps = errors.New("api: engine and ticket store are required")

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string   `json:"error"`
	Field     string   `json:"field,omitempty"`
	Details   []string `json:"details,omitempty"`
	RequestID string   `json:"requestId,omitempty"`
}

// JSON writes v with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// writeError maps domain errors onto status codes. Unknown errors are logged and
// reported as 500 without their text.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := ErrorBody{RequestID: middleware.GetReqID(r.Context())}

	var (
		status   int
		verr     *orchestration.ValidationError
		rlErr    *adapters.RateLimitError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		body.Error = verr.Error()
		body.Field = verr.Field
	case errors.As(err, &rlErr):
		status = http.StatusTooManyRequests
		body.Error = rlErr.Error()
	case errors.As(err, &tooLarge):
		status = http.StatusRequestEntityTooLarge
		body.Error = "request body too large"
	case errors.Is(err, orchestration.ErrInvalidRequest), errors.Is(err, ports.ErrInvalidStatus):
		status = http.StatusBadRequest
		body.Error = err.Error()
	case errors.Is(err, ports.ErrNotFound):
		status = http.StatusNotFound
		body.Error = "not found"
	default:
		status = http.StatusInternalServerError
		body.Error = "internal error"
		s.logger.Error().Err(err).Str("request_id", body.RequestID).Str("path", r.URL.Path).Msg("request failed")
	}
	JSON(w, status, body)
}

// badRequest reports a malformed request with optional detail lines.
func badRequest(w http.ResponseWriter, r *http.Request, msg string, details ...string) {
	JSON(w, http.StatusBadRequest, ErrorBody{
		Error:     msg,
		Details:   details,
		RequestID: middleware.GetReqID(r.Context()),
	})
}
