package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/metrics"
	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration"
	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
)

const (
	defaultSessionHistory = 20
	maxSessionHistory     = 200
	maxTicketLimit        = 500
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r, s.deps.MaxBodyBytes, s.schemas.chat)
	if err != nil {
		s.writeBodyError(w, r, err)
		return
	}

	var req orchestration.Request
	if err := json.Unmarshal(data, &req); err != nil {
		badRequest(w, r, "malformed JSON", err.Error())
		return
	}

	resp, err := s.deps.Engine.HandleTurn(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.deps.Engine.MarkResolved(r.Context(), sessionID); err != nil {
		s.writeError(w, r, err)
		return
	}

	conv, err := s.deps.Engine.Conversation(r.Context(), sessionID, 1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conv.History = nil
	JSON(w, http.StatusOK, conv)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	history, ok := intQuery(w, r, "history", defaultSessionHistory, 0, maxSessionHistory)
	if !ok {
		return
	}

	conv, err := s.deps.Engine.Conversation(r.Context(), chi.URLParam(r, "sessionID"), history)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if history == 0 {
		conv.History = nil
	}
	JSON(w, http.StatusOK, conv)
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(w, r, "limit", 0, 0, maxTicketLimit)
	if !ok {
		return
	}

	q := r.URL.Query()
	tickets, err := s.deps.Tickets.ListTickets(r.Context(), ports.TicketFilter{
		SessionID: q.Get("sessionId"),
		Status:    ports.TicketStatus(q.Get("status")),
		Limit:     limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if tickets == nil {
		tickets = []ports.Ticket{}
	}
	JSON(w, http.StatusOK, map[string]any{"tickets": tickets, "count": len(tickets)})
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.deps.Tickets.GetTicket(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, ticket)
}

func (s *Server) handleUpdateTicket(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r, s.deps.MaxBodyBytes, s.schemas.ticketStatus)
	if err != nil {
		s.writeBodyError(w, r, err)
		return
	}

	var body struct {
		Status ports.TicketStatus `json:"status"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		badRequest(w, r, "malformed JSON", err.Error())
		return
	}

	ticket, err := s.deps.Tickets.UpdateTicketStatus(r.Context(), chi.URLParam(r, "ticketID"), body.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info().Str("ticket_id", ticket.ID).Str("status", string(ticket.Status)).Msg("ticket status updated")
	JSON(w, http.StatusOK, ticket)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Reporter.Summary(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, summary)
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	days, ok := intQuery(w, r, "days", metrics.DefaultTrendDays, 1, metrics.MaxTrendDays)
	if !ok {
		return
	}

	points, err := s.deps.Reporter.Trends(r.Context(), days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"days": days, "trends": points})
}

func (s *Server) handleIndexStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Index.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, stats)
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Ingester.IngestDir(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, report)
}

// intQuery parses an optional integer query parameter within [lo, hi]. On failure it
// writes a 400 and returns false.
func intQuery(w http.ResponseWriter, r *http.Request, name string, def, lo, hi int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		badRequest(w, r, name+" must be an integer between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi))
		return 0, false
	}
	return n, true
}
