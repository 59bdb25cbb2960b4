// Package api serves the help desk engine over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/knowledge"
	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/metrics"
	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration"
	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/adapters"
	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
)

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes = 64 << 10

// IndexStats reports the size of the knowledge index.
type IndexStats interface {
	Stats(ctx context.Context) (adapters.IndexStats, error)
}

// Deps are the collaborators behind the routes. Engine and Tickets are required;
// routes for the optional ones are only mounted when they are set.
type Deps struct {
	Engine       *orchestration.Engine
	Tickets      ports.TicketStore
	Reporter     *metrics.Reporter
	Collector    *metrics.Collector
	Index        IndexStats
	Ingester     *knowledge.Ingester
	MetricsPath  string // "/metrics" when empty
	MaxBodyBytes int64
	Logger       zerolog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	deps    Deps
	schemas *schemas
	logger  zerolog.Logger
}

// NewServer validates deps and compiles the request schemas.
func NewServer(deps Deps) (*Server, error) {
	if deps.Engine == nil || deps.Tickets == nil {
		return nil, errMissingDeps
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if deps.MetricsPath == "" {
		deps.MetricsPath = "/metrics"
	}

	s, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &Server{
		deps:    deps,
		schemas: s,
		logger:  deps.Logger.With().Str("component", "http").Logger(),
	}, nil
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))

	if s.deps.Collector != nil {
		r.Method(http.MethodGet, s.deps.MetricsPath, s.deps.Collector.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Post("/resolve", s.handleResolve)
		})

		r.Route("/tickets", func(r chi.Router) {
			r.Get("/", s.handleListTickets)
			r.Get("/{ticketID}", s.handleGetTicket)
			r.Patch("/{ticketID}", s.handleUpdateTicket)
		})

		if s.deps.Reporter != nil {
			r.Get("/metrics/summary", s.handleSummary)
			r.Get("/metrics/trends", s.handleTrends)
		}

		if s.deps.Index != nil {
			r.Get("/kb/stats", s.handleIndexStats)
		}
		if s.deps.Ingester != nil {
			r.Post("/kb/reindex", s.handleReindex)
		}
	})

	return r
}

// requestLogger logs one line per request with the chi request id.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			event := s.logger.Info()
			if status >= http.StatusInternalServerError {
				event = s.logger.Error()
			}
			event.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		}()

		next.ServeHTTP(ww, r)
	})
}
