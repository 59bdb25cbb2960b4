package orchestration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/config"
	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/adapters"
	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
	"github.com/rs/zerolog"
)

// Factory creates and wires engine components from configuration.
type Factory struct {
	cfg    *config.Config
	db     *sql.DB // optional; without it conversations and tickets live in memory
	logger zerolog.Logger
}

// NewFactory creates a new engine factory.
func NewFactory(cfg *config.Config, db *sql.DB, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		db:     db,
		logger: logger,
	}
}

// Components is everything CreateEngine wired, for surfaces that need direct access.
type Components struct {
	Engine  *Engine
	Tickets ports.TicketStore
	Store   ports.ConversationStore
	Cache   ports.Cache
}

// CreateEngine creates a fully wired Engine. retriever may be nil, in which case the
// knowledge base full-text index is used.
func (f *Factory) CreateEngine(ctx context.Context, retriever ports.Retriever, observer Observer) (*Components, error) {
	guardrail, err := f.CreateGuardrail()
	if err != nil {
		return nil, err
	}

	cache := f.createCache()
	if retriever == nil {
		if f.db == nil {
			return nil, errors.New("no retriever configured and no database for the knowledge index")
		}
		retriever = adapters.NewFTSRetriever(f.db, f.logger)
	}
	retriever = adapters.NewCachedRetriever(retriever, cache, f.cfg.Runtime.CacheTTLSeconds)

	generator, err := f.createGenerator(ctx)
	if err != nil {
		return nil, err
	}

	store, guardrailLog := f.createStore()
	tickets := f.createTicketStore()

	engine, err := NewEngine(Dependencies{
		Retriever:    retriever,
		Generator:    generator,
		Sentiment:    PhraseSentimentScorer{},
		Tickets:      tickets,
		Store:        store,
		GuardrailLog: guardrailLog,
		Guardrail:    guardrail,
		Limiter:      f.createRateLimiter(),
		Tracer:       f.createTracer(),
		Observer:     observer,
	}, f.CreateOptions(), f.logger)
	if err != nil {
		return nil, err
	}

	return &Components{Engine: engine, Tickets: tickets, Store: store, Cache: cache}, nil
}

// CreateGuardrail builds the guardrail with the configured extra rules.
func (f *Factory) CreateGuardrail() (*Guardrail, error) {
	extra := make([]GuardrailRule, 0, len(f.cfg.Guardrail.ExtraRules))
	for _, r := range f.cfg.Guardrail.ExtraRules {
		extra = append(extra, GuardrailRule{Pattern: r.Pattern, Reason: r.Reason})
	}

	guardrail, err := NewGuardrail(extra, f.cfg.Guardrail.PrivilegedRoles)
	if err != nil {
		return nil, fmt.Errorf("failed to build guardrail: %w", err)
	}
	return guardrail, nil
}

// CreateOptions maps configuration to engine options, clamping unusable values.
func (f *Factory) CreateOptions() Options {
	oc := f.cfg.Orchestrator
	opts := Options{
		DefaultTopK:       oc.DefaultTopK,
		MaxTopK:           oc.MaxTopK,
		MaxHistory:        oc.MaxHistory,
		MaxMessageLength:  oc.MaxMessageLength,
		SentimentTimeout:  oc.SentimentTimeout,
		TicketTimeout:     oc.TicketTimeout,
		StoreTimeout:      oc.StoreTimeout,
		GuardrailLogLimit: f.cfg.Guardrail.LogMessageLimit,
		Answer: AnswerOptions{
			HistoryTurns:           oc.HistoryTurns,
			RetrievalTimeout:       oc.RetrievalTimeout,
			GenerationTimeout:      oc.GenerationTimeout,
			MinReferenceConfidence: oc.MinReferenceConfidence,
			MaxReferences:          oc.MaxReferences,
			SnippetLength:          oc.SnippetLength,
		},
	}

	if opts.MaxHistory < opts.Answer.HistoryTurns {
		opts.MaxHistory = opts.Answer.HistoryTurns
		f.logger.Warn().Int("max_history", oc.MaxHistory).Msg("MaxHistory raised to HistoryTurns")
	}
	if opts.Answer.MaxReferences < 1 {
		opts.Answer.MaxReferences = 1
		f.logger.Warn().Int("max_references", oc.MaxReferences).Msg("MaxReferences clamped to minimum of 1")
	}
	if opts.Answer.SnippetLength < 1 {
		opts.Answer.SnippetLength = 200
		f.logger.Warn().Int("snippet_length", oc.SnippetLength).Msg("SnippetLength reset to 200")
	}
	if opts.GuardrailLogLimit < 1 {
		opts.GuardrailLogLimit = 500
		f.logger.Warn().Int("log_message_limit", f.cfg.Guardrail.LogMessageLimit).Msg("LogMessageLimit reset to 500")
	}

	return opts
}

func (f *Factory) createGenerator(ctx context.Context) (ports.Generator, error) {
	gc := f.cfg.Generation
	switch gc.Provider {
	case "", "extractive":
		return adapters.NewExtractiveGenerator(), nil
	case "genai":
		gen, err := adapters.NewGenAIGenerator(ctx, adapters.GenAIConfig{
			APIKey:          gc.APIKey,
			Model:           gc.Model,
			Temperature:     gc.Temperature,
			MaxOutputTokens: gc.MaxOutputTokens,
		}, f.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create genai generator: %w", err)
		}
		return gen, nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", gc.Provider)
	}
}

func (f *Factory) createCache() ports.Cache {
	if !f.cfg.Runtime.CacheEnabled {
		return &noOpCache{}
	}

	return adapters.NewLRUCache(f.cfg.Runtime.CacheCapacity)
}

func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.cfg.Runtime.RateLimitEnabled {
		return &noOpRateLimiter{}
	}

	return adapters.NewTokenBucket(f.cfg.Runtime.RateLimitCapacity, f.cfg.Runtime.RateLimitRefillRate)
}

func (f *Factory) createTracer() ports.Tracer {
	if !f.cfg.Runtime.EnableTracing {
		return &noOpTracer{}
	}

	return adapters.NewZerologTracer(f.logger)
}

func (f *Factory) createStore() (ports.ConversationStore, ports.GuardrailLog) {
	if f.db == nil {
		store := adapters.NewMemoryConversationStore()
		return store, store
	}

	store := adapters.NewSQLConversationStore(f.db)
	return store, store
}

func (f *Factory) createTicketStore() ports.TicketStore {
	if f.db == nil {
		return adapters.NewMemoryTicketStore()
	}

	return adapters.NewSQLTicketStore(f.db)
}

// noOpCache implements Cache interface with no-op behavior for a disabled cache.
type noOpCache struct{}

func (c *noOpCache) Get(ctx context.Context, key string) ([]byte, bool) { return nil, false }
func (c *noOpCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	return nil
}
func (c *noOpCache) Delete(ctx context.Context, key string) error { return nil }

// noOpRateLimiter implements RateLimiter interface with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer implements Tracer interface with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

type noOpTicketEmitter struct{}

func (noOpTicketEmitter) Create(ctx context.Context, draft ports.TicketDraft) (string, error) {
	return "", nil
}

type noOpGuardrailLog struct{}

func (noOpGuardrailLog) RecordGuardrail(ctx context.Context, event ports.GuardrailEvent) error {
	return nil
}

type noOpObserver struct{}

func (noOpObserver) ObserveTurn(turn ports.Turn, latency time.Duration) {}

// Ensure all no-op types implement their interfaces.
var (
	_ ports.Cache         = (*noOpCache)(nil)
	_ ports.RateLimiter   = (*noOpRateLimiter)(nil)
	_ ports.Tracer        = (*noOpTracer)(nil)
	_ ports.TicketEmitter = noOpTicketEmitter{}
	_ ports.GuardrailLog  = noOpGuardrailLog{}
	_ Observer            = noOpObserver{}
)
