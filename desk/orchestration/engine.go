package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Options controls request validation and collaborator budgets.
type Options struct {
	DefaultTopK       int
	MaxTopK           int
	MaxHistory        int // turns hydrated from the store per turn
	MaxMessageLength  int
	SentimentTimeout  time.Duration
	TicketTimeout     time.Duration
	StoreTimeout      time.Duration
	GuardrailLogLimit int // characters of the message kept in guardrail events
	Answer            AnswerOptions
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		DefaultTopK:       5,
		MaxTopK:           20,
		MaxHistory:        50,
		MaxMessageLength:  4000,
		SentimentTimeout:  time.Second,
		TicketTimeout:     5 * time.Second,
		StoreTimeout:      5 * time.Second,
		GuardrailLogLimit: 500,
		Answer:            DefaultAnswerOptions(),
	}
}

// Observer receives every completed turn, e.g. for metrics.
type Observer interface {
	ObserveTurn(turn ports.Turn, latency time.Duration)
}

// Dependencies are the collaborators of the engine. Retriever, Generator and Store are
// required; the rest fall back to built-in defaults.
type Dependencies struct {
	Retriever    ports.Retriever
	Generator    ports.Generator
	Sentiment    ports.SentimentScorer
	Tickets      ports.TicketEmitter
	Store        ports.ConversationStore
	GuardrailLog ports.GuardrailLog
	Guardrail    *Guardrail
	Limiter      ports.RateLimiter
	Tracer       ports.Tracer
	Observer     Observer
}

// Engine runs conversation turns. Turns of one session are serialized; turns of
// different sessions run concurrently and share no state but the store.
type Engine struct {
	guardrail    *Guardrail
	answers      *AnswerBuilder
	sentiment    ports.SentimentScorer
	tickets      ports.TicketEmitter
	store        ports.ConversationStore
	guardrailLog ports.GuardrailLog
	limiter      ports.RateLimiter
	tracer       ports.Tracer
	observer     Observer
	sessions     *sessionLocks
	opts         Options
	logger       zerolog.Logger
	now          func() time.Time

	// unsaved holds tickets opened on an escalation edge whose turn was not
	// persisted, so a retried turn reuses the ticket instead of opening another.
	unsavedMu sync.Mutex
	unsaved   map[string]string
}

// NewEngine wires an engine from its collaborators.
func NewEngine(deps Dependencies, opts Options, logger zerolog.Logger) (*Engine, error) {
	if deps.Retriever == nil || deps.Generator == nil || deps.Store == nil {
		return nil, errors.New("engine requires a retriever, a generator and a conversation store")
	}
	if opts.DefaultTopK < 1 || opts.MaxTopK < opts.DefaultTopK {
		return nil, fmt.Errorf("invalid topK bounds: default %d, max %d", opts.DefaultTopK, opts.MaxTopK)
	}

	if deps.Guardrail == nil {
		deps.Guardrail = MustNewGuardrail()
	}
	if deps.Sentiment == nil {
		deps.Sentiment = PhraseSentimentScorer{}
	}
	if deps.Tickets == nil {
		deps.Tickets = noOpTicketEmitter{}
	}
	if deps.GuardrailLog == nil {
		deps.GuardrailLog = noOpGuardrailLog{}
	}
	if deps.Limiter == nil {
		deps.Limiter = &noOpRateLimiter{}
	}
	if deps.Tracer == nil {
		deps.Tracer = &noOpTracer{}
	}
	if deps.Observer == nil {
		deps.Observer = noOpObserver{}
	}

	logger = logger.With().Str("component", "engine").Logger()

	return &Engine{
		guardrail:    deps.Guardrail,
		answers:      NewAnswerBuilder(deps.Retriever, deps.Generator, deps.Guardrail, opts.Answer, logger),
		sentiment:    deps.Sentiment,
		tickets:      deps.Tickets,
		store:        deps.Store,
		guardrailLog: deps.GuardrailLog,
		limiter:      deps.Limiter,
		tracer:       deps.Tracer,
		observer:     deps.Observer,
		sessions:     newSessionLocks(),
		opts:         opts,
		logger:       logger,
		now:          time.Now,
		unsaved:      make(map[string]string),
	}, nil
}

// HandleTurn runs one turn: guardrail, grounded answer, sentiment, classification,
// state transition, ticket emission on the escalation edge, and persistence.
// It fails only for invalid requests, rate limiting, cancellation and store errors.
func (e *Engine) HandleTurn(ctx context.Context, req Request) (_ *Response, err error) {
	start := e.now()

	req, err = req.normalize(e.opts)
	if err != nil {
		return nil, err
	}

	release, err := e.limiter.Acquire(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", req.SessionID, err)
	}
	defer release()

	ctx, finish := e.tracer.StartSpan(ctx, "turn", map[string]any{
		"session_id": req.SessionID,
		"user_role":  req.UserRole,
		"top_k":      req.TopK,
	})
	defer func() { finish(err) }()

	unlock, err := e.sessions.lock(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("waiting for session %s: %w", req.SessionID, err)
	}
	defer unlock()

	conv, err := e.load(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	state := newConversationState(conv, req.SessionID, req.UserRole)
	priorAttempts := state.attempts

	verdict := e.guardrail.Check(req.Message, req.UserRole)
	e.recordGuardrail(ctx, req, verdict)

	var answer Answer
	if verdict.Blocked {
		e.tracer.Event(ctx, "guardrail_blocked", map[string]any{"reason": verdict.Reason})
	} else {
		answer = e.answers.Answer(ctx, req.Message, state.history, req.TopK)
	}

	sentiment := e.scoreSentiment(ctx, req.Message, priorAttempts)

	decision, rule := classify(ClassifierInput{
		Confidence:         answer.Confidence,
		Sentiment:          sentiment,
		GuardrailBlocked:   verdict.Blocked,
		UnresolvedAttempts: priorAttempts,
		AlreadyEscalated:   state.escalated(),
	})

	var ticketID string
	if state.advance(decision) {
		e.tracer.Event(ctx, "escalated", map[string]any{"tier": decision.Tier, "severity": decision.Severity})
		if id, ok := e.unsavedTicket(req.SessionID); ok {
			e.logger.Info().Str("session_id", req.SessionID).Str("ticket_id", id).Msg("reusing ticket from unsaved escalation")
			ticketID = id
		} else {
			ticketID = e.emitTicket(ctx, req, decision, state.history, answer.References)
		}
	}

	text := answer.Text
	if verdict.Blocked {
		text = blockedAnswer(verdict.Reason, ticketID)
	}

	turn := ports.Turn{
		ID:                 ulid.Make().String(),
		SessionID:          req.SessionID,
		Message:            req.Message,
		Guardrail:          verdict,
		Chunks:             answer.Chunks,
		Answer:             text,
		References:         answer.References,
		Confidence:         answer.Confidence,
		Sentiment:          sentiment,
		Decision:           decision,
		Degraded:           answer.Degraded,
		TicketID:           ticketID,
		CreatedAt:          e.now(),
		UserRole:           state.userRole,
		State:              state.state,
		UnresolvedAttempts: state.attempts,
	}

	if err := e.append(ctx, turn); err != nil {
		if ticketID != "" {
			e.rememberUnsaved(req.SessionID, ticketID)
		}
		return nil, err
	}
	if ticketID != "" {
		e.forgetUnsaved(req.SessionID)
	}

	latency := e.now().Sub(start)
	e.observer.ObserveTurn(turn, latency)

	e.logger.Info().
		Str("session_id", req.SessionID).
		Str("turn_id", turn.ID).
		Str("rule", rule).
		Str("tier", string(decision.Tier)).
		Str("severity", string(decision.Severity)).
		Bool("escalate", decision.NeedsEscalation).
		Bool("blocked", verdict.Blocked).
		Bool("degraded", answer.Degraded).
		Float64("confidence", answer.Confidence).
		Float64("sentiment", sentiment).
		Int("unresolved_attempts", state.attempts).
		Str("ticket_id", ticketID).
		Dur("latency", latency).
		Msg("turn completed")

	refs := answer.References
	if refs == nil {
		refs = []ports.Reference{}
	}

	return &Response{
		SessionID:       req.SessionID,
		TurnID:          turn.ID,
		Answer:          text,
		References:      refs,
		Confidence:      answer.Confidence,
		Tier:            decision.Tier,
		Severity:        decision.Severity,
		NeedsEscalation: decision.NeedsEscalation,
		Guardrail:       verdict,
		TicketID:        ticketID,
		State:           state.state,
		Degraded:        answer.Degraded,
	}, nil
}

// MarkResolved is the external "resolved" signal: it resets the unresolved-attempt
// counter and leaves the escalation state untouched.
func (e *Engine) MarkResolved(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return &ValidationError{Field: "sessionId", Reason: "must not be empty"}
	}

	unlock, err := e.sessions.lock(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("waiting for session %s: %w", sessionID, err)
	}
	defer unlock()

	ctx, cancel := withTimeout(ctx, e.opts.StoreTimeout)
	defer cancel()

	if err := e.store.MarkResolved(ctx, sessionID); err != nil {
		return fmt.Errorf("mark session %s resolved: %w", sessionID, err)
	}
	e.logger.Info().Str("session_id", sessionID).Msg("session marked resolved")
	return nil
}

// Conversation returns the stored conversation with up to historyLimit recent turns.
func (e *Engine) Conversation(ctx context.Context, sessionID string, historyLimit int) (*ports.Conversation, error) {
	ctx, cancel := withTimeout(ctx, e.opts.StoreTimeout)
	defer cancel()
	return e.store.Load(ctx, sessionID, historyLimit)
}

func (e *Engine) load(ctx context.Context, sessionID string) (*ports.Conversation, error) {
	ctx, cancel := withTimeout(ctx, e.opts.StoreTimeout)
	defer cancel()

	conv, err := e.store.Load(ctx, sessionID, e.opts.MaxHistory)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return conv, nil
}

// append persists the turn even if the caller has gone away, so an emitted ticket
// and the escalated state are not split by a dropped request.
func (e *Engine) append(ctx context.Context, turn ports.Turn) error {
	ctx, cancel := withTimeout(context.WithoutCancel(ctx), e.opts.StoreTimeout)
	defer cancel()

	if err := e.store.Append(ctx, turn.SessionID, turn); err != nil {
		e.tracer.Event(ctx, "store_error", map[string]any{"error": err.Error()})
		return fmt.Errorf("append turn to session %s: %w", turn.SessionID, err)
	}
	return nil
}

// scoreSentiment degrades to neutral on failure or timeout.
func (e *Engine) scoreSentiment(ctx context.Context, message string, priorAttempts int) float64 {
	ctx, cancel := withTimeout(ctx, e.opts.SentimentTimeout)
	defer cancel()

	score, err := e.sentiment.Score(ctx, message, priorAttempts)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		e.logger.Warn().Err(err).Msg("sentiment scoring failed, assuming neutral")
		return 0
	}
	return clamp01(score)
}

// emitTicket opens the escalation ticket. A failure is logged and yields no id; the
// conversation stays escalated either way.
func (e *Engine) emitTicket(
	ctx context.Context,
	req Request,
	decision ports.TierDecision,
	history []ports.Turn,
	refs []ports.Reference,
) string {
	ctx, cancel := withTimeout(context.WithoutCancel(ctx), e.opts.TicketTimeout)
	defer cancel()

	id, err := e.tickets.Create(ctx, ports.TicketDraft{
		SessionID:   req.SessionID,
		UserRole:    req.UserRole,
		Tier:        decision.Tier,
		Severity:    decision.Severity,
		Subject:     TicketSubject(req.Message, decision),
		Description: TicketDescription(req.Message, history, refs),
	})
	if err != nil {
		e.logger.Error().Err(err).Str("session_id", req.SessionID).Msg("ticket creation failed")
		e.tracer.Event(ctx, "ticket_error", map[string]any{"error": err.Error()})
		return ""
	}
	e.logger.Info().Str("session_id", req.SessionID).Str("ticket_id", id).Msg("ticket created")
	return id
}

func (e *Engine) unsavedTicket(sessionID string) (string, bool) {
	e.unsavedMu.Lock()
	defer e.unsavedMu.Unlock()
	id, ok := e.unsaved[sessionID]
	return id, ok
}

func (e *Engine) rememberUnsaved(sessionID, ticketID string) {
	e.unsavedMu.Lock()
	e.unsaved[sessionID] = ticketID
	e.unsavedMu.Unlock()
}

func (e *Engine) forgetUnsaved(sessionID string) {
	e.unsavedMu.Lock()
	delete(e.unsaved, sessionID)
	e.unsavedMu.Unlock()
}

func (e *Engine) recordGuardrail(ctx context.Context, req Request, verdict ports.GuardrailVerdict) {
	ctx, cancel := withTimeout(ctx, e.opts.StoreTimeout)
	defer cancel()

	limit := e.opts.GuardrailLogLimit
	if limit <= 0 {
		limit = 500
	}

	err := e.guardrailLog.RecordGuardrail(ctx, ports.GuardrailEvent{
		SessionID: req.SessionID,
		UserRole:  req.UserRole,
		Message:   truncateRunes(req.Message, limit),
		Verdict:   verdict,
		CreatedAt: e.now(),
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("session_id", req.SessionID).Msg("failed to record guardrail event")
	}
}
