package adapters

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
	"github.com/google/uuid"
)

// MemoryConversationStore keeps conversations in process memory.
type MemoryConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]*ports.Conversation
	events        []ports.GuardrailEvent
}

// NewMemoryConversationStore creates an empty store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{conversations: make(map[string]*ports.Conversation)}
}

// Load returns a copy of the conversation with at most historyLimit recent turns.
func (s *MemoryConversationStore) Load(ctx context.Context, sessionID string, historyLimit int) (*ports.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[sessionID]
	if !ok {
		return nil, ports.ErrNotFound
	}

	out := *conv
	out.History = nil
	if historyLimit > 0 {
		from := max(len(conv.History)-historyLimit, 0)
		out.History = slices.Clone(conv.History[from:])
	}
	return &out, nil
}

// Append records turn and its conversation snapshot. ESCALATED is never undone.
func (s *MemoryConversationStore) Append(ctx context.Context, sessionID string, turn ports.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[sessionID]
	if !ok {
		conv = &ports.Conversation{SessionID: sessionID, CreatedAt: turn.CreatedAt}
		s.conversations[sessionID] = conv
	}

	conv.UserRole = turn.UserRole
	if conv.State != ports.StateEscalated {
		conv.State = turn.State
	}
	conv.UnresolvedAttempts = turn.UnresolvedAttempts
	conv.TurnCount++
	conv.UpdatedAt = turn.CreatedAt
	conv.History = append(conv.History, turn)
	return nil
}

// MarkResolved resets the unresolved-attempt counter.
func (s *MemoryConversationStore) MarkResolved(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[sessionID]
	if !ok {
		return ports.ErrNotFound
	}
	conv.UnresolvedAttempts = 0
	conv.UpdatedAt = time.Now()
	return nil
}

// RecordGuardrail implements ports.GuardrailLog.
func (s *MemoryConversationStore) RecordGuardrail(ctx context.Context, event ports.GuardrailEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// GuardrailEvents returns the recorded guardrail checks, oldest first.
func (s *MemoryConversationStore) GuardrailEvents() []ports.GuardrailEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

// MemoryTicketStore keeps tickets in process memory.
type MemoryTicketStore struct {
	mu      sync.RWMutex
	tickets []ports.Ticket // creation order
}

// NewMemoryTicketStore creates an empty ticket store.
func NewMemoryTicketStore() *MemoryTicketStore {
	return &MemoryTicketStore{}
}

// Create implements ports.TicketEmitter.
func (s *MemoryTicketStore) Create(ctx context.Context, draft ports.TicketDraft) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tickets {
		if existing.SessionID == draft.SessionID {
			return existing.ID, nil
		}
	}

	now := time.Now().UTC()
	t := ports.Ticket{
		ID:          uuid.NewString(),
		SessionID:   draft.SessionID,
		Subject:     draft.Subject,
		Description: draft.Description,
		Tier:        draft.Tier,
		Severity:    draft.Severity,
		Status:      ports.TicketNew,
		UserRole:    draft.UserRole,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tickets = append(s.tickets, t)
	return t.ID, nil
}

// GetTicket returns the ticket with id or ports.ErrNotFound.
func (s *MemoryTicketStore) GetTicket(ctx context.Context, id string) (*ports.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tickets {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, ports.ErrNotFound
}

// ListTickets returns matching tickets newest first.
func (s *MemoryTicketStore) ListTickets(ctx context.Context, filter ports.TicketFilter) ([]ports.Ticket, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", ports.ErrInvalidStatus, filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultTicketLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []ports.Ticket{}
	for i := len(s.tickets) - 1; i >= 0 && len(out) < limit; i-- {
		t := s.tickets[i]
		if filter.SessionID != "" && t.SessionID != filter.SessionID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// UpdateTicketStatus moves a ticket to status.
func (s *MemoryTicketStore) UpdateTicketStatus(ctx context.Context, id string, status ports.TicketStatus) (*ports.Ticket, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ports.ErrInvalidStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.tickets {
		if s.tickets[i].ID == id {
			s.tickets[i].Status = status
			s.tickets[i].UpdatedAt = time.Now().UTC()
			t := s.tickets[i]
			return &t, nil
		}
	}
	return nil, ports.ErrNotFound
}

var (
	_ ports.ConversationStore = (*MemoryConversationStore)(nil)
	_ ports.GuardrailLog      = (*MemoryConversationStore)(nil)
	_ ports.TicketStore       = (*MemoryTicketStore)(nil)
)
