package deskports

import (
	"context"
)

// ConversationStore persists conversations and their turns.
type ConversationStore interface {
	// Load returns the conversation with at most historyLimit recent turns, or ErrNotFound.
	Load(ctx context.Context, sessionID string, historyLimit int) (*Conversation, error)
	// Append stores turn and updates the conversation snapshot it carries.
	Append(ctx context.Context, sessionID string, turn Turn) error
	// MarkResolved resets the unresolved-attempt counter.
	MarkResolved(ctx context.Context, sessionID string) error
}

// GuardrailLog records guardrail checks for auditing.
type GuardrailLog interface {
	RecordGuardrail(ctx context.Context, event GuardrailEvent) error
}

// TicketEmitter opens a support ticket and returns its id.
// A session escalates at most once, so Create is idempotent per session: a repeated
// draft for a session that already has a ticket returns the existing id.
type TicketEmitter interface {
	Create(ctx context.Context, draft TicketDraft) (string, error)
}

// TicketFilter narrows ticket listings.
type TicketFilter struct {
	SessionID string
	Status    TicketStatus
	Limit     int
}

// TicketStore exposes stored tickets to operators.
type TicketStore interface {
	TicketEmitter
	GetTicket(ctx context.Context, id string) (*Ticket, error)
	ListTickets(ctx context.Context, filter TicketFilter) ([]Ticket, error)
	UpdateTicketStatus(ctx context.Context, id string, status TicketStatus) (*Ticket, error)
}
