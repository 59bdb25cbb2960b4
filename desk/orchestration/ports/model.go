package deskports

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidStatus is returned for unknown ticket statuses.
	ErrInvalidStatus = errors.New("invalid ticket status")
)

// Tier is the escalation bucket of a turn.
type Tier string

const (
	Tier1 Tier = "TIER_1" // self-serve
	Tier2 Tier = "TIER_2" // assisted
	Tier3 Tier = "TIER_3" // human required
)

// Severity is the queue priority label, independent of tier.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// State is the escalation state of a conversation.
type State string

const (
	StateActive    State = "ACTIVE"
	StateEscalated State = "ESCALATED"
)

// KnowledgeChunk is one retrieved piece of the knowledge base.
type KnowledgeChunk struct {
	ID        string  `json:"id"`
	ArticleID string  `json:"articleId,omitempty"`
	Title     string  `json:"title"`
	Content   string  `json:"content"`
	Score     float64 `json:"score"` // relevance in [0,1], higher is better
}

// Reference is a knowledge article cited in an answer.
type Reference struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

// GuardrailVerdict is the outcome of a guardrail check.
type GuardrailVerdict struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
}

// TierDecision is the classifier output for one turn.
type TierDecision struct {
	Tier            Tier     `json:"tier"`
	Severity        Severity `json:"severity"`
	NeedsEscalation bool     `json:"needsEscalation"`
}

// Turn is one completed exchange. It is never modified after creation.
type Turn struct {
	ID         string           `json:"id"`
	SessionID  string           `json:"sessionId"`
	Message    string           `json:"message"`
	Guardrail  GuardrailVerdict `json:"guardrail"`
	Chunks     []KnowledgeChunk `json:"chunks,omitempty"`
	Answer     string           `json:"answer"`
	References []Reference      `json:"references,omitempty"`
	Confidence float64          `json:"confidence"`
	Sentiment  float64          `json:"sentiment"`
	Decision   TierDecision     `json:"decision"`
	Degraded   bool             `json:"degraded,omitempty"`
	TicketID   string           `json:"ticketId,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`

	// Conversation snapshot after this turn, persisted alongside it.
	UserRole           string `json:"userRole"`
	State              State  `json:"state"`
	UnresolvedAttempts int    `json:"unresolvedAttempts"`
}

// Conversation is the persisted view of a session.
type Conversation struct {
	SessionID          string    `json:"sessionId"`
	UserRole           string    `json:"userRole"`
	State              State     `json:"state"`
	UnresolvedAttempts int       `json:"unresolvedAttempts"`
	TurnCount          int       `json:"turnCount"`
	History            []Turn    `json:"history,omitempty"` // oldest first
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// TicketStatus is the lifecycle state of a support ticket.
type TicketStatus string

const (
	TicketNew        TicketStatus = "NEW"
	TicketInProgress TicketStatus = "IN_PROGRESS"
	TicketResolved   TicketStatus = "RESOLVED"
	TicketClosed     TicketStatus = "CLOSED"
)

// Valid reports whether s is a known ticket status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketNew, TicketInProgress, TicketResolved, TicketClosed:
		return true
	}
	return false
}

// TicketDraft is what the engine hands to the ticket emitter.
type TicketDraft struct {
	SessionID   string
	UserRole    string
	Tier        Tier
	Severity    Severity
	Subject     string
	Description string
}

// Ticket is a stored support ticket.
type Ticket struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"sessionId"`
	Subject     string       `json:"subject"`
	Description string       `json:"description"`
	Tier        Tier         `json:"tier"`
	Severity    Severity     `json:"severity"`
	Status      TicketStatus `json:"status"`
	UserRole    string       `json:"userRole"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// GuardrailEvent records a single guardrail check.
type GuardrailEvent struct {
	SessionID string
	UserRole  string
	Message   string
	Verdict   GuardrailVerdict
	CreatedAt time.Time
}
