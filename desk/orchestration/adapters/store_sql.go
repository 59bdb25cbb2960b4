package adapters

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
	"github.com/google/uuid"
)

// SQLConversationStore implements ConversationStore and GuardrailLog on the
// libsql/sqlite schema.
type SQLConversationStore struct {
	db *sql.DB
}

// NewSQLConversationStore creates a new SQL conversation store.
func NewSQLConversationStore(db *sql.DB) *SQLConversationStore {
	return &SQLConversationStore{db: db}
}

// Load returns the conversation and its last historyLimit turns, oldest first.
func (s *SQLConversationStore) Load(ctx context.Context, sessionID string, historyLimit int) (*ports.Conversation, error) {
	var (
		conv               ports.Conversation
		state              string
		createdAt, updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_role, state, unresolved_attempts, turn_count, created_at, updated_at
		FROM conversations
		WHERE session_id = ?
	`, sessionID).Scan(
		&conv.SessionID,
		&conv.UserRole,
		&state,
		&conv.UnresolvedAttempts,
		&conv.TurnCount,
		&createdAt,
		&updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	conv.State = ports.State(state)
	conv.CreatedAt = fromMillis(createdAt)
	conv.UpdatedAt = fromMillis(updated)

	if historyLimit <= 0 {
		return &conv, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message, answer, guardrail_blocked, guardrail_reason, confidence, sentiment,
		       tier, severity, needs_escalation, degraded, chunks_json, references_json,
		       ticket_id, created_at
		FROM turns
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, sessionID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		t.SessionID = sessionID
		conv.History = append(conv.History, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}

	// Reverse to chronological order (oldest first)
	for i, j := 0, len(conv.History)-1; i < j; i, j = i+1, j-1 {
		conv.History[i], conv.History[j] = conv.History[j], conv.History[i]
	}

	return &conv, nil
}

func scanTurn(rows *sql.Rows) (ports.Turn, error) {
	var (
		t                    ports.Turn
		reason, ticketID     sql.NullString
		tier, severity       string
		chunksJSON, refsJSON string
		createdAt            int64
	)
	err := rows.Scan(
		&t.ID,
		&t.Message,
		&t.Answer,
		&t.Guardrail.Blocked,
		&reason,
		&t.Confidence,
		&t.Sentiment,
		&tier,
		&severity,
		&t.Decision.NeedsEscalation,
		&t.Degraded,
		&chunksJSON,
		&refsJSON,
		&ticketID,
		&createdAt,
	)
	if err != nil {
		return t, fmt.Errorf("failed to scan turn: %w", err)
	}

	t.Guardrail.Reason = reason.String
	t.Decision.Tier = ports.Tier(tier)
	t.Decision.Severity = ports.Severity(severity)
	t.TicketID = ticketID.String
	t.CreatedAt = fromMillis(createdAt)

	if err := json.Unmarshal([]byte(chunksJSON), &t.Chunks); err != nil {
		return t, fmt.Errorf("failed to unmarshal turn chunks: %w", err)
	}
	if err := json.Unmarshal([]byte(refsJSON), &t.References); err != nil {
		return t, fmt.Errorf("failed to unmarshal turn references: %w", err)
	}
	return t, nil
}

// Append stores turn and applies its conversation snapshot in one transaction.
// A stored ESCALATED state is never overwritten.
func (s *SQLConversationStore) Append(ctx context.Context, sessionID string, turn ports.Turn) error {
	chunksJSON, err := marshalList(turn.Chunks)
	if err != nil {
		return fmt.Errorf("failed to marshal chunks: %w", err)
	}
	refsJSON, err := marshalList(turn.References)
	if err != nil {
		return fmt.Errorf("failed to marshal references: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ts := toMillis(turn.CreatedAt)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (session_id, user_role, state, unresolved_attempts, turn_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			user_role = excluded.user_role,
			state = CASE WHEN conversations.state = 'ESCALATED' THEN 'ESCALATED' ELSE excluded.state END,
			unresolved_attempts = excluded.unresolved_attempts,
			turn_count = conversations.turn_count + 1,
			updated_at = excluded.updated_at
	`, sessionID, turn.UserRole, string(turn.State), turn.UnresolvedAttempts, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (id, session_id, message, answer, guardrail_blocked, guardrail_reason,
		                   confidence, sentiment, tier, severity, needs_escalation, degraded,
		                   chunks_json, references_json, ticket_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		turn.ID, sessionID, turn.Message, turn.Answer,
		boolInt(turn.Guardrail.Blocked), nullString(turn.Guardrail.Reason),
		turn.Confidence, turn.Sentiment,
		string(turn.Decision.Tier), string(turn.Decision.Severity),
		boolInt(turn.Decision.NeedsEscalation), boolInt(turn.Degraded),
		chunksJSON, refsJSON, nullString(turn.TicketID), ts,
	)
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	return nil
}

// MarkResolved resets the unresolved-attempt counter of an existing conversation.
func (s *SQLConversationStore) MarkResolved(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET unresolved_attempts = 0, updated_at = ?
		WHERE session_id = ?
	`, toMillis(time.Now()), sessionID)
	if err != nil {
		return fmt.Errorf("failed to reset unresolved attempts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// RecordGuardrail implements ports.GuardrailLog.
func (s *SQLConversationStore) RecordGuardrail(ctx context.Context, event ports.GuardrailEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guardrail_events (id, session_id, blocked, reason, message_content, user_role, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		uuid.NewString(), event.SessionID, boolInt(event.Verdict.Blocked),
		nullString(event.Verdict.Reason), event.Message, event.UserRole,
		toMillis(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record guardrail event: %w", err)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// marshalList encodes a nil slice as [] to match the column default.
func marshalList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	return string(b), err
}

var (
	_ ports.ConversationStore = (*SQLConversationStore)(nil)
	_ ports.GuardrailLog      = (*SQLConversationStore)(nil)
)
