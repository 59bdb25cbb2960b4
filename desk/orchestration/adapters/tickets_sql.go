package adapters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
	"github.com/google/uuid"
)

// DefaultTicketLimit caps listings without an explicit limit.
const DefaultTicketLimit = 50

// SQLTicketStore implements TicketStore on the tickets table.
type SQLTicketStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLTicketStore creates a new SQL ticket store.
func NewSQLTicketStore(db *sql.DB) *SQLTicketStore {
	return &SQLTicketStore{db: db, now: time.Now}
}

// Create opens a NEW ticket and returns its id. A session that already has a ticket
// gets the existing id back.
func (s *SQLTicketStore) Create(ctx context.Context, draft ports.TicketDraft) (string, error) {
	id := uuid.NewString()
	ts := toMillis(s.now())

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (id, session_id, subject, description, tier, severity, status, user_role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING
	`,
		id, draft.SessionID, draft.Subject, draft.Description,
		string(draft.Tier), string(draft.Severity), string(ports.TicketNew),
		draft.UserRole, ts, ts,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create ticket: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return id, nil
	}

	var existing string
	err = s.db.QueryRowContext(ctx, `SELECT id FROM tickets WHERE session_id = ?`, draft.SessionID).Scan(&existing)
	if err != nil {
		return "", fmt.Errorf("failed to look up ticket for session %s: %w", draft.SessionID, err)
	}
	return existing, nil
}

const ticketColumns = `id, session_id, subject, description, tier, severity, status, user_role, created_at, updated_at`

// GetTicket returns the ticket with id or ports.ErrNotFound.
func (s *SQLTicketStore) GetTicket(ctx context.Context, id string) (*ports.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTickets returns tickets newest first.
func (s *SQLTicketStore) ListTickets(ctx context.Context, filter ports.TicketFilter) ([]ports.Ticket, error) {
	var (
		where []string
		args  []any
	)
	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, fmt.Errorf("%w: %q", ports.ErrInvalidStatus, filter.Status)
		}
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + ticketColumns + ` FROM tickets`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultTicketLimit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	tickets := []ports.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickets: %w", err)
	}
	return tickets, nil
}

// UpdateTicketStatus moves a ticket to status and returns the updated ticket.
func (s *SQLTicketStore) UpdateTicketStatus(ctx context.Context, id string, status ports.TicketStatus) (*ports.Ticket, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ports.ErrInvalidStatus, status)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE tickets SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toMillis(s.now()), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update ticket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return nil, ports.ErrNotFound
	}
	return s.GetTicket(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (ports.Ticket, error) {
	var (
		t                      ports.Ticket
		tier, severity, status string
		createdAt, updatedAt   int64
	)
	err := row.Scan(
		&t.ID, &t.SessionID, &t.Subject, &t.Description,
		&tier, &severity, &status, &t.UserRole,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("failed to scan ticket: %w", err)
	}
	t.Tier = ports.Tier(tier)
	t.Severity = ports.Severity(severity)
	t.Status = ports.TicketStatus(status)
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return t, nil
}

var _ ports.TicketStore = (*SQLTicketStore)(nil)
