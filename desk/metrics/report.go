package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
)

const (
	// DefaultTrendDays is the trend window when none is requested.
	DefaultTrendDays = 7
	// MaxTrendDays bounds the trend window.
	MaxTrendDays = 90

	topIssues       = 5
	issueSubjectLen = 50
	dayMillis       = int64(24 * time.Hour / time.Millisecond)
)

// IssueCount is a frequent ticket subject.
type IssueCount struct {
	Issue string `json:"issue"`
	Count int64  `json:"count"`
}

// Summary is the operator view of help desk activity.
type Summary struct {
	TotalConversations     int64                    `json:"totalConversations"`
	TotalTurns             int64                    `json:"totalTurns"`
	TotalTickets           int64                    `json:"totalTickets"`
	DeflectionRate         float64                  `json:"deflectionRate"` // percent of conversations without a ticket
	TicketsByTier          map[ports.Tier]int64     `json:"ticketsByTier"`
	TicketsBySeverity      map[ports.Severity]int64 `json:"ticketsBySeverity"`
	GuardrailActivations   int64                    `json:"guardrailActivations"`
	MostCommonIssues       []IssueCount             `json:"mostCommonIssues"`
	EscalationCount        int64                    `json:"escalationCount"` // escalated conversations
	AverageResponseSeconds float64                  `json:"averageResponseTime"`
	Latency                *LatencySummary          `json:"latency,omitempty"`
}

// TrendPoint is one UTC day of activity.
type TrendPoint struct {
	Date                 string `json:"date"` // YYYY-MM-DD
	Conversations        int64  `json:"conversations"`
	Turns                int64  `json:"turns"`
	Tickets              int64  `json:"tickets"`
	GuardrailActivations int64  `json:"guardrailActivations"`
	Escalations          int64  `json:"escalations"` // sessions that escalated that day
}

// Reporter aggregates the conversation, ticket and guardrail tables.
type Reporter struct {
	db        *sql.DB
	collector *Collector // optional latency source
	now       func() time.Time
}

// NewReporter creates a reporter over db. collector may be nil.
func NewReporter(db *sql.DB, collector *Collector) *Reporter {
	return &Reporter{db: db, collector: collector, now: time.Now}
}

// Summary returns totals since the database was created.
func (r *Reporter) Summary(ctx context.Context) (*Summary, error) {
	s := &Summary{
		TicketsByTier: map[ports.Tier]int64{
			ports.Tier1: 0, ports.Tier2: 0, ports.Tier3: 0,
		},
		TicketsBySeverity: map[ports.Severity]int64{
			ports.SeverityLow: 0, ports.SeverityMedium: 0, ports.SeverityHigh: 0, ports.SeverityCritical: 0,
		},
		MostCommonIssues: []IssueCount{},
	}

	var ticketedSessions int64
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM conversations),
			(SELECT COUNT(*) FROM turns),
			(SELECT COUNT(*) FROM tickets),
			(SELECT COUNT(DISTINCT session_id) FROM tickets),
			(SELECT COUNT(*) FROM guardrail_events WHERE blocked = 1),
			(SELECT COUNT(*) FROM conversations WHERE state = 'ESCALATED')
	`).Scan(
		&s.TotalConversations,
		&s.TotalTurns,
		&s.TotalTickets,
		&ticketedSessions,
		&s.GuardrailActivations,
		&s.EscalationCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}

	if s.TotalConversations > 0 {
		deflected := max(s.TotalConversations-ticketedSessions, 0)
		s.DeflectionRate = math.Round(float64(deflected)/float64(s.TotalConversations)*10000) / 100
	}

	if err := r.groupCount(ctx, `SELECT tier, COUNT(*) FROM tickets GROUP BY tier`, func(key string, n int64) {
		s.TicketsByTier[ports.Tier(key)] = n
	}); err != nil {
		return nil, fmt.Errorf("failed to count tickets by tier: %w", err)
	}
	if err := r.groupCount(ctx, `SELECT severity, COUNT(*) FROM tickets GROUP BY severity`, func(key string, n int64) {
		s.TicketsBySeverity[ports.Severity(key)] = n
	}); err != nil {
		return nil, fmt.Errorf("failed to count tickets by severity: %w", err)
	}

	issues, err := r.db.QueryContext(ctx, `
		SELECT subject, COUNT(*) AS n FROM tickets
		GROUP BY subject
		ORDER BY n DESC, subject
		LIMIT ?
	`, topIssues)
	if err != nil {
		return nil, fmt.Errorf("failed to query common issues: %w", err)
	}
	defer issues.Close()
	for issues.Next() {
		var ic IssueCount
		if err := issues.Scan(&ic.Issue, &ic.Count); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		if runes := []rune(ic.Issue); len(runes) > issueSubjectLen {
			ic.Issue = string(runes[:issueSubjectLen])
		}
		s.MostCommonIssues = append(s.MostCommonIssues, ic)
	}
	if err := issues.Err(); err != nil {
		return nil, fmt.Errorf("error iterating issues: %w", err)
	}

	if r.collector != nil {
		latency := r.collector.LatencySummary()
		s.Latency = &latency
		s.AverageResponseSeconds = math.Round(latency.Mean*1000) / 1000
	}

	return s, nil
}

func (r *Reporter) groupCount(ctx context.Context, query string, fn func(key string, n int64)) error {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		fn(key, n)
	}
	return rows.Err()
}

// Trends returns one point per UTC day for the last days days, oldest first, today
// included. days is clamped to [1, MaxTrendDays].
func (r *Reporter) Trends(ctx context.Context, days int) ([]TrendPoint, error) {
	if days < 1 {
		days = 1
	}
	days = min(days, MaxTrendDays)

	today := r.now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(days - 1))
	startMillis := start.UnixMilli()

	points := make([]TrendPoint, days)
	for i := range points {
		points[i].Date = start.AddDate(0, 0, i).Format(time.DateOnly)
	}

	series := []struct {
		name  string
		query string
		set   func(p *TrendPoint, n int64)
	}{
		{"conversations", `SELECT (created_at - ?) / ? AS d, COUNT(*) FROM conversations WHERE created_at >= ? GROUP BY d`,
			func(p *TrendPoint, n int64) { p.Conversations = n }},
		{"turns", `SELECT (created_at - ?) / ? AS d, COUNT(*) FROM turns WHERE created_at >= ? GROUP BY d`,
			func(p *TrendPoint, n int64) { p.Turns = n }},
		{"tickets", `SELECT (created_at - ?) / ? AS d, COUNT(*) FROM tickets WHERE created_at >= ? GROUP BY d`,
			func(p *TrendPoint, n int64) { p.Tickets = n }},
		{"guardrail activations", `SELECT (created_at - ?) / ? AS d, COUNT(*) FROM guardrail_events WHERE created_at >= ? AND blocked = 1 GROUP BY d`,
			func(p *TrendPoint, n int64) { p.GuardrailActivations = n }},
		// A session escalates on its first turn needing escalation; later turns of an
		// escalated session do not count again.
		{"escalations", `SELECT (escalated_at - ?) / ? AS d, COUNT(*) FROM (
				SELECT session_id, MIN(created_at) AS escalated_at FROM turns
				WHERE needs_escalation = 1 GROUP BY session_id
			) WHERE escalated_at >= ? GROUP BY d`,
			func(p *TrendPoint, n int64) { p.Escalations = n }},
	}

	for _, s := range series {
		if err := r.dailyCount(ctx, s.query, startMillis, points, s.set); err != nil {
			return nil, fmt.Errorf("failed to query %s trend: %w", s.name, err)
		}
	}
	return points, nil
}

func (r *Reporter) dailyCount(ctx context.Context, query string, startMillis int64, points []TrendPoint, set func(*TrendPoint, int64)) error {
	rows, err := r.db.QueryContext(ctx, query, startMillis, dayMillis, startMillis)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var day, n int64
		if err := rows.Scan(&day, &n); err != nil {
			return err
		}
		// Rows stamped in the future fall outside the window.
		if day >= 0 && day < int64(len(points)) {
			set(&points[day], n)
		}
	}
	return rows.Err()
}
