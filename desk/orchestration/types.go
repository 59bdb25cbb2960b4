package orchestration

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
)

// ErrInvalidRequest is returned for requests rejected before the guardrail runs.
var ErrInvalidRequest = errors.New("invalid request")

// ValidationError names the request field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrInvalidRequest) match.
func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

// Request is one inbound user turn.
type Request struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	UserRole  string `json:"userRole"`
	TopK      int    `json:"topK,omitempty"` // zero selects the configured default
}

// Response is the outcome of one turn.
type Response struct {
	SessionID       string                 `json:"sessionId"`
	TurnID          string                 `json:"turnId"`
	Answer          string                 `json:"answer"`
	References      []ports.Reference      `json:"references"`
	Confidence      float64                `json:"confidence"`
	Tier            ports.Tier             `json:"tier"`
	Severity        ports.Severity         `json:"severity"`
	NeedsEscalation bool                   `json:"needsEscalation"`
	Guardrail       ports.GuardrailVerdict `json:"guardrail"`
	TicketID        string                 `json:"ticketId,omitempty"`
	State           ports.State            `json:"state"`
	Degraded        bool                   `json:"degraded,omitempty"`
}

var rolePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)

// normalize validates req and fills defaults. It returns a copy; req is untouched.
func (req Request) normalize(opts Options) (Request, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return req, &ValidationError{Field: "sessionId", Reason: "must not be empty"}
	}

	if strings.TrimSpace(req.Message) == "" {
		return req, &ValidationError{Field: "message", Reason: "must not be empty"}
	}
	if opts.MaxMessageLength > 0 && utf8.RuneCountInString(req.Message) > opts.MaxMessageLength {
		return req, &ValidationError{
			Field:  "message",
			Reason: fmt.Sprintf("exceeds %d characters", opts.MaxMessageLength),
		}
	}

	req.UserRole = strings.ToLower(strings.TrimSpace(req.UserRole))
	if !rolePattern.MatchString(req.UserRole) {
		return req, &ValidationError{Field: "userRole", Reason: "malformed role"}
	}

	if req.TopK == 0 {
		req.TopK = opts.DefaultTopK
	}
	if req.TopK < 1 || req.TopK > opts.MaxTopK {
		return req, &ValidationError{
			Field:  "topK",
			Reason: fmt.Sprintf("must be between 1 and %d", opts.MaxTopK),
		}
	}

	return req, nil
}
