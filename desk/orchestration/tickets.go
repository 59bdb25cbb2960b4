package orchestration

import (
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
)

const (
	subjectLength       = 50
	descriptionMessages = 5
)

// TicketSubject is the first 50 characters of message, prefixed for urgent queues.
func TicketSubject(message string, decision ports.TierDecision) string {
	subject := strings.TrimSpace(message)
	if r := []rune(subject); len(r) > subjectLength {
		subject = string(r[:subjectLength]) + "..."
	}

	switch {
	case decision.Severity == ports.SeverityCritical:
		return "[CRITICAL] " + subject
	case decision.Tier == ports.Tier3:
		return "[" + string(ports.Tier3) + "] " + subject
	}
	return subject
}

// TicketDescription summarizes the issue, the recent exchange and the articles consulted.
func TicketDescription(message string, history []ports.Turn, refs []ports.Reference) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User Issue: %s\n\n", message)

	type line struct{ role, content string }
	var lines []line
	for _, t := range history {
		lines = append(lines, line{"User", t.Message})
		if t.Answer != "" {
			lines = append(lines, line{"Assistant", t.Answer})
		}
	}
	if len(lines) > descriptionMessages {
		lines = lines[len(lines)-descriptionMessages:]
	}
	if len(lines) > 0 {
		sb.WriteString("Conversation History:\n")
		for _, l := range lines {
			fmt.Fprintf(&sb, "%s: %s\n", l.role, l.content)
		}
		sb.WriteString("\n")
	}

	if len(refs) > 0 {
		sb.WriteString("KB References Consulted:\n")
		for _, r := range refs {
			fmt.Fprintf(&sb, "- %s (ID: %s)\n", r.Title, r.ID)
		}
	}

	return sb.String()
}

// blockedAnswer is the user-facing text for a guardrail block.
func blockedAnswer(reason, ticketID string) string {
	if reason == "" {
		reason = "This operation is not allowed"
	}
	if !strings.HasSuffix(reason, ".") {
		reason += "."
	}
	text := "I cannot provide assistance with this request. " + reason
	if ticketID != "" {
		text += fmt.Sprintf(" I've created a support ticket (%s) for review by our security team.", ticketID)
	}
	return text
}
