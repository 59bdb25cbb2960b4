package orchestration

import (
	"strings"
	"testing"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
	"github.com/stretchr/testify/assert"
)

func TestTicketSubject(t *testing.T) {
	long := strings.Repeat("a", 60)

	assert.Equal(t, "short", TicketSubject("short", ports.TierDecision{Tier: ports.Tier2, Severity: ports.SeverityMedium}))
	assert.Equal(t, "[TIER_3] short", TicketSubject("short", ports.TierDecision{Tier: ports.Tier3, Severity: ports.SeverityHigh}))
	assert.Equal(t, "[CRITICAL] short", TicketSubject("short", ports.TierDecision{Tier: ports.Tier3, Severity: ports.SeverityCritical}))
	assert.Equal(t, strings.Repeat("a", 50)+"...", TicketSubject(long, ports.TierDecision{Tier: ports.Tier2}))
}

func TestTicketDescription(t *testing.T) {
	history := []ports.Turn{
		{Message: "m1", Answer: "a1"},
		{Message: "m2", Answer: "a2"},
		{Message: "m3", Answer: "a3"},
	}
	refs := []ports.Reference{{ID: "KB-1", Title: "VPN setup"}}

	desc := TicketDescription("still broken", history, refs)

	assert.True(t, strings.HasPrefix(desc, "User Issue: still broken\n\n"))
	assert.Contains(t, desc, "Conversation History:\n")
	// Last five messages only.
	assert.NotContains(t, desc, "User: m1\n")
	assert.Contains(t, desc, "Assistant: a1\n")
	assert.Contains(t, desc, "User: m3\nAssistant: a3\n")
	assert.Contains(t, desc, "KB References Consulted:\n- VPN setup (ID: KB-1)\n")
}

func TestTicketDescription_Minimal(t *testing.T) {
	assert.Equal(t, "User Issue: help\n\n", TicketDescription("help", nil, nil))
}

func TestBlockedAnswer(t *testing.T) {
	assert.Equal(t,
		"I cannot provide assistance with this request. Disabling logging is not allowed.",
		blockedAnswer("Disabling logging is not allowed", ""))
	assert.Equal(t,
		"I cannot provide assistance with this request. Disabling logging is not allowed. I've created a support ticket (T-1) for review by our security team.",
		blockedAnswer("Disabling logging is not allowed", "T-1"))
}
