package orchestration

import (
	"fmt"
	"regexp"
	"strings"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
)

// ReasonAdminRequired is the verdict reason for privileged operations requested by
// a role without elevated privilege.
const ReasonAdminRequired = "This operation requires administrator privileges"

// GuardrailRule blocks messages matching Pattern with a human readable Reason.
type GuardrailRule struct {
	Pattern string
	Reason  string
}

// DefaultGuardrailRules is the built-in unsafe-intent list. Order matters: the first
// matching rule supplies the reason.
var DefaultGuardrailRules = []GuardrailRule{
	// Host machine access
	{`access.*host.*machine`, "Request to access host machine is not allowed"},
	{`host.*machine.*access`, "Request to access host machine is not allowed"},
	{`behind.*vm`, "Accessing host machine behind VM is not allowed"},
	{`hypervisor.*setting`, "Modifying hypervisor settings is not allowed"},
	{`hypervisor.*config`, "Modifying hypervisor settings is not allowed"},

	// Logging
	{`disable.*log`, "Disabling logging is not allowed"},
	{`turn.*off.*log`, "Disabling logging is not allowed"},
	{`stop.*log`, "Disabling logging is not allowed"},
	{`quiet.*mode`, "Disabling logging is not allowed"},

	// Destructive actions
	{`reset.*all.*environment`, "Resetting all environments is a destructive action and not allowed"},
	{`delete.*all.*user`, "Deleting all user data is not allowed"},
	{`wipe.*all`, "Wiping all data is not allowed"},
	{`format.*all`, "Formatting all drives is not allowed"},

	// System files
	{`/etc/hosts`, "Editing /etc/hosts file is not allowed"},
	{`edit.*hosts.*file`, "Editing hosts file is not allowed"},
	{`modify.*hosts`, "Modifying hosts file is not allowed"},

	// Kernel. General kernel panic questions stay answerable.
	{`kernel.*panic.*(?:fix|debug|repair|modify|command|how.*to.*fix)`, "Kernel panic debugging requires specialized support"},
	{`kernel.*debug`, "Kernel-level debugging is not allowed"},
	{`kernel.*config`, "Kernel configuration changes are not allowed"},
	{`how.*to.*fix.*kernel.*panic`, "Kernel panic debugging requires specialized support"},

	// Privilege escalation
	{`root.*access`, "Root access requests are not allowed"},
	{`sudo.*privilege`, "Elevated privilege requests are not allowed"},
	{`admin.*override`, "Admin override requests are not allowed"},

	// Escalation overrides
	{`don.*t.*escalate`, "Escalation rules cannot be overridden"},
	{`no.*escalation`, "Escalation rules cannot be overridden"},
	{`skip.*escalation`, "Escalation rules cannot be overridden"},
}

// DefaultPrivilegedPatterns reference operations reserved for privileged roles.
var DefaultPrivilegedPatterns = []string{
	`system.*config`,
	`database.*access`,
	`backup.*restore`,
	`security.*policy`,
}

// DefaultPrivilegedRoles may request privileged operations.
var DefaultPrivilegedRoles = []string{"admin", "support_engineer"}

type compiledRule struct {
	pattern *regexp.Regexp
	reason  string
}

// Guardrail classifies messages as blocked or allowed. It is safe for concurrent use
// and holds no per-conversation state.
type Guardrail struct {
	rules           []compiledRule
	privileged      []*regexp.Regexp
	privilegedRoles map[string]bool
	outputFilters   []*regexp.Regexp // credential shapes masked in generated answers
}

// NewGuardrail compiles the built-in rules followed by extra, and trusts privilegedRoles
// with administrative operations. A nil privilegedRoles uses DefaultPrivilegedRoles.
func NewGuardrail(extra []GuardrailRule, privilegedRoles []string) (*Guardrail, error) {
	if privilegedRoles == nil {
		privilegedRoles = DefaultPrivilegedRoles
	}

	g := &Guardrail{
		privilegedRoles: make(map[string]bool, len(privilegedRoles)),
		outputFilters: []*regexp.Regexp{
			regexp.MustCompile(`(?i)password[:=]\s*\S+`),
			regexp.MustCompile(`(?i)api[_-]?key[:=]\s*\S+`),
			regexp.MustCompile(`(?i)secret[:=]\s*\S+`),
			regexp.MustCompile(`(?i)token[:=]\s*\S+`),
		},
	}

	all := make([]GuardrailRule, 0, len(DefaultGuardrailRules)+len(extra))
	all = append(all, DefaultGuardrailRules...)
	all = append(all, extra...)
	for _, r := range all {
		if r.Reason == "" {
			return nil, fmt.Errorf("guardrail rule %q has no reason", r.Pattern)
		}
		// Messages are matched lowered; (?i) keeps operator patterns written in
		// upper case effective.
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid guardrail pattern %q: %w", r.Pattern, err)
		}
		g.rules = append(g.rules, compiledRule{pattern: re, reason: r.Reason})
	}

	for _, p := range DefaultPrivilegedPatterns {
		g.privileged = append(g.privileged, regexp.MustCompile(p))
	}

	for _, role := range privilegedRoles {
		g.privilegedRoles[strings.ToLower(role)] = true
	}

	return g, nil
}

// MustNewGuardrail is NewGuardrail with the built-in rules only.
func MustNewGuardrail() *Guardrail {
	g, err := NewGuardrail(nil, nil)
	if err != nil {
		panic(err)
	}
	return g
}

// Check returns the verdict for message sent by a user holding role.
// Pattern rules are evaluated first, in order; the role rule applies independently.
func (g *Guardrail) Check(message, role string) ports.GuardrailVerdict {
	lowered := strings.ToLower(message)

	for _, r := range g.rules {
		if r.pattern.MatchString(lowered) {
			return ports.GuardrailVerdict{Blocked: true, Reason: r.reason}
		}
	}

	if !g.privilegedRoles[strings.ToLower(role)] {
		for _, p := range g.privileged {
			if p.MatchString(lowered) {
				return ports.GuardrailVerdict{Blocked: true, Reason: ReasonAdminRequired}
			}
		}
	}

	return ports.GuardrailVerdict{}
}

// SanitizeOutput masks credential-looking fragments in generated text.
func (g *Guardrail) SanitizeOutput(output string) string {
	sanitized := output
	for _, filter := range g.outputFilters {
		sanitized = filter.ReplaceAllString(sanitized, "[REDACTED]")
	}
	return sanitized
}
