package orchestration

import (
	"fmt"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
)

// Classifier thresholds.
const (
	ResolveConfidence     = 0.9 // strictly above resolves at TIER_1
	CalmSentiment         = 0.3 // strictly below counts as calm
	LowConfidence         = 0.5 // strictly below escalates
	FrustratedSentiment   = 0.7 // strictly above escalates with HIGH severity
	EscalateAfterAttempts = 3   // unresolved attempts forcing TIER_3
	FlagAfterAttempts     = 2   // unresolved attempts flagging TIER_2 for escalation
)

// ClassifierInput carries everything the tier decision depends on.
type ClassifierInput struct {
	Confidence         float64
	Sentiment          float64
	GuardrailBlocked   bool
	UnresolvedAttempts int
	AlreadyEscalated   bool
}

type tierRule struct {
	name   string
	when   func(in ClassifierInput) bool
	decide func(in ClassifierInput) ports.TierDecision
}

// tierRules is evaluated top to bottom; the first rule whose condition holds decides.
// The last rule matches every input, so the table is total.
var tierRules = []tierRule{
	{
		name: "override",
		when: func(in ClassifierInput) bool { return in.AlreadyEscalated || in.GuardrailBlocked },
		decide: func(ClassifierInput) ports.TierDecision {
			return ports.TierDecision{Tier: ports.Tier3, Severity: ports.SeverityHigh, NeedsEscalation: true}
		},
	},
	{
		name: "resolved",
		when: func(in ClassifierInput) bool {
			return in.Confidence > ResolveConfidence && in.Sentiment < CalmSentiment
		},
		decide: func(ClassifierInput) ports.TierDecision {
			return ports.TierDecision{Tier: ports.Tier1, Severity: ports.SeverityLow}
		},
	},
	{
		name: "human_required",
		when: func(in ClassifierInput) bool {
			return in.Confidence < LowConfidence ||
				in.Sentiment > FrustratedSentiment ||
				in.UnresolvedAttempts >= EscalateAfterAttempts
		},
		decide: func(in ClassifierInput) ports.TierDecision {
			severity := ports.SeverityMedium
			if in.Sentiment > FrustratedSentiment {
				severity = ports.SeverityHigh
			}
			return ports.TierDecision{Tier: ports.Tier3, Severity: severity, NeedsEscalation: true}
		},
	},
	{
		name: "assisted",
		when: func(ClassifierInput) bool { return true },
		decide: func(in ClassifierInput) ports.TierDecision {
			return ports.TierDecision{
				Tier:            ports.Tier2,
				Severity:        ports.SeverityMedium,
				NeedsEscalation: in.UnresolvedAttempts >= FlagAfterAttempts,
			}
		},
	},
}

// Classify maps a turn's signals to a tier decision. It is pure and total.
func Classify(in ClassifierInput) ports.TierDecision {
	decision, _ := classify(in)
	return decision
}

// classify also reports the name of the deciding rule.
func classify(in ClassifierInput) (ports.TierDecision, string) {
	for _, r := range tierRules {
		if r.when(in) {
			return r.decide(in), r.name
		}
	}
	panic(fmt.Sprintf("orchestration: no tier rule matched %+v", in))
}
