package orchestration

import (
	"testing"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestClassify_Scenarios(t *testing.T) {
	tests := []struct {
		name string
		in   ClassifierInput
		want ports.TierDecision
	}{
		{
			name: "confident and calm resolves",
			in:   ClassifierInput{Confidence: 0.95, Sentiment: 0.1},
			want: ports.TierDecision{Tier: ports.Tier1, Severity: ports.SeverityLow},
		},
		{
			name: "low confidence escalates with medium severity",
			in:   ClassifierInput{Confidence: 0.4, Sentiment: 0.2},
			want: ports.TierDecision{Tier: ports.Tier3, Severity: ports.SeverityMedium, NeedsEscalation: true},
		},
		{
			name: "default tier escalates after two attempts",
			in:   ClassifierInput{Confidence: 0.7, Sentiment: 0.2, UnresolvedAttempts: 2},
			want: ports.TierDecision{Tier: ports.Tier2, Severity: ports.SeverityMedium, NeedsEscalation: true},
		},
		{
			name: "default tier holds on first attempt",
			in:   ClassifierInput{Confidence: 0.7, Sentiment: 0.2, UnresolvedAttempts: 1},
			want: ports.TierDecision{Tier: ports.Tier2, Severity: ports.SeverityMedium},
		},
		{
			name: "frustration escalates with high severity",
			in:   ClassifierInput{Confidence: 0.8, Sentiment: 0.75},
			want: ports.TierDecision{Tier: ports.Tier3, Severity: ports.SeverityHigh, NeedsEscalation: true},
		},
		{
			name: "three attempts force human tier",
			in:   ClassifierInput{Confidence: 0.8, Sentiment: 0.2, UnresolvedAttempts: 3},
			want: ports.TierDecision{Tier: ports.Tier3, Severity: ports.SeverityMedium, NeedsEscalation: true},
		},
		{
			name: "guardrail block overrides confidence",
			in:   ClassifierInput{Confidence: 0.99, Sentiment: 0, GuardrailBlocked: true},
			want: ports.TierDecision{Tier: ports.Tier3, Severity: ports.SeverityHigh, NeedsEscalation: true},
		},
		{
			name: "escalation is sticky",
			in:   ClassifierInput{Confidence: 0.99, Sentiment: 0, AlreadyEscalated: true},
			want: ports.TierDecision{Tier: ports.Tier3, Severity: ports.SeverityHigh, NeedsEscalation: true},
		},
		{
			name: "boundaries are strict",
			in:   ClassifierInput{Confidence: 0.9, Sentiment: 0.3},
			want: ports.TierDecision{Tier: ports.Tier2, Severity: ports.SeverityMedium},
		},
		{
			name: "confidence exactly one half is not low",
			in:   ClassifierInput{Confidence: 0.5, Sentiment: 0.7},
			want: ports.TierDecision{Tier: ports.Tier2, Severity: ports.SeverityMedium},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Classify(tt.in)); diff != "" {
				t.Errorf("Classify(%+v) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

// referenceClassify restates the precedence as nested conditionals.
func referenceClassify(in ClassifierInput) ports.TierDecision {
	if in.AlreadyEscalated || in.GuardrailBlocked {
		return ports.TierDecision{Tier: ports.Tier3, Severity: ports.SeverityHigh, NeedsEscalation: true}
	}
	if in.Confidence > 0.9 && in.Sentiment < 0.3 {
		return ports.TierDecision{Tier: ports.Tier1, Severity: ports.SeverityLow}
	}
	if in.Confidence < 0.5 || in.Sentiment > 0.7 || in.UnresolvedAttempts >= 3 {
		sev := ports.SeverityMedium
		if in.Sentiment > 0.7 {
			sev = ports.SeverityHigh
		}
		return ports.TierDecision{Tier: ports.Tier3, Severity: sev, NeedsEscalation: true}
	}
	return ports.TierDecision{Tier: ports.Tier2, Severity: ports.SeverityMedium, NeedsEscalation: in.UnresolvedAttempts >= 2}
}

func TestClassify_ExhaustiveGrid(t *testing.T) {
	confidences := []float64{0, 0.1, 0.3, 0.49, 0.5, 0.51, 0.7, 0.89, 0.9, 0.91, 0.95, 1}
	sentiments := []float64{0, 0.1, 0.29, 0.3, 0.31, 0.5, 0.69, 0.7, 0.71, 0.9, 1}
	bools := []bool{false, true}

	cases := 0
	for _, c := range confidences {
		for _, s := range sentiments {
			for attempts := 0; attempts <= 5; attempts++ {
				for _, blocked := range bools {
					for _, escalated := range bools {
						in := ClassifierInput{
							Confidence:         c,
							Sentiment:          s,
							GuardrailBlocked:   blocked,
							UnresolvedAttempts: attempts,
							AlreadyEscalated:   escalated,
						}

						got, rule := classify(in)
						assert.NotEmpty(t, rule)
						if diff := cmp.Diff(referenceClassify(in), got); diff != "" {
							t.Fatalf("classify(%+v) mismatch (-want +got):\n%s", in, diff)
						}
						// Deterministic
						assert.Equal(t, got, Classify(in))

						if escalated {
							assert.Equal(t, ports.Tier3, got.Tier)
							assert.True(t, got.NeedsEscalation)
						}
						if got.Tier == ports.Tier1 {
							assert.False(t, got.NeedsEscalation)
							assert.Equal(t, ports.SeverityLow, got.Severity)
						}
						cases++
					}
				}
			}
		}
	}
	assert.Equal(t, len(confidences)*len(sentiments)*6*4, cases)
}

func TestClassify_TableIsTotal(t *testing.T) {
	last := tierRules[len(tierRules)-1]
	assert.True(t, last.when(ClassifierInput{Confidence: -1, Sentiment: 2, UnresolvedAttempts: -5}))
}
