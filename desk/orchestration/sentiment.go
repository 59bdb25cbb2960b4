package orchestration

import (
	"context"
	"math"
	"strings"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
)

var (
	frustratedPhrases = []string{
		"frustrated", "angry", "annoyed", "upset", "irritated",
		"doesn't work", "didn't work", "not working", "still doesn't",
		"not resolved", "doesn't help", "nothing works", "still not",
		"useless", "waste of time", "terrible", "awful",
	}
	satisfiedPhrases = []string{
		"thank", "thanks", "appreciate", "helpful", "great", "good",
		"perfect", "excellent", "works", "resolved", "solved",
	}
	urgentPhrases = []string{
		"urgent", "asap", "as soon as possible", "immediately", "now",
		"emergency", "critical", "important", "need help now",
	}
	// Repeated-failure phrases that compound with prior unresolved attempts.
	repeatFailurePhrases = []string{"didn't work", "not working", "still doesn't", "not resolved"}
)

// Sentiment labels reported by Analyze.
const (
	SentimentNeutral    = "neutral"
	SentimentFrustrated = "frustrated"
	SentimentSatisfied  = "satisfied"
)

// SentimentAnalysis is the detailed result of the phrase scorer.
type SentimentAnalysis struct {
	Label string
	Score float64
}

// PhraseSentimentScorer scores frustration from phrase matches and conversation
// pressure. It is stateless and safe for concurrent use.
type PhraseSentimentScorer struct{}

var _ ports.SentimentScorer = PhraseSentimentScorer{}

// Score implements ports.SentimentScorer.
func (s PhraseSentimentScorer) Score(ctx context.Context, message string, priorAttempts int) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return Analyze(message, priorAttempts).Score, nil
}

// Analyze scores message given the number of unresolved attempts before it.
func Analyze(message string, priorAttempts int) SentimentAnalysis {
	lowered := strings.ToLower(message)
	res := SentimentAnalysis{Label: SentimentNeutral}

	if n := countContains(lowered, frustratedPhrases); n > 0 {
		res.Score = math.Min(0.5+float64(n)*0.15, 1.0)
		res.Label = SentimentFrustrated
	}

	if res.Score < 0.3 && countContains(lowered, satisfiedPhrases) > 0 {
		res.Score = 0.2
		res.Label = SentimentSatisfied
	}

	if priorAttempts > 0 && countContains(lowered, repeatFailurePhrases) > 0 {
		accumulated := math.Min(0.3+float64(priorAttempts)*0.2, 0.9)
		res.Score = math.Max(res.Score, accumulated)
		if res.Score > 0.5 {
			res.Label = SentimentFrustrated
		}
	}

	if priorAttempts >= 2 && countContains(lowered, urgentPhrases) > 0 {
		res.Score = math.Max(res.Score, 0.8)
		res.Label = SentimentFrustrated
	}

	return res
}

func countContains(s string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if strings.Contains(s, p) {
			n++
		}
	}
	return n
}
