package adapters

import (
	"context"
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
)

const (
	referenceMarker = "### Reference 1: "
	extractiveLimit = 800
)

// ExtractiveGenerator answers without a model by quoting the best reference in the
// grounding context. It reads the "### Reference N: title" sections the prompt
// builder emits and never adds text of its own beyond a lead-in sentence.
type ExtractiveGenerator struct {
	maxChars int
}

// NewExtractiveGenerator creates an offline generator.
func NewExtractiveGenerator() *ExtractiveGenerator {
	return &ExtractiveGenerator{maxChars: extractiveLimit}
}

// Complete implements ports.Generator.
func (g *ExtractiveGenerator) Complete(ctx context.Context, instruction, groundingContext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	title, body, ok := firstReference(groundingContext)
	if !ok || strings.TrimSpace(body) == "" {
		return "I'm sorry, but this issue is not covered in the knowledge base. " +
			"I recommend creating a support ticket so our team can assist you with this specific problem.", nil
	}

	return fmt.Sprintf("Based on the knowledge base article '%s':\n\n%s", title, excerpt(body, g.maxChars)), nil
}

func firstReference(groundingContext string) (title, body string, ok bool) {
	start := strings.Index(groundingContext, referenceMarker)
	if start < 0 {
		return "", "", false
	}
	rest := groundingContext[start+len(referenceMarker):]

	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return strings.TrimSpace(rest), "", true
	}
	title = strings.TrimSpace(rest[:nl])
	rest = rest[nl+1:]

	end := len(rest)
	for _, marker := range []string{"\n### Reference ", "\n## "} {
		if i := strings.Index(rest, marker); i >= 0 && i < end {
			end = i
		}
	}
	return title, strings.TrimSpace(rest[:end]), true
}

// excerpt cuts s to at most limit characters, preferring a paragraph or sentence end.
func excerpt(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	cut := string(r[:limit])
	if i := strings.LastIndex(cut, "\n\n"); i > limit/2 {
		return strings.TrimSpace(cut[:i])
	}
	if i := strings.LastIndex(cut, ". "); i > limit/2 {
		return cut[:i+1]
	}
	return strings.TrimSpace(cut) + "..."
}

var _ ports.Generator = (*ExtractiveGenerator)(nil)
