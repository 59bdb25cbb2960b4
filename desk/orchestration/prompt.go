package orchestration

import (
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
)

// NotCoveredPhrase must appear in any answer given without knowledge base support.
const NotCoveredPhrase = "not covered in the knowledge base"

// GroundingInstruction constrains generation to the supplied references.
const GroundingInstruction = `You are a help desk assistant.

CONSTRAINTS:
1. You MUST ONLY use information from the provided Knowledge Base references.
2. If no reference is relevant, you MUST say "This is ` + NotCoveredPhrase + `" and recommend creating a support ticket.
3. NEVER fabricate commands, URLs, procedures, or steps that are not in the references.
4. NEVER provide guidance on accessing host machines, disabling logging, or destructive actions.
5. Cite the references you used by title.
6. Be helpful, professional, and concise.`

// notCoveredInstruction replaces the grounding instruction when retrieval found nothing.
const notCoveredInstruction = `You are a help desk assistant.

No knowledge base article matches the user's question. You MUST answer only that
"This is ` + NotCoveredPhrase + `" and recommend creating a support ticket.
Do not attempt to answer the question itself.`

// PromptBuilder assembles the generation context from references, history and the question.
type PromptBuilder struct {
	historyTurns int
}

// NewPromptBuilder keeps at most historyTurns recent turns in the context.
func NewPromptBuilder(historyTurns int) *PromptBuilder {
	if historyTurns < 0 {
		historyTurns = 0
	}
	return &PromptBuilder{historyTurns: historyTurns}
}

// Instruction returns the fixed instruction for a retrieval result of chunkCount chunks.
func (b *PromptBuilder) Instruction(chunkCount int) string {
	if chunkCount == 0 {
		return notCoveredInstruction
	}
	return GroundingInstruction
}

// Build renders the grounding context. Chunks and history are copied verbatim; only
// line endings are normalized.
func (b *PromptBuilder) Build(query string, chunks []ports.KnowledgeChunk, history []ports.Turn) string {
	norm := func(s string) string { return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n")) }

	var sb strings.Builder
	sb.WriteString("## Knowledge Base Context:\n\n")
	if len(chunks) == 0 {
		sb.WriteString("No relevant knowledge base articles found for this query.\n\n")
	}
	for i, c := range chunks {
		fmt.Fprintf(&sb, "### Reference %d: %s\n%s\n\n", i+1, norm(c.Title), norm(c.Content))
	}

	if recent := b.recent(history); len(recent) > 0 {
		sb.WriteString("## Recent Conversation History:\n\n")
		for _, t := range recent {
			fmt.Fprintf(&sb, "User: %s\n", norm(t.Message))
			fmt.Fprintf(&sb, "Assistant: %s\n", norm(t.Answer))
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "## User Question:\n%s\n\n", norm(query))
	sb.WriteString("## Instructions:\n")
	if len(chunks) == 0 {
		sb.WriteString("State that the question is " + NotCoveredPhrase + " and recommend creating a support ticket.")
	} else {
		sb.WriteString("Based ONLY on the Knowledge Base context above, provide a helpful answer. " +
			"If the references don't contain relevant information, clearly state that and recommend creating a support ticket.")
	}

	return sb.String()
}

func (b *PromptBuilder) recent(history []ports.Turn) []ports.Turn {
	if b.historyTurns == 0 || len(history) == 0 {
		return nil
	}
	if len(history) > b.historyTurns {
		return history[len(history)-b.historyTurns:]
	}
	return history
}
