package orchestration

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
	"github.com/rs/zerolog"
)

// Fixed answer texts.
const (
	NotCoveredAnswer = "I'm sorry, but this issue is " + NotCoveredPhrase +
		". I recommend creating a support ticket so our team can assist you with this specific problem."
	DegradedAnswer = "I'm unable to answer right now. Please try again shortly or create a support ticket."
)

// confidenceChunks is how many of the best chunks contribute to confidence.
const confidenceChunks = 3

// errEmptyGeneration marks a generator that returned only whitespace.
var errEmptyGeneration = errors.New("generator returned empty text")

// Answer is the grounded answer for one query.
type Answer struct {
	Text       string
	References []ports.Reference
	Confidence float64
	Chunks     []ports.KnowledgeChunk
	Degraded   bool
}

// AnswerOptions tunes the answer builder.
type AnswerOptions struct {
	HistoryTurns           int
	RetrievalTimeout       time.Duration
	GenerationTimeout      time.Duration
	MinReferenceConfidence float64
	MaxReferences          int
	SnippetLength          int
}

// DefaultAnswerOptions returns the defaults used when no configuration is given.
func DefaultAnswerOptions() AnswerOptions {
	return AnswerOptions{
		HistoryTurns:           5,
		RetrievalTimeout:       5 * time.Second,
		GenerationTimeout:      30 * time.Second,
		MinReferenceConfidence: 0.3,
		MaxReferences:          3,
		SnippetLength:          200,
	}
}

// AnswerBuilder retrieves knowledge, generates a grounded answer and scores it.
type AnswerBuilder struct {
	retriever ports.Retriever
	generator ports.Generator
	prompts   *PromptBuilder
	sanitizer *Guardrail
	opts      AnswerOptions
	logger    zerolog.Logger
}

// NewAnswerBuilder wires an answer builder. A nil sanitizer leaves generated text untouched.
func NewAnswerBuilder(
	retriever ports.Retriever,
	generator ports.Generator,
	sanitizer *Guardrail,
	opts AnswerOptions,
	logger zerolog.Logger,
) *AnswerBuilder {
	return &AnswerBuilder{
		retriever: retriever,
		generator: generator,
		prompts:   NewPromptBuilder(opts.HistoryTurns),
		sanitizer: sanitizer,
		opts:      opts,
		logger:    logger.With().Str("component", "answer_builder").Logger(),
	}
}

// Answer never fails: collaborator errors and timeouts yield a degraded answer.
func (b *AnswerBuilder) Answer(ctx context.Context, query string, history []ports.Turn, topK int) Answer {
	chunks, err := b.retrieve(ctx, query, topK)
	if err != nil {
		b.logger.Warn().Err(err).Msg("retrieval failed, degrading answer")
		return degradedAnswer()
	}

	confidence := Confidence(chunks)
	instruction := b.prompts.Instruction(len(chunks))
	groundingContext := b.prompts.Build(query, chunks, history)

	text, err := b.generate(ctx, instruction, groundingContext)
	if err != nil {
		b.logger.Warn().Err(err).Int("chunks", len(chunks)).Msg("generation failed, degrading answer")
		degraded := degradedAnswer()
		degraded.Chunks = chunks
		return degraded
	}

	if len(chunks) == 0 && !strings.Contains(strings.ToLower(text), NotCoveredPhrase) {
		text = NotCoveredAnswer
	}
	if b.sanitizer != nil {
		text = b.sanitizer.SanitizeOutput(text)
	}

	answer := Answer{
		Text:       text,
		Confidence: confidence,
		Chunks:     chunks,
	}
	if confidence >= b.opts.MinReferenceConfidence {
		answer.References = References(chunks, b.opts.MaxReferences, b.opts.SnippetLength)
	}

	b.logger.Debug().
		Int("chunks", len(chunks)).
		Float64("confidence", confidence).
		Int("references", len(answer.References)).
		Msg("answer built")

	return answer
}

func (b *AnswerBuilder) retrieve(ctx context.Context, query string, topK int) ([]ports.KnowledgeChunk, error) {
	ctx, cancel := withTimeout(ctx, b.opts.RetrievalTimeout)
	defer cancel()

	chunks, err := b.retriever.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]ports.KnowledgeChunk, len(chunks))
	copy(out, chunks)
	// Stable sort keeps the backend order for equal scores.
	slices.SortStableFunc(out, func(a, b ports.KnowledgeChunk) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (b *AnswerBuilder) generate(ctx context.Context, instruction, groundingContext string) (string, error) {
	ctx, cancel := withTimeout(ctx, b.opts.GenerationTimeout)
	defer cancel()

	text, err := b.generator.Complete(ctx, instruction, groundingContext)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errEmptyGeneration
	}
	return text, nil
}

func degradedAnswer() Answer {
	return Answer{Text: DegradedAnswer, Confidence: 0, Degraded: true}
}

// Confidence scores a retrieval result as a noisy-OR of the best chunk scores:
// 1 - prod(1 - s_i) over the top three scores, each clamped to [0,1]. It is 0 for an
// empty result and never decreases when a chunk is added or a score rises.
func Confidence(chunks []ports.KnowledgeChunk) float64 {
	if len(chunks) == 0 {
		return 0
	}

	scores := make([]float64, 0, len(chunks))
	for _, c := range chunks {
		scores = append(scores, clamp01(c.Score))
	}
	slices.SortFunc(scores, func(a, b float64) int { return cmp.Compare(b, a) })
	if len(scores) > confidenceChunks {
		scores = scores[:confidenceChunks]
	}

	miss := 1.0
	for _, s := range scores {
		miss *= 1 - s
	}
	return clamp01(1 - miss)
}

// References cites up to limit distinct articles, in chunk order.
func References(chunks []ports.KnowledgeChunk, limit, snippetLength int) []ports.Reference {
	seen := make(map[string]bool, len(chunks))
	refs := make([]ports.Reference, 0, min(len(chunks), limit))
	for _, c := range chunks {
		if len(refs) >= limit {
			break
		}
		id := c.ArticleID
		if id == "" {
			id = c.ID
		}
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		refs = append(refs, ports.Reference{
			ID:      id,
			Title:   c.Title,
			Snippet: truncateRunes(c.Content, snippetLength),
		})
	}
	return refs
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// withTimeout bounds ctx by d when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
