package orchestration

import (
	"context"
	"strings"
	"testing"
	"time"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnswerBuilder(r ports.Retriever, g ports.Generator, opts AnswerOptions) *AnswerBuilder {
	return NewAnswerBuilder(r, g, MustNewGuardrail(), opts, zerolog.Nop())
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 0.0, Confidence(nil))
	assert.InDelta(t, 0.5, Confidence(chunksScored(0.5)), 1e-9)
	assert.InDelta(t, 0.75, Confidence(chunksScored(0.5, 0.5)), 1e-9)
	// Only the best three contribute.
	assert.InDelta(t, Confidence(chunksScored(0.5, 0.5, 0.5)), Confidence(chunksScored(0.5, 0.5, 0.5, 0.1)), 1e-12)
	// Scores are clamped.
	assert.Equal(t, 1.0, Confidence(chunksScored(1.7)))
	assert.Equal(t, 0.0, Confidence(chunksScored(-0.4)))
}

func TestConfidence_Monotonic(t *testing.T) {
	scores := []float64{0.05, 0.2, 0.35, 0.6, 0.8, 0.95}
	var prev float64
	for i := range scores {
		c := Confidence(chunksScored(scores[:i+1]...))
		assert.GreaterOrEqual(t, c, prev, "adding a chunk must not lower confidence")
		assert.LessOrEqual(t, c, 1.0)
		prev = c
	}

	low := Confidence(chunksScored(0.3, 0.3))
	high := Confidence(chunksScored(0.3, 0.6))
	assert.Greater(t, high, low, "raising a score must raise confidence")
}

func TestReferences(t *testing.T) {
	chunks := []ports.KnowledgeChunk{
		{ID: "c1", ArticleID: "KB-1", Title: "VPN", Content: strings.Repeat("x", 300)},
		{ID: "c2", ArticleID: "KB-1", Title: "VPN", Content: "duplicate article"},
		{ID: "c3", ArticleID: "KB-2", Title: "Login", Content: "short"},
		{ID: "c4", Title: "No article id", Content: "falls back to chunk id"},
		{ID: "c5", ArticleID: "KB-5", Title: "Over the cap", Content: "dropped"},
	}

	refs := References(chunks, 3, 200)
	require.Len(t, refs, 3)
	assert.Equal(t, "KB-1", refs[0].ID)
	assert.Len(t, refs[0].Snippet, 200)
	assert.Equal(t, "KB-2", refs[1].ID)
	assert.Equal(t, "c4", refs[2].ID)
}

func TestAnswerBuilder_GroundedAnswer(t *testing.T) {
	retriever := &StubRetriever{
		retrieveFunc: func(ctx context.Context, query string, topK int) ([]ports.KnowledgeChunk, error) {
			assert.Equal(t, "vm will not boot", query)
			assert.Equal(t, 2, topK)
			// Unsorted and more than topK on purpose.
			return chunksScored(0.4, 0.9, 0.6), nil
		},
	}
	generator := &StubGenerator{}
	b := newTestAnswerBuilder(retriever, generator, DefaultAnswerOptions())

	history := []ports.Turn{
		{Message: "old question", Answer: "old answer"},
		{Message: "previous question", Answer: "previous answer"},
	}
	ans := b.Answer(context.Background(), "vm will not boot", history, 2)

	require.Len(t, ans.Chunks, 2)
	assert.Equal(t, 0.9, ans.Chunks[0].Score)
	assert.Equal(t, 0.6, ans.Chunks[1].Score)
	assert.InDelta(t, 1-(0.1*0.4), ans.Confidence, 1e-9)
	assert.False(t, ans.Degraded)
	assert.Equal(t, "stub answer grounded in the references", ans.Text)
	require.Len(t, ans.References, 2)
	assert.Equal(t, "KB-b", ans.References[0].ID)

	instruction, groundingContext := generator.last()
	assert.Equal(t, GroundingInstruction, instruction)
	assert.Contains(t, groundingContext, "### Reference 1: Article b\nSteps for article b.")
	assert.Contains(t, groundingContext, "User: previous question")
	assert.Contains(t, groundingContext, "Assistant: old answer")
	assert.Contains(t, groundingContext, "## User Question:\nvm will not boot")
}

func TestAnswerBuilder_HistoryWindow(t *testing.T) {
	generator := &StubGenerator{}
	opts := DefaultAnswerOptions()
	opts.HistoryTurns = 1
	b := newTestAnswerBuilder(&StubRetriever{
		retrieveFunc: func(context.Context, string, int) ([]ports.KnowledgeChunk, error) {
			return chunksScored(0.8), nil
		},
	}, generator, opts)

	b.Answer(context.Background(), "q", []ports.Turn{{Message: "first"}, {Message: "second"}}, 5)

	_, groundingContext := generator.last()
	assert.NotContains(t, groundingContext, "User: first")
	assert.Contains(t, groundingContext, "User: second")
}

func TestAnswerBuilder_NoChunks(t *testing.T) {
	t.Run("generator follows the not-covered instruction", func(t *testing.T) {
		generator := &StubGenerator{
			completeFunc: func(ctx context.Context, instruction, groundingContext string) (string, error) {
				return "This is not covered in the knowledge base. Please open a ticket.", nil
			},
		}
		b := newTestAnswerBuilder(&StubRetriever{}, generator, DefaultAnswerOptions())

		ans := b.Answer(context.Background(), "quantum printer drivers", nil, 5)
		assert.Equal(t, 0.0, ans.Confidence)
		assert.Contains(t, ans.Text, NotCoveredPhrase)
		assert.Empty(t, ans.References)
		assert.False(t, ans.Degraded)
		assert.Equal(t, int32(1), generator.calls.Load())

		instruction, groundingContext := generator.last()
		assert.Contains(t, instruction, NotCoveredPhrase)
		assert.Contains(t, groundingContext, "No relevant knowledge base articles found")
	})

	t.Run("invented answers are replaced", func(t *testing.T) {
		generator := &StubGenerator{
			completeFunc: func(ctx context.Context, instruction, groundingContext string) (string, error) {
				return "Run sudo rm -rf / and reboot.", nil
			},
		}
		b := newTestAnswerBuilder(&StubRetriever{}, generator, DefaultAnswerOptions())

		ans := b.Answer(context.Background(), "quantum printer drivers", nil, 5)
		assert.Equal(t, NotCoveredAnswer, ans.Text)
		assert.Equal(t, 0.0, ans.Confidence)
	})
}

func TestAnswerBuilder_ReferencesNeedConfidence(t *testing.T) {
	b := newTestAnswerBuilder(&StubRetriever{
		retrieveFunc: func(context.Context, string, int) ([]ports.KnowledgeChunk, error) {
			return chunksScored(0.2), nil
		},
	}, &StubGenerator{}, DefaultAnswerOptions())

	ans := b.Answer(context.Background(), "q", nil, 5)
	assert.InDelta(t, 0.2, ans.Confidence, 1e-9)
	assert.Empty(t, ans.References)
	assert.Len(t, ans.Chunks, 1)
}

func TestAnswerBuilder_Degraded(t *testing.T) {
	tests := []struct {
		name      string
		retriever *StubRetriever
		generator *StubGenerator
	}{
		{
			name: "retrieval error",
			retriever: &StubRetriever{retrieveFunc: func(context.Context, string, int) ([]ports.KnowledgeChunk, error) {
				return nil, errBackend
			}},
			generator: &StubGenerator{},
		},
		{
			name: "retrieval timeout",
			retriever: &StubRetriever{retrieveFunc: func(ctx context.Context, _ string, _ int) ([]ports.KnowledgeChunk, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}},
			generator: &StubGenerator{},
		},
		{
			name: "generation error",
			retriever: &StubRetriever{retrieveFunc: func(context.Context, string, int) ([]ports.KnowledgeChunk, error) {
				return chunksScored(0.95), nil
			}},
			generator: &StubGenerator{completeFunc: func(context.Context, string, string) (string, error) {
				return "", errBackend
			}},
		},
		{
			name: "generation timeout",
			retriever: &StubRetriever{retrieveFunc: func(context.Context, string, int) ([]ports.KnowledgeChunk, error) {
				return chunksScored(0.95), nil
			}},
			generator: &StubGenerator{completeFunc: func(ctx context.Context, _, _ string) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			}},
		},
		{
			name: "empty generation",
			retriever: &StubRetriever{retrieveFunc: func(context.Context, string, int) ([]ports.KnowledgeChunk, error) {
				return chunksScored(0.95), nil
			}},
			generator: &StubGenerator{completeFunc: func(context.Context, string, string) (string, error) {
				return "  \n ", nil
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultAnswerOptions()
			opts.RetrievalTimeout = 20 * time.Millisecond
			opts.GenerationTimeout = 20 * time.Millisecond
			b := newTestAnswerBuilder(tt.retriever, tt.generator, opts)

			start := time.Now()
			ans := b.Answer(context.Background(), "q", nil, 5)
			assert.Less(t, time.Since(start), 2*time.Second)

			assert.True(t, ans.Degraded)
			assert.Equal(t, DegradedAnswer, ans.Text)
			assert.Equal(t, 0.0, ans.Confidence)
			assert.Empty(t, ans.References)
		})
	}
}

func TestAnswerBuilder_SanitizesOutput(t *testing.T) {
	b := newTestAnswerBuilder(&StubRetriever{
		retrieveFunc: func(context.Context, string, int) ([]ports.KnowledgeChunk, error) {
			return chunksScored(0.95), nil
		},
	}, &StubGenerator{completeFunc: func(context.Context, string, string) (string, error) {
		return "Use password: hunter2 to sign in.", nil
	}}, DefaultAnswerOptions())

	ans := b.Answer(context.Background(), "q", nil, 5)
	assert.NotContains(t, ans.Text, "hunter2")
	assert.Contains(t, ans.Text, "[REDACTED]")
}

func TestPromptBuilder_Build(t *testing.T) {
	b := NewPromptBuilder(5)

	out := b.Build("How do I reset?\r\n", []ports.KnowledgeChunk{
		{Title: "Reset guide", Content: "Step 1.\r\nStep 2."},
	}, nil)

	assert.Contains(t, out, "## Knowledge Base Context:")
	assert.Contains(t, out, "### Reference 1: Reset guide\nStep 1.\nStep 2.")
	assert.NotContains(t, out, "## Recent Conversation History:")
	assert.Contains(t, out, "## User Question:\nHow do I reset?\n")
	assert.Contains(t, out, "## Instructions:")

	assert.Equal(t, GroundingInstruction, b.Instruction(1))
	assert.NotEqual(t, GroundingInstruction, b.Instruction(0))
}
