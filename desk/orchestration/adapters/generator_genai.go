package adapters

import (
	"context"
	"errors"
	"fmt"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// GenAIConfig configures the Gemini generator.
type GenAIConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int32
}

// GenAIGenerator implements Generator with Google's Gemini API.
type GenAIGenerator struct {
	client *genai.Client
	cfg    GenAIConfig
	logger zerolog.Logger
}

// NewGenAIGenerator creates a Gemini-backed generator.
func NewGenAIGenerator(ctx context.Context, cfg GenAIConfig, logger zerolog.Logger) (*GenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("GenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 1000
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIGenerator{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "genai_generator").Str("model", cfg.Model).Logger(),
	}, nil
}

// Complete sends the instruction as the system prompt and the grounding context as
// the single user message.
func (g *GenAIGenerator) Complete(ctx context.Context, instruction, groundingContext string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(groundingContext, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
		Temperature:       genai.Ptr(g.cfg.Temperature),
		MaxOutputTokens:   g.cfg.MaxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}

	text := resp.Text()
	if resp.UsageMetadata != nil {
		g.logger.Debug().
			Int32("prompt_tokens", resp.UsageMetadata.PromptTokenCount).
			Int32("output_tokens", resp.UsageMetadata.CandidatesTokenCount).
			Msg("generation finished")
	}
	return text, nil
}

var _ ports.Generator = (*GenAIGenerator)(nil)
