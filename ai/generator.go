package ai

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// Generator is the only thing the rest of the code knows about the LLM
// provider: text in, text out.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type GenAIGenerator struct {
	client      *genai.Client
	model       string
	temperature float32
}

func NewGenAIGenerator(ctx context.Context, apiKey, model string) (*GenAIGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("genai: API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai: create client: %w", err)
	}

	return &GenAIGenerator{client: client, model: model, temperature: 0.2}, nil
}

func (g *GenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	temperature := g.temperature
	result, err := g.client.Models.GenerateContent(
		ctx,
		g.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{Temperature: &temperature},
	)
	if err != nil {
		return "", fmt.Errorf("genai: generate: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", errors.New("genai: empty response")
	}
	return text, nil
}
