package ai

import (
	"context"
	"encoding/json"
)

// GeminiGenerator wraps GeminiClient with a fixed model.
type GeminiGenerator struct {
	client *GeminiClient
	model  string
}

// NewGeminiGenerator builds a Gemini-based generator.
func NewGeminiGenerator(client *GeminiClient, model string) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: model}
}

// GenerateJSON implements JSONGenerator using Gemini structured output.
func (g *GeminiGenerator) GenerateJSON(ctx context.Context, req JSONRequest) (json.RawMessage, error) {
	text, err := g.client.GenerateJSON(ctx, g.model, req)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(text), nil
}
