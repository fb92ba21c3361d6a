package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// OllamaGenerator wraps OllamaClient with a fixed model
// using the Ollama /api/chat endpoint.
type OllamaGenerator struct {
	client *OllamaClient
	model  string
}

// NewOllamaGenerator builds an Ollama-based generator.
func NewOllamaGenerator(client *OllamaClient, model string) *OllamaGenerator {
	return &OllamaGenerator{client: client, model: model}
}

// GenerateJSON implements JSONGenerator by passing the schema as the chat format.
func (g *OllamaGenerator) GenerateJSON(ctx context.Context, req JSONRequest) (json.RawMessage, error) {
	chatReq := ollamaChatRequest{
		Messages: ollamaMessages(req.SystemPrompt, req.UserPrompt),
		Format:   req.Schema,
	}
	if req.MaxTokens > 0 {
		chatReq.Options = &ollamaOptions{NumPredict: req.MaxTokens}
	}
	text, err := g.chat(ctx, chatReq)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(text), nil
}

func ollamaMessages(systemPrompt, userPrompt string) []ollamaChatMessage {
	messages := make([]ollamaChatMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: systemPrompt})
	}
	return append(messages, ollamaChatMessage{Role: "user", Content: userPrompt})
}

func (g *OllamaGenerator) chat(ctx context.Context, reqBody ollamaChatRequest) (string, error) {
	model := strings.TrimSpace(g.model)
	if model == "" {
		return "", fmt.Errorf("ollama generation model required")
	}
	reqBody.Model = model
	reqBody.Stream = false

	var resp ollamaChatResponse
	if _, err := g.client.doJSON(ctx, "/api/chat", reqBody, &resp); err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return "", fmt.Errorf("ollama: %w", ErrEmptyResponse)
	}
	return resp.Message.Content, nil
}

// Ollama /api/chat request/response types.

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Format   *Schema             `json:"format,omitempty"`
	Options  *ollamaOptions      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
}
