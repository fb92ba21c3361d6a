package app

import (
	"fmt"
	"strings"

	"studydeck/pkg/ai"
)

// GeneratorConfig selects and configures the model provider.
type GeneratorConfig struct {
	Provider           string
	Model              string
	WorkersAIAccountID string
	WorkersAIAPIToken  string
	WorkersAIBaseURL   string
	OpenAIBaseURL      string
	OpenAIAPIKey       string
	GeminiAPIKey       string
	OllamaBaseURL      string
}

// NewGenerator builds the structured-output client for the configured provider.
func NewGenerator(cfg GeneratorConfig) (ai.JSONGenerator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "workersai"
	}
	switch provider {
	case "workersai":
		return ai.NewWorkersAIGenerator(cfg.WorkersAIBaseURL, cfg.WorkersAIAccountID, cfg.WorkersAIAPIToken, cfg.Model)
	case "openai":
		if strings.TrimSpace(cfg.Model) == "" {
			return nil, fmt.Errorf("generation model required for openai provider")
		}
		return ai.NewOpenAICompatGenerator(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.Model), nil
	case "gemini":
		client, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		return ai.NewGeminiGenerator(client, cfg.Model), nil
	case "ollama":
		return ai.NewOllamaGenerator(ai.NewOllamaClient(cfg.OllamaBaseURL), cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown ai provider: %s", provider)
	}
}
