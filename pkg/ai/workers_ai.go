package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultWorkersAIBaseURL = "https://api.cloudflare.com/client/v4"
	DefaultWorkersAIModel   = "@cf/meta/llama-3.3-70b-instruct-fp8-fast"
)

// WorkersAIGenerator calls the Cloudflare Workers AI REST endpoint
// /accounts/{account}/ai/run/{model}.
type WorkersAIGenerator struct {
	baseURL    string
	accountID  string
	apiToken   string
	model      string
	httpClient *http.Client
}

// NewWorkersAIGenerator builds a Workers AI generator. An empty baseURL uses
// the public Cloudflare API; an AI Gateway URL can be passed instead.
func NewWorkersAIGenerator(baseURL, accountID, apiToken, model string) (*WorkersAIGenerator, error) {
	accountID = strings.TrimSpace(accountID)
	apiToken = strings.TrimSpace(apiToken)
	if accountID == "" {
		return nil, fmt.Errorf("workers ai account id required")
	}
	if apiToken == "" {
		return nil, fmt.Errorf("workers ai api token required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultWorkersAIBaseURL
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultWorkersAIModel
	}
	return &WorkersAIGenerator{
		baseURL:    baseURL,
		accountID:  accountID,
		apiToken:   apiToken,
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// GenerateJSON implements JSONGenerator with a json_schema response_format.
// The model answers either with a JSON string or an already decoded object.
func (g *WorkersAIGenerator) GenerateJSON(ctx context.Context, req JSONRequest) (json.RawMessage, error) {
	body := newWorkersAIRequest(req.SystemPrompt, req.UserPrompt)
	body.MaxTokens = req.MaxTokens
	if req.Schema != nil {
		body.ResponseFormat = &workersAIResponseFormat{Type: "json_schema", JSONSchema: req.Schema}
	}
	return g.run(ctx, body)
}

func newWorkersAIRequest(systemPrompt, userPrompt string) workersAIRequest {
	if strings.TrimSpace(systemPrompt) == "" {
		return workersAIRequest{Prompt: userPrompt}
	}
	return workersAIRequest{Messages: []oaiMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}}
}

func (g *WorkersAIGenerator) run(ctx context.Context, reqBody workersAIRequest) (json.RawMessage, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/accounts/%s/ai/run/%s", g.baseURL, g.accountID, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("workers ai request: %w", err)
	}
	defer resp.Body.Close()

	var runResp workersAIResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&runResp)
	if resp.StatusCode >= 400 || (decodeErr == nil && !runResp.Success && len(runResp.Errors) > 0) {
		if len(runResp.Errors) > 0 && runResp.Errors[0].Message != "" {
			return nil, fmt.Errorf("workers ai api error: %s", runResp.Errors[0].Message)
		}
		return nil, fmt.Errorf("workers ai api error: %s", resp.Status)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("workers ai decode: %w", decodeErr)
	}
	raw := bytes.TrimSpace(runResp.Result.Response)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`)) {
		return nil, fmt.Errorf("workers ai: %w", ErrEmptyResponse)
	}
	return json.RawMessage(raw), nil
}

type workersAIResponseFormat struct {
	Type       string  `json:"type"`
	JSONSchema *Schema `json:"json_schema,omitempty"`
}

type workersAIRequest struct {
	Prompt         string                   `json:"prompt,omitempty"`
	Messages       []oaiMessage             `json:"messages,omitempty"`
	MaxTokens      int                      `json:"max_tokens,omitempty"`
	ResponseFormat *workersAIResponseFormat `json:"response_format,omitempty"`
}

type workersAIResponse struct {
	Result struct {
		Response json.RawMessage `json:"response"`
	} `json:"result"`
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}
