package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyResponse is returned when a provider answers without content.
var ErrEmptyResponse = errors.New("empty response from model")

// JSONRequest asks a provider for output constrained by a JSON schema.
type JSONRequest struct {
	// Name labels the schema for providers that require one.
	Name         string
	SystemPrompt string
	UserPrompt   string
	Schema       *Schema
	MaxTokens    int
}

// JSONGenerator produces schema-constrained output. The returned bytes are
// either a JSON document or a JSON string holding one; use DecodeJSON.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, req JSONRequest) (json.RawMessage, error)
}

// DecodeJSON unmarshals model output into out. It accepts an already
// structured value, a JSON string wrapping the document, and text fenced
// in a markdown code block.
func DecodeJSON(raw []byte, out any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ErrEmptyResponse
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return fmt.Errorf("decode model string: %w", err)
		}
		raw = bytes.TrimSpace([]byte(inner))
		if len(raw) == 0 {
			return ErrEmptyResponse
		}
	}
	raw = stripCodeFence(raw)
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode model json: %w", err)
	}
	return nil
}

func stripCodeFence(raw []byte) []byte {
	if !bytes.HasPrefix(raw, []byte("```")) {
		return raw
	}
	raw = raw[3:]
	if nl := bytes.IndexByte(raw, '\n'); nl >= 0 {
		raw = raw[nl+1:]
	}
	raw = bytes.TrimSpace(raw)
	raw = bytes.TrimSuffix(raw, []byte("```"))
	return bytes.TrimSpace(raw)
}
