// Package llm talks to the reasoning model behind the command dispatcher.
// A call carries one system instruction, the user's text and the functions
// the model may call; the answer is either text or function calls.
package llm

import (
	"context"
	"fmt"

	"deskline/internal/config"
)

// Schema is the JSON-schema subset used to describe function parameters.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

type FunctionSpec struct {
	Name        string
	Description string
	Parameters  *Schema
}

type Request struct {
	System    string
	Prompt    string
	Functions []FunctionSpec
}

// FunctionCall carries the arguments exactly as the model produced them.
type FunctionCall struct {
	Name      string
	Arguments string
}

type Response struct {
	Content string
	Calls   []FunctionCall
}

type Model interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// New builds the backend named by the config.
func New(ctx context.Context, cfg config.ModelConfig) (Model, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		return NewOpenAI(cfg.BaseURL, cfg.APIKey(), cfg.Name, cfg.Timeout()), nil
	case config.ProviderGemini:
		return NewGemini(ctx, cfg.APIKey(), cfg.Name)
	}
	return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
}
