package model

import (
	"context"
	"fmt"

	"github.com/hupe1980/genloop/core"
)

// Response modalities understood by image-capable providers.
const (
	ModalityText  = "TEXT"
	ModalityImage = "IMAGE"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type" yaml:"type"` // "function"
	Function FunctionDefinition `json:"function" yaml:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Parameters  map[string]any `json:"parameters" yaml:"parameters"` // JSON Schema
}

// NewFunctionDefinition builds a ToolDefinition of type "function".
func NewFunctionDefinition(name, description string, parameters map[string]any) ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// ImageConfig constrains generated images.
type ImageConfig struct {
	AspectRatio string `json:"aspect_ratio,omitempty"` // e.g. "16:9"
	ImageSize   string `json:"image_size,omitempty"`   // e.g. "1K"
}

// Request captures the normalized model input produced by a session.
type Request struct {
	SystemInstruction  string           `json:"system_instruction,omitempty"`
	Contents           []core.Content   `json:"contents"`
	Tools              []ToolDefinition `json:"tools,omitempty"`
	ResponseModalities []string         `json:"response_modalities,omitempty"`
	ImageConfig        *ImageConfig     `json:"image_config,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a complete model turn.
type Response struct {
	ID           string       `json:"id,omitempty"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason,omitempty"`
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "gemini", "openai", "anthropic", "scripted"
	SupportsTools bool   `json:"supports_tools"`
	SupportsImage bool   `json:"supports_image"`
}

// Model is the minimal interface required by sessions to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// Category is a provider-independent hint about why a call failed.
type Category string

const (
	CategoryUnknown     Category = ""
	CategoryRateLimited Category = "rate_limited"
	CategoryBlocked     Category = "blocked"
	CategoryTimeout     Category = "timeout"
	CategoryAuth        Category = "auth"
)

// APIError is returned by providers when the endpoint rejects a call or
// returns an unusable response.
type APIError struct {
	Provider   string
	StatusCode int      // HTTP status when known
	Status     string   // Provider status string (e.g. RESOURCE_EXHAUSTED, SAFETY)
	Category   Category // Set by the provider when it can tell
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s api error %d %s: %s", e.Provider, e.StatusCode, e.Status, msg)
	}
	if e.Status != "" {
		return fmt.Sprintf("%s api error %s: %s", e.Provider, e.Status, msg)
	}
	return fmt.Sprintf("%s api error: %s", e.Provider, msg)
}

// Unwrap returns the underlying SDK error.
func (e *APIError) Unwrap() error { return e.Err }
