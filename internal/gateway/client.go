// Package gateway owns everything between the assembled prompt and the raw
// model reply: the provider clients and the per-conversation inference
// guard that keeps requests single-flight.
package gateway

import (
	"context"
	"fmt"
	"time"

	"starchat/internal/chat"
	"starchat/internal/config"
)

// LLMClient is the minimal provider surface the session needs. Implementations
// must be safe for concurrent use; the guard serializes per conversation but
// different conversations may call simultaneously.
type LLMClient interface {
	// CompleteChat sends the system prompt plus an ordered message payload
	// and returns the raw completion text.
	CompleteChat(ctx context.Context, system string, payload []chat.PromptMessage) (string, error)
	// Name identifies the provider/model for logs.
	Name() string
}

// NewClient builds the provider client selected by the configuration.
func NewClient(ctx context.Context, cfg config.LLMConfig) (LLMClient, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	case "gemini":
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// OpenAIConfig parameterizes the OpenAI-compatible client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
		Timeout: 2 * time.Minute,
	}
}

// GeminiConfig parameterizes the Gemini client.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:  apiKey,
		Model:   "gemini-2.0-flash",
		Timeout: 2 * time.Minute,
	}
}
