package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/facturaIA/invoice-insight/internal/config"
)

var ErrNoProvider = errors.New("no AI provider configured")

// Provider sends a prompt to a language model and returns its text reply
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// NewProvider builds the provider named by cfg.DefaultProvider. An empty
// name disables LLM-assisted parsing and returns ErrNoProvider.
func NewProvider(ctx context.Context, cfg config.AIConfig) (Provider, error) {
	switch cfg.DefaultProvider {
	case "":
		return nil, ErrNoProvider
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai: api key is required")
		}
		return NewOpenAIProvider("openai", cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model), nil
	case "ollama":
		// Ollama speaks the OpenAI chat API and ignores the key
		return NewOpenAIProvider("ollama", "ollama", cfg.Ollama.BaseURL, cfg.Ollama.Model), nil
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, fmt.Errorf("gemini: api key is required")
		}
		return NewGeminiProvider(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
	case "anthropic":
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("anthropic: api key is required")
		}
		return NewAnthropicProvider(cfg.Anthropic.APIKey, cfg.Anthropic.Model), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.DefaultProvider)
	}
}
