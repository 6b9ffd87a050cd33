package providers

import (
	"fmt"

	"github.com/DulanDias/opensecagent/internal/config"
)

// NewFromConfig builds the configured provider. Returns an error when the
// LLM section is disabled or incomplete.
func NewFromConfig(cfg config.LLMConfig) (Provider, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("llm is disabled")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm.api_key is empty")
	}
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	case "anthropic":
		return NewAnthropicClient(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
