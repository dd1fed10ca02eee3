package perception

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// ProviderConfig holds the resolved provider and its settings.
type ProviderConfig struct {
	Provider    Provider
	APIKey      string
	Model       string        // optional model override
	BaseURL     string        // OpenAI-compatible endpoint override
	Timeout     time.Duration // per-request timeout
	Temperature float32
	MaxTokens   int
	Replies     []string // scripted completions for the static provider
}

// DetectProvider picks a provider from environment variables.
// Priority: OPENAI_API_KEY > GEMINI_API_KEY.
func DetectProvider() (*ProviderConfig, error) {
	providers := []struct {
		envVar   string
		provider Provider
	}{
		{"OPENAI_API_KEY", ProviderOpenAI},
		{"GEMINI_API_KEY", ProviderGemini},
	}
	for _, p := range providers {
		if key := os.Getenv(p.envVar); key != "" {
			return &ProviderConfig{Provider: p.provider, APIKey: key}, nil
		}
	}
	return nil, fmt.Errorf("no API key found; set one of: OPENAI_API_KEY, GEMINI_API_KEY")
}

// NewClientFromConfig creates a client from a provider config.
func NewClientFromConfig(config *ProviderConfig) (LLMClient, error) {
	if config == nil {
		return nil, fmt.Errorf("provider config is nil")
	}
	switch Provider(strings.ToLower(string(config.Provider))) {
	case ProviderOpenAI:
		cfg := DefaultOpenAIConfig(config.APIKey)
		if config.Model != "" {
			cfg.Model = config.Model
		}
		if config.BaseURL != "" {
			cfg.BaseURL = config.BaseURL
		}
		if config.Timeout > 0 {
			cfg.Timeout = config.Timeout
		}
		if config.Temperature > 0 {
			cfg.Temperature = config.Temperature
		}
		if config.MaxTokens > 0 {
			cfg.MaxTokens = config.MaxTokens
		}
		return NewOpenAIClientWithConfig(cfg), nil

	case ProviderGemini:
		cfg := DefaultGeminiConfig(config.APIKey)
		if config.Model != "" {
			cfg.Model = config.Model
		}
		if config.Timeout > 0 {
			cfg.Timeout = config.Timeout
		}
		if config.Temperature > 0 {
			cfg.Temperature = config.Temperature
		}
		if config.MaxTokens > 0 {
			cfg.MaxTokens = int32(config.MaxTokens)
		}
		return NewGeminiClientWithConfig(cfg), nil

	case ProviderStatic:
		return NewStaticClient(config.Replies...), nil

	default:
		return nil, fmt.Errorf("unknown provider: %s", config.Provider)
	}
}
