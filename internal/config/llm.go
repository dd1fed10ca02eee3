package config

import (
	"patientsim/internal/perception"
)

// LLMConfig configures the generation service client.
type LLMConfig struct {
	Provider    string   `yaml:"provider"` // openai, gemini, static
	APIKey      string   `yaml:"api_key"`
	Model       string   `yaml:"model"`
	BaseURL     string   `yaml:"base_url"` // OpenAI-compatible endpoint override
	Timeout     string   `yaml:"timeout"`
	Temperature float32  `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
	Replies     []string `yaml:"replies,omitempty"` // scripted completions for the static provider
}

// ProviderConfig converts the LLM section for perception.NewClientFromConfig.
func (c *Config) ProviderConfig() *perception.ProviderConfig {
	return &perception.ProviderConfig{
		Provider:    perception.Provider(c.LLM.Provider),
		APIKey:      c.LLM.APIKey,
		Model:       c.LLM.Model,
		BaseURL:     c.LLM.BaseURL,
		Timeout:     c.GetLLMTimeout(),
		Temperature: c.LLM.Temperature,
		MaxTokens:   c.LLM.MaxTokens,
		Replies:     c.LLM.Replies,
	}
}
