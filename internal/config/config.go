// Package config loads patientsim configuration from YAML, a .env file and
// environment overrides, and watches the file for changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"patientsim/internal/degradation"
	"patientsim/internal/logging"
	"patientsim/internal/prompt"
	"patientsim/internal/recovery"
	"patientsim/internal/types"
)

// Config holds all patientsim configuration.
type Config struct {
	Name string `yaml:"name"`

	// Generation service
	LLM LLMConfig `yaml:"llm"`

	// Patient character sheet and prompt files
	Character prompt.Character `yaml:"character"`
	Prompt    PromptConfig     `yaml:"prompt"`

	// Dialogue engine tunables
	Engine EngineConfig `yaml:"engine"`

	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
}

// PromptConfig points at optional prompt template and context table files.
type PromptConfig struct {
	TemplatePath string `yaml:"template_path"`
	ContextsPath string `yaml:"contexts_path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr              string `yaml:"addr"`
	SessionTTL        string `yaml:"session_ttl"`
	SweepInterval     string `yaml:"sweep_interval"`
	GenerationTimeout string `yaml:"generation_timeout"`
}

// StoreConfig configures the transcript database. An empty path disables it.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, console
	File       string          `yaml:"file"`
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "patientsim",

		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Timeout:     "60s",
			Temperature: 0.7,
			MaxTokens:   1024,
		},

		Character: prompt.Character{
			Name:      "Mr. Chen",
			Persona:   "A 68-year-old retired bus driver, polite but worried, answers briefly.",
			Backstory: "Admitted three days ago for a left knee replacement; surgery was two days ago.",
			Goal:      "Recover well enough to go home to his wife.",
		},

		Engine: DefaultEngineConfig(),

		Server: ServerConfig{
			Addr:              ":8080",
			SessionTTL:        "1h",
			SweepInterval:     "5m",
			GenerationTimeout: "30s",
		},

		Store: StoreConfig{
			DatabasePath: "data/patientsim.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
		logging.Config("Loaded environment from %s", p)
	}
	return nil
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. A .env file next to the config is loaded before environment
// overrides are applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
		logging.Config("Config %s not found, using defaults", path)
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := LoadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// API keys, lowest priority first
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}

	if p := os.Getenv("PATIENTSIM_PROVIDER"); p != "" {
		c.LLM.Provider = p
		switch p {
		case "openai":
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "gemini":
			c.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	if m := os.Getenv("PATIENTSIM_MODEL"); m != "" {
		c.LLM.Model = m
	}
	if path := os.Getenv("PATIENTSIM_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if addr := os.Getenv("PATIENTSIM_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if level := os.Getenv("PATIENTSIM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetLLMTimeout returns the per-request generation client timeout.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 60*time.Second)
}

// GetSessionTTL returns how long an idle session survives.
func (c *Config) GetSessionTTL() time.Duration {
	return parseDuration(c.Server.SessionTTL, time.Hour)
}

// GetSweepInterval returns how often idle sessions are evicted.
func (c *Config) GetSweepInterval() time.Duration {
	return parseDuration(c.Server.SweepInterval, 5*time.Minute)
}

// GetGenerationTimeout returns the deadline for one generation call in a turn.
func (c *Config) GetGenerationTimeout() time.Duration {
	return parseDuration(c.Server.GenerationTimeout, 30*time.Second)
}

// LoggingOptions converts the logging section for logging.Initialize.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		Categories: c.Logging.Categories,
		OutputPath: c.Logging.File,
	}
}

// PromptOptions converts the prompt section for prompt.NewBuilder.
func (c *Config) PromptOptions() prompt.Options {
	return prompt.Options{
		TemplatePath: c.Prompt.TemplatePath,
		ContextsPath: c.Prompt.ContextsPath,
		MaxResponses: c.Engine.MaxResponses,
	}
}

// ValidProviders lists all supported generation providers.
var ValidProviders = []string{"openai", "gemini", "static"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if c.LLM.Provider != "static" && c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set OPENAI_API_KEY or GEMINI_API_KEY)")
	}
	if c.LLM.Provider == "static" && len(c.LLM.Replies) == 0 {
		return fmt.Errorf("static provider needs at least one reply in llm.replies")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return c.Engine.Validate()
}

// EngineConfig holds the dialogue engine tunables.
type EngineConfig struct {
	HistoryWindow      int                 `yaml:"history_window"`
	QualityWindow      int                 `yaml:"quality_window"`
	ResetKeep          int                 `yaml:"reset_keep"`
	MaxResponses       int                 `yaml:"max_responses"`
	DefaultConfidence  float64             `yaml:"default_confidence"`
	ConsistencyWeights map[string]float64  `yaml:"consistency_weights,omitempty"`
	Degradation        degradation.Options `yaml:"degradation"`
	RecoveryRisk       string              `yaml:"recovery_risk"`   // degradation risk that triggers full recovery
	RepairSeverity     string              `yaml:"repair_severity"` // consistency severity that triggers repair
	ReplyBanks         string              `yaml:"reply_banks"`     // optional YAML file replacing the built-in banks
}

// DefaultEngineConfig returns the stock engine tunables.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistoryWindow:     types.DefaultHistoryWindow,
		QualityWindow:     degradation.DefaultWindowSize,
		ResetKeep:         recovery.DefaultResetKeep,
		MaxResponses:      types.MaxResponses,
		DefaultConfidence: types.DefaultConfidence,
		Degradation:       degradation.DefaultOptions(),
		RecoveryRisk:      string(types.RiskCritical),
		RepairSeverity:    string(types.SeverityHigh),
	}
}

func unit(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be within [0,1], got %v", name, v)
	}
	return nil
}

// Validate rejects out-of-range tunables.
func (e EngineConfig) Validate() error {
	if e.HistoryWindow < 1 {
		return fmt.Errorf("engine.history_window must be at least 1")
	}
	if e.QualityWindow < 1 {
		return fmt.Errorf("engine.quality_window must be at least 1")
	}
	if e.ResetKeep < 0 || e.ResetKeep > e.HistoryWindow {
		return fmt.Errorf("engine.reset_keep must be within [0,%d]", e.HistoryWindow)
	}
	if e.MaxResponses < types.MinResponses || e.MaxResponses > types.MaxResponses {
		return fmt.Errorf("engine.max_responses must be within [%d,%d]", types.MinResponses, types.MaxResponses)
	}
	if err := unit("engine.default_confidence", e.DefaultConfidence); err != nil {
		return err
	}
	for kind, w := range e.ConsistencyWeights {
		if err := unit("engine.consistency_weights."+kind, w); err != nil {
			return err
		}
	}

	d := e.Degradation
	for name, v := range map[string]float64{
		"weights.character_consistency":     d.Weights.CharacterConsistency,
		"weights.response_relevance":        d.Weights.ResponseRelevance,
		"weights.context_appropriateness":   d.Weights.ContextAppropriateness,
		"weights.reasoning_quality":         d.Weights.ReasoningQuality,
		"penalties.self_introduction":       d.Penalties.SelfIntroduction,
		"penalties.generic_response":        d.Penalties.GenericResponse,
		"penalties.abnormal_response_count": d.Penalties.AbnormalCount,
		"thresholds.low":                    d.Thresholds.Low,
		"thresholds.medium":                 d.Thresholds.Medium,
		"thresholds.high":                   d.Thresholds.High,
	} {
		if err := unit("engine.degradation."+name, v); err != nil {
			return err
		}
	}
	if !(d.Thresholds.Low >= d.Thresholds.Medium && d.Thresholds.Medium >= d.Thresholds.High) {
		return fmt.Errorf("engine.degradation.thresholds must satisfy low >= medium >= high")
	}

	if _, ok := types.ParseDegradationRisk(e.RecoveryRisk); !ok {
		return fmt.Errorf("engine.recovery_risk: unknown risk %q", e.RecoveryRisk)
	}
	if _, ok := types.ParseSeverity(e.RepairSeverity); !ok {
		return fmt.Errorf("engine.repair_severity: unknown severity %q", e.RepairSeverity)
	}
	return nil
}
