// Package config loads and validates dataNERD configuration from
// .datanerd/config.yaml with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all dataNERD configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// SQLite storage
	Store StoreConfig `yaml:"store"`

	// Pipeline orchestration
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the language-model client.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // ollama or genai
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
	Dimensions     int    `yaml:"dimensions"`
}

// StoreConfig configures SQLite persistence.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// PipelineConfig configures orchestrator policy.
type PipelineConfig struct {
	// Transient-error retries per stage.
	MaxStageRetries int `yaml:"max_stage_retries"`
	// Exponential backoff parameters.
	BackoffBase   string  `yaml:"backoff_base"`
	BackoffFactor float64 `yaml:"backoff_factor"`
	BackoffCap    string  `yaml:"backoff_cap"`
	// Overall time limit for a single run.
	RunTimeout string `yaml:"run_timeout"`
	// Critique score below which Debate may trigger the single branch rerun.
	DebateThreshold float64 `yaml:"debate_threshold"`
	// Per-subscriber status event buffer.
	EventBuffer int `yaml:"event_buffer"`
	// Chunking parameters for context ingestion.
	ChunkTokens  int     `yaml:"chunk_tokens"`
	ChunkOverlap float64 `yaml:"chunk_overlap"`
	// Top-k for grounding queries.
	RetrievalK int `yaml:"retrieval_k"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "dataNERD",
		Version: "0.3.0",
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			BaseURL:  "https://generativelanguage.googleapis.com/v1beta",
			Timeout:  "2m",
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
			Dimensions:     768,
		},
		Store: StoreConfig{
			DatabasePath: filepath.Join(".datanerd", "datanerd.db"),
		},
		Pipeline: PipelineConfig{
			MaxStageRetries: 2,
			BackoffBase:     "500ms",
			BackoffFactor:   2.0,
			BackoffCap:      "8s",
			RunTimeout:      "5m",
			DebateThreshold: 0.6,
			EventBuffer:     64,
			ChunkTokens:     500,
			ChunkOverlap:    0.15,
			RetrievalK:      6,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads configuration from the workspace, applying defaults for any
// missing values and environment overrides last.
func Load(workspace string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(workspace, ".datanerd", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration back to the workspace.
func (c *Config) Save(workspace string) error {
	dir := filepath.Join(workspace, ".datanerd")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644)
}

// Validate checks invariants the pipeline depends on.
func (c *Config) Validate() error {
	if c.Pipeline.MaxStageRetries < 0 {
		return fmt.Errorf("pipeline.max_stage_retries must be >= 0")
	}
	if c.Pipeline.DebateThreshold < 0 || c.Pipeline.DebateThreshold > 1 {
		return fmt.Errorf("pipeline.debate_threshold must be in [0,1]")
	}
	if c.Pipeline.ChunkOverlap < 0 || c.Pipeline.ChunkOverlap >= 1 {
		return fmt.Errorf("pipeline.chunk_overlap must be in [0,1)")
	}
	if _, err := c.ParseDuration(c.Pipeline.RunTimeout, 5*time.Minute); err != nil {
		return fmt.Errorf("pipeline.run_timeout: %w", err)
	}
	return nil
}

// ParseDuration parses a duration string, returning fallback for empty input.
func (c *Config) ParseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

// BackoffBaseDuration returns the parsed backoff base (default 500ms).
func (c *Config) BackoffBaseDuration() time.Duration {
	d, err := time.ParseDuration(c.Pipeline.BackoffBase)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// BackoffCapDuration returns the parsed backoff cap (default 8s).
func (c *Config) BackoffCapDuration() time.Duration {
	d, err := time.ParseDuration(c.Pipeline.BackoffCap)
	if err != nil || d <= 0 {
		return 8 * time.Second
	}
	return d
}

// RunTimeoutDuration returns the parsed run timeout (default 5m).
func (c *Config) RunTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Pipeline.RunTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// LLMTimeoutDuration returns the parsed LLM request timeout (default 2m).
func (c *Config) LLMTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil || d <= 0 {
		return 2 * time.Minute
	}
	return d
}
