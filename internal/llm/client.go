// Package llm provides completion clients for the language models that
// back the analysis agents. Clients implement types.LLMClient.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"datanerd/internal/config"
	"datanerd/internal/types"
)

// ErrTimeout marks a request that ran out of time rather than being
// rejected by the API. Callers distinguish the two with errors.Is.
var ErrTimeout = errors.New("llm request timed out")

// Config holds provider-independent client settings.
type Config struct {
	Provider        string
	APIKey          string
	BaseURL         string
	Model           string
	Timeout         time.Duration
	MaxOutputTokens int
}

// DefaultGeminiConfig returns sensible defaults for the Gemini provider.
func DefaultGeminiConfig(apiKey string) Config {
	return Config{
		Provider:        "gemini",
		APIKey:          apiKey,
		BaseURL:         "https://generativelanguage.googleapis.com/v1beta",
		Model:           "gemini-2.0-flash",
		Timeout:         2 * time.Minute,
		MaxOutputTokens: 8192,
	}
}

// FromConfig builds a client Config from the application config.
func FromConfig(cfg *config.Config) Config {
	out := DefaultGeminiConfig(cfg.LLM.APIKey)
	if cfg.LLM.Provider != "" {
		out.Provider = cfg.LLM.Provider
	}
	if cfg.LLM.BaseURL != "" {
		out.BaseURL = cfg.LLM.BaseURL
	}
	if cfg.LLM.Model != "" {
		out.Model = cfg.LLM.Model
	}
	if d := cfg.LLMTimeoutDuration(); d > 0 {
		out.Timeout = d
	}
	return out
}

// NewClient constructs a completion client for the configured provider.
func NewClient(cfg Config) (types.LLMClient, error) {
	switch cfg.Provider {
	case "", "gemini":
		if cfg.APIKey == "" {
			return nil, types.Validationf("gemini provider requires an API key")
		}
		return NewGeminiClient(cfg), nil
	default:
		return nil, types.Validationf("unknown llm provider %q", cfg.Provider)
	}
}

// wrapTransportErr classifies a transport failure so the pipeline retry
// policy can tell timeouts and connection drops from hard API rejections.
func wrapTransportErr(op string, err error) error {
	if isTimeout(err) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return types.Transient(fmt.Errorf("%s: %w", op, err))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
