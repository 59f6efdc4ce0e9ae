package config

import (
	"os"
	"strconv"
)

// applyEnvOverrides applies DATANERD_* environment variables on top of the
// loaded config. Environment always wins over file values so deployments can
// inject secrets without editing the workspace config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATANERD_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("DATANERD_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("DATANERD_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("DATANERD_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}

	if v := os.Getenv("DATANERD_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("DATANERD_OLLAMA_ENDPOINT"); v != "" {
		cfg.Embedding.OllamaEndpoint = v
	}
	if v := os.Getenv("DATANERD_GENAI_API_KEY"); v != "" {
		cfg.Embedding.GenAIAPIKey = v
	}

	if v := os.Getenv("DATANERD_DB_PATH"); v != "" {
		cfg.Store.DatabasePath = v
	}

	if v := os.Getenv("DATANERD_RUN_TIMEOUT"); v != "" {
		cfg.Pipeline.RunTimeout = v
	}
	if v := os.Getenv("DATANERD_DEBATE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Pipeline.DebateThreshold = f
		}
	}
	if v := os.Getenv("DATANERD_MAX_STAGE_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Pipeline.MaxStageRetries = n
		}
	}

	if v := os.Getenv("DATANERD_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.DebugMode = b
		}
	}
}
