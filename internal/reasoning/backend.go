package reasoning

import (
	"time"

	"github.com/rendis/copilot/pkg/schema"
)

// Providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// BackendConfig selects and configures a model backend.
type BackendConfig struct {
	Provider    string
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
	Timeout     time.Duration
}

// DefaultBackendConfig is a local Ollama running the small instruct model.
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		Provider:    ProviderOllama,
		BaseURL:     "http://localhost:11434",
		Model:       "phi3.5:3.8b-mini-instruct-q4_K_M",
		Temperature: 0.0,
		Timeout:     60 * time.Second,
	}
}

// NewLM builds the raw backend named by cfg.Provider.
func NewLM(cfg BackendConfig) (LM, error) {
	switch cfg.Provider {
	case ProviderOllama, "":
		return NewOllama(cfg.BaseURL, cfg.Model, cfg.Temperature)
	case ProviderOpenAI:
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature), nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "unknown llm provider %q", cfg.Provider).
			WithDetails(map[string]any{"provider": cfg.Provider})
	}
}
