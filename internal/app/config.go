package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"

	"github.com/rendis/copilot/internal/nodes"
	"github.com/rendis/copilot/internal/reasoning"
	"github.com/rendis/copilot/pkg/schema"
)

// Cache backends.
const (
	CacheNone   = "none"
	CacheBadger = "badger"
	CacheRedis  = "redis"
)

// Config holds every setting of the copilot process.
type Config struct {
	DBPath    string          `yaml:"db_path" json:"db_path" validate:"required"`
	DocsDir   string          `yaml:"docs_dir" json:"docs_dir" validate:"required"`
	StorePath string          `yaml:"store_path" json:"store_path"`
	LogLevel  string          `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`
	Schedule  string          `yaml:"schedule" json:"schedule"`
	LLM       LLMConfig       `yaml:"llm" json:"llm"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
	Tracing   TracingConfig   `yaml:"tracing" json:"tracing"`
}

// LLMConfig selects the model backend and bounds its calls.
type LLMConfig struct {
	Provider    string        `yaml:"provider" json:"provider" validate:"oneof=ollama openai"`
	BaseURL     string        `yaml:"base_url" json:"base_url" validate:"omitempty,url"`
	Model       string        `yaml:"model" json:"model" validate:"required"`
	APIKey      string        `yaml:"api_key" json:"api_key" validate:"required_if=Provider openai"`
	Temperature float64       `yaml:"temperature" json:"temperature" validate:"gte=0,lte=2"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
	MaxRetries  int           `yaml:"max_retries" json:"max_retries" validate:"gte=0,lte=10"`
	RatePerSec  float64       `yaml:"rate_per_sec" json:"rate_per_sec" validate:"gte=0"`
}

// CacheConfig selects where model replies are memoized.
type CacheConfig struct {
	Backend       string        `yaml:"backend" json:"backend" validate:"oneof=none badger redis"`
	Path          string        `yaml:"path" json:"path" validate:"required_if=Backend badger"`
	RedisAddr     string        `yaml:"redis_addr" json:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string        `yaml:"redis_password" json:"redis_password"`
	RedisDB       int           `yaml:"redis_db" json:"redis_db" validate:"gte=0"`
	TTL           time.Duration `yaml:"ttl" json:"ttl" validate:"gte=0"`
}

// RetrievalConfig tunes the document index.
type RetrievalConfig struct {
	TopK     int `yaml:"top_k" json:"top_k" validate:"gte=1,lte=50"`
	MaxChunk int `yaml:"max_chunk" json:"max_chunk" validate:"gte=0"`
}

// HTTPConfig configures the serve command.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" validate:"required"`
	Metrics    bool   `yaml:"metrics" json:"metrics"`
}

// TracingConfig enables the stdout span exporter. An empty Output writes to stderr.
type TracingConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Output  string `yaml:"output" json:"output"`
}

// DefaultConfig is the configuration before any file, env or flag layer.
func DefaultConfig() Config {
	backend := reasoning.DefaultBackendConfig()
	guard := reasoning.DefaultGuardConfig()
	return Config{
		DBPath:   "data/northwind.sqlite",
		DocsDir:  "docs",
		LogLevel: "info",
		LLM: LLMConfig{
			Provider:    backend.Provider,
			BaseURL:     backend.BaseURL,
			Model:       backend.Model,
			Temperature: backend.Temperature,
			Timeout:     backend.Timeout,
			MaxRetries:  guard.MaxRetries,
		},
		Cache: CacheConfig{
			Backend: CacheNone,
			TTL:     24 * time.Hour,
		},
		Retrieval: RetrievalConfig{
			TopK:     nodes.DefaultTopK,
			MaxChunk: 1200,
		},
		HTTP: HTTPConfig{
			ListenAddr: ":8080",
			Metrics:    true,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg and reports every violation at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return schema.NewError(schema.ErrCodeConfig, err.Error()).WithCause(err)
	}

	var all *multierror.Error
	for _, fe := range verrs {
		all = multierror.Append(all, fmt.Errorf("%s: %s", fe.Namespace(), describeRule(fe)))
	}
	return schema.NewErrorf(schema.ErrCodeConfig, "invalid configuration: %d problem(s)", len(verrs)).
		WithCause(all.ErrorOrNil())
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return fmt.Sprintf("is required when %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fe.Value())
	case "gte", "lte":
		return fmt.Sprintf("failed %s=%s, got %v", fe.Tag(), fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("failed %s, got %v", fe.Tag(), fe.Value())
	}
}

// BackendConfig projects the LLM section onto the reasoning backend.
func (c LLMConfig) BackendConfig() reasoning.BackendConfig {
	return reasoning.BackendConfig{
		Provider:    c.Provider,
		BaseURL:     c.BaseURL,
		Model:       c.Model,
		APIKey:      c.APIKey,
		Temperature: c.Temperature,
		Timeout:     c.Timeout,
	}
}

// GuardConfig projects the LLM section onto the call guard.
func (c LLMConfig) GuardConfig() reasoning.GuardConfig {
	g := reasoning.DefaultGuardConfig()
	g.Timeout = c.Timeout
	g.MaxRetries = c.MaxRetries
	g.RatePerSec = c.RatePerSec
	return g
}
