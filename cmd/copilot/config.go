package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rendis/copilot/internal/app"
)

func copilotDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".copilot"
	}
	return filepath.Join(home, ".copilot")
}

func settingsPath() string {
	return filepath.Join(copilotDir(), "settings.yaml")
}

// loadConfig layers the settings file and COPILOT_* env vars over the
// defaults. A missing file is not an error; an unreadable one is. Flags are
// applied afterwards by the root command.
func loadConfig(path string) (app.Config, error) {
	cfg := app.DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// YAML is a superset of JSON, so settings.json files parse too.
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(&cfg, os.Getenv)
	return cfg, nil
}

func applyEnv(cfg *app.Config, getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("COPILOT_DB_PATH", &cfg.DBPath)
	str("COPILOT_DOCS_DIR", &cfg.DocsDir)
	str("COPILOT_STORE_PATH", &cfg.StorePath)
	str("COPILOT_LOG_LEVEL", &cfg.LogLevel)
	str("COPILOT_SCHEDULE", &cfg.Schedule)
	str("COPILOT_LLM_PROVIDER", &cfg.LLM.Provider)
	str("COPILOT_LLM_BASE_URL", &cfg.LLM.BaseURL)
	str("COPILOT_LLM_MODEL", &cfg.LLM.Model)
	str("COPILOT_CACHE_BACKEND", &cfg.Cache.Backend)
	str("COPILOT_CACHE_PATH", &cfg.Cache.Path)
	str("COPILOT_CACHE_REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("COPILOT_CACHE_REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	str("COPILOT_HTTP_LISTEN_ADDR", &cfg.HTTP.ListenAddr)
	str("COPILOT_TRACING_OUTPUT", &cfg.Tracing.Output)

	// The OpenAI client convention is honored when no copilot key is set.
	str("OPENAI_API_KEY", &cfg.LLM.APIKey)
	str("COPILOT_LLM_API_KEY", &cfg.LLM.APIKey)

	if v := getenv("COPILOT_LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLM.Temperature = f
		}
	}
	if v := getenv("COPILOT_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LLM.Timeout = d
		}
	}
	if v := getenv("COPILOT_LLM_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.MaxRetries = n
		}
	}
	if v := getenv("COPILOT_RETRIEVAL_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.TopK = n
		}
	}
	if v := getenv("COPILOT_HTTP_METRICS"); v != "" {
		cfg.HTTP.Metrics = v == "true" || v == "1"
	}
	if v := getenv("COPILOT_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = v == "true" || v == "1"
	}
}

// writeConfig stores cfg as YAML, creating the parent directory.
func writeConfig(path string, cfg app.Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	MetricsChanged  bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new app.Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.HTTP.Metrics != new.HTTP.Metrics {
		d.MetricsChanged = true
	}
	restart := func(name string, changed bool) {
		if changed {
			d.RestartNeeded = append(d.RestartNeeded, name)
		}
	}
	restart("db_path", old.DBPath != new.DBPath)
	restart("docs_dir", old.DocsDir != new.DocsDir)
	restart("store_path", old.StorePath != new.StorePath)
	restart("llm", old.LLM != new.LLM)
	restart("cache", old.Cache != new.Cache)
	restart("retrieval", old.Retrieval != new.Retrieval)
	restart("http.listen_addr", old.HTTP.ListenAddr != new.HTTP.ListenAddr)
	restart("tracing", old.Tracing != new.Tracing)
	return d
}
