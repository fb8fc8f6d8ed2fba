// Package config loads engine configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Models   ModelsConfig   `yaml:"models"`
	Session  SessionConfig  `yaml:"session"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Redis    RedisConfig    `yaml:"redis"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path" env:"CTXFORGE_DB_PATH"`
}

// OpenAIConfig configures the model backend.
type OpenAIConfig struct {
	APIKey  string  `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL string  `yaml:"base_url" env:"OPENAI_BASE_URL"`
	RPS     float64 `yaml:"rps" env:"CTXFORGE_OPENAI_RPS"`
	Burst   int     `yaml:"burst" env:"CTXFORGE_OPENAI_BURST"`
}

// ModelsConfig assigns models to roles and describes context windows.
type ModelsConfig struct {
	Default    string                 `yaml:"default" env:"CTXFORGE_MODEL"`
	Classifier string                 `yaml:"classifier" env:"CTXFORGE_CLASSIFIER_MODEL"`
	Planner    string                 `yaml:"planner" env:"CTXFORGE_PLANNER_MODEL"`
	Verifier   string                 `yaml:"verifier" env:"CTXFORGE_VERIFIER_MODEL"`
	Windows    map[string]WindowEntry `yaml:"windows"`
	Prices     []PriceEntry           `yaml:"prices"`
}

// WindowEntry overrides a model's context window.
type WindowEntry struct {
	ContextLimit    int `yaml:"context_limit"`
	ResponseReserve int `yaml:"response_reserve"`
}

// PriceEntry overrides or adds a model's pricing.
type PriceEntry struct {
	Model           string  `yaml:"model"`
	InputPer1M      float64 `yaml:"input_per_1m"`
	OutputPer1M     float64 `yaml:"output_per_1m"`
	CachedPer1M     float64 `yaml:"cached_per_1m"`
	SupportsCaching bool    `yaml:"supports_caching"`
}

// SessionConfig controls lifecycle and sweeping.
type SessionConfig struct {
	TTL       time.Duration `yaml:"ttl" env:"CTXFORGE_SESSION_TTL"`
	Retention time.Duration `yaml:"retention" env:"CTXFORGE_SESSION_RETENTION"`
	SweepSpec string        `yaml:"sweep_spec" env:"CTXFORGE_SWEEP_SPEC"`
}

// PipelineConfig bounds the executor.
type PipelineConfig struct {
	MaxIterations int           `yaml:"max_iterations" env:"CTXFORGE_MAX_ITERATIONS"`
	ParallelTools int           `yaml:"parallel_tools" env:"CTXFORGE_PARALLEL_TOOLS"`
	ToolTimeout   time.Duration `yaml:"tool_timeout" env:"CTXFORGE_TOOL_TIMEOUT"`
	StablePrompt  string        `yaml:"stable_prompt"`
	Categories    []string      `yaml:"categories"`
}

// MetricsConfig controls the observability server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"CTXFORGE_METRICS_ENABLED"`
	Addr    string `yaml:"addr" env:"CTXFORGE_METRICS_ADDR"`
}

// RedisConfig selects the optional Redis blob backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"CTXFORGE_REDIS_ADDR"`
	Password string `yaml:"password" env:"CTXFORGE_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"CTXFORGE_REDIS_DB"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Models: ModelsConfig{
			Default:    "gpt-4o-mini",
			Classifier: "gpt-4o-mini",
			Planner:    "gpt-4o",
			Verifier:   "gpt-4o-mini",
		},
		OpenAI: OpenAIConfig{RPS: 10, Burst: 20},
		Session: SessionConfig{
			TTL:       24 * time.Hour,
			Retention: 7 * 24 * time.Hour,
			SweepSpec: "@every 10m",
		},
		Pipeline: PipelineConfig{
			MaxIterations: 10,
			ParallelTools: 4,
			ToolTimeout:   30 * time.Second,
			Categories:    []string{"question", "research", "generation", "data", "operations"},
		},
		Metrics: MetricsConfig{Enabled: true, Addr: ":9090"},
	}
}

// Load reads YAML from path (when non-empty), applies environment
// overrides, and validates. A missing file falls back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that cannot work.
func (c *Config) Validate() error {
	if c.Models.Default == "" {
		return fmt.Errorf("models.default is required")
	}
	if c.Pipeline.MaxIterations <= 0 {
		return fmt.Errorf("pipeline.max_iterations must be positive")
	}
	if c.Pipeline.ParallelTools <= 0 {
		return fmt.Errorf("pipeline.parallel_tools must be positive")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	for name, w := range c.Models.Windows {
		if w.ContextLimit <= 0 {
			return fmt.Errorf("models.windows[%s].context_limit must be positive", name)
		}
		if w.ResponseReserve < 0 || w.ResponseReserve >= w.ContextLimit {
			return fmt.Errorf("models.windows[%s].response_reserve out of range", name)
		}
	}
	return nil
}

// ModelFor returns the model for a role, falling back to the default.
func (m *ModelsConfig) ModelFor(role string) string {
	switch role {
	case "classifier":
		if m.Classifier != "" {
			return m.Classifier
		}
	case "planner":
		if m.Planner != "" {
			return m.Planner
		}
	case "verifier":
		if m.Verifier != "" {
			return m.Verifier
		}
	}
	return m.Default
}
