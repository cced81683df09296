package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/elonfeng/notepulse/pkg/ces"
)

// Config is the root configuration.
type Config struct {
	Database  DatabaseConfig   `yaml:"database"`
	Server    ServerConfig     `yaml:"server"`
	CES       ces.FilterConfig `yaml:"ces"`
	Workflows WorkflowsConfig  `yaml:"workflows"`
	Callback  CallbackConfig   `yaml:"callback"`
	Analysis  AnalysisConfig   `yaml:"analysis"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// WorkflowsConfig holds the two external workflow endpoints plus the HTTP
// behavior shared between them.
type WorkflowsConfig struct {
	Score    EndpointConfig `yaml:"score"`
	Analysis EndpointConfig `yaml:"analysis"`

	TimeoutSeconds int `yaml:"timeout_seconds"`
	Retries        int `yaml:"retries"`
	MaxConcurrency int `yaml:"max_concurrency"`
}

// Timeout returns the per-request timeout as time.Duration.
func (w WorkflowsConfig) Timeout() time.Duration {
	if w.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// EndpointConfig is a single workflow endpoint.
type EndpointConfig struct {
	BaseURL      string `yaml:"base_url"`
	Token        string `yaml:"token"`
	Path         string `yaml:"path"`
	ResponseMode string `yaml:"response_mode"`
}

// Configured reports whether the endpoint has enough settings to be called.
func (e EndpointConfig) Configured() bool {
	return e.BaseURL != "" && e.Token != ""
}

// CallbackConfig configures result delivery to an external receiver.
type CallbackConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// AnalysisConfig tunes task orchestration.
type AnalysisConfig struct {
	// MinContentScore is the evaluation score an item must strictly exceed
	// to survive the quality gate.
	MinContentScore float64 `yaml:"min_content_score"`
	// Workers is how many tasks run concurrently in the daemon.
	Workers int `yaml:"workers"`
	// QueueSize bounds the pending task queue.
	QueueSize int `yaml:"queue_size"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./notepulse.db"},
		Server:   ServerConfig{Port: 8801},
		CES:      ces.DefaultFilterConfig(),
		Workflows: WorkflowsConfig{
			Score:          EndpointConfig{Path: "/v1/workflows/run", ResponseMode: "blocking"},
			Analysis:       EndpointConfig{Path: "/v1/workflows/run", ResponseMode: "blocking"},
			TimeoutSeconds: 60,
			Retries:        2,
			MaxConcurrency: 8,
		},
		Analysis: AnalysisConfig{
			MinContentScore: 80,
			Workers:         2,
			QueueSize:       64,
		},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NOTEPULSE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("SCORE_WORKFLOW_BASE_URL"); v != "" {
		cfg.Workflows.Score.BaseURL = v
	}
	if v := os.Getenv("SCORE_WORKFLOW_TOKEN"); v != "" {
		cfg.Workflows.Score.Token = v
	}
	if v := os.Getenv("ANALYSIS_WORKFLOW_BASE_URL"); v != "" {
		cfg.Workflows.Analysis.BaseURL = v
	}
	if v := os.Getenv("ANALYSIS_WORKFLOW_TOKEN"); v != "" {
		cfg.Workflows.Analysis.Token = v
	}
	if v := os.Getenv("ANALYZE_CALLBACK_URL"); v != "" {
		cfg.Callback.URL = v
	}
	if v := os.Getenv("ANALYZE_CALLBACK_SECRET"); v != "" {
		cfg.Callback.Secret = v
	}
	if v := os.Getenv("ANALYSIS_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workflows.MaxConcurrency = n
		}
	}
	if v := os.Getenv("ANALYSIS_HTTP_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workflows.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("ANALYSIS_HTTP_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Workflows.Retries = n
		}
	}
}
