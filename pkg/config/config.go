package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all ferret configuration.
type Config struct {
	CatalogPath string        `yaml:"catalog_path"`
	Remote      RemoteConfig  `yaml:"remote"`
	Cache       CacheConfig   `yaml:"cache"`
	Retry       RetryConfig   `yaml:"retry"`
	Breaker     BreakerConfig `yaml:"breaker"`
	Store       StoreConfig   `yaml:"store"`
	Analyze     AnalyzeConfig `yaml:"analyze"`
	Log         LogConfig     `yaml:"log"`
	PromptsPath string        `yaml:"prompts_path"`
	Filter      FilterConfig  `yaml:"filter"`
}

// RemoteConfig defines the remote classification service endpoint.
type RemoteConfig struct {
	URL          string        `yaml:"url"`
	Token        string        `yaml:"token"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
	TaskTimeout  time.Duration `yaml:"task_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// CacheConfig controls the classification cache.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Path     string        `yaml:"path"`
	TTL      time.Duration `yaml:"ttl"`
	MaxBytes int64         `yaml:"max_bytes"`
}

// RetryConfig controls outbound retry behavior.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// BreakerConfig controls the circuit breaker protecting the remote service.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	FailureWindow    time.Duration `yaml:"failure_window"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

// StoreConfig controls the shared SQLite connection pool.
type StoreConfig struct {
	PoolSize       int           `yaml:"pool_size"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// AnalyzeConfig controls the batch analysis run.
type AnalyzeConfig struct {
	Workers           int `yaml:"workers"`
	MaxFiles          int `yaml:"max_files"`
	PriorityThreshold int `yaml:"priority_threshold"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

// FilterConfig holds exclusion rules and priority scoring weights.
type FilterConfig struct {
	Exclusions ExclusionRules `yaml:"exclusions"`
	Scoring    ScoringWeights `yaml:"scoring"`
}

// ExclusionRules decide which files are skipped before classification.
type ExclusionRules struct {
	BlockedExtensions []string `yaml:"blocked_extensions"`
	HighPriority      []string `yaml:"high_priority_extensions"`
	LowPriority       []string `yaml:"low_priority_extensions"`
	MinBytes          int64    `yaml:"min_bytes"`
	MaxBytes          int64    `yaml:"max_bytes"`
	SkipSystem        bool     `yaml:"skip_system"`
	SkipHidden        bool     `yaml:"skip_hidden"`
	ExcludedPaths     []string `yaml:"excluded_paths"`
}

// ScoringWeights tune the file priority score.
type ScoringWeights struct {
	Size    int `yaml:"size_weight"`
	Type    int `yaml:"type_weight"`
	Age     int `yaml:"age_weight"`
	Special int `yaml:"special_weight"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		CatalogPath: "ferret.db",
		Remote: RemoteConfig{
			HTTPTimeout:  30 * time.Second,
			TaskTimeout:  5 * time.Minute,
			PollInterval: 2 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:  true,
			Path:     "ferret_cache.db",
			TTL:      168 * time.Hour,
			MaxBytes: 1 << 30,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 4 * time.Second,
			MaxBackoff:     10 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			FailureWindow:    time.Minute,
			RecoveryTimeout:  30 * time.Second,
		},
		Store: StoreConfig{
			PoolSize:       4,
			AcquireTimeout: 10 * time.Second,
		},
		Analyze: AnalyzeConfig{
			Workers:  4,
			MaxFiles: 1000,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 100,
		},
		PromptsPath: "prompts.yaml",
		Filter: FilterConfig{
			Exclusions: ExclusionRules{
				MaxBytes: 1 << 30,
			},
			Scoring: ScoringWeights{
				Size:    30,
				Type:    40,
				Age:     20,
				Special: 10,
			},
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}
