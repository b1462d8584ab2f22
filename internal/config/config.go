// Package config loads ledger configuration from YAML with SCRIBE_*
// environment variable overrides, following the same file-then-env
// layering the teacher uses for its own config (internal/config/config.go
// in jra3/linear-fuse), adapted to this domain's settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LogTypeConfig is the per-log-type configuration loaded once at startup
//: where it lives, what metadata it requires, and how it rotates.
type LogTypeConfig struct {
	PathTemplate             string   `yaml:"path_template"`
	MetadataRequirements     []string `yaml:"metadata_requirements"`
	RotationThresholdEntries int      `yaml:"rotation_threshold_entries"`
	TemplateName             string   `yaml:"template_name"`
}

// Config is the top-level ledger configuration.
type Config struct {
	LogRateLimitCount     int                      `yaml:"log_rate_limit_count"`
	LogRateLimitWindow    time.Duration            `yaml:"log_rate_limit_window"`
	LogMaxBytes           int64                    `yaml:"log_max_bytes"`
	StorageTimeoutSeconds time.Duration            `yaml:"storage_timeout_seconds"`
	TokenDailyLimit       int                      `yaml:"token_daily_limit"`
	TokenOperationLimit   int                      `yaml:"token_operation_limit"`
	TokenWarningThreshold float64                  `yaml:"token_warning_threshold"`
	LogTypes              map[string]LogTypeConfig `yaml:"log_types"`
	SQLitePath            string                   `yaml:"sqlite_path"`
	StatePath             string                   `yaml:"state_path"`
	LockTimeoutSeconds    time.Duration            `yaml:"lock_timeout_seconds"`
	RotationThresholdDefault int                   `yaml:"rotation_threshold_default"`
	BulkChunkSize         int                      `yaml:"bulk_chunk_size"`
	LogLevel              string                   `yaml:"log_level"`
}

// DefaultConfig mirrors the teacher's DefaultConfig() constructor: sane
// values usable without any file present.
func DefaultConfig() *Config {
	return &Config{
		LogRateLimitCount:        30,
		LogRateLimitWindow:       60 * time.Second,
		LogMaxBytes:              1 << 20, // 1 MiB
		StorageTimeoutSeconds:    5 * time.Second,
		TokenDailyLimit:          0,
		TokenOperationLimit:      0,
		TokenWarningThreshold:    0.8,
		SQLitePath:               ".scribe/state.sqlite",
		StatePath:                ".scribe/state.json",
		LockTimeoutSeconds:       30 * time.Second,
		RotationThresholdDefault: 500,
		BulkChunkSize:            50,
		LogLevel:                 "info",
		LogTypes: map[string]LogTypeConfig{
			"progress": {
				PathTemplate:             "PROGRESS_LOG.md",
				RotationThresholdEntries: 500,
				TemplateName:             "progress_log",
			},
			"doc_updates": {
				PathTemplate:             "DOC_LOG.md",
				RotationThresholdEntries: 500,
				TemplateName:             "doc_log",
			},
			"security": {
				PathTemplate:             "SECURITY_LOG.md",
				MetadataRequirements:     []string{"severity", "component"},
				RotationThresholdEntries: 500,
				TemplateName:             "security_log",
			},
			"bugs": {
				PathTemplate:             "BUG_LOG.md",
				MetadataRequirements:     []string{"severity", "component"},
				RotationThresholdEntries: 500,
				TemplateName:             "bug_log",
			},
		},
	}
}

// Load loads configuration using the real environment.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.Getenv)
}

// LoadWithEnv loads configuration using the provided environment lookup
// function, so tests can inject isolated environment values the same way
// the teacher's LoadWithEnv does.
func LoadWithEnv(path string, getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	configPath := path
	if configPath == "" {
		configPath = getConfigPathWithEnv(getenv)
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg, getenv)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	if v := getenv("SCRIBE_LOG_RATE_LIMIT_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LogRateLimitCount = n
		}
	}
	if v := getenv("SCRIBE_LOG_RATE_LIMIT_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LogRateLimitWindow = time.Duration(n) * time.Second
		}
	}
	if v := getenv("SCRIBE_LOG_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.LogMaxBytes = n
		}
	}
	if v := getenv("SCRIBE_STORAGE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StorageTimeoutSeconds = time.Duration(n) * time.Second
		}
	}
	if v := getenv("SCRIBE_TOKEN_DAILY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TokenDailyLimit = n
		}
	}
	if v := getenv("SCRIBE_SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}
	if v := getenv("SCRIBE_STATE_PATH"); v != "" {
		cfg.StatePath = v
	}
	if v := getenv("SCRIBE_BULK_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BulkChunkSize = n
		}
	}
	if v := getenv("SCRIBE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func getConfigPath() string {
	return getConfigPathWithEnv(os.Getenv)
}

func getConfigPathWithEnv(getenv func(string) string) string {
	if xdgConfig := getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "scribe", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "scribe", "config.yaml")
}

// LogTypeConfigOrDefault returns the configured LogTypeConfig for
// logType, falling back to the rotation-threshold default
// when the type has no explicit entry.
func (c *Config) LogTypeConfigOrDefault(logType string) LogTypeConfig {
	if lt, ok := c.LogTypes[logType]; ok {
		return lt
	}
	return LogTypeConfig{
		PathTemplate:             logType + ".md",
		RotationThresholdEntries: c.RotationThresholdDefault,
		TemplateName:             "generic_log",
	}
}
