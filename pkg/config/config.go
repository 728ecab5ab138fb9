// Package config provides this runtime's configuration: worker pool
// sizing, container migration tuning, and the optional status surface
// address. Configuration is resolved from, in order of precedence,
// environment variables, then a JSON file, then built-in defaults —
// the same precedence the donor's pkg/common/config package documents.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the runtime's complete configuration.
type Config struct {
	// WorkerCount is the number of worker goroutines the pool starts
	// with. Zero means "use runtime.NumCPU()".
	WorkerCount int `json:"worker_count"`

	// SpillThreshold overrides container.SpillThreshold. Zero means
	// "use the package default (1024)".
	SpillThreshold int `json:"spill_threshold"`

	// VerifyMigrations enables the BLAKE2b migration integrity check.
	VerifyMigrations bool `json:"verify_migrations"`

	// LogFormat is "text" or "json".
	LogFormat string `json:"log_format"`

	// LogLevel is "debug", "info", "warn", "error", or "fatal".
	LogLevel string `json:"log_level"`

	// StatusAddr, if non-empty, is the listen address for the status
	// HTTP/WebSocket/metrics surface (e.g. ":8080"). Empty disables it.
	StatusAddr string `json:"status_addr"`
}

// DefaultConfig returns the runtime's built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		WorkerCount:       0,
		SpillThreshold:    0,
		VerifyMigrations:  false,
		LogFormat:         "text",
		LogLevel:          "info",
		StatusAddr:        "",
	}
}

// Load resolves configuration from, in precedence order, environment
// variables, an optional JSON file at path, and defaults. A missing
// file at path is not an error: it allows a default-only configuration,
// the same tolerance the donor's LoadConfig extends.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("config: load file: %w", err)
		}
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, c)
}

// applyEnvironmentOverrides mutates c in place from TASKRUN_* environment
// variables, the highest-precedence configuration source.
func (c *Config) applyEnvironmentOverrides() {
	if val := os.Getenv("TASKRUN_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.WorkerCount = n
		}
	}
	if val := os.Getenv("TASKRUN_SPILL_THRESHOLD"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.SpillThreshold = n
		}
	}
	if val := os.Getenv("TASKRUN_VERIFY_MIGRATIONS"); val != "" {
		c.VerifyMigrations = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("TASKRUN_LOG_FORMAT"); val != "" {
		c.LogFormat = val
	}
	if val := os.Getenv("TASKRUN_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("TASKRUN_STATUS_ADDR"); val != "" {
		c.StatusAddr = val
	}
}

func (c *Config) validate() error {
	if c.WorkerCount < 0 {
		return fmt.Errorf("worker_count must be >= 0, got %d", c.WorkerCount)
	}
	if c.SpillThreshold < 0 {
		return fmt.Errorf("spill_threshold must be >= 0, got %d", c.SpillThreshold)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// SaveToFile serializes c as indented JSON to path, mirroring the
// donor's SaveToFile round-trip support.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
