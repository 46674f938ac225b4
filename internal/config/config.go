// Package config provides configuration loading and validation for the
// session runner.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Blueprint sources
const (
	BlueprintSourceDB    = "db"
	BlueprintSourceFiles = "files"
)

// Config represents the service configuration that can be loaded from a
// JSON or YAML file. All fields are optional; missing values use defaults,
// environment variables, or CLI flags.
type Config struct {
	Port        int    `json:"port,omitempty" yaml:"port,omitempty"`                 // HTTP listen port
	DatabaseURL string `json:"database_url,omitempty" yaml:"database_url,omitempty"` // PostgreSQL connection URL

	// Blueprints
	BlueprintSource string `json:"blueprint_source,omitempty" yaml:"blueprint_source,omitempty"` // "db" or "files"
	BlueprintDir    string `json:"blueprint_dir,omitempty" yaml:"blueprint_dir,omitempty"`       // Directory of blueprint files

	// Run lifecycle
	AutosaveIntervalMS int    `json:"autosave_interval_ms,omitempty" yaml:"autosave_interval_ms,omitempty"` // Debounce window for navigator autosave
	AutosaveTimeoutMS  int    `json:"autosave_timeout_ms,omitempty" yaml:"autosave_timeout_ms,omitempty"`   // Timeout per deferred autosave write
	NotifyURL          string `json:"notify_url,omitempty" yaml:"notify_url,omitempty"`                     // Completion webhook
	NotifyTimeoutMS    int    `json:"notify_timeout_ms,omitempty" yaml:"notify_timeout_ms,omitempty"`       // Timeout per completion notification

	Verbose bool `json:"verbose,omitempty" yaml:"verbose,omitempty"` // Print detailed debug information
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	return Config{
		Port:               8080,
		BlueprintSource:    BlueprintSourceDB,
		BlueprintDir:       "blueprints",
		AutosaveIntervalMS: 3000,
		AutosaveTimeoutMS:  10000,
		NotifyTimeoutMS:    30000,
	}
}

// LoadConfig loads configuration from a .json, .yaml or .yml file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	return &cfg, nil
}

// FromEnv reads the configuration from environment variables. Unset
// variables leave fields at their zero value.
func FromEnv() Config {
	return Config{
		Port:               envInt("PORT"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		BlueprintSource:    os.Getenv("BLUEPRINT_SOURCE"),
		BlueprintDir:       os.Getenv("BLUEPRINT_DIR"),
		AutosaveIntervalMS: envInt("AUTOSAVE_INTERVAL_MS"),
		AutosaveTimeoutMS:  envInt("AUTOSAVE_TIMEOUT_MS"),
		NotifyURL:          os.Getenv("NOTIFY_URL"),
		NotifyTimeoutMS:    envInt("NOTIFY_TIMEOUT_MS"),
	}
}

func envInt(key string) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return 0
}

// Validate checks that the configuration has valid values.
// Note: This doesn't check for required fields since those are handled
// by CLI flag validation after merging.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 0 and 65535")
	}
	if c.AutosaveIntervalMS < 0 {
		return fmt.Errorf("config error: 'autosave_interval_ms' must be non-negative")
	}
	if c.AutosaveTimeoutMS < 0 {
		return fmt.Errorf("config error: 'autosave_timeout_ms' must be non-negative")
	}
	if c.NotifyTimeoutMS < 0 {
		return fmt.Errorf("config error: 'notify_timeout_ms' must be non-negative")
	}

	switch c.BlueprintSource {
	case "", BlueprintSourceDB:
	case BlueprintSourceFiles:
		if c.BlueprintDir == "" {
			return fmt.Errorf("config error: 'blueprint_dir' is required when blueprint_source is %q", BlueprintSourceFiles)
		}
		info, err := os.Stat(c.BlueprintDir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("config error: blueprint directory not found: %s", c.BlueprintDir)
		}
	default:
		return fmt.Errorf("config error: unknown blueprint_source %q", c.BlueprintSource)
	}

	if c.NotifyURL != "" && !strings.HasPrefix(c.NotifyURL, "http://") && !strings.HasPrefix(c.NotifyURL, "https://") {
		return fmt.Errorf("config error: 'notify_url' must be an http(s) URL")
	}

	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
// It is applied in layers: flags, then file, then environment, then Defaults().
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.BlueprintSource == "" {
		result.BlueprintSource = defaults.BlueprintSource
	}
	if result.BlueprintDir == "" {
		result.BlueprintDir = defaults.BlueprintDir
	}
	if result.NotifyURL == "" {
		result.NotifyURL = defaults.NotifyURL
	}

	// Int fields: use default if zero
	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if result.AutosaveIntervalMS == 0 {
		result.AutosaveIntervalMS = defaults.AutosaveIntervalMS
	}
	if result.AutosaveTimeoutMS == 0 {
		result.AutosaveTimeoutMS = defaults.AutosaveTimeoutMS
	}
	if result.NotifyTimeoutMS == 0 {
		result.NotifyTimeoutMS = defaults.NotifyTimeoutMS
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// AutosaveInterval returns the autosave debounce window as a duration
func (c *Config) AutosaveInterval() time.Duration {
	return time.Duration(c.AutosaveIntervalMS) * time.Millisecond
}

// AutosaveTimeout returns the deferred autosave write timeout as a duration
func (c *Config) AutosaveTimeout() time.Duration {
	return time.Duration(c.AutosaveTimeoutMS) * time.Millisecond
}

// NotifyTimeout returns the completion notification timeout as a duration
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutMS) * time.Millisecond
}
