// Package config manages revstore configuration and the .revstore directory structure.
// It handles loading, saving, validating and initializing the workspace configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

const (
	Dir          = ".revstore"
	ConfigFile   = "config"
	DatabaseFile = "revstore.db"
	AuditFile    = "audit.db"
)

// Integrity checker modes.
const (
	IntegrityFailFast      = "fail-fast"
	IntegrityCollect       = "collect"
	IntegrityCollectNoFail = "collect-no-fail"
)

// Config represents the revstore configuration
type Config struct {
	Author        string      `toml:"author" validate:"required"`
	SchemaPath    string      `toml:"schema_path,omitempty"` // empty: built-in SNOMED CT schema
	IntegrityMode string      `toml:"integrity_mode" validate:"oneof=fail-fast collect collect-no-fail"`
	MetricsListen string      `toml:"metrics_listen" validate:"omitempty,hostname_port"`
	Retry         RetryConfig `toml:"retry"`
	Log           LogConfig   `toml:"log"`
	path          string      // path to .revstore directory
}

// RetryConfig bounds the commit retry loop.
type RetryConfig struct {
	MaxAttempts  int `toml:"max_attempts" validate:"min=1,max=100"`
	MinBackoffMs int `toml:"min_backoff_ms" validate:"min=0"`
	MaxBackoffMs int `toml:"max_backoff_ms" validate:"gtefield=MinBackoffMs"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=json text"`
}

// MinBackoff returns the lower retry backoff bound.
func (r RetryConfig) MinBackoff() time.Duration {
	return time.Duration(r.MinBackoffMs) * time.Millisecond
}

// MaxBackoff returns the upper retry backoff bound.
func (r RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffMs) * time.Millisecond
}

var validate = validator.New()

// Default returns the configuration written by Initialize.
func Default() *Config {
	return &Config{
		Author:        "revstore",
		IntegrityMode: IntegrityCollect,
		MetricsListen: "127.0.0.1:9464",
		Retry: RetryConfig{
			MaxAttempts:  5,
			MinBackoffMs: 100,
			MaxBackoffMs: 1500,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// FindRoot finds the .revstore directory by walking up from current directory
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		path := filepath.Join(dir, Dir)
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return path, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a revstore workspace (or any parent up to root)")
		}
		dir = parent
	}
}

// Load loads the configuration from the .revstore directory
func Load() (*Config, error) {
	root, err := FindRoot()
	if err != nil {
		return nil, err
	}
	return LoadFrom(root)
}

// LoadFrom loads the configuration from a .revstore directory path.
func LoadFrom(root string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(root, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.path = root
	return cfg, nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(filepath.Join(c.path, ConfigFile), data, 0644)
}

// Path returns the path to the .revstore directory
func (c *Config) Path() string {
	return c.path
}

// DatabasePath returns the path to the bbolt revision store
func (c *Config) DatabasePath() string {
	return filepath.Join(c.path, DatabaseFile)
}

// AuditPath returns the path to the SQLite audit log
func (c *Config) AuditPath() string {
	return filepath.Join(c.path, AuditFile)
}

// ResolvedSchemaPath returns the schema path relative to the workspace, or
// "" for the built-in schema.
func (c *Config) ResolvedSchemaPath() string {
	if c.SchemaPath == "" || filepath.IsAbs(c.SchemaPath) {
		return c.SchemaPath
	}
	return filepath.Join(filepath.Dir(c.path), c.SchemaPath)
}

// Initialize creates a new .revstore directory in dir with the given configuration
func Initialize(dir string, cfg *Config) (*Config, error) {
	path := filepath.Join(dir, Dir)

	// Check if already initialized
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("revstore workspace already exists")
	}

	if cfg == nil {
		cfg = Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s directory: %w", Dir, err)
	}

	cfg.path = path
	if err := cfg.Save(); err != nil {
		// Cleanup on failure
		os.RemoveAll(path)
		return nil, err
	}

	return cfg, nil
}
