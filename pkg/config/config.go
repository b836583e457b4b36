// Package config handles NornicBatch configuration via YAML files and environment variables.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags (--engine, --data-dir, etc.)
//  2. Environment variables (NORNICBATCH_*)
//  3. Config file (config.yaml)
//  4. Built-in defaults
//
// Example Usage:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
//	fmt.Printf("Storage: %s at %s\n", cfg.Storage.Engine, cfg.Storage.DataDir)
//
// Environment Variables (all use NORNICBATCH_ prefix):
//
// Storage:
//   - NORNICBATCH_STORAGE_ENGINE="memory", "badger" or "pebble"
//   - NORNICBATCH_DATA_DIR="./data"
//   - NORNICBATCH_SYNC_WRITES=true
//
// Batches:
//   - NORNICBATCH_DEFAULT_RETRY=0
//   - NORNICBATCH_CACHE_SIZE=256
//   - NORNICBATCH_MAX_STATEMENTS=10000
//   - NORNICBATCH_BATCH_TIMEOUT="30s"
//   - NORNICBATCH_CONCURRENCY=4
//
// Logging:
//   - NORNICBATCH_LOG_LEVEL="info"
//   - NORNICBATCH_LOG_FORMAT="json" or "text"
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Config holds all NornicBatch configuration.
//
// Configuration is organized into logical sections:
//   - Storage: which engine runs the batches and where it keeps data
//   - Batch: limits and defaults applied to every script
//   - Logging: level and output format
type Config struct {
	Storage StorageConfig
	Batch   BatchConfig
	Logging LoggingConfig
}

// StorageConfig selects the storage engine.
type StorageConfig struct {
	// Engine is "memory", "badger" or "pebble".
	Engine string
	// DataDir is the directory for persistent engines. Empty keeps
	// badger and pebble in memory.
	DataDir string
	// SyncWrites fsyncs on every commit.
	SyncWrites bool
}

// BatchConfig holds the limits applied to every batch.
type BatchConfig struct {
	// DefaultRetry is the commit retry count for transactions without COMMIT RETRY.
	DefaultRetry int
	// CacheSize is the number of tokenized scripts kept; 0 disables the cache.
	CacheSize int
	// MaxStatements rejects longer scripts; 0 means unlimited.
	MaxStatements int
	// Timeout bounds a single batch; 0 means no timeout.
	Timeout time.Duration
	// Concurrency is how many independent batches run at once.
	Concurrency int
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level: debug, info, warn, error
	Level string
	// Format: json or text
	Format string
}

// LoadDefaults returns the built-in configuration.
func LoadDefaults() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:     "memory",
			DataDir:    "./data",
			SyncWrites: false,
		},
		Batch: BatchConfig{
			DefaultRetry:  0,
			CacheSize:     256,
			MaxStatements: 10000,
			Timeout:       30 * time.Second,
			Concurrency:   4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromEnv returns the defaults overridden by NORNICBATCH_* variables.
func LoadFromEnv() *Config {
	cfg := LoadDefaults()
	applyEnvVars(cfg)
	return cfg
}

func applyEnvVars(cfg *Config) {
	cfg.Storage.Engine = strings.ToLower(getEnv("NORNICBATCH_STORAGE_ENGINE", cfg.Storage.Engine))
	cfg.Storage.DataDir = getEnv("NORNICBATCH_DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.SyncWrites = getEnvBool("NORNICBATCH_SYNC_WRITES", cfg.Storage.SyncWrites)

	cfg.Batch.DefaultRetry = getEnvInt("NORNICBATCH_DEFAULT_RETRY", cfg.Batch.DefaultRetry)
	cfg.Batch.CacheSize = getEnvInt("NORNICBATCH_CACHE_SIZE", cfg.Batch.CacheSize)
	cfg.Batch.MaxStatements = getEnvInt("NORNICBATCH_MAX_STATEMENTS", cfg.Batch.MaxStatements)
	cfg.Batch.Timeout = getEnvDuration("NORNICBATCH_BATCH_TIMEOUT", cfg.Batch.Timeout)
	cfg.Batch.Concurrency = getEnvInt("NORNICBATCH_CONCURRENCY", cfg.Batch.Concurrency)

	cfg.Logging.Level = strings.ToLower(getEnv("NORNICBATCH_LOG_LEVEL", cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(getEnv("NORNICBATCH_LOG_FORMAT", cfg.Logging.Format))
}

// YAMLConfig represents the YAML configuration file structure.
// All fields mirror the environment variable configuration options.
type YAMLConfig struct {
	Storage struct {
		Engine     string `yaml:"engine"`
		DataDir    string `yaml:"data_dir"`
		Path       string `yaml:"path"` // alias for data_dir
		SyncWrites *bool  `yaml:"sync_writes"`
	} `yaml:"storage"`

	Batch struct {
		DefaultRetry  *int   `yaml:"default_retry"`
		CacheSize     *int   `yaml:"cache_size"`
		MaxStatements *int   `yaml:"max_statements"`
		Timeout       string `yaml:"timeout"`
		Concurrency   int    `yaml:"concurrency"`
	} `yaml:"batch"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// LoadFromFile loads defaults, then the YAML file at configPath, then the
// environment. A missing or empty path is not an error.
func LoadFromFile(configPath string) (*Config, error) {
	cfg := LoadDefaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, errors.Wrap(err, "failed to read config file")
		default:
			if err := applyYAML(cfg, data); err != nil {
				return nil, err
			}
		}
	}

	applyEnvVars(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyYAML(cfg *Config, data []byte) error {
	var y YAMLConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return errors.Wrap(err, "failed to parse config file")
	}

	// === Storage ===
	if y.Storage.Engine != "" {
		cfg.Storage.Engine = strings.ToLower(y.Storage.Engine)
	}
	if y.Storage.Path != "" {
		cfg.Storage.DataDir = y.Storage.Path
	}
	if y.Storage.DataDir != "" {
		cfg.Storage.DataDir = y.Storage.DataDir
	}
	if y.Storage.SyncWrites != nil {
		cfg.Storage.SyncWrites = *y.Storage.SyncWrites
	}

	// === Batch ===
	if y.Batch.DefaultRetry != nil {
		cfg.Batch.DefaultRetry = *y.Batch.DefaultRetry
	}
	if y.Batch.CacheSize != nil {
		cfg.Batch.CacheSize = *y.Batch.CacheSize
	}
	if y.Batch.MaxStatements != nil {
		cfg.Batch.MaxStatements = *y.Batch.MaxStatements
	}
	if y.Batch.Timeout != "" {
		d, err := time.ParseDuration(y.Batch.Timeout)
		if err != nil {
			return errors.Wrapf(err, "invalid batch.timeout %q", y.Batch.Timeout)
		}
		cfg.Batch.Timeout = d
	}
	if y.Batch.Concurrency > 0 {
		cfg.Batch.Concurrency = y.Batch.Concurrency
	}

	// === Logging ===
	if y.Logging.Level != "" {
		cfg.Logging.Level = strings.ToLower(y.Logging.Level)
	}
	if y.Logging.Format != "" {
		cfg.Logging.Format = strings.ToLower(y.Logging.Format)
	}
	return nil
}

// Validate checks the configuration for errors.
//
// Returns nil if configuration is valid, or an error describing the problem.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "memory", "badger", "pebble":
	default:
		return errors.Newf("invalid storage engine: %q", c.Storage.Engine)
	}
	if c.Batch.DefaultRetry < 0 {
		return errors.Newf("invalid default retry: %d", c.Batch.DefaultRetry)
	}
	if c.Batch.CacheSize < 0 {
		return errors.Newf("invalid cache size: %d", c.Batch.CacheSize)
	}
	if c.Batch.MaxStatements < 0 {
		return errors.Newf("invalid max statements: %d", c.Batch.MaxStatements)
	}
	if c.Batch.Timeout < 0 {
		return errors.Newf("invalid batch timeout: %s", c.Batch.Timeout)
	}
	if c.Batch.Concurrency <= 0 {
		return errors.Newf("invalid concurrency: %d", c.Batch.Concurrency)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Newf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return errors.Newf("invalid log format: %q", c.Logging.Format)
	}
	return nil
}

// String returns a one-line summary suitable for logging.
//
// Example output:
//
//	Config{Engine: badger, DataDir: ./data, Retry: 0, Cache: 256, Timeout: 30s, Concurrency: 4, Log: info/json}
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Engine: %s, DataDir: %s, Retry: %d, Cache: %d, Timeout: %s, Concurrency: %d, Log: %s/%s}",
		c.Storage.Engine, c.Storage.DataDir,
		c.Batch.DefaultRetry, c.Batch.CacheSize, c.Batch.Timeout, c.Batch.Concurrency,
		c.Logging.Level, c.Logging.Format,
	)
}

// FindConfigFile searches for config file in standard locations.
// Returns the path to the first config file found, or empty string if none found.
// Search order:
//  1. ~/.nornicbatch/config.yaml
//  2. Current working directory (config.yaml, nornicbatch.yaml)
//  3. ~/.config/nornicbatch/config.yaml (XDG)
func FindConfigFile() string {
	var candidates []string
	home, homeErr := os.UserHomeDir()
	if homeErr == nil {
		candidates = append(candidates, filepath.Join(home, ".nornicbatch", "config.yaml"))
	}
	candidates = append(candidates, "config.yaml", "nornicbatch.yaml")
	if homeErr == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "nornicbatch", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
