package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestLoadFromEnv_Defaults tests default values are loaded correctly.
func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg := LoadFromEnv()

	if cfg.Storage.Engine != "memory" {
		t.Errorf("expected engine 'memory', got %q", cfg.Storage.Engine)
	}
	if cfg.Storage.DataDir != "./data" {
		t.Errorf("expected data dir './data', got %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.SyncWrites {
		t.Error("expected SyncWrites to be false by default")
	}
	if cfg.Batch.DefaultRetry != 0 {
		t.Errorf("expected default retry 0, got %d", cfg.Batch.DefaultRetry)
	}
	if cfg.Batch.CacheSize != 256 {
		t.Errorf("expected cache size 256, got %d", cfg.Batch.CacheSize)
	}
	if cfg.Batch.MaxStatements != 10000 {
		t.Errorf("expected max statements 10000, got %d", cfg.Batch.MaxStatements)
	}
	if cfg.Batch.Timeout != 30*time.Second {
		t.Errorf("expected timeout 30s, got %v", cfg.Batch.Timeout)
	}
	if cfg.Batch.Concurrency != 4 {
		t.Errorf("expected concurrency 4, got %d", cfg.Batch.Concurrency)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("expected info/json logging, got %s/%s", cfg.Logging.Level, cfg.Logging.Format)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

// TestLoadFromEnv_CustomValues tests custom env var values.
func TestLoadFromEnv_CustomValues(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("NORNICBATCH_STORAGE_ENGINE", "Pebble")
	t.Setenv("NORNICBATCH_DATA_DIR", "/var/lib/nornicbatch")
	t.Setenv("NORNICBATCH_SYNC_WRITES", "yes")
	t.Setenv("NORNICBATCH_DEFAULT_RETRY", "3")
	t.Setenv("NORNICBATCH_CACHE_SIZE", "0")
	t.Setenv("NORNICBATCH_MAX_STATEMENTS", "50")
	t.Setenv("NORNICBATCH_CONCURRENCY", "16")
	t.Setenv("NORNICBATCH_LOG_LEVEL", "DEBUG")
	t.Setenv("NORNICBATCH_LOG_FORMAT", "text")

	cfg := LoadFromEnv()

	if cfg.Storage.Engine != "pebble" {
		t.Errorf("expected engine 'pebble', got %q", cfg.Storage.Engine)
	}
	if cfg.Storage.DataDir != "/var/lib/nornicbatch" {
		t.Errorf("expected custom data dir, got %q", cfg.Storage.DataDir)
	}
	if !cfg.Storage.SyncWrites {
		t.Error("expected SyncWrites to be true")
	}
	if cfg.Batch.DefaultRetry != 3 {
		t.Errorf("expected default retry 3, got %d", cfg.Batch.DefaultRetry)
	}
	if cfg.Batch.CacheSize != 0 {
		t.Errorf("expected cache disabled, got %d", cfg.Batch.CacheSize)
	}
	if cfg.Batch.MaxStatements != 50 {
		t.Errorf("expected max statements 50, got %d", cfg.Batch.MaxStatements)
	}
	if cfg.Batch.Concurrency != 16 {
		t.Errorf("expected concurrency 16, got %d", cfg.Batch.Concurrency)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("expected debug/text logging, got %s/%s", cfg.Logging.Level, cfg.Logging.Format)
	}
}

// TestLoadFromEnv_InvalidNumbers keeps defaults when values do not parse.
func TestLoadFromEnv_InvalidNumbers(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("NORNICBATCH_CACHE_SIZE", "lots")
	t.Setenv("NORNICBATCH_BATCH_TIMEOUT", "soon")

	cfg := LoadFromEnv()

	if cfg.Batch.CacheSize != 256 {
		t.Errorf("expected default cache size, got %d", cfg.Batch.CacheSize)
	}
	if cfg.Batch.Timeout != 30*time.Second {
		t.Errorf("expected default timeout, got %v", cfg.Batch.Timeout)
	}
}

// TestLoadFromEnv_BoolParsing tests boolean env var parsing.
func TestLoadFromEnv_BoolParsing(t *testing.T) {
	tests := []struct {
		envValue string
		want     bool
	}{
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"yes", true},
		{"on", true},
		{"false", false},
		{"0", false},
		{"no", false},
		{"off", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run("value="+tt.envValue, func(t *testing.T) {
			clearEnvVars(t)
			t.Setenv("NORNICBATCH_SYNC_WRITES", tt.envValue)

			cfg := LoadFromEnv()

			if cfg.Storage.SyncWrites != tt.want {
				t.Errorf("for value %q, expected SyncWrites=%v, got %v", tt.envValue, tt.want, cfg.Storage.SyncWrites)
			}
		})
	}
}

// TestLoadFromEnv_DurationParsing tests duration env var parsing.
func TestLoadFromEnv_DurationParsing(t *testing.T) {
	tests := []struct {
		envValue string
		want     time.Duration
	}{
		{"30s", 30 * time.Second},
		{"5m", 5 * time.Minute},
		{"1h30m", 90 * time.Minute},
		{"100", 100 * time.Second}, // numeric as seconds
		{"", 30 * time.Second},     // default
	}

	for _, tt := range tests {
		t.Run("value="+tt.envValue, func(t *testing.T) {
			clearEnvVars(t)
			t.Setenv("NORNICBATCH_BATCH_TIMEOUT", tt.envValue)

			cfg := LoadFromEnv()

			if cfg.Batch.Timeout != tt.want {
				t.Errorf("for value %q, expected timeout=%v, got %v", tt.envValue, tt.want, cfg.Batch.Timeout)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnvVars(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
storage:
  engine: badger
  path: /srv/old
  data_dir: /srv/batches
  sync_writes: true
batch:
  default_retry: 2
  cache_size: 0
  timeout: 2m
  concurrency: 8
logging:
  level: WARN
  format: text
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NORNICBATCH_CONCURRENCY", "2")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Storage.Engine != "badger" {
		t.Errorf("expected engine 'badger', got %q", cfg.Storage.Engine)
	}
	if cfg.Storage.DataDir != "/srv/batches" {
		t.Errorf("data_dir should win over path, got %q", cfg.Storage.DataDir)
	}
	if !cfg.Storage.SyncWrites {
		t.Error("expected SyncWrites from file")
	}
	if cfg.Batch.DefaultRetry != 2 {
		t.Errorf("expected default retry 2, got %d", cfg.Batch.DefaultRetry)
	}
	if cfg.Batch.CacheSize != 0 {
		t.Errorf("explicit zero cache size should be kept, got %d", cfg.Batch.CacheSize)
	}
	if cfg.Batch.MaxStatements != 10000 {
		t.Errorf("unset max statements should keep default, got %d", cfg.Batch.MaxStatements)
	}
	if cfg.Batch.Timeout != 2*time.Minute {
		t.Errorf("expected timeout 2m, got %v", cfg.Batch.Timeout)
	}
	if cfg.Batch.Concurrency != 2 {
		t.Errorf("env should override file concurrency, got %d", cfg.Batch.Concurrency)
	}
	if cfg.Logging.Level != "warn" || cfg.Logging.Format != "text" {
		t.Errorf("expected warn/text logging, got %s/%s", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	clearEnvVars(t)
	dir := t.TempDir()

	cfg, err := LoadFromFile(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Storage.Engine != "memory" {
		t.Errorf("expected default engine, got %q", cfg.Storage.Engine)
	}

	cases := map[string]string{
		"bad yaml":     "storage: [unclosed",
		"bad timeout":  "batch:\n  timeout: forever\n",
		"bad engine":   "storage:\n  engine: bolt\n",
		"bad retry":    "batch:\n  default_retry: -1\n",
		"bad logging":  "logging:\n  format: xml\n",
		"bad loglevel": "logging:\n  level: trace\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".yaml")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadFromFile(path); err == nil {
				t.Errorf("expected error for %s", name)
			}
		})
	}
}

// TestConfig_Validate tests configuration validation.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"pebble", func(c *Config) { c.Storage.Engine = "pebble" }, false},
		{"unknown engine", func(c *Config) { c.Storage.Engine = "sqlite" }, true},
		{"negative retry", func(c *Config) { c.Batch.DefaultRetry = -1 }, true},
		{"negative cache", func(c *Config) { c.Batch.CacheSize = -5 }, true},
		{"negative max statements", func(c *Config) { c.Batch.MaxStatements = -1 }, true},
		{"unlimited statements", func(c *Config) { c.Batch.MaxStatements = 0 }, false},
		{"negative timeout", func(c *Config) { c.Batch.Timeout = -time.Second }, true},
		{"no timeout", func(c *Config) { c.Batch.Timeout = 0 }, false},
		{"zero concurrency", func(c *Config) { c.Batch.Concurrency = 0 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "yaml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadDefaults()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestConfig_String tests the summary string.
func TestConfig_String(t *testing.T) {
	cfg := LoadDefaults()
	cfg.Storage.Engine = "badger"

	want := "Config{Engine: badger, DataDir: ./data, Retry: 0, Cache: 256, Timeout: 30s, Concurrency: 4, Log: info/json}"
	if got := cfg.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestFindConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}

	if got := FindConfigFile(); got != "" {
		t.Errorf("expected no config file, got %q", got)
	}

	if err := os.WriteFile("nornicbatch.yaml", []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := FindConfigFile(); got != "nornicbatch.yaml" {
		t.Errorf("expected working directory file, got %q", got)
	}

	homeCfg := filepath.Join(home, ".nornicbatch", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(homeCfg), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(homeCfg, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := FindConfigFile(); got != homeCfg {
		t.Errorf("expected home config %q, got %q", homeCfg, got)
	}
}

// clearEnvVars blanks every NORNICBATCH_* variable for the duration of the test.
func clearEnvVars(t *testing.T) {
	t.Helper()
	envVars := []string{
		"NORNICBATCH_STORAGE_ENGINE",
		"NORNICBATCH_DATA_DIR",
		"NORNICBATCH_SYNC_WRITES",
		"NORNICBATCH_DEFAULT_RETRY",
		"NORNICBATCH_CACHE_SIZE",
		"NORNICBATCH_MAX_STATEMENTS",
		"NORNICBATCH_BATCH_TIMEOUT",
		"NORNICBATCH_CONCURRENCY",
		"NORNICBATCH_LOG_LEVEL",
		"NORNICBATCH_LOG_FORMAT",
	}
	for _, key := range envVars {
		t.Setenv(key, "")
	}
}
