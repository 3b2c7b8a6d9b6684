package config

import (
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dl-alexandre/cellsync/internal/types"
	"github.com/spf13/afero"
)

func useMemFs(t *testing.T) string {
	t.Helper()
	orig := fs
	fs = afero.NewMemMapFs()
	t.Cleanup(func() { fs = orig })

	dir := "/home/test/.config/cellsync"
	t.Setenv(EnvPrefix+"CONFIG_DIR", dir)
	return dir
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Parallelism != 8 {
		t.Errorf("Expected parallelism 8, got %d", cfg.Parallelism)
	}
	if cfg.RetryDelayMs != 500 {
		t.Errorf("Expected retry delay 500ms, got %d", cfg.RetryDelayMs)
	}
	if cfg.MaxAttempts != 0 {
		t.Errorf("Expected unlimited attempts (0), got %d", cfg.MaxAttempts)
	}
	if cfg.DefaultOutputFormat != types.OutputFormatTable {
		t.Errorf("Expected default output format 'table', got '%s'", cfg.DefaultOutputFormat)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected log level 'info', got '%s'", cfg.LogLevel)
	}
	if want := []string{".DS_Store", "Thumbs.db", "desktop.ini"}; !reflect.DeepEqual(cfg.GlobalIgnores, want) {
		t.Errorf("GlobalIgnores = %v, want %v", cfg.GlobalIgnores, want)
	}
	cfg.GlobalIgnores[0] = "mutated"
	if DefaultConfig().GlobalIgnores[0] != ".DS_Store" {
		t.Error("DefaultConfig shares its ignore slice")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantError bool
		errorMsg  string
	}{
		{
			name:   "valid default config",
			mutate: func(*Config) {},
		},
		{
			name:      "invalid output format",
			mutate:    func(c *Config) { c.DefaultOutputFormat = "yaml" },
			wantError: true,
			errorMsg:  "invalid output format",
		},
		{
			name:      "negative parallelism",
			mutate:    func(c *Config) { c.Parallelism = -1 },
			wantError: true,
			errorMsg:  "parallelism",
		},
		{
			name:      "negative max attempts",
			mutate:    func(c *Config) { c.MaxAttempts = -3 },
			wantError: true,
			errorMsg:  "max attempts",
		},
		{
			name:      "max retries too high",
			mutate:    func(c *Config) { c.MaxRetries = 11 },
			wantError: true,
			errorMsg:  "max retries",
		},
		{
			name:      "retry base delay too low",
			mutate:    func(c *Config) { c.RetryBaseDelay = 50 },
			wantError: true,
			errorMsg:  "retry base delay",
		},
		{
			name:      "request timeout zero",
			mutate:    func(c *Config) { c.RequestTimeout = 0 },
			wantError: true,
			errorMsg:  "request timeout",
		},
		{
			name:      "unknown log level",
			mutate:    func(c *Config) { c.LogLevel = "verbose" },
			wantError: true,
			errorMsg:  "invalid log level",
		},
		{
			name:      "endpoint without scheme",
			mutate:    func(c *Config) { c.Endpoint = "cells.example.com" },
			wantError: true,
			errorMsg:  "endpoint",
		},
		{
			name:   "zero retry delay allowed",
			mutate: func(c *Config) { c.RetryDelayMs = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantError {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing %q, got %q", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestConfigDurationGetters(t *testing.T) {
	cfg := &Config{RetryBaseDelay: 1500, RequestTimeout: 30, RetryDelayMs: 250}

	if got := cfg.GetRetryBaseDelay(); got != 1500*time.Millisecond {
		t.Errorf("GetRetryBaseDelay() = %v", got)
	}
	if got := cfg.GetRequestTimeout(); got != 30*time.Second {
		t.Errorf("GetRequestTimeout() = %v", got)
	}
	if got := cfg.GetRetryDelay(); got != 250*time.Millisecond {
		t.Errorf("GetRetryDelay() = %v", got)
	}
}

func TestConfigSaveAndLoad(t *testing.T) {
	dir := useMemFs(t)

	cfg := DefaultConfig()
	cfg.Endpoint = "https://cells.example.com"
	cfg.Parallelism = 4
	cfg.GlobalIgnores = []string{".git", "node_modules"}
	cfg.NotifyOnFailure = true

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := afero.ReadFile(fs, filepath.Join(dir, ConfigFileName))
	if err != nil {
		t.Fatalf("Config file not written: %v", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Config file is not JSON: %v", err)
	}
	if raw["endpoint"] != "https://cells.example.com" {
		t.Errorf("Persisted endpoint = %v", raw["endpoint"])
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Parallelism != 4 {
		t.Errorf("Expected parallelism 4, got %d", loaded.Parallelism)
	}
	if !reflect.DeepEqual(loaded.GlobalIgnores, cfg.GlobalIgnores) {
		t.Errorf("GlobalIgnores = %v, want %v", loaded.GlobalIgnores, cfg.GlobalIgnores)
	}
	if !loaded.NotifyOnFailure {
		t.Error("Expected NotifyOnFailure to survive a round trip")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	useMemFs(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("Load() without file = %+v, want defaults", cfg)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CELLSYNC_ENDPOINT", "https://env.example.com")
	t.Setenv("CELLSYNC_PARALLELISM", "3")
	t.Setenv("CELLSYNC_GLOBAL_IGNORES", ".git, *.tmp ,")
	t.Setenv("CELLSYNC_MAX_ATTEMPTS", "5")
	t.Setenv("CELLSYNC_NOTIFY_ON_FAILURE", "yes")
	t.Setenv("CELLSYNC_OUTPUT_FORMAT", "json")
	t.Setenv("CELLSYNC_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	cfg.loadFromEnv()

	if cfg.Endpoint != "https://env.example.com" {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if cfg.Parallelism != 3 {
		t.Errorf("Parallelism = %d, want 3", cfg.Parallelism)
	}
	if want := []string{".git", "*.tmp"}; !reflect.DeepEqual(cfg.GlobalIgnores, want) {
		t.Errorf("GlobalIgnores = %v, want %v", cfg.GlobalIgnores, want)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}
	if !cfg.NotifyOnFailure {
		t.Error("Expected NotifyOnFailure from env")
	}
	if cfg.DefaultOutputFormat != types.OutputFormatJSON {
		t.Errorf("DefaultOutputFormat = %q", cfg.DefaultOutputFormat)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestConfigSet(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    bool
		check      func(*Config) bool
	}{
		{"endpoint", "https://cells.example.com/", false, func(c *Config) bool { return c.Endpoint == "https://cells.example.com" }},
		{"Parallelism", "16", false, func(c *Config) bool { return c.Parallelism == 16 }},
		{"globalIgnores", ".git,build", false, func(c *Config) bool { return len(c.GlobalIgnores) == 2 }},
		{"notifyOnFailure", "on", false, func(c *Config) bool { return c.NotifyOnFailure }},
		{"logLevel", "WARN", false, func(c *Config) bool { return c.LogLevel == "warn" }},
		{"parallelism", "many", true, nil},
		{"maxRetries", "99", true, nil},
		{"bogus", "1", true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cfg := DefaultConfig()
			err := cfg.Set(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Set() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && !tt.check(cfg) {
				t.Errorf("Set(%q, %q) produced %+v", tt.key, tt.value, cfg)
			}
		})
	}
}

func TestConfigRowsSorted(t *testing.T) {
	rows := DefaultConfig().Rows()
	for i := 1; i < len(rows); i++ {
		if rows[i-1][0] > rows[i][0] {
			t.Fatalf("Rows not sorted: %q before %q", rows[i-1][0], rows[i][0])
		}
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"yes", true},
		{"on", true},
		{" On ", true},
		{"false", false},
		{"0", false},
		{"no", false},
		{"", false},
		{"random", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseBool(tt.input); got != tt.expected {
				t.Errorf("parseBool(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}
