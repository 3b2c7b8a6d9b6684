package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dl-alexandre/cellsync/internal/types"
	"github.com/dl-alexandre/cellsync/internal/utils"
	"github.com/spf13/afero"
)

const (
	// ConfigFileName is the name of the config file
	ConfigFileName = "config.json"
	// EnvPrefix is the prefix for environment variables
	EnvPrefix = "CELLSYNC_"
)

// fs is swapped for afero.NewMemMapFs() in tests
var fs = afero.NewOsFs()

// Config holds application configuration
type Config struct {
	// Endpoint is the Cells server used when no --endpoint flag is given
	Endpoint string `json:"endpoint"`

	// Parallelism is the default number of concurrent uploads per job
	Parallelism int `json:"parallelism"`

	// NotifyOnFailure forwards recorded sync errors to the notifier
	NotifyOnFailure bool `json:"notifyOnFailure"`

	// GlobalIgnores are merged into the exclusions of every sync job
	GlobalIgnores []string `json:"globalIgnores"`

	// MaxAttempts bounds upload attempts per file, 0 means unlimited
	MaxAttempts int `json:"maxAttempts"`

	// RetryDelayMs is the fixed throttle between upload retry passes
	RetryDelayMs int `json:"retryDelayMs"`

	// MaxRetries is the maximum number of retries for metadata API calls
	MaxRetries int `json:"maxRetries"`

	// RetryBaseDelay is the base delay for exponential backoff in milliseconds
	RetryBaseDelay int `json:"retryBaseDelay"`

	// RequestTimeout is the metadata request timeout in seconds
	RequestTimeout int `json:"requestTimeout"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `json:"logLevel"`

	// LogFile, when set, receives JSON log lines in addition to the console
	LogFile string `json:"logFile,omitempty"`

	// DefaultOutputFormat is the default output format (json, table)
	DefaultOutputFormat types.OutputFormat `json:"defaultOutputFormat"`

	// ColorOutput enables color output for console logs
	ColorOutput bool `json:"colorOutput"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Parallelism:         utils.DefaultParallelism,
		NotifyOnFailure:     false,
		GlobalIgnores:       append([]string{}, utils.DefaultGlobalIgnores...),
		MaxAttempts:         utils.DefaultMaxAttempts,
		RetryDelayMs:        int(utils.DefaultThrottleDelay / time.Millisecond),
		MaxRetries:          utils.DefaultMaxRetries,
		RetryBaseDelay:      utils.DefaultRetryDelayMs,
		RequestTimeout:      60,
		LogLevel:            "info",
		DefaultOutputFormat: types.OutputFormatTable,
		ColorOutput:         true,
	}
}

// Load loads configuration with precedence: env vars > config file > defaults
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.loadFromFile(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	data, err := afero.ReadFile(fs, configPath)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv(EnvPrefix + "ENDPOINT"); v != "" {
		c.Endpoint = v
	}
	if v := os.Getenv(EnvPrefix + "PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Parallelism = n
		}
	}
	if v := os.Getenv(EnvPrefix + "NOTIFY_ON_FAILURE"); v != "" {
		c.NotifyOnFailure = parseBool(v)
	}
	if v := os.Getenv(EnvPrefix + "GLOBAL_IGNORES"); v != "" {
		c.GlobalIgnores = splitList(v)
	}
	if v := os.Getenv(EnvPrefix + "MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxAttempts = n
		}
	}
	if v := os.Getenv(EnvPrefix + "RETRY_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RetryDelayMs = n
		}
	}
	if v := os.Getenv(EnvPrefix + "MAX_RETRIES"); v != "" {
		if retries, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = retries
		}
	}
	if v := os.Getenv(EnvPrefix + "RETRY_BASE_DELAY"); v != "" {
		if delay, err := strconv.Atoi(v); err == nil {
			c.RetryBaseDelay = delay
		}
	}
	if v := os.Getenv(EnvPrefix + "REQUEST_TIMEOUT"); v != "" {
		if timeout, err := strconv.Atoi(v); err == nil {
			c.RequestTimeout = timeout
		}
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv(EnvPrefix + "OUTPUT_FORMAT"); v != "" {
		c.DefaultOutputFormat = types.OutputFormat(v)
	}
	if v := os.Getenv(EnvPrefix + "COLOR_OUTPUT"); v != "" {
		c.ColorOutput = parseBool(v)
	}
}

// Save saves the configuration to the config file
func (c *Config) Save() error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	if err := fs.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := afero.WriteFile(fs, configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DefaultOutputFormat != types.OutputFormatJSON &&
		c.DefaultOutputFormat != types.OutputFormatTable {
		return fmt.Errorf("invalid output format: %s (must be 'json' or 'table')", c.DefaultOutputFormat)
	}

	if c.Parallelism < 0 || c.Parallelism > 256 {
		return fmt.Errorf("parallelism must be between 0 and 256, got: %d", c.Parallelism)
	}

	if c.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must be non-negative, got: %d", c.MaxAttempts)
	}

	if c.RetryDelayMs < 0 || c.RetryDelayMs > 60000 {
		return fmt.Errorf("retry delay must be between 0ms and 60000ms, got: %d", c.RetryDelayMs)
	}

	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("max retries must be between 0 and 10, got: %d", c.MaxRetries)
	}

	if c.RetryBaseDelay < 100 || c.RetryBaseDelay > 60000 {
		return fmt.Errorf("retry base delay must be between 100ms and 60000ms, got: %d", c.RetryBaseDelay)
	}

	if c.RequestTimeout < 1 || c.RequestTimeout > 3600 {
		return fmt.Errorf("request timeout must be between 1 and 3600 seconds, got: %d", c.RequestTimeout)
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	isValid := false
	for _, level := range validLogLevels {
		if c.LogLevel == level {
			isValid = true
			break
		}
	}
	if !isValid {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Endpoint != "" && !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://") {
		return fmt.Errorf("endpoint must start with http:// or https://, got: %s", c.Endpoint)
	}

	return nil
}

// Set assigns a configuration value by its JSON key, case-insensitively
func (c *Config) Set(key, value string) error {
	switch strings.ToLower(key) {
	case "endpoint":
		c.Endpoint = strings.TrimRight(value, "/")
	case "parallelism":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("parallelism must be an integer")
		}
		c.Parallelism = n
	case "notifyonfailure":
		c.NotifyOnFailure = parseBool(value)
	case "globalignores":
		c.GlobalIgnores = splitList(value)
	case "maxattempts":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("max attempts must be an integer")
		}
		c.MaxAttempts = n
	case "retrydelayms":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("retry delay must be an integer")
		}
		c.RetryDelayMs = n
	case "maxretries":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("max retries must be an integer")
		}
		c.MaxRetries = n
	case "retrybasedelay":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("retry base delay must be an integer")
		}
		c.RetryBaseDelay = n
	case "requesttimeout":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("request timeout must be an integer")
		}
		c.RequestTimeout = n
	case "loglevel":
		c.LogLevel = strings.ToLower(value)
	case "logfile":
		c.LogFile = value
	case "defaultoutputformat":
		c.DefaultOutputFormat = types.OutputFormat(value)
	case "coloroutput":
		c.ColorOutput = parseBool(value)
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return c.Validate()
}

// Clone returns a deep copy
func (c *Config) Clone() *Config {
	out := *c
	out.GlobalIgnores = append([]string(nil), c.GlobalIgnores...)
	return &out
}

// Headers and Rows render the configuration as sorted key/value rows
func (c *Config) Headers() []string {
	return []string{"Key", "Value"}
}

func (c *Config) Rows() [][]string {
	values := map[string]string{
		"endpoint":            c.Endpoint,
		"parallelism":         strconv.Itoa(c.Parallelism),
		"notifyOnFailure":     strconv.FormatBool(c.NotifyOnFailure),
		"globalIgnores":       strings.Join(c.GlobalIgnores, ","),
		"maxAttempts":         strconv.Itoa(c.MaxAttempts),
		"retryDelayMs":        strconv.Itoa(c.RetryDelayMs),
		"maxRetries":          strconv.Itoa(c.MaxRetries),
		"retryBaseDelay":      strconv.Itoa(c.RetryBaseDelay),
		"requestTimeout":      strconv.Itoa(c.RequestTimeout),
		"logLevel":            c.LogLevel,
		"logFile":             c.LogFile,
		"defaultOutputFormat": string(c.DefaultOutputFormat),
		"colorOutput":         strconv.FormatBool(c.ColorOutput),
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, values[k]})
	}
	return rows
}

func (c *Config) EmptyMessage() string {
	return "No configuration"
}

// GetRetryBaseDelay returns the retry base delay as a duration
func (c *Config) GetRetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelay) * time.Millisecond
}

// GetRequestTimeout returns the request timeout as a duration
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// GetRetryDelay returns the upload throttle delay as a duration
func (c *Config) GetRetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, ConfigFileName), nil
}

// GetConfigDir returns the path to the config directory
func GetConfigDir() (string, error) {
	if dir := os.Getenv(EnvPrefix + "CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", utils.AppID), nil
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if out == nil {
		return []string{}
	}
	return out
}
