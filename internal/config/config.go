package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines configuration for the fragmentd worker.
type Config struct {
	// Source is the endpoint of the upstream task queue.
	Source string `yaml:"source"`

	// Sink is the endpoint replies are routed to (session manager).
	Sink string `yaml:"sink"`

	// Control is the endpoint of the shutdown broadcast channel.
	Control string `yaml:"control"`

	// Fail is the endpoint of the failure-report channel. Accepted and
	// connected, but no messages are sent on it yet.
	Fail string `yaml:"fail"`

	// Transfers bounds simultaneous blob connections per task.
	Transfers int `yaml:"transfers"`

	// Account is the storage account identifier.
	Account string `yaml:"account"`

	// Key is the pre-shared storage key, base64-encoded.
	Key string `yaml:"key"`

	// Bucket is an optional gocloud bucket URL (e.g. azblob://fragments).
	// When set it is used instead of signed HTTPS requests to Endpoint.
	Bucket string `yaml:"bucket"`

	// Endpoint overrides the storage endpoint derived from Account.
	Endpoint string `yaml:"endpoint"`

	// ChunkSize is the maximum size of a single storage read.
	ChunkSize int64 `yaml:"chunk_size"`

	// Metrics is an optional listen address for the Prometheus endpoint.
	Metrics string `yaml:"metrics"`

	// LogLevel is a zerolog level string (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig defines retry behavior for storage reads.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Transfers: 4,
		ChunkSize: 8 * 1024 * 1024, // 8MB
		LogLevel:  "info",
		Retry: RetryConfig{
			Attempts:   5,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
	}
}

// StorageEndpoint returns the HTTPS endpoint for the configured account,
// unless explicitly overridden.
func (c *Config) StorageEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net", c.Account)
}

// yamlConfig is used for YAML unmarshaling with string chunk size.
type yamlConfig struct {
	Source    string          `yaml:"source"`
	Sink      string          `yaml:"sink"`
	Control   string          `yaml:"control"`
	Fail      string          `yaml:"fail"`
	Transfers int             `yaml:"transfers"`
	Account   string          `yaml:"account"`
	Key       string          `yaml:"key"`
	Bucket    string          `yaml:"bucket"`
	Endpoint  string          `yaml:"endpoint"`
	ChunkSize string          `yaml:"chunk_size"`
	Metrics   string          `yaml:"metrics"`
	LogLevel  string          `yaml:"log_level"`
	Retry     yamlRetryConfig `yaml:"retry"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.Source != "" {
		cfg.Source = yc.Source
	}
	if yc.Sink != "" {
		cfg.Sink = yc.Sink
	}
	if yc.Control != "" {
		cfg.Control = yc.Control
	}
	if yc.Fail != "" {
		cfg.Fail = yc.Fail
	}
	if yc.Transfers != 0 {
		cfg.Transfers = yc.Transfers
	}
	if yc.Account != "" {
		cfg.Account = yc.Account
	}
	if yc.Key != "" {
		cfg.Key = yc.Key
	}
	if yc.Bucket != "" {
		cfg.Bucket = yc.Bucket
	}
	if yc.Endpoint != "" {
		cfg.Endpoint = yc.Endpoint
	}
	if yc.ChunkSize != "" {
		size, err := ParseBytes(yc.ChunkSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse chunk_size: %w", err)
		}
		cfg.ChunkSize = size
	}
	if yc.Metrics != "" {
		cfg.Metrics = yc.Metrics
	}
	if yc.LogLevel != "" {
		cfg.LogLevel = yc.LogLevel
	}
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if yc.Retry.Backoff != "" {
		d, err := time.ParseDuration(yc.Retry.Backoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.backoff: %w", err)
		}
		cfg.Retry.Backoff = d
	}
	if yc.Retry.MaxBackoff != "" {
		d, err := time.ParseDuration(yc.Retry.MaxBackoff)
		if err != nil {
			return Config{}, fmt.Errorf("parse retry.max_backoff: %w", err)
		}
		cfg.Retry.MaxBackoff = d
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the FRAGMENTD_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("FRAGMENTD_SOURCE"); v != "" {
		c.Source = v
	}
	if v := os.Getenv("FRAGMENTD_SINK"); v != "" {
		c.Sink = v
	}
	if v := os.Getenv("FRAGMENTD_CONTROL"); v != "" {
		c.Control = v
	}
	if v := os.Getenv("FRAGMENTD_FAIL"); v != "" {
		c.Fail = v
	}
	if v := os.Getenv("FRAGMENTD_TRANSFERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse FRAGMENTD_TRANSFERS: %w", err)
		}
		c.Transfers = n
	}
	if v := os.Getenv("FRAGMENTD_ACCOUNT"); v != "" {
		c.Account = v
	}
	if v := os.Getenv("FRAGMENTD_KEY"); v != "" {
		c.Key = v
	}
	if v := os.Getenv("FRAGMENTD_BUCKET"); v != "" {
		c.Bucket = v
	}
	if v := os.Getenv("FRAGMENTD_ENDPOINT"); v != "" {
		c.Endpoint = v
	}
	if v := os.Getenv("FRAGMENTD_CHUNK_SIZE"); v != "" {
		size, err := ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse FRAGMENTD_CHUNK_SIZE: %w", err)
		}
		c.ChunkSize = size
	}
	if v := os.Getenv("FRAGMENTD_METRICS"); v != "" {
		c.Metrics = v
	}
	if v := os.Getenv("FRAGMENTD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("FRAGMENTD_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse FRAGMENTD_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if v := os.Getenv("FRAGMENTD_RETRY_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse FRAGMENTD_RETRY_BACKOFF: %w", err)
		}
		c.Retry.Backoff = d
	}
	if v := os.Getenv("FRAGMENTD_RETRY_MAX_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse FRAGMENTD_RETRY_MAX_BACKOFF: %w", err)
		}
		c.Retry.MaxBackoff = d
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Source == "" {
		return errors.New("config: source endpoint is required")
	}
	if c.Sink == "" {
		return errors.New("config: sink endpoint is required")
	}
	if c.Bucket == "" {
		// The bucket driver carries its own credentials; signed HTTPS
		// access needs the account and key.
		if c.Account == "" {
			return errors.New("config: storage account is required")
		}
		if c.Key == "" {
			return errors.New("config: pre-shared key is required")
		}
	}
	if c.Transfers <= 0 {
		return errors.New("config: transfers must be positive")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if c.Retry.Attempts < 0 {
		return errors.New("config: retry.attempts must not be negative")
	}
	return nil
}

// ParseBytes parses a human-readable byte size like "8MB" or "512KB".
func ParseBytes(s string) (int64, error) {
	var multiplier int64 = 1
	s = trimSuffix(s, " ")

	switch {
	case hasSuffix(s, "TB"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = s[:len(s)-2]
	case hasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-2]
	case hasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = s[:len(s)-2]
	case hasSuffix(s, "KB"):
		multiplier = 1024
		s = s[:len(s)-2]
	case hasSuffix(s, "B"):
		s = s[:len(s)-1]
	}

	var value float64
	_, err := fmt.Sscanf(s, "%f", &value)
	if err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}

	return int64(value * float64(multiplier)), nil
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func trimSuffix(s, suffix string) string {
	for hasSuffix(s, suffix) {
		s = s[:len(s)-len(suffix)]
	}
	return s
}
