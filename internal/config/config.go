// ABOUTME: Configuration loading and parsing for chitchat-admin
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultRetentionInterval is how often serve runs the reaper when
// retention.interval is unset
const DefaultRetentionInterval = time.Hour

// Config represents the complete chitchat-admin configuration
type Config struct {
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	Attachments AttachmentsConfig `yaml:"attachments" toml:"attachments"`
	Retention   RetentionConfig   `yaml:"retention" toml:"retention"`
	Backup      BackupConfig      `yaml:"backup" toml:"backup"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" toml:"metrics"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AttachmentsConfig holds the attachment storage root
type AttachmentsConfig struct {
	Root string `yaml:"root" toml:"root"`
}

// RetentionConfig holds server-wide retention settings
type RetentionConfig struct {
	Enabled     bool          `yaml:"enabled" toml:"enabled"`
	DefaultDays int           `yaml:"default_days" toml:"default_days"` // 0 disables the default
	Interval    time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	IntervalRaw string `yaml:"interval" toml:"interval"`
}

// BackupConfig holds where backups are written
type BackupConfig struct {
	Dir string   `yaml:"dir" toml:"dir"`
	S3  S3Config `yaml:"s3" toml:"s3"`
}

// S3Config holds the optional S3-compatible backup destination
type S3Config struct {
	Bucket          string `yaml:"bucket" toml:"bucket"`
	Region          string `yaml:"region" toml:"region"`
	Prefix          string `yaml:"prefix" toml:"prefix"`
	Endpoint        string `yaml:"endpoint" toml:"endpoint"` // MinIO and friends
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key"`
}

// Enabled reports whether an S3 bucket is configured
func (s S3Config) Enabled() bool {
	return s.Bucket != ""
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Retention.Interval == 0 {
		c.Retention.Interval = DefaultRetentionInterval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = "127.0.0.1:9464"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Attachments.Root == "" {
		return fmt.Errorf("attachments.root is required")
	}

	if c.Retention.DefaultDays < 0 {
		return fmt.Errorf("retention.default_days must not be negative")
	}

	if c.Retention.Interval < 0 {
		return fmt.Errorf("retention.interval must be positive")
	}

	if c.Backup.S3.Enabled() && c.Backup.S3.Region == "" && c.Backup.S3.Endpoint == "" {
		return fmt.Errorf("backup.s3.region or backup.s3.endpoint is required when backup.s3.bucket is set")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Retention.IntervalRaw != "" {
		cfg.Retention.Interval, err = time.ParseDuration(cfg.Retention.IntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing retention.interval %q: %w", cfg.Retention.IntervalRaw, err)
		}
	}

	return nil
}
