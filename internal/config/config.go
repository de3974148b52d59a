// Package config loads and validates the application configuration:
// a YAML file for tunables plus a JSON-with-comments credentials file
// for the account fleet.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/minhvu-dev/subsweep/internal/keystore"
	"github.com/minhvu-dev/subsweep/internal/resilience"
)

// Config is the top-level application configuration.
type Config struct {
	// StatePath is where rotation state is persisted. Defaults to the
	// user config directory.
	StatePath string `yaml:"state-path,omitempty" json:"state-path,omitempty"`

	// CredentialsFile points at the account/key list (JSON, comments and
	// trailing commas allowed).
	CredentialsFile string `yaml:"credentials-file" json:"credentials-file"`

	// BaseURL overrides the translation API endpoint. Mostly for tests.
	BaseURL string `yaml:"base-url,omitempty" json:"base-url,omitempty"`

	// RequestTimeoutSeconds bounds a single upstream call. Default: 120.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds,omitempty" json:"request-timeout-seconds,omitempty"`

	Rotation RotationConfig `yaml:"rotation,omitempty" json:"rotation,omitempty"`
	Dispatch DispatchConfig `yaml:"dispatch,omitempty" json:"dispatch,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty" json:"logging,omitempty"`
	Usage    UsageConfig    `yaml:"usage,omitempty" json:"usage,omitempty"`
	API      APIConfig      `yaml:"api,omitempty" json:"api,omitempty"`
	Backup   BackupConfig   `yaml:"backup,omitempty" json:"backup,omitempty"`
}

// RotationConfig exposes the credential fleet tunables.
type RotationConfig struct {
	CooldownSeconds    int `yaml:"cooldown-seconds,omitempty" json:"cooldown-seconds,omitempty"`
	ProjectsPerAccount int `yaml:"projects-per-account,omitempty" json:"projects-per-account,omitempty"`
	RPMLimit           int `yaml:"rpm-limit,omitempty" json:"rpm-limit,omitempty"`
	RPDLimit           int `yaml:"rpd-limit,omitempty" json:"rpd-limit,omitempty"`
	DelayBetweenMs     int `yaml:"delay-between-ms,omitempty" json:"delay-between-ms,omitempty"`
}

// DispatchConfig tunes the batch worker pool.
type DispatchConfig struct {
	Workers     int      `yaml:"workers,omitempty" json:"workers,omitempty"`
	Model       string   `yaml:"model,omitempty" json:"model,omitempty"`
	Models      []string `yaml:"models,omitempty" json:"models,omitempty"`
	KeyAttempts int      `yaml:"key-attempts,omitempty" json:"key-attempts,omitempty"`
	Retries     int      `yaml:"retries,omitempty" json:"retries,omitempty"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level      string `yaml:"level,omitempty" json:"level,omitempty"`
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max-size-mb,omitempty" json:"max-size-mb,omitempty"`
	MaxBackups int    `yaml:"max-backups,omitempty" json:"max-backups,omitempty"`
}

// UsageConfig configures the usage persistence backend.
type UsageConfig struct {
	// DSN selects the backend: sqlite://path or postgres://...
	// Empty disables persistence (in-memory counters only).
	DSN           string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	BatchSize     int    `yaml:"batch-size,omitempty" json:"batch-size,omitempty"`
	RetentionDays int    `yaml:"retention-days,omitempty" json:"retention-days,omitempty"`
}

// APIConfig configures the management HTTP server.
type APIConfig struct {
	Host string `yaml:"host,omitempty" json:"host,omitempty"`
	Port int    `yaml:"port,omitempty" json:"port,omitempty"`

	// AuthToken protects mutating endpoints. Empty disables auth;
	// only do that on loopback.
	AuthToken string `yaml:"auth-token,omitempty" json:"-"`
}

// BackupConfig configures optional S3-compatible state backup.
type BackupConfig struct {
	Enabled   bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKey string `yaml:"access-key,omitempty" json:"-"`
	SecretKey string `yaml:"secret-key,omitempty" json:"-"`
	Bucket    string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix    string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	UseSSL    bool   `yaml:"use-ssl,omitempty" json:"use-ssl,omitempty"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file, applies defaults and environment
// overrides. A missing file is not an error: defaults are returned.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := keystore.DefaultSettings()
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 120
	}
	if c.Rotation.CooldownSeconds <= 0 {
		c.Rotation.CooldownSeconds = def.CooldownSeconds
	}
	if c.Rotation.ProjectsPerAccount <= 0 {
		c.Rotation.ProjectsPerAccount = def.ProjectsPerAccount
	}
	if c.Rotation.RPMLimit <= 0 {
		c.Rotation.RPMLimit = def.DefaultRPMLimit
	}
	if c.Rotation.RPDLimit <= 0 {
		c.Rotation.RPDLimit = def.MaxRPDLimit
	}
	if c.Rotation.DelayBetweenMs <= 0 {
		c.Rotation.DelayBetweenMs = def.DelayBetweenMs
	}
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = 3
	}
	if c.Dispatch.KeyAttempts <= 0 {
		c.Dispatch.KeyAttempts = 8
	}
	if c.Dispatch.Retries <= 0 {
		c.Dispatch.Retries = 2
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.API.Host == "" {
		c.API.Host = "127.0.0.1"
	}
	if c.API.Port <= 0 {
		c.API.Port = 8317
	}
	if c.StatePath == "" {
		c.StatePath = keystore.DefaultStatePath()
	}
}

// applyEnv overrides selected fields from the environment. Secrets in
// particular should come from env, not the YAML file.
func (c *Config) applyEnv() {
	if v := os.Getenv("SUBSWEEP_STATE_PATH"); v != "" {
		c.StatePath = v
	}
	if v := os.Getenv("SUBSWEEP_CREDENTIALS_FILE"); v != "" {
		c.CredentialsFile = v
	}
	if v := os.Getenv("SUBSWEEP_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("SUBSWEEP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SUBSWEEP_USAGE_DSN"); v != "" {
		c.Usage.DSN = v
	}
	if v := os.Getenv("SUBSWEEP_API_TOKEN"); v != "" {
		c.API.AuthToken = v
	}
	if v := os.Getenv("SUBSWEEP_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.API.Port = port
		}
	}
	if v := os.Getenv("SUBSWEEP_BACKUP_ACCESS_KEY"); v != "" {
		c.Backup.AccessKey = v
	}
	if v := os.Getenv("SUBSWEEP_BACKUP_SECRET_KEY"); v != "" {
		c.Backup.SecretKey = v
	}
}

// Settings converts the rotation section into keystore settings.
func (c *Config) Settings() keystore.Settings {
	return keystore.Settings{
		CooldownSeconds:    c.Rotation.CooldownSeconds,
		ProjectsPerAccount: c.Rotation.ProjectsPerAccount,
		DefaultRPMLimit:    c.Rotation.RPMLimit,
		MaxRPDLimit:        c.Rotation.RPDLimit,
		DelayBetweenMs:     c.Rotation.DelayBetweenMs,
	}
}

// RetryConfig converts the dispatch retries setting into the chunk retry
// policy, keeping the default backoff shape.
func (c *DispatchConfig) RetryConfig() resilience.RetryConfig {
	rc := resilience.DefaultChunkRetryConfig
	if c.Retries > 0 {
		rc.MaxRetries = c.Retries
	}
	return rc
}

// Validate checks fields that have no sensible fallback.
func (c *Config) Validate() error {
	if c.CredentialsFile == "" {
		return fmt.Errorf("config: credentials-file is required")
	}
	if c.Backup.Enabled {
		if c.Backup.Endpoint == "" || c.Backup.Bucket == "" {
			return fmt.Errorf("config: backup requires endpoint and bucket")
		}
	}
	return nil
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "subsweep", "config.yaml")
}

// ExpandHome expands a leading ~ in a path.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
