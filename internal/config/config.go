// Package config handles YAML configuration for kartta.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvEncryptionKey = "KARTTA_ENCRYPTION_KEY"
	EnvDatabaseURL   = "KARTTA_DATABASE_URL"
)

// Storage backends.
const (
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Security   SecurityConfig   `yaml:"security"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Tagging    TaggingConfig    `yaml:"tagging"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	OTEL       OTELConfig       `yaml:"otel"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeoutStr  string        `yaml:"read_timeout"`
	WriteTimeoutStr string        `yaml:"write_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"` // empty allows any origin
	ReadTimeout     time.Duration `yaml:"-"`
	WriteTimeout    time.Duration `yaml:"-"`
}

// StorageConfig selects and locates the inventory store.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	DSN     string `yaml:"dsn"`
	// JournalDir enables the change journal when set.
	JournalDir           string `yaml:"journal_dir"`
	JournalRetentionDays int    `yaml:"journal_retention_days"`
}

// SecurityConfig holds the credential encryption secret.
type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

// DiscoveryConfig bounds the account and region fan-out.
type DiscoveryConfig struct {
	IntervalStr        string            `yaml:"interval"`
	AccountConcurrency int               `yaml:"account_concurrency"`
	RegionConcurrency  int               `yaml:"region_concurrency"`
	AccountTimeoutStr  string            `yaml:"account_timeout"`
	RegionTimeoutStr   string            `yaml:"region_timeout"`
	DefaultRegions     []string          `yaml:"default_regions"`
	ExcludeTypes       []string          `yaml:"exclude_types"`
	IncludeTags        map[string]string `yaml:"include_tags"`
	ExcludeTags        map[string]string `yaml:"exclude_tags"`
	PolicyFile         string            `yaml:"policy_file"`

	Interval       time.Duration `yaml:"-"`
	AccountTimeout time.Duration `yaml:"-"`
	RegionTimeout  time.Duration `yaml:"-"`
}

// TaggingConfig tunes tag-search batching, pacing and retries.
type TaggingConfig struct {
	BatchSize         int     `yaml:"batch_size"`
	PageSize          int32   `yaml:"page_size"`
	BatchDelayStr     string  `yaml:"batch_delay"`
	PageTimeoutStr    string  `yaml:"page_timeout"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxRetries        uint    `yaml:"max_retries"`

	BatchDelay  time.Duration `yaml:"-"`
	PageTimeout time.Duration `yaml:"-"`
}

// EnrichmentConfig bounds describe calls.
type EnrichmentConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	CallTimeoutStr string        `yaml:"call_timeout"`
	CallTimeout    time.Duration `yaml:"-"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Insecure    bool          `yaml:"insecure"`
	ServiceName string        `yaml:"service_name"`
	Traces      TracesConfig  `yaml:"traces"`
	Metrics     MetricsConfig `yaml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultRegions are scanned for accounts that list none.
var DefaultRegions = []string{
	"us-east-1", "us-west-2", "eu-west-1", "eu-central-1",
	"ap-southeast-1", "ap-northeast-1", "ap-south-1",
}

// Load reads and parses a YAML config file. An empty path yields the
// defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvEncryptionKey); v != "" {
		cfg.Security.EncryptionKey = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		cfg.Storage.DSN = v
		if cfg.Storage.Backend == "" {
			cfg.Storage.Backend = BackendPostgres
		}
	}
}

func applyDefaults(cfg *Config) {
	defaultString(&cfg.Server.Addr, ":8080")
	defaultString(&cfg.Server.ReadTimeoutStr, "15s")
	// discovery runs synchronously inside the trigger request
	defaultString(&cfg.Server.WriteTimeoutStr, "10m")

	defaultString(&cfg.Storage.Backend, BackendBolt)
	defaultString(&cfg.Storage.Path, "./kartta.db")
	defaultInt(&cfg.Storage.JournalRetentionDays, 30)

	defaultString(&cfg.Discovery.IntervalStr, "1h")
	defaultString(&cfg.Discovery.AccountTimeoutStr, "10m")
	defaultString(&cfg.Discovery.RegionTimeoutStr, "3m")
	defaultInt(&cfg.Discovery.AccountConcurrency, 2)
	defaultInt(&cfg.Discovery.RegionConcurrency, 1)
	if len(cfg.Discovery.DefaultRegions) == 0 {
		cfg.Discovery.DefaultRegions = append([]string(nil), DefaultRegions...)
	}

	if cfg.Tagging.BatchSize <= 0 || cfg.Tagging.BatchSize > 5 {
		cfg.Tagging.BatchSize = 5
	}
	if cfg.Tagging.PageSize <= 0 {
		cfg.Tagging.PageSize = 50
	}
	if cfg.Tagging.PageSize > 100 {
		cfg.Tagging.PageSize = 100
	}
	defaultString(&cfg.Tagging.BatchDelayStr, "200ms")
	defaultString(&cfg.Tagging.PageTimeoutStr, "30s")
	if cfg.Tagging.RequestsPerSecond <= 0 {
		cfg.Tagging.RequestsPerSecond = 5
	}
	defaultInt(&cfg.Tagging.Burst, 5)
	if cfg.Tagging.MaxRetries == 0 {
		cfg.Tagging.MaxRetries = 4
	}

	defaultInt(&cfg.Enrichment.Concurrency, 4)
	defaultString(&cfg.Enrichment.CallTimeoutStr, "20s")

	defaultString(&cfg.OTEL.ServiceName, "kartta")
	defaultString(&cfg.Log.Level, "info")
}

func defaultString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func defaultInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func parseDurations(cfg *Config) error {
	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"server.read_timeout", cfg.Server.ReadTimeoutStr, &cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeoutStr, &cfg.Server.WriteTimeout},
		{"discovery.interval", cfg.Discovery.IntervalStr, &cfg.Discovery.Interval},
		{"discovery.account_timeout", cfg.Discovery.AccountTimeoutStr, &cfg.Discovery.AccountTimeout},
		{"discovery.region_timeout", cfg.Discovery.RegionTimeoutStr, &cfg.Discovery.RegionTimeout},
		{"tagging.batch_delay", cfg.Tagging.BatchDelayStr, &cfg.Tagging.BatchDelay},
		{"tagging.page_timeout", cfg.Tagging.PageTimeoutStr, &cfg.Tagging.PageTimeout},
		{"enrichment.call_timeout", cfg.Enrichment.CallTimeoutStr, &cfg.Enrichment.CallTimeout},
	} {
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", d.key, d.raw, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case BackendBolt:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage: path required for bolt backend"))
		}
	case BackendPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage: dsn required for postgres backend (or set %s)", EnvDatabaseURL))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unknown backend %q", c.Storage.Backend))
	}

	if c.Security.EncryptionKey == "" {
		errs = append(errs, fmt.Errorf("security: encryption_key required (or set %s)", EnvEncryptionKey))
	}

	if c.Discovery.Interval < 0 {
		errs = append(errs, errors.New("discovery: interval must not be negative"))
	}
	if c.Discovery.AccountTimeout <= 0 || c.Discovery.RegionTimeout <= 0 {
		errs = append(errs, errors.New("discovery: timeouts must be positive"))
	}

	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		errs = append(errs, fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate))
	}

	return errors.Join(errs...)
}
