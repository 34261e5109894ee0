// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every service component.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, limiter, storage, etc.)
// - Defaults that work out of the box with no external services
// - Validation catches misconfigurations before anything starts
package models

import (
	"errors"
	"fmt"
	"time"

	"noteprompt/internal/ratelimit"
)

// Storage type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
	StorageTypeMySQL    = "mysql"
)

// Limiter backend constants
const (
	LimiterBackendMemory = "memory"
	LimiterBackendRedis  = "redis"
)

// ConfigSchemaConstraint is the range of config_version values this build
// understands.
const ConfigSchemaConstraint = "^1"

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP server and network settings
// - Limiter: rate limiter backend and named policies
// - Storage: violation audit persistence
// - Logging: structured logging and output configuration
// - Metrics / Observability: Prometheus metrics and tracing
type Config struct {
	ConfigVersion string              `yaml:"config_version,omitempty" json:"config_version,omitempty"`
	Server        ServerConfig        `yaml:"server" json:"server"`
	Limiter       LimiterConfig       `yaml:"limiter" json:"limiter"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
	CORS         CORSConfig    `yaml:"cors" json:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

// LimiterConfig selects the limiter backend and the policy table.
type LimiterConfig struct {
	Backend       string             `yaml:"backend" json:"backend"`
	SweepInterval time.Duration      `yaml:"sweep_interval" json:"sweep_interval"`
	ProtectAPI    bool               `yaml:"protect_api" json:"protect_api"`
	Redis         RedisConfig        `yaml:"redis" json:"redis"`
	Policies      ratelimit.Policies `yaml:"policies" json:"policies"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"-"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// StorageConfig configures where denials are recorded.
type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Audit    AuditConfig    `yaml:"audit" json:"audit"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"-"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// AuditConfig controls violation recording.
type AuditConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	WritesPerSecond float64       `yaml:"writes_per_second" json:"writes_per_second"`
	Burst           int           `yaml:"burst" json:"burst"`
	Retention       time.Duration `yaml:"retention" json:"retention"`
	PurgeInterval   time.Duration `yaml:"purge_interval" json:"purge_interval"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration that runs with no external
// services: in-memory limiter, in-memory audit storage, JSON logs to stdout,
// metrics on :9090 and tracing off.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			TLSEnabled:   false,
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type"},
				MaxAge:         86400,
			},
		},
		Limiter: LimiterConfig{
			Backend:       LimiterBackendMemory,
			SweepInterval: ratelimit.DefaultSweepInterval,
			ProtectAPI:    true,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				PoolSize:  10,
				KeyPrefix: ratelimit.DefaultRedisKeyPrefix,
			},
			Policies: ratelimit.DefaultPolicies(),
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Database: DatabaseConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
			Audit: AuditConfig{
				Enabled:         true,
				WritesPerSecond: 50,
				Burst:           100,
				Retention:       7 * 24 * time.Hour,
				PurgeInterval:   time.Hour,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "noteprompt-limiter",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Limiter.Validate(); err != nil {
		return fmt.Errorf("invalid limiter config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (lc *LimiterConfig) Validate() error {
	switch lc.Backend {
	case LimiterBackendMemory:
		if lc.SweepInterval < 0 {
			return errors.New("sweep interval cannot be negative")
		}
	case LimiterBackendRedis:
		if lc.Redis.Addr == "" {
			return errors.New("redis address is required when backend is redis")
		}
	default:
		return fmt.Errorf("invalid limiter backend: %s", lc.Backend)
	}

	if len(lc.Policies) == 0 {
		return errors.New("at least one policy is required")
	}
	if err := lc.Policies.Validate(); err != nil {
		return err
	}

	if lc.ProtectAPI {
		if _, ok := lc.Policies.Lookup(ratelimit.PolicyAPI); !ok {
			return fmt.Errorf("policy %q is required when protect_api is enabled", ratelimit.PolicyAPI)
		}
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory:
	case StorageTypePostgres, StorageTypeSQLite, StorageTypeMySQL:
		if stc.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s storage", stc.Type)
		}
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}

	if stc.Audit.Enabled {
		if stc.Audit.WritesPerSecond <= 0 {
			return errors.New("audit writes per second must be positive")
		}
		if stc.Audit.Burst <= 0 {
			return errors.New("audit burst must be positive")
		}
		if stc.Audit.Retention < 0 || stc.Audit.PurgeInterval < 0 {
			return errors.New("audit retention and purge interval cannot be negative")
		}
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !oneOf(lc.Level, "debug", "info", "warn", "error") {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !oneOf(lc.Format, "json", "text", "console") {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !oneOf(lc.Output, "stdout", "stderr", "file") {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty")
	}

	if !oc.Tracing.Enabled {
		return nil
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("OTLP endpoint is required when exporter is otlp")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
