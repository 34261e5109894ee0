package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"noteprompt/internal/models"
	"noteprompt/internal/ratelimit"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NOTEPROMPT_"

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	if err := checkConfigVersion(config.ConfigVersion); err != nil {
		return nil, err
	}

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	warnDevelopmentPolicies(config.Limiter.Policies)

	return config, nil
}

// checkConfigVersion rejects files written for a schema this build does not
// understand. An empty version is accepted.
func checkConfigVersion(v string) error {
	if v == "" {
		return nil
	}
	version, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("invalid config_version %q: %w", v, err)
	}
	constraint, err := semver.NewConstraint(models.ConfigSchemaConstraint)
	if err != nil {
		return fmt.Errorf("invalid schema constraint: %w", err)
	}
	if !constraint.Check(version) {
		return fmt.Errorf("unsupported config_version %s, expected %s", version, models.ConfigSchemaConstraint)
	}
	return nil
}

// warnDevelopmentPolicies logs a warning when the register policy still has
// its development limits.
func warnDevelopmentPolicies(policies ratelimit.Policies) {
	dev := ratelimit.DefaultPolicies()[ratelimit.PolicyRegister]
	if p, ok := policies.Lookup(ratelimit.PolicyRegister); ok && p == dev {
		slog.Warn("Register policy uses development limits; override it for production.",
			"policy", ratelimit.PolicyRegister,
			"limit", p.String(),
		)
	}
}

// loadFromFile loads configuration from a YAML file. Entries under
// limiter.policies replace the default policy of the same name and add new
// ones; defaults not mentioned in the file are kept.
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

func getEnv(name string) string {
	return os.Getenv(EnvPrefix + name)
}

func envInt(name string, dst *int) {
	if v := getEnv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := getEnv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envBool(name string, dst *bool) {
	if v := getEnv(name); v != "" {
		*dst = strings.ToLower(v) == "true"
	}
}

func envString(name string, dst *string) {
	if v := getEnv(name); v != "" {
		*dst = v
	}
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	envInt("PORT", &config.Server.Port)
	envString("HOST", &config.Server.Host)
	envDuration("READ_TIMEOUT", &config.Server.ReadTimeout)
	envDuration("WRITE_TIMEOUT", &config.Server.WriteTimeout)
	envDuration("IDLE_TIMEOUT", &config.Server.IdleTimeout)
	envBool("TLS_ENABLED", &config.Server.TLSEnabled)
	envString("TLS_CERT_FILE", &config.Server.TLSCertFile)
	envString("TLS_KEY_FILE", &config.Server.TLSKeyFile)
	envBool("CORS_ENABLED", &config.Server.CORS.Enabled)

	// Limiter configuration
	envString("LIMITER_BACKEND", &config.Limiter.Backend)
	envDuration("LIMITER_SWEEP_INTERVAL", &config.Limiter.SweepInterval)
	envBool("LIMITER_PROTECT_API", &config.Limiter.ProtectAPI)

	// Redis configuration
	envString("REDIS_ADDR", &config.Limiter.Redis.Addr)
	envString("REDIS_PASSWORD", &config.Limiter.Redis.Password)
	envInt("REDIS_DB", &config.Limiter.Redis.DB)
	envInt("REDIS_POOL_SIZE", &config.Limiter.Redis.PoolSize)
	envString("REDIS_KEY_PREFIX", &config.Limiter.Redis.KeyPrefix)

	// Per-policy overrides: NOTEPROMPT_POLICY_LOGIN_WINDOW=2m,
	// NOTEPROMPT_POLICY_LOGIN_MAX_REQUESTS=10
	for _, name := range config.Limiter.Policies.Names() {
		p := config.Limiter.Policies[name]
		envName := "POLICY_" + strings.ToUpper(name)
		envDuration(envName+"_WINDOW", &p.Window)
		envInt(envName+"_MAX_REQUESTS", &p.MaxRequests)
		config.Limiter.Policies[name] = p
	}

	// Storage configuration
	envString("STORAGE_TYPE", &config.Storage.Type)
	envString("DATABASE_DSN", &config.Storage.Database.DSN)
	envInt("DATABASE_MAX_OPEN_CONNS", &config.Storage.Database.MaxOpenConns)
	envInt("DATABASE_MAX_IDLE_CONNS", &config.Storage.Database.MaxIdleConns)
	envBool("AUDIT_ENABLED", &config.Storage.Audit.Enabled)
	envDuration("AUDIT_RETENTION", &config.Storage.Audit.Retention)

	// Logging configuration
	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	envString("LOG_OUTPUT", &config.Logging.Output)
	envString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics configuration
	envBool("METRICS_ENABLED", &config.Metrics.Enabled)
	envString("METRICS_PATH", &config.Metrics.Path)
	envInt("METRICS_PORT", &config.Metrics.Port)

	// Tracing configuration
	envBool("TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	envString("TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	envString("OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Get default config with some example values
	config := models.NewDefaultConfig()
	config.ConfigVersion = "1.0.0"

	// Production-leaning register limit
	config.Limiter.Policies[ratelimit.PolicyRegister] = ratelimit.Policy{
		Window:      time.Hour,
		MaxRequests: 5,
	}

	config.Storage.Type = models.StorageTypeSQLite
	config.Storage.Database.DSN = "file:./data/violations.db"

	// Example TLS configuration
	config.Server.TLSEnabled = false
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	// Marshal to YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// Write to file
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
