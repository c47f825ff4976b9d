// Package config loads the service configuration: defaults, then an optional
// YAML file, then RATELIMITER_* environment variables, then validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ratelimiter/internal/models"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "RATELIMITER_"

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	config := models.NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// removedConfig mirrors keys of the former token bucket limiter so stale
// operator configs are reported instead of silently ignored.
type removedConfig struct {
	Limiter struct {
		RequestsPerMinute int         `yaml:"requests_per_minute"`
		BurstSize         int         `yaml:"burst_size"`
		CleanupInterval   interface{} `yaml:"cleanup_interval"`
	} `yaml:"limiter"`
	Security struct {
		RateLimit interface{} `yaml:"rate_limit"`
	} `yaml:"security"`
}

// warnRemovedKeys logs a warning for each removed key found in the YAML data.
func warnRemovedKeys(data []byte) {
	var rc removedConfig
	if err := yaml.Unmarshal(data, &rc); err != nil {
		return
	}
	if rc.Limiter.RequestsPerMinute != 0 {
		slog.Warn("Config key is no longer supported; use limiter.max_requests and limiter.window.", "config_key", "limiter.requests_per_minute")
	}
	if rc.Limiter.BurstSize != 0 {
		slog.Warn("Config key is no longer supported; the sliding window admits max_requests per window with no separate burst.", "config_key", "limiter.burst_size")
	}
	if rc.Limiter.CleanupInterval != nil {
		slog.Warn("Config key is no longer used; windows are evicted on access.", "config_key", "limiter.cleanup_interval")
	}
	if rc.Security.RateLimit != nil {
		slog.Warn("Config section has moved; configure the limiter section instead.", "config_key", "security.rate_limit")
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnRemovedKeys(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment overrides config with RATELIMITER_* variables.
// Values that fail to parse are ignored.
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
	envString("ADMIN_TOKEN", &config.Server.AdminToken)

	// Limiter configuration
	envBool("LIMITER_ENABLED", &config.Limiter.Enabled)
	envInt("MAX_REQUESTS", &config.Limiter.MaxRequests)
	envDuration("WINDOW", &config.Limiter.Window)
	envInt("SHARDS", &config.Limiter.Shards)
	envString("KEY_HEADER", &config.Limiter.KeyHeader)
	envBool("TRUST_FORWARDED_FOR", &config.Limiter.TrustForwardedFor)

	// Logging configuration
	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	envString("LOG_OUTPUT", &config.Logging.Output)
	envString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics configuration
	envBool("METRICS_ENABLED", &config.Metrics.Enabled)
	envString("METRICS_PATH", &config.Metrics.Path)
	envInt("METRICS_PORT", &config.Metrics.Port)

	// Observability configuration
	envString("SERVICE_NAME", &config.Observability.ServiceName)
	envBool("TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	envString("TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	envString("OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
	envFloat("TRACING_SAMPLE_RATE", &config.Observability.Tracing.SampleRate)

	// Stats configuration
	envBool("STATS_ENABLED", &config.Stats.Enabled)
	envString("STATS_BACKEND", &config.Stats.Backend)
	envString("STATS_PREFIX", &config.Stats.Prefix)
	envDuration("STATS_TTL", &config.Stats.TTL)
	envString("STATS_BUCKET", &config.Stats.Bucket)
	envBool("STATS_TRACK_KEYS", &config.Stats.TrackKeys)
	envInt("STATS_QUEUE_SIZE", &config.Stats.QueueSize)
	envDuration("STATS_RECORD_TIMEOUT", &config.Stats.RecordTimeout)
	envString("REDIS_ADDR", &config.Stats.Redis.Addr)
	envString("REDIS_PASSWORD", &config.Stats.Redis.Password)
	envInt("REDIS_DB", &config.Stats.Redis.DB)
	envInt("REDIS_POOL_SIZE", &config.Stats.Redis.PoolSize)
}

func lookup(name string) (string, bool) {
	v := os.Getenv(EnvPrefix + name)
	return v, v != ""
}

func envString(name string, dst *string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v, ok := lookup(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst *float64) {
	if v, ok := lookup(name); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(name string, dst *bool) {
	if v, ok := lookup(name); ok {
		*dst = strings.ToLower(v) == "true"
	}
}

func envDuration(name string, dst *time.Duration) {
	if v, ok := lookup(name); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// SaveExample writes the default configuration with example values filled in.
func SaveExample(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"
	config.Observability.Tracing.OTLPEndpoint = "localhost:4317"

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
