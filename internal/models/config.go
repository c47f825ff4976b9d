// Package models - Service configuration and HTTP response types.
// This file defines the configuration structures for every service component.
//
// Configuration Philosophy:
// - Hierarchical configuration grouped by component (server, limiter, stats, etc.)
// - Defaults that work out of the box for a single-node deployment
// - Validation that rejects misconfiguration before the limiter is built
// - Limiter parameters are fixed for the lifetime of the process
package models

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Stats backend constants
const (
	StatsBackendMemory = "memory"
	StatsBackendRedis  = "redis"
)

// Stats bucket constants
const (
	StatsBucketMinute = "minute"
	StatsBucketNone   = "none"
)

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP server and network settings
// - Limiter: Sliding window parameters and request keying
// - Logging: Structured logging and output configuration
// - Metrics: Prometheus scrape endpoint
// - Observability: Service identity and tracing
// - Stats: Optional decision counters (memory or Redis)
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`               // HTTP server configuration
	Limiter       LimiterConfig       `yaml:"limiter" json:"limiter"`             // Sliding window parameters
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`             // Logging and output configuration
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`             // Monitoring and metrics
	Observability ObservabilityConfig `yaml:"observability" json:"observability"` // Tracing and resource attributes
	Stats         StatsConfig         `yaml:"stats" json:"stats"`                 // Decision statistics
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

	// AdminToken guards the reset endpoints. Empty leaves them open, which is
	// only suitable when the listener is not reachable from outside.
	AdminToken string `yaml:"admin_token" json:"-"`
}

// LimiterConfig holds the sliding window parameters. MaxRequests requests
// are admitted per user within any trailing Window.
type LimiterConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	MaxRequests int           `yaml:"max_requests" json:"max_requests"`
	Window      time.Duration `yaml:"window" json:"window"`
	Shards      int           `yaml:"shards" json:"shards"`

	// KeyHeader names the request header carrying the user id. Requests
	// without it are keyed by client IP.
	KeyHeader string `yaml:"key_header" json:"key_header"`

	// TrustForwardedFor lets X-Forwarded-For and X-Real-IP decide the
	// client IP. Enable only behind a proxy that sets them.
	TrustForwardedFor bool `yaml:"trust_forwarded_for" json:"trust_forwarded_for"`
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
	ServiceName    string        `yaml:"service_name" json:"service_name"`
	ServiceVersion string        `yaml:"service_version" json:"service_version"`
	Tracing        TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// StatsConfig controls the decision counters. Counters are best effort and
// never feed back into admission decisions.
type StatsConfig struct {
	Enabled   bool          `yaml:"enabled" json:"enabled"`
	Backend   string        `yaml:"backend" json:"backend"`
	Prefix    string        `yaml:"prefix" json:"prefix"`
	TTL       time.Duration `yaml:"ttl" json:"ttl"`
	Bucket    string        `yaml:"bucket" json:"bucket"`
	TrackKeys bool          `yaml:"track_keys" json:"track_keys"`
	Redis     RedisConfig   `yaml:"redis" json:"redis"`

	// QueueSize and RecordTimeout apply to the Redis backend, which records
	// off the request path.
	QueueSize     int           `yaml:"queue_size" json:"queue_size"`
	RecordTimeout time.Duration `yaml:"record_timeout" json:"record_timeout"`
}

type RedisConfig struct {
	Addr        string        `yaml:"addr" json:"addr"`
	Password    string        `yaml:"password" json:"-"`
	DB          int           `yaml:"db" json:"db"`
	PoolSize    int           `yaml:"pool_size" json:"pool_size"`
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// NewDefaultConfig creates a configuration with single-node defaults.
//
// Default Values Rationale:
// - Port 8080: Standard non-privileged HTTP port
// - 5 requests per 60 seconds: the limiter's historical defaults
// - 32 shards: low lock contention without measurable memory cost
// - X-User-ID header: callers identify users explicitly, IP is the fallback
// - Stats disabled: counters are opt-in
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			TLSEnabled:   false,
		},
		Limiter: LimiterConfig{
			Enabled:     true,
			MaxRequests: 5,
			Window:      60 * time.Second,
			Shards:      32,
			KeyHeader:   "X-User-ID",
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
			ServiceName:    "ratelimiter",
			ServiceVersion: "1.0.0",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
		Stats: StatsConfig{
			Enabled:       false,
			Backend:       StatsBackendMemory,
			Prefix:        "ratelimit:stats",
			TTL:           24 * time.Hour,
			Bucket:        StatsBucketMinute,
			QueueSize:     1024,
			RecordTimeout: 500 * time.Millisecond,
			Redis: RedisConfig{
				Addr:        "localhost:6379",
				PoolSize:    10,
				DialTimeout: 5 * time.Second,
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

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	if err := c.Stats.Validate(); err != nil {
		return fmt.Errorf("invalid stats config: %w", err)
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

	if sc.ReadTimeout < 0 {
		return errors.New("read timeout cannot be negative")
	}

	if sc.WriteTimeout < 0 {
		return errors.New("write timeout cannot be negative")
	}

	if sc.IdleTimeout < 0 {
		return errors.New("idle timeout cannot be negative")
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
	if lc.MaxRequests <= 0 {
		return errors.New("max requests must be positive")
	}

	if lc.Window <= 0 {
		return errors.New("window must be positive")
	}

	if lc.Shards <= 0 {
		return errors.New("shards must be positive")
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !slices.Contains([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !slices.Contains([]string{"stdout", "stderr", "file"}, lc.Output) {
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
		return fmt.Errorf("invalid tracing exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}

func (sc *StatsConfig) Validate() error {
	if !sc.Enabled {
		return nil
	}

	if sc.Backend != StatsBackendMemory && sc.Backend != StatsBackendRedis {
		return fmt.Errorf("invalid stats backend: %s", sc.Backend)
	}

	if sc.Bucket != StatsBucketMinute && sc.Bucket != StatsBucketNone {
		return fmt.Errorf("invalid stats bucket: %s", sc.Bucket)
	}

	if sc.TTL < 0 {
		return errors.New("stats TTL cannot be negative")
	}

	if sc.QueueSize < 0 {
		return errors.New("stats queue size cannot be negative")
	}

	if sc.RecordTimeout < 0 {
		return errors.New("stats record timeout cannot be negative")
	}

	if sc.Backend == StatsBackendRedis && sc.Redis.Addr == "" {
		return errors.New("Redis address is required when stats backend is redis")
	}

	return nil
}
