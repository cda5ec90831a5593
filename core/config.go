package core

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the orchestration core.
// Values are resolved defaults-first, then environment, then options.
type Config struct {
	// ServiceName identifies this process in logs and telemetry
	ServiceName string

	// DataDir holds the catalog seed, key file and other local state
	DataDir string

	// RedisURL enables the Redis catalog store when non-empty.
	// When empty the in-memory store is used.
	RedisURL string

	// Namespace prefixes all Redis keys
	Namespace string

	// CatalogFile optionally seeds the service catalog at startup (YAML)
	CatalogFile string

	// Debug enables verbose trace logging
	Debug bool

	// DefaultTimeout bounds a single service call
	DefaultTimeout time.Duration

	// HealthInterval drives the background health monitor; zero disables it
	HealthInterval time.Duration

	// HealthProbeTimeout bounds a single health probe
	HealthProbeTimeout time.Duration

	// TraceRingSize bounds the orchestrator's recent-trace ring
	TraceRingSize int
}

// Option configures a Config
type Option func(*Config) error

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		ServiceName:        "hearth-orchestrator",
		DataDir:            defaultDataDir(),
		Namespace:          "hearth",
		DefaultTimeout:     30 * time.Second,
		HealthInterval:     0,
		HealthProbeTimeout: 5 * time.Second,
		TraceRingSize:      200,
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.hearth"
	}
	return ".hearth"
}

// LoadFromEnv merges HEARTH_* environment variables into the config
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("HEARTH_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("HEARTH_REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("HEARTH_NAMESPACE"); v != "" {
		c.Namespace = v
	}
	if v := os.Getenv("HEARTH_CATALOG_FILE"); v != "" {
		c.CatalogFile = v
	}
	if v := os.Getenv("HEARTH_DEBUG"); v != "" {
		c.Debug = v == "true" || v == "1"
	}
	if v := os.Getenv("HEARTH_DEFAULT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing HEARTH_DEFAULT_TIMEOUT: %w", ErrInvalidConfiguration)
		}
		c.DefaultTimeout = d
	}
	if v := os.Getenv("HEARTH_HEALTH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing HEARTH_HEALTH_INTERVAL: %w", ErrInvalidConfiguration)
		}
		c.HealthInterval = d
	}
	if v := os.Getenv("HEARTH_TRACE_RING_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("parsing HEARTH_TRACE_RING_SIZE: %w", ErrInvalidConfiguration)
		}
		c.TraceRingSize = n
	}
	return nil
}

// Validate checks internal consistency
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required: %w", ErrMissingConfiguration)
	}
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("default timeout must be positive: %w", ErrInvalidConfiguration)
	}
	if c.TraceRingSize <= 0 {
		return fmt.Errorf("trace ring size must be positive: %w", ErrInvalidConfiguration)
	}
	return nil
}

// NewConfig builds a Config from defaults, environment, and options, in that
// order of increasing precedence.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// WithServiceName sets the process name used in logs and telemetry
func WithServiceName(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("service name cannot be empty: %w", ErrInvalidConfiguration)
		}
		c.ServiceName = name
		return nil
	}
}

// WithDataDir sets the local state directory
func WithDataDir(dir string) Option {
	return func(c *Config) error {
		c.DataDir = dir
		return nil
	}
}

// WithRedisURL enables the Redis catalog store
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.RedisURL = url
		return nil
	}
}

// WithNamespace sets the Redis key namespace
func WithNamespace(ns string) Option {
	return func(c *Config) error {
		if ns == "" {
			return fmt.Errorf("namespace cannot be empty: %w", ErrInvalidConfiguration)
		}
		c.Namespace = ns
		return nil
	}
}

// WithCatalogFile sets the YAML catalog seed file
func WithCatalogFile(path string) Option {
	return func(c *Config) error {
		c.CatalogFile = path
		return nil
	}
}

// WithDebug toggles verbose trace logging
func WithDebug(enabled bool) Option {
	return func(c *Config) error {
		c.Debug = enabled
		return nil
	}
}

// WithDefaultTimeout bounds a single service call
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive: %w", ErrInvalidConfiguration)
		}
		c.DefaultTimeout = d
		return nil
	}
}

// WithHealthInterval enables the background health monitor
func WithHealthInterval(d time.Duration) Option {
	return func(c *Config) error {
		c.HealthInterval = d
		return nil
	}
}

// WithTraceRingSize bounds the recent-trace ring
func WithTraceRingSize(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("trace ring size must be positive: %w", ErrInvalidConfiguration)
		}
		c.TraceRingSize = n
		return nil
	}
}
