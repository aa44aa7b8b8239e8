package querykit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"
)

// PoolConfig holds connection pool configuration.
//
// A pool is built from URL with the default PostgreSQL connector unless
// DriverName names another registered database/sql driver, or DataSource
// supplies an already-opened *sql.DB. DataSource and DriverName are mutually
// exclusive.
type PoolConfig struct {
	// Connection
	URL        string  `split_words:"true" yaml:"url"`      // Data source name (required unless DataSource is set)
	DriverName string  `split_words:"true" yaml:"driver"`   // database/sql driver name (default: bun pgdriver)
	Dialect    string  `split_words:"true" yaml:"dialect"`  // postgres, mysql or sqlite (default: inferred from driver)
	User       string  `split_words:"true" yaml:"user"`     // Applied to URL-form DSNs
	Password   string  `split_words:"true" yaml:"password"` // Applied to URL-form DSNs
	DataSource *sql.DB `ignored:"true" yaml:"-"`            // Pre-built datasource

	// Pool settings
	MaxOpenConns    int           `split_words:"true" yaml:"max_open_conns"`     // Max open connections (default: 25)
	MaxIdleConns    int           `split_words:"true" yaml:"max_idle_conns"`     // Max idle connections (default: 5)
	ConnMaxLifetime time.Duration `split_words:"true" yaml:"conn_max_lifetime"`  // Max connection lifetime (default: 5m)
	ConnMaxIdleTime time.Duration `split_words:"true" yaml:"conn_max_idle_time"` // Max idle time (default: 1m)

	// Timeouts
	DialTimeout  time.Duration `split_words:"true" yaml:"dial_timeout"`  // Connection dial timeout (default: 5s)
	ReadTimeout  time.Duration `split_words:"true" yaml:"read_timeout"`  // Read timeout (default: 30s)
	WriteTimeout time.Duration `split_words:"true" yaml:"write_timeout"` // Write timeout (default: 30s)

	// Observability (all optional)
	Logger          *slog.Logger          `ignored:"true" yaml:"-"`                     // Structured logger
	LogQueries      bool                  `split_words:"true" yaml:"log_queries"`      // Log all queries
	LogSlowQueries  time.Duration         `split_words:"true" yaml:"log_slow_queries"` // Log queries slower than this (0 = disabled)
	MetricsRegistry prometheus.Registerer `ignored:"true" yaml:"-"`                     // Prometheus registry for metrics
	Tracer          trace.Tracer          `ignored:"true" yaml:"-"`                     // OpenTelemetry tracer
}

// DefaultPoolConfig returns sensible defaults
func DefaultPoolConfig(url string) PoolConfig {
	return PoolConfig{
		URL:             url,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
	}
}

// LoadPoolConfig reads a PoolConfig from environment variables named
// <prefix>_URL, <prefix>_DRIVER_NAME, <prefix>_MAX_OPEN_CONNS and so on.
func LoadPoolConfig(prefix string) (PoolConfig, error) {
	var cfg PoolConfig
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return PoolConfig{}, &Error{
			Code:    CodeConfiguration,
			Message: "failed to load pool config from environment",
			Op:      "LoadPoolConfig",
			Cause:   err,
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadPoolConfigFile reads a PoolConfig from a YAML file.
// Durations are written as strings, e.g. "5s".
func LoadPoolConfigFile(path string) (PoolConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return PoolConfig{}, &Error{
			Code:    CodeConfiguration,
			Message: fmt.Sprintf("read config %q", path),
			Op:      "LoadPoolConfigFile",
			Cause:   err,
		}
	}
	var cfg PoolConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return PoolConfig{}, &Error{
			Code:    CodeConfiguration,
			Message: fmt.Sprintf("parse yaml %q", path),
			Op:      "LoadPoolConfigFile",
			Cause:   err,
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills in zero values with defaults
func (c *PoolConfig) applyDefaults() {
	d := DefaultPoolConfig(c.URL)
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = d.MaxOpenConns
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = d.MaxIdleConns
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = d.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = d.ConnMaxIdleTime
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
}

// validate reports missing or contradictory keys
func (c *PoolConfig) validate() error {
	if c.DataSource != nil && c.DriverName != "" {
		return newError(CodeConfiguration, "Connect",
			"datasource and driver %q are mutually exclusive", c.DriverName)
	}
	if c.DataSource == nil && c.URL == "" {
		return newError(CodeConfiguration, "Connect", "database URL is required")
	}
	if c.Dialect != "" {
		if _, err := dialectByName(c.Dialect); err != nil {
			return err
		}
	}
	return nil
}

// WithLogger enables query logging
func (c PoolConfig) WithLogger(logger *slog.Logger) PoolConfig {
	c.Logger = logger
	c.LogQueries = true
	return c
}

// WithSlowQueryLog logs queries slower than the threshold
func (c PoolConfig) WithSlowQueryLog(threshold time.Duration) PoolConfig {
	c.LogSlowQueries = threshold
	return c
}

// WithMetrics enables Prometheus metrics
func (c PoolConfig) WithMetrics(registry prometheus.Registerer) PoolConfig {
	c.MetricsRegistry = registry
	return c
}

// WithTracing enables OpenTelemetry tracing
func (c PoolConfig) WithTracing(tracer trace.Tracer) PoolConfig {
	c.Tracer = tracer
	return c
}

// WithDriver selects a registered database/sql driver
func (c PoolConfig) WithDriver(name string) PoolConfig {
	c.DriverName = name
	return c
}

// WithDataSource uses an already-opened datasource instead of a URL
func (c PoolConfig) WithDataSource(db *sql.DB, dialect string) PoolConfig {
	c.DataSource = db
	c.Dialect = dialect
	return c
}
