package querykit

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestLoadPoolConfig_Environment(t *testing.T) {
	t.Setenv("QKTEST_URL", "postgres://localhost/app")
	t.Setenv("QKTEST_DRIVER_NAME", "pgxpool")
	t.Setenv("QKTEST_USER", "app")
	t.Setenv("QKTEST_MAX_OPEN_CONNS", "7")
	t.Setenv("QKTEST_LOG_SLOW_QUERIES", "250ms")

	cfg, err := LoadPoolConfig("QKTEST")
	if err != nil {
		t.Fatalf("LoadPoolConfig failed: %v", err)
	}

	if cfg.URL != "postgres://localhost/app" {
		t.Errorf("Unexpected URL %q", cfg.URL)
	}
	if cfg.DriverName != DriverPGXPool {
		t.Errorf("Expected pgxpool driver, got %q", cfg.DriverName)
	}
	if cfg.User != "app" {
		t.Errorf("Expected user app, got %q", cfg.User)
	}
	if cfg.MaxOpenConns != 7 {
		t.Errorf("Expected 7 max open conns, got %d", cfg.MaxOpenConns)
	}
	if cfg.LogSlowQueries != 250*time.Millisecond {
		t.Errorf("Expected 250ms slow query threshold, got %s", cfg.LogSlowQueries)
	}

	// Defaults fill the rest
	if cfg.MaxIdleConns != 5 || cfg.DialTimeout != 5*time.Second {
		t.Errorf("Expected defaults, got idle=%d dial=%s", cfg.MaxIdleConns, cfg.DialTimeout)
	}
}

func TestLoadPoolConfig_Invalid(t *testing.T) {
	t.Setenv("QKBAD_MAX_OPEN_CONNS", "many")

	if _, err := LoadPoolConfig("QKBAD"); !IsConfiguration(err) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

func TestLoadPoolConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.yaml")
	data := `
url: "root:secret@tcp(localhost:3306)/app"
driver: mysql
max_open_conns: 10
conn_max_lifetime: 10m
log_queries: true
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := LoadPoolConfigFile(path)
	if err != nil {
		t.Fatalf("LoadPoolConfigFile failed: %v", err)
	}
	if cfg.DriverName != DriverMySQL {
		t.Errorf("Expected mysql driver, got %q", cfg.DriverName)
	}
	if cfg.MaxOpenConns != 10 {
		t.Errorf("Expected 10 max open conns, got %d", cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime != 10*time.Minute {
		t.Errorf("Expected 10m lifetime, got %s", cfg.ConnMaxLifetime)
	}
	if !cfg.LogQueries {
		t.Error("Expected log_queries to be set")
	}
	if cfg.MaxIdleConns != 5 {
		t.Errorf("Expected default idle conns, got %d", cfg.MaxIdleConns)
	}
}

func TestLoadPoolConfigFile_Errors(t *testing.T) {
	if _, err := LoadPoolConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); !IsConfiguration(err) {
		t.Errorf("Expected configuration error for a missing file, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("max_open_conns: [1, 2"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := LoadPoolConfigFile(path); !IsConfiguration(err) {
		t.Errorf("Expected configuration error for bad yaml, got %v", err)
	}
}

func TestPoolConfig_Builders(t *testing.T) {
	logger := slog.Default()
	reg := prometheus.NewRegistry()
	tracer := noop.NewTracerProvider().Tracer("test")

	cfg := DefaultPoolConfig("postgres://localhost/app").
		WithLogger(logger).
		WithSlowQueryLog(time.Second).
		WithMetrics(reg).
		WithTracing(tracer).
		WithDriver(DriverPQ)

	if cfg.Logger != logger || !cfg.LogQueries {
		t.Error("WithLogger should set the logger and enable query logging")
	}
	if cfg.LogSlowQueries != time.Second {
		t.Errorf("Expected 1s slow query log, got %s", cfg.LogSlowQueries)
	}
	if cfg.MetricsRegistry != reg || cfg.Tracer == nil {
		t.Error("Expected metrics and tracing to be configured")
	}
	if cfg.DriverName != DriverPQ {
		t.Errorf("Expected postgres driver, got %q", cfg.DriverName)
	}
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     PoolConfig
		wantErr bool
	}{
		{"url", PoolConfig{URL: "postgres://localhost/app"}, false},
		{"missing url", PoolConfig{}, true},
		{"unknown dialect", PoolConfig{URL: "x", Dialect: "db2"}, true},
		{"known dialect", PoolConfig{URL: "x", Dialect: "mysql"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsConfiguration(err) {
				t.Errorf("Expected configuration error, got %v", err)
			}
		})
	}
}
