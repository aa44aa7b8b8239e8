package querykit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/uptrace/bun"

	"github.com/fernandezvara/querykit/hooks"
)

// Pool is a pooled connection source. It wraps bun.DB, so it can be used
// directly anywhere a bun.IDB is expected, and it is safe for concurrent use.
type Pool struct {
	*bun.DB
	config  PoolConfig
	pgx     *pgxpool.Pool
	logger  *slog.Logger
	metrics *hooks.MetricsHook
	closed  atomic.Bool
}

// Ensure Pool is a connection and a Source
var (
	_ bun.IDB = (*Pool)(nil)
	_ Source  = (*Pool)(nil)
)

// Connect creates a new pool with the given configuration and verifies
// that it can reach the database.
func Connect(cfg PoolConfig) (*Pool, error) {
	// Apply defaults for zero values
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	src, err := openDataSource(cfg)
	if err != nil {
		return nil, err
	}

	// pgxpool manages its own sizing
	if src.pgx == nil {
		src.db.SetMaxOpenConns(cfg.MaxOpenConns)
		src.db.SetMaxIdleConns(cfg.MaxIdleConns)
		src.db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		src.db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	bunDB := bun.NewDB(src.db, src.dialect)

	p := &Pool{
		DB:     bunDB,
		config: cfg,
		pgx:    src.pgx,
		logger: cfg.Logger,
	}

	// Add observability hooks
	if cfg.Logger != nil && (cfg.LogQueries || cfg.LogSlowQueries > 0) {
		bunDB.AddQueryHook(hooks.NewLoggerHook(cfg.Logger, cfg.LogQueries, cfg.LogSlowQueries))
	}
	if cfg.MetricsRegistry != nil {
		hook, err := hooks.NewMetricsHook(cfg.MetricsRegistry)
		if err != nil {
			p.release()
			return nil, fmt.Errorf("querykit: failed to create metrics hook: %w", err)
		}
		bunDB.AddQueryHook(hook)
		p.metrics = hook
	}
	if cfg.Tracer != nil {
		bunDB.AddQueryHook(hooks.NewTracingHook(cfg.Tracer, bunDB.Dialect().Name().String()))
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := bunDB.PingContext(ctx); err != nil {
		p.release()
		return nil, &Error{
			Code:    CodeConnectionFailed,
			Message: "failed to connect to database",
			Op:      "Connect",
			Cause:   err,
		}
	}

	if p.logger != nil {
		p.logger.Info("database pool connected",
			slog.String("dialect", bunDB.Dialect().Name().String()),
			slog.String("driver", driverLabel(cfg)),
			slog.Int("max_open_conns", cfg.MaxOpenConns),
		)
	}

	return p, nil
}

// Disconnect releases every pooled connection held by p. Calling it more
// than once, or with a nil pool, is a no-op.
func Disconnect(p *Pool) error {
	if p == nil {
		return nil
	}
	return p.Close()
}

// Reconnect disconnects p and returns a new pool built from cfg. Cells
// bound to p are not updated; callers rebind them with Cell.Set.
func Reconnect(p *Pool, cfg PoolConfig) (*Pool, error) {
	if err := Disconnect(p); err != nil {
		return nil, err
	}
	return Connect(cfg)
}

// Close closes the pool. It is idempotent.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.release(); err != nil {
		return ClassifyError(err, "Disconnect")
	}
	if p.logger != nil {
		p.logger.Info("database pool disconnected")
	}
	return nil
}

func (p *Pool) release() error {
	err := p.DB.Close()
	if p.pgx != nil {
		p.pgx.Close()
	}
	return err
}

// Closed reports whether the pool has been disconnected
func (p *Pool) Closed() bool {
	return p.closed.Load()
}

// Resolve returns the pool itself
func (p *Pool) Resolve(ctx context.Context) (bun.IDB, error) {
	if p == nil {
		return nil, newError(CodeConfiguration, "Resolve", "pool is nil")
	}
	if p.Closed() {
		return nil, newError(CodeConnectionFailed, "Resolve", "pool is disconnected")
	}
	return p, nil
}

// Ping verifies the database connection is alive
func (p *Pool) Ping(ctx context.Context) error {
	if err := p.PingContext(ctx); err != nil {
		return ClassifyError(err, "Ping")
	}
	return nil
}

// Stats returns connection pool statistics
func (p *Pool) Stats() sql.DBStats {
	return p.DB.Stats()
}

// Bun returns the underlying bun.DB for direct access
func (p *Pool) Bun() *bun.DB {
	return p.DB
}

// Config returns the configuration the pool was built from
func (p *Pool) Config() PoolConfig {
	return p.config
}

func driverLabel(cfg PoolConfig) string {
	switch {
	case cfg.DataSource != nil:
		return "datasource"
	case cfg.DriverName == "":
		return DriverPG
	}
	return cfg.DriverName
}
