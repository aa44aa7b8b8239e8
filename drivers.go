package querykit

import (
	"context"
	"database/sql"
	"net/url"
	"slices"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/schema"
)

// Driver names understood by Connect. Any other driver registered with
// database/sql can be used as well; its dialect then defaults to postgres
// unless PoolConfig.Dialect says otherwise.
const (
	DriverPG       = "pg"       // bun pgdriver (default)
	DriverPGX      = "pgx"      // pgx stdlib
	DriverPGXPool  = "pgxpool"  // pgxpool exposed through pgx stdlib
	DriverPQ       = "postgres" // lib/pq
	DriverMySQL    = "mysql"    // go-sql-driver/mysql
	DriverSQLite3  = "sqlite3"  // mattn/go-sqlite3, registered by the caller
	DialectPG      = "postgres"
	DialectMySQL   = "mysql"
	DialectSQLite  = "sqlite"
	defaultDialect = DialectPG
)

func dialectByName(name string) (schema.Dialect, error) {
	switch strings.ToLower(name) {
	case "", "pg", "postgres", "postgresql":
		return pgdialect.New(), nil
	case "mysql":
		return mysqldialect.New(), nil
	case "sqlite", "sqlite3":
		return sqlitedialect.New(), nil
	}
	return nil, newError(CodeConfiguration, "Connect", "unknown dialect %q", name)
}

func dialectForDriver(driver string) string {
	switch driver {
	case DriverMySQL:
		return DialectMySQL
	case DriverSQLite3, "sqlite":
		return DialectSQLite
	}
	return defaultDialect
}

// opened is the result of building a datasource from a PoolConfig.
type opened struct {
	db      *sql.DB
	pgx     *pgxpool.Pool
	dialect schema.Dialect
}

func openDataSource(cfg PoolConfig) (*opened, error) {
	dialectName := cfg.Dialect
	if dialectName == "" {
		dialectName = dialectForDriver(cfg.DriverName)
	}
	dialect, err := dialectByName(dialectName)
	if err != nil {
		return nil, err
	}

	if cfg.DataSource != nil {
		return &opened{db: cfg.DataSource, dialect: dialect}, nil
	}

	switch cfg.DriverName {
	case "", DriverPG:
		opts := []pgdriver.Option{
			pgdriver.WithDSN(cfg.URL),
			pgdriver.WithDialTimeout(cfg.DialTimeout),
			pgdriver.WithReadTimeout(cfg.ReadTimeout),
			pgdriver.WithWriteTimeout(cfg.WriteTimeout),
		}
		if cfg.User != "" {
			opts = append(opts, pgdriver.WithUser(cfg.User))
		}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return &opened{db: sql.OpenDB(pgdriver.NewConnector(opts...)), dialect: dialect}, nil

	case DriverPGXPool:
		poolCfg, err := pgxpool.ParseConfig(cfg.URL)
		if err != nil {
			return nil, &Error{
				Code:    CodeConfiguration,
				Message: "failed to parse pgxpool config",
				Op:      "Connect",
				Cause:   err,
			}
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
		poolCfg.ConnConfig.ConnectTimeout = cfg.DialTimeout
		if cfg.User != "" {
			poolCfg.ConnConfig.User = cfg.User
		}
		if cfg.Password != "" {
			poolCfg.ConnConfig.Password = cfg.Password
		}
		pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
		if err != nil {
			return nil, &Error{
				Code:    CodeConnectionFailed,
				Message: "failed to create connection pool",
				Op:      "Connect",
				Cause:   err,
			}
		}
		return &opened{db: stdlib.OpenDBFromPool(pool), pgx: pool, dialect: dialect}, nil
	}

	if !slices.Contains(sql.Drivers(), cfg.DriverName) {
		return nil, newError(CodeConfiguration, "Connect",
			"driver %q is not registered with database/sql", cfg.DriverName)
	}
	db, err := sql.Open(cfg.DriverName, withCredentials(cfg.URL, cfg.User, cfg.Password))
	if err != nil {
		return nil, &Error{
			Code:    CodeConfiguration,
			Message: "failed to open datasource",
			Op:      "Connect",
			Cause:   err,
		}
	}
	return &opened{db: db, dialect: dialect}, nil
}

// withCredentials sets user info on URL-form DSNs and leaves other
// forms (e.g. mysql "user:pass@tcp(host)/db") untouched.
func withCredentials(dsn, user, password string) string {
	if user == "" || !strings.Contains(dsn, "://") {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	if password != "" {
		u.User = url.UserPassword(user, password)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}
