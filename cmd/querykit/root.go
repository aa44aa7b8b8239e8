package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fernandezvara/querykit"
)

const envPrefix = "QUERYKIT"

type rootOptions struct {
	configFile string
	url        string
	driver     string
	logLevel   string
	logFormat  string
	logQueries bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "querykit",
		Short:         "Run named SQL statements from query files",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "YAML pool configuration file (default: "+envPrefix+"_* environment)")
	flags.StringVar(&opts.url, "url", "", "data source name, overrides the configuration")
	flags.StringVar(&opts.driver, "driver", "", "database/sql driver name, overrides the configuration")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format: text, json")
	flags.BoolVar(&opts.logQueries, "log-queries", false, "log every statement at debug level")

	cmd.AddCommand(
		newPingCmd(opts),
		newListCmd(),
		newRunCmd(opts),
	)
	return cmd
}

// poolConfig loads the configuration and applies flag overrides
func (o *rootOptions) poolConfig(logger *slog.Logger) (querykit.PoolConfig, error) {
	var (
		cfg querykit.PoolConfig
		err error
	)
	if o.configFile != "" {
		cfg, err = querykit.LoadPoolConfigFile(o.configFile)
	} else {
		cfg, err = querykit.LoadPoolConfig(envPrefix)
	}
	if err != nil {
		return cfg, err
	}
	if o.url != "" {
		cfg.URL = o.url
	}
	if o.driver != "" {
		cfg.DriverName = o.driver
	}
	cfg.Logger = logger
	cfg.LogQueries = cfg.LogQueries || o.logQueries
	return cfg, nil
}

func (o *rootOptions) connect(w io.Writer) (*querykit.Pool, error) {
	logger := newLogger(w, o.logLevel, o.logFormat)
	cfg, err := o.poolConfig(logger)
	if err != nil {
		return nil, err
	}
	return querykit.Connect(cfg)
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
