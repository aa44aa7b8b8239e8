package hooks

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
)

// MetricsHook implements Prometheus metrics collection for queries and
// transaction outcomes.
type MetricsHook struct {
	queryDuration *prometheus.HistogramVec
	queryTotal    *prometheus.CounterVec
	queryErrors   *prometheus.CounterVec
	transactions  *prometheus.CounterVec
}

// NewMetricsHook creates a new metrics hook and registers collectors.
// Collectors already registered by another pool are shared.
func NewMetricsHook(registry prometheus.Registerer) (*MetricsHook, error) {
	labels := []string{"query", "operation"}
	h := &MetricsHook{
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "querykit_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			labels,
		),
		queryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querykit_queries_total",
				Help: "Total number of database queries",
			},
			labels,
		),
		queryErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querykit_query_errors_total",
				Help: "Total number of database query errors",
			},
			labels,
		),
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querykit_transactions_total",
				Help: "Total number of finished transactions by outcome",
			},
			[]string{"outcome"},
		),
	}

	var err error
	if h.queryDuration, err = register(registry, h.queryDuration); err != nil {
		return nil, err
	}
	if h.queryTotal, err = register(registry, h.queryTotal); err != nil {
		return nil, err
	}
	if h.queryErrors, err = register(registry, h.queryErrors); err != nil {
		return nil, err
	}
	if h.transactions, err = register(registry, h.transactions); err != nil {
		return nil, err
	}
	return h, nil
}

func register[C prometheus.Collector](registry prometheus.Registerer, c C) (C, error) {
	if err := registry.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// BeforeQuery is called before a query is executed
func (h *MetricsHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

// AfterQuery is called after a query is executed
func (h *MetricsHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	duration := time.Since(event.StartTime).Seconds()
	query, op := queryLabel(ctx), OperationType(event.Query)

	h.queryDuration.WithLabelValues(query, op).Observe(duration)
	h.queryTotal.WithLabelValues(query, op).Inc()

	if event.Err != nil {
		h.queryErrors.WithLabelValues(query, op).Inc()
	}
}

// ObserveTransaction counts a finished transaction. outcome is "commit",
// "rollback" or "error".
func (h *MetricsHook) ObserveTransaction(outcome string) {
	h.transactions.WithLabelValues(outcome).Inc()
}
