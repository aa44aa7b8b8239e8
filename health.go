package querykit

import (
	"context"
	"database/sql"
	"time"
)

// HealthStatus represents the pool health status
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Closed    bool          `json:"closed"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	PoolStats PoolStats     `json:"pool_stats"`
}

// PoolStats contains connection pool statistics
type PoolStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

// Health pings the database and reports pool statistics
func (p *Pool) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Closed:    p.Closed(),
		PoolStats: PoolStatsFromSQL(p.Stats()),
	}
	if status.Closed {
		status.Error = "pool is disconnected"
		return status
	}

	start := time.Now()
	err := p.Ping(ctx)
	status.Latency = time.Since(start)
	status.Healthy = err == nil
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

// IsHealthy returns true if the database is reachable
func (p *Pool) IsHealthy(ctx context.Context) bool {
	return !p.Closed() && p.Ping(ctx) == nil
}

// PoolStatsFromSQL converts sql.DBStats to PoolStats
func PoolStatsFromSQL(stats sql.DBStats) PoolStats {
	return PoolStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
	}
}
