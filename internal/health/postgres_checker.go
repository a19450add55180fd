package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresChecker 端点存储所用 PostgreSQL 的连通性与连接池占用
type PostgresChecker struct {
	pool *pgxpool.Pool
}

func NewPostgresChecker(pool *pgxpool.Pool) *PostgresChecker {
	return &PostgresChecker{pool: pool}
}

func (c *PostgresChecker) Name() string { return "postgres" }

func (c *PostgresChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if err := c.pool.Ping(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("ping failed: %v", err),
			Latency: time.Since(start),
		}
	}

	stats := c.pool.Stat()
	status, message, utilization := poolStatus(stats.AcquiredConns(), stats.MaxConns())
	return CheckResult{
		Status:  status,
		Message: message,
		Details: map[string]interface{}{
			"total_conns":    stats.TotalConns(),
			"idle_conns":     stats.IdleConns(),
			"acquired_conns": stats.AcquiredConns(),
			"max_conns":      stats.MaxConns(),
			"utilization":    fmt.Sprintf("%.1f%%", utilization*100),
		},
		Latency: time.Since(start),
	}
}

// poolStatus 占用超过 90% 降级，用满视为不可用
func poolStatus(acquired, limit int32) (Status, string, float64) {
	utilization := 0.0
	if limit > 0 {
		utilization = float64(acquired) / float64(limit)
	}
	switch {
	case utilization >= 1.0:
		return StatusUnhealthy, "connection pool exhausted", utilization
	case utilization > 0.9:
		return StatusDegraded, "connection pool near limit", utilization
	}
	return StatusHealthy, "ok", utilization
}
