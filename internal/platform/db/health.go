package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// HealthReport is the body served by /health/db.
type HealthReport struct {
	Status            string     `json:"status"`
	Error             string     `json:"error,omitempty"`
	PendingMigrations int        `json:"pending_migrations"`
	Pool              *PoolStats `json:"pool,omitempty"`
}

func buildReport(pingErr error, stats *PoolStats, pending int) (int, HealthReport) {
	r := HealthReport{Status: "healthy", Pool: stats, PendingMigrations: pending}
	if pingErr != nil {
		r.Status = "unhealthy"
		r.Error = pingErr.Error()
		return http.StatusServiceUnavailable, r
	}
	if pending > 0 {
		r.Status = "degraded"
	}
	return http.StatusOK, r
}

// HealthHandler pings the pool and reports pool stats plus the number of
// migrations not yet applied. migrator may be nil.
func HealthHandler(pool *pgxpool.Pool, migrator *Migrator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		err := pool.Ping(ctx)
		pending := 0
		if err == nil && migrator != nil {
			if statuses, serr := migrator.Status(ctx); serr == nil {
				for _, s := range statuses {
					if !s.Applied {
						pending++
					}
				}
			}
		}

		code, report := buildReport(err, GetPoolStats(pool), pending)
		return c.JSON(code, report)
	}
}
