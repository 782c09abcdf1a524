package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const pingTimeout = 5 * time.Second

// PoolStats is the pgx pool section of the /health/db body.
type PoolStats struct {
	TotalConns    int32  `json:"total_conns"`
	IdleConns     int32  `json:"idle_conns"`
	AcquiredConns int32  `json:"acquired_conns"`
	MaxConns      int32  `json:"max_conns"`
	Acquires      int64  `json:"acquire_count"`
	AcquireWait   string `json:"acquire_duration"`
	Healthy       bool   `json:"healthy"`
}

func statsOf(pool *pgxpool.Pool) *PoolStats {
	s := pool.Stat()
	return &PoolStats{
		TotalConns:    s.TotalConns(),
		IdleConns:     s.IdleConns(),
		AcquiredConns: s.AcquiredConns(),
		MaxConns:      s.MaxConns(),
		Acquires:      s.AcquireCount(),
		AcquireWait:   s.AcquireDuration().String(),
		Healthy:       s.TotalConns() > 0,
	}
}

// PoolProbe returns the ping and stats funcs HealthHandler expects.
func PoolProbe(pool *pgxpool.Pool) (func(context.Context) error, func() any) {
	return pool.Ping, func() any { return statsOf(pool) }
}

type healthReport struct {
	Driver string `json:"driver"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Pool   any    `json:"pool,omitempty"`
}

// HealthHandler serves /health/db: 200 when ping succeeds within
// pingTimeout, 503 otherwise. stats may be nil.
func HealthHandler(driver string, ping func(context.Context) error, stats func() any) echo.HandlerFunc {
	return func(c echo.Context) error {
		report := healthReport{Driver: driver, Status: "healthy"}
		if stats != nil {
			report.Pool = stats()
		}

		ctx, cancel := context.WithTimeout(c.Request().Context(), pingTimeout)
		defer cancel()

		code := http.StatusOK
		if err := ping(ctx); err != nil {
			code = http.StatusServiceUnavailable
			report.Status, report.Error = "unhealthy", err.Error()
		}
		return c.JSON(code, report)
	}
}
