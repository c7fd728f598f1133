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

// Check is one dependency probed by the health endpoint.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// PingCheck probes the database pool.
func PingCheck(pool *pgxpool.Pool) Check {
	return Check{Name: "postgres", Probe: pool.Ping}
}

// HealthHandler reports service health. Every check runs under a shared
// five second budget; any failure answers 503. A nil pool means the ledger
// runs on the in-process store and no pool stats are reported.
func HealthHandler(driver string, pool *pgxpool.Pool, checks ...Check) echo.HandlerFunc {
	if pool != nil {
		checks = append([]Check{PingCheck(pool)}, checks...)
	}
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status, code := "healthy", http.StatusOK
		results := make(map[string]string, len(checks))
		for _, chk := range checks {
			if err := chk.Probe(ctx); err != nil {
				results[chk.Name] = err.Error()
				status, code = "unhealthy", http.StatusServiceUnavailable
				continue
			}
			results[chk.Name] = "ok"
		}

		body := map[string]interface{}{
			"status": status,
			"store":  driver,
		}
		if len(results) > 0 {
			body["checks"] = results
		}
		if pool != nil {
			body["pool"] = GetPoolStats(pool)
		}
		return c.JSON(code, body)
	}
}
