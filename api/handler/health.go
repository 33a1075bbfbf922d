package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/pipeline"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Uptime    string            `json:"uptime"`
	Browser   bool              `json:"browser_enabled"`
	Pool      *engine.PoolStats `json:"pool,omitempty"`
	DataTypes []string          `json:"data_types"`
	Templates int               `json:"templates"`
	Version   string            `json:"version"`
}

// Health returns a handler for GET /api/v1/health.
//
// Status degrades when more sessions are checked out than the pool keeps
// idle, a sign that callers are waiting on fresh browser launches.
func Health(pool *engine.BrowserPool, runner *pipeline.Runner, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := HealthResponse{
			Status:    "healthy",
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			Browser:   runner.Fetcher().HasBrowser(),
			DataTypes: runner.Registry().Types(),
			Templates: len(runner.Templates()),
			Version:   Version,
		}
		if pool != nil {
			stats := pool.Stats()
			resp.Pool = &stats
			if stats.Capacity > 0 && stats.CheckedOut > int64(stats.Capacity) {
				resp.Status = "degraded"
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}
