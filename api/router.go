package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/use-agent/harvest/api/handler"
	"github.com/use-agent/harvest/api/middleware"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/pipeline"
)

// Deps are the collaborators the routes need.
type Deps struct {
	Runner  *pipeline.Runner
	Batches *pipeline.Batches

	// Pool is nil when the browser path is disabled.
	Pool *engine.BrowserPool

	// Registry backs GET /metrics. Nil disables the endpoint.
	Registry *prometheus.Registry

	StartTime time.Time
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health and metrics stay outside auth so probes and scrapers always work.
func NewRouter(cfg *config.Config, d Deps) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	if d.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	v1.GET("/health", handler.Health(d.Pool, d.Runner, d.StartTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	protected.POST("/classify", handler.Classify(d.Runner))
	protected.POST("/fetch", handler.Fetch(d.Runner))
	protected.POST("/extract", handler.Extract(d.Runner))
	protected.POST("/transform", handler.Transform())
	protected.POST("/scrape", handler.Scrape(d.Runner))

	protected.POST("/batch/scrape", handler.PostBatch(d.Batches))
	protected.GET("/batch/:id", handler.GetBatch(d.Batches))

	return r
}
