// Package app assembles the engines, fetcher, pipeline and their
// collaborators from a Config. The server and the CLI share it.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/use-agent/harvest/cache"
	"github.com/use-agent/harvest/classifier"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/fetcher"
	"github.com/use-agent/harvest/pipeline"
	"github.com/use-agent/harvest/proxy"
	"github.com/use-agent/harvest/scraper"
	"github.com/use-agent/harvest/sink"
)

// App holds the assembled stack.
type App struct {
	Config  *config.Config
	Pool    *engine.BrowserPool
	Memory  *engine.DomainMemory
	Fetcher *fetcher.Fetcher
	Runner  *pipeline.Runner
	Metrics *fetcher.Metrics
	Sink    sink.Sink
}

// New builds the stack. The browser pool is created only when the browser
// path is enabled; sessions are launched lazily unless prewarm is set.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Metrics: fetcher.NewMetrics()}

	// ── 1. Identities and proxies ─────────────────────────────────────
	identities := engine.NewIdentityRotator(cfg.Browser.UserAgents...)
	proxies, err := proxy.ParseList(cfg.Proxy.List)
	if err != nil {
		return nil, fmt.Errorf("app: proxies: %w", err)
	}

	// ── 2. Static engine ──────────────────────────────────────────────
	httpOpts := []engine.HTTPOption{
		engine.WithTimeout(cfg.Fetcher.DefaultTimeout),
		engine.WithHostRate(cfg.Fetcher.HostRPS),
	}
	if cfg.Fetcher.RotateIdentity {
		httpOpts = append(httpOpts, engine.WithIdentities(identities))
	}
	static := engine.NewHTTPEngine(httpOpts...)

	// ── 3. Fetcher ────────────────────────────────────────────────────
	a.Memory = engine.NewDomainMemory(cfg.Fetcher.DomainMemoryTTL)
	fopts := []fetcher.Option{
		fetcher.WithDomainMemory(a.Memory),
		fetcher.WithMetrics(a.Metrics),
		fetcher.WithDecider(classifier.New(
			classifier.WithHTTPClient(static.Client()),
			classifier.WithProbeTimeout(cfg.Fetcher.ProbeTimeout),
			classifier.WithIdentities(identities),
			classifier.WithExtraDomains(cfg.Fetcher.BrowserDomains...),
		)),
	}
	if len(proxies) > 0 {
		rot := proxy.NewRotator(proxy.Strategy(cfg.Proxy.Strategy), proxies...)
		fopts = append(fopts, fetcher.WithProxies(rot))
		slog.Info("app: proxy rotation enabled", "proxies", rot.Len(), "strategy", cfg.Proxy.Strategy)
	}

	// ── 4. Browser path ───────────────────────────────────────────────
	if cfg.Browser.Enabled {
		launcher := scraper.NewLauncher(cfg.Browser)
		a.Pool = engine.NewBrowserPool(ctx, engine.PoolConfig{
			Capacity: cfg.Browser.PoolSize,
			Prewarm:  cfg.Browser.Prewarm,
			MaxUses:  cfg.Browser.MaxUses,
			MaxAge:   cfg.Browser.MaxAge,
		}, launcher.NewSession, scraper.DestroySession, identities)
		a.Metrics.RegisterPool(a.Pool)
		fopts = append(fopts, fetcher.WithBrowser(
			scraper.NewBrowserEngine(a.Pool, cfg.Scraper, cfg.Fetcher.DefaultTimeout)))
	}
	a.Fetcher = fetcher.New(static, cfg.Fetcher, fopts...)

	// ── 5. Templates, cache, sink ─────────────────────────────────────
	var popts []pipeline.Option
	if cfg.Templates.Dir != "" {
		ts, err := config.LoadTemplates(cfg.Templates.Dir)
		if err != nil {
			a.Close()
			return nil, err
		}
		slog.Info("app: templates loaded", "count", len(ts), "dir", cfg.Templates.Dir)
		popts = append(popts, pipeline.WithTemplates(ts))
	}
	if cfg.Cache.MaxEntries > 0 {
		popts = append(popts, pipeline.WithCache(cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)))
	}
	if a.Sink, err = sink.New(cfg.Sink); err != nil {
		a.Close()
		return nil, err
	}
	if a.Sink != nil {
		popts = append(popts, pipeline.WithSink(a.Sink))
	}
	a.Runner = pipeline.New(a.Fetcher, cfg.Fetcher, popts...)
	return a, nil
}

// Close releases browsers, the sink and background loops.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Shutdown()
	}
	if a.Sink != nil {
		if err := a.Sink.Close(); err != nil {
			slog.Warn("app: sink close failed", "error", err)
		}
	}
	a.Memory.Stop()
}

// InitLogger installs the default slog handler for cfg, writing to w.
func InitLogger(cfg config.LogConfig, w io.Writer) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}
