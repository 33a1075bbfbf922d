// Package scraper is the browser fetch path: it launches headless browser
// sessions for the pool and drives a page through navigation, lazy-load
// scrolling, overlay dismissal, scripted actions and load-more pagination.
package scraper

import (
	"context"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/proxy"
)

// Launcher builds browser sessions for the engine.BrowserPool.
type Launcher struct {
	cfg config.BrowserConfig
}

// NewLauncher creates a Launcher.
func NewLauncher(cfg config.BrowserConfig) *Launcher {
	return &Launcher{cfg: cfg}
}

// NewSession launches one headless browser bound to p and userAgent, with
// a single stealth-patched page. It satisfies engine.SessionFactory.
func (l *Launcher) NewSession(ctx context.Context, p *proxy.Descriptor, userAgent string) (*engine.Session, error) {
	ln := launcher.New().
		Context(ctx).
		Headless(l.cfg.Headless).
		NoSandbox(l.cfg.NoSandbox)

	if l.cfg.BrowserBin != "" {
		ln = ln.Bin(l.cfg.BrowserBin)
	}

	var params proxy.ConnectionParams
	if p != nil {
		params = p.AsConnectionParams()
		ln = ln.Proxy(params.Server)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	ln.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	ln.Delete(flags.Flag("enable-automation"))
	ln.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	ln.Set(flags.Flag("window-size"), "1920,1080")
	ln.Set(flags.Flag("user-agent"), userAgent)
	ln.Set(flags.Flag("disable-gpu"))
	ln.Set(flags.Flag("disable-infobars"))
	ln.Set(flags.Flag("disable-notifications"))
	ln.Set(flags.Flag("disable-popup-blocking"))
	ln.Set(flags.Flag("disable-renderer-backgrounding"))
	ln.Set(flags.Flag("disable-background-timer-throttling"))
	ln.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	ln.Set(flags.Flag("disable-component-update"))
	ln.Set(flags.Flag("disable-default-apps"))
	ln.Set(flags.Flag("disable-dev-shm-usage"))
	ln.Set(flags.Flag("disable-extensions"))
	ln.Set(flags.Flag("no-first-run"))

	controlURL, err := ln.Launch()
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowser, "failed to launch browser", err)
	}

	s := &engine.Session{Launcher: ln}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		DestroySession(s)
		return nil, models.NewScrapeError(models.ErrCodeBrowser, "failed to connect to browser", err)
	}
	s.Browser = browser

	if params.Username != "" {
		go func() {
			if err := browser.HandleAuth(params.Username, params.Password)(); err != nil {
				slog.Debug("scraper: proxy auth handler stopped", "error", err)
			}
		}()
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		DestroySession(s)
		return nil, models.NewScrapeError(models.ErrCodeBrowser, "failed to open page", err)
	}
	s.Page = page

	if err := (proto.NetworkSetUserAgentOverride{UserAgent: userAgent}).Call(page); err != nil {
		slog.Warn("scraper: user agent override failed", "error", err)
	}
	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		slog.Warn("scraper: stealth injection failed, proceeding without stealth", "error", err)
	}

	slog.Debug("scraper: session launched", "controlURL", controlURL, "proxy", p.Key())
	return s, nil
}

// DestroySession closes the page and browser and kills the process. It
// satisfies engine.SessionDestroyer.
func DestroySession(s *engine.Session) {
	if s == nil {
		return
	}
	if s.Page != nil {
		_ = s.Page.Close()
	}
	if s.Browser != nil {
		if err := s.Browser.Close(); err != nil {
			slog.Debug("scraper: browser close failed", "id", s.ID, "error", err)
		}
	}
	if s.Launcher != nil {
		s.Launcher.Kill()
		s.Launcher.Cleanup()
	}
}
