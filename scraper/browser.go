package scraper

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/models"
)

// BrowserEngine fetches pages through pooled headless browser sessions.
// It is safe for concurrent use; each call checks out its own session.
type BrowserEngine struct {
	pool    *engine.BrowserPool
	cfg     config.ScraperConfig
	timeout time.Duration
}

// NewBrowserEngine creates the browser engine over pool. defaultTimeout
// bounds an attempt when the request sets none.
func NewBrowserEngine(pool *engine.BrowserPool, cfg config.ScraperConfig, defaultTimeout time.Duration) *BrowserEngine {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &BrowserEngine{pool: pool, cfg: cfg, timeout: defaultTimeout}
}

func (b *BrowserEngine) Name() string { return string(models.MethodBrowser) }

// Fetch runs one browser attempt against req.URL.
//
// Lifecycle (numbered steps match the inline comments):
//
//  1. Timeout guard     hard deadline on the whole attempt
//  2. Acquire session   check out a browser bound to req.Proxy
//  3. Headers, cookies  applied before navigation
//  4. Request blocking  resource types and trackers
//  5. Context binding   propagate the deadline to all rod calls
//  6. Navigate          hard: failure aborts the attempt
//  7. Wait selector     soft: timeout is logged
//  8. Status code       best-effort from performance entries
//  9. Lazy-load scroll  viewport steps, back to top
//  10. Overlays         dismiss one consent or modal control
//  11. Actions          soft, in order
//  12. Load more        paginate until the item count settles
//  13. Capture          settle, then HTML, title and final URL
//
// A session that failed is discarded rather than returned to the pool.
func (b *BrowserEngine) Fetch(ctx context.Context, req *models.FetchRequest) (*engine.Response, error) {
	// ── 1. Timeout guard ──────────────────────────────────────────────
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = b.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// ── 2. Acquire session ────────────────────────────────────────────
	s, err := b.pool.Acquire(ctx, req.Proxy)
	if err != nil {
		if errors.Is(err, engine.ErrPoolClosed) {
			return nil, models.NewScrapeError(models.ErrCodeBrowser, "browser pool closed", err)
		}
		return nil, categorizeError(err, "failed to acquire browser session")
	}

	resp, err := b.drive(ctx, s.Page, req)
	if err != nil {
		b.pool.Discard(s)
		return nil, err
	}
	resetPage(s.Page)
	b.pool.Release(s)
	return resp, nil
}

func (b *BrowserEngine) drive(ctx context.Context, page *rod.Page, req *models.FetchRequest) (*engine.Response, error) {
	// ── 3. Headers and cookies ────────────────────────────────────────
	if len(req.Headers) > 0 {
		if err := (proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(req.Headers)}).Call(page); err != nil {
			slog.Warn("scraper: extra headers failed", "error", err)
		}
	}
	setCookies(page, req)

	// ── 4. Request blocking ───────────────────────────────────────────
	if blocker := newRequestBlocker(b.cfg.BlockedResourceTypes, req.BlockAds); blocker != nil {
		router := blocker.install(page)
		defer func() { _ = router.Stop() }()
	}

	// ── 5. Bind request context to page ───────────────────────────────
	p := page.Context(ctx)

	// ── 6. Navigate ───────────────────────────────────────────────────
	if err := p.Navigate(req.URL); err != nil {
		return nil, categorizeError(err, "navigation to target URL failed")
	}
	if err := p.WaitLoad(); err != nil {
		return nil, categorizeError(err, "page load did not complete")
	}

	// ── 7. Optional selector wait ─────────────────────────────────────
	if req.WaitForSelector != "" {
		b.waitSelector(ctx, page, req.WaitForSelector)
	}

	// ── 8. Status code (best-effort) ──────────────────────────────────
	statusCode := evalInt(p, `() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch (e) {}
		return 0;
	}`)

	// ── 9. Lazy-load scroll ───────────────────────────────────────────
	if !req.NoScroll {
		if err := b.lazyScroll(ctx, p); err != nil {
			return nil, categorizeError(err, "scrolling aborted")
		}
	}

	// ── 10. Overlays ──────────────────────────────────────────────────
	if !req.KeepOverlays {
		dismissOverlay(p)
	}
	if req.RemoveOverlays {
		removeOverlays(p)
	}

	// ── 11. Actions ───────────────────────────────────────────────────
	if len(req.Actions) > 0 {
		done := runActions(ctx, page, req.Actions, b.cfg.ActionTimeout)
		slog.Debug("scraper: actions finished", "url", req.URL, "ok", done, "total", len(req.Actions))
	}

	// ── 12. Load more ─────────────────────────────────────────────────
	if lm := req.LoadMore; lm != nil && lm.Paginator != nil {
		b.loadMore(ctx, p, req.URL, lm)
	}

	// ── 13. Capture ───────────────────────────────────────────────────
	if err := pause(ctx, b.cfg.SettlePause); err != nil {
		return nil, categorizeError(err, "settle wait aborted")
	}
	rawHTML, err := p.HTML()
	if err != nil {
		return nil, categorizeError(err, "failed to extract page HTML")
	}
	finalURL := evalString(p, `() => window.location.href`)
	if finalURL == "" {
		finalURL = req.URL
	}
	return &engine.Response{
		HTML:       rawHTML,
		Title:      evalString(p, `() => document.title`),
		StatusCode: statusCode,
		FinalURL:   finalURL,
		EngineName: b.Name(),
	}, nil
}

func (b *BrowserEngine) waitSelector(ctx context.Context, page *rod.Page, selector string) {
	wctx, cancel := context.WithTimeout(ctx, b.cfg.SelectorWait)
	defer cancel()
	if err := page.Context(wctx).WaitElementsMoreThan(selector, 0); err != nil {
		slog.Warn("scraper: wait-for-selector timed out, continuing", "selector", selector, "error", err)
	}
}

// lazyScroll steps one viewport at a time to trigger lazy loading, then
// returns to the top.
func (b *BrowserEngine) lazyScroll(ctx context.Context, p *rod.Page) error {
	height := evalInt(p, `() => document.body ? document.body.scrollHeight : 0`)
	viewport := evalInt(p, `() => window.innerHeight`)
	steps := scrollSteps(height, viewport)
	for i := 0; i < steps; i++ {
		if _, err := p.Eval(`(y) => window.scrollTo(0, y)`, viewport*(i+1)); err != nil {
			slog.Debug("scraper: scroll step failed", "step", i, "error", err)
			break
		}
		if err := pause(ctx, b.cfg.ScrollPause); err != nil {
			return err
		}
	}
	_, _ = p.Eval(`() => window.scrollTo(0, 0)`)
	return nil
}

func (b *BrowserEngine) loadMore(ctx context.Context, p *rod.Page, pageURL string, lm *models.LoadMore) {
	html, err := p.HTML()
	if err != nil {
		slog.Warn("scraper: load-more skipped, no DOM snapshot", "error", err)
		return
	}
	attempts := lm.MaxAttempts
	if attempts <= 0 {
		attempts = b.cfg.LoadMoreAttempts
	}
	driver := &rodPagination{
		page:       p,
		plan:       lm.Paginator.Plan(pageURL, html),
		preClick:   b.cfg.LoadMorePreClick,
		clickPause: b.cfg.LoadMoreClickPause,
		scrollWait: b.cfg.LoadMoreScrollWait,
	}
	st := runLoadMore(ctx, driver, lm.MaxItems, attempts)
	slog.Info("scraper: load-more finished",
		"url", pageURL, "attempts", st.Attempts, "clicks", st.Clicks, "items", st.Items)
}

// scrollSteps is the number of viewport-sized scroll steps for a page.
func scrollSteps(pageHeight, viewportHeight int) int {
	if viewportHeight <= 0 {
		return 1
	}
	return max(1, pageHeight/viewportHeight)
}

func setCookies(page *rod.Page, req *models.FetchRequest) {
	if len(req.Cookies) == 0 {
		return
	}
	host := ""
	if u, err := url.Parse(req.URL); err == nil {
		host = u.Hostname()
	}
	for _, c := range req.Cookies {
		domain := c.Domain
		if domain == "" {
			domain = host
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		if _, err := (proto.NetworkSetCookie{Name: c.Name, Value: c.Value, Domain: domain, Path: path}).Call(page); err != nil {
			slog.Debug("scraper: set cookie failed", "name", c.Name, "error", err)
		}
	}
}

// resetPage blanks a healthy page before it returns to the pool so the
// next caller starts clean. It uses the page without the request context.
func resetPage(page *rod.Page) {
	_ = proto.NetworkSetExtraHTTPHeaders{Headers: proto.NetworkHeaders{}}.Call(page)
	_ = proto.NetworkClearBrowserCookies{}.Call(page)
	if err := page.Navigate("about:blank"); err != nil {
		slog.Warn("scraper: cleanup navigation failed", "error", err)
	}
}

func evalString(p *rod.Page, js string) string {
	res, err := p.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

func evalInt(p *rod.Page, js string) int {
	res, err := p.Eval(js)
	if err != nil {
		return 0
	}
	return res.Value.Int()
}

func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// categorizeError wraps rod errors into typed ScrapeErrors.
func categorizeError(err error, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewScrapeError(models.ErrCodeNavigation, msg, err)
	}
}
