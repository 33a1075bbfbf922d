// Package fetcher is the resilient fetch layer. It picks a path through
// the classifier, retries each path with linear backoff and proxy rotation,
// escalates failed static fetches to the browser, and runs batches through
// a worker pool or a semaphore.
package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/use-agent/harvest/classifier"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/proxy"
	"github.com/use-agent/harvest/simhash"
)

// Escalation and routing reasons.
const (
	ReasonForced        = "forced"
	ReasonDomainMemory  = "domain_memory"
	ReasonMemoryStale   = "domain_memory_stale"
	ReasonBlocked       = "blocked"
	ReasonStaticFailed  = "static_failed"
	ReasonNoBrowser     = "browser_unavailable"
	ReasonRenderedSame  = "rendered_matches_static"
	ReasonRenderedDiffs = "rendered_differs"
)

// Redispatch policies for static results that still look client-rendered.
const (
	RedispatchOff     = "off"
	RedispatchShell   = "shell"
	RedispatchDynamic = "dynamic"
)

// domDriftThreshold is the SimHash distance under which a rendered page is
// considered the same as its static copy.
const domDriftThreshold = 3

// Decider chooses the first fetch path for a URL.
type Decider interface {
	Decide(ctx context.Context, rawURL, content string) classifier.Decision
}

// Fetcher runs single fetches and batches over a static and an optional
// browser engine. It is safe for concurrent use: the only shared mutable
// state is the browser pool behind the browser engine, proxy counters and
// domain memory.
type Fetcher struct {
	static  engine.Engine
	browser engine.Engine

	decider Decider
	proxies proxy.Provider
	memory  *engine.DomainMemory
	metrics *Metrics
	cfg     config.FetcherConfig
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithBrowser enables the browser path.
func WithBrowser(e engine.Engine) Option {
	return func(f *Fetcher) { f.browser = e }
}

// WithDecider replaces the default classifier.
func WithDecider(d Decider) Option {
	return func(f *Fetcher) { f.decider = d }
}

// WithProxies sets the provider consulted after failed attempts.
func WithProxies(p proxy.Provider) Option {
	return func(f *Fetcher) { f.proxies = p }
}

// WithDomainMemory enables per-domain method memory.
func WithDomainMemory(m *engine.DomainMemory) Option {
	return func(f *Fetcher) { f.memory = m }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// New creates a Fetcher over the static engine.
func New(static engine.Engine, cfg config.FetcherConfig, opts ...Option) *Fetcher {
	f := &Fetcher{static: static, cfg: cfg}
	for _, o := range opts {
		o(f)
	}
	if f.decider == nil {
		copts := []classifier.Option{
			classifier.WithProbeTimeout(cfg.ProbeTimeout),
			classifier.WithExtraDomains(cfg.BrowserDomains...),
		}
		// Header probes go out with the static engine's fingerprint.
		if c, ok := static.(interface{ Client() *http.Client }); ok {
			copts = append(copts, classifier.WithHTTPClient(c.Client()))
		}
		f.decider = classifier.New(copts...)
	}
	if f.cfg.Redispatch == "" {
		f.cfg.Redispatch = RedispatchShell
	}
	return f
}

// Decide returns the classifier decision for rawURL, ignoring domain
// memory and forced methods.
func (f *Fetcher) Decide(ctx context.Context, rawURL, content string) classifier.Decision {
	return f.decider.Decide(ctx, rawURL, content)
}

// HasBrowser reports whether the browser path is available.
func (f *Fetcher) HasBrowser() bool { return f.browser != nil }

// Fetch fetches req.URL. It always returns exactly one result; failures are
// reported through FetchResult.Err.
//
// Reported Method is the path that produced the result: the successful
// path, or the last path tried when everything failed.
func (f *Fetcher) Fetch(ctx context.Context, req *models.FetchRequest) *models.FetchResult {
	start := time.Now()
	res := f.fetch(ctx, req)
	res.Elapsed = time.Since(start)
	if res.Err != nil {
		slog.Error("fetcher: fetch failed",
			"url", req.URL, "method", res.Method, "attempts", res.Attempts, "error", res.Err)
	}
	f.metrics.finished(res)
	return res
}

func (f *Fetcher) fetch(ctx context.Context, req *models.FetchRequest) *models.FetchResult {
	// ── 1. Validate ───────────────────────────────────────────────────
	if err := validateURL(req.URL); err != nil {
		return models.Failed(req.URL, models.MethodStatic, err, 0)
	}
	if err := ctx.Err(); err != nil {
		return models.Failed(req.URL, models.MethodStatic,
			models.NewScrapeError(models.ErrCodeTimeout, "fetch canceled before start", err), 0)
	}
	host := engine.HostOf(req.URL)

	// ── 2. Choose the first path ──────────────────────────────────────
	method, reason := f.route(ctx, req, host)
	forced := reason == ReasonForced

	if method == models.MethodBrowser && f.browser == nil {
		if forced {
			err := models.NewScrapeError(models.ErrCodeInvalidInput, "browser fetching is not available", nil)
			return models.Failed(req.URL, models.MethodBrowser, err, 0)
		}
		slog.Warn("fetcher: browser unavailable, using static path", "url", req.URL, "reason", reason)
		method, reason = models.MethodStatic, ReasonNoBrowser
	}

	// ── 3. Browser path ───────────────────────────────────────────────
	if method == models.MethodBrowser {
		out := f.runPath(ctx, f.browser, models.MethodBrowser, req, false)
		if out.err != nil && reason == ReasonDomainMemory {
			f.forget(host, out.err)
			if ctx.Err() == nil {
				fallback := f.runPath(ctx, f.static, models.MethodStatic, req, false)
				res := fallback.result(req.URL)
				res.Reason = ReasonMemoryStale
				res.Attempts += out.attempts
				return res
			}
		}
		res := out.result(req.URL)
		res.Reason = reason
		return res
	}

	// ── 4. Static path ────────────────────────────────────────────────
	static := f.runPath(ctx, f.static, models.MethodStatic, req, !forced && f.browser != nil)
	if static.err == nil {
		res := static.result(req.URL)
		res.Reason = reason
		if !forced && reason != ReasonDomainMemory {
			f.markDynamic(res)
		}
		return res
	}

	// ── 5. Escalate once to the browser ───────────────────────────────
	if forced || f.browser == nil || ctx.Err() != nil {
		if reason == ReasonDomainMemory {
			f.forget(host, static.err)
		}
		res := static.result(req.URL)
		res.Reason = reason
		return res
	}
	why := ReasonStaticFailed
	if models.IsBlocked(static.err) {
		why = ReasonBlocked
	}
	f.metrics.escalation(why)
	slog.Info("fetcher: escalating to browser", "url", req.URL, "reason", why, "error", static.err)

	browser := f.runPath(ctx, f.browser, models.MethodBrowser, req, false)
	res := browser.result(req.URL)
	res.Reason = reason
	res.Escalated = true
	res.Attempts += static.attempts
	switch {
	case res.Err == nil:
		f.memory.Set(host, models.MethodBrowser, why)
	case reason == ReasonDomainMemory:
		f.forget(host, res.Err)
	}
	return res
}

// forget drops a remembered method after the path it chose failed.
func (f *Fetcher) forget(host string, err error) {
	if _, _, ok := f.memory.Get(host); !ok {
		return
	}
	f.memory.Delete(host)
	slog.Info("fetcher: dropping remembered method", "host", host, "error", err)
}

// route picks the first path and the rule that chose it.
func (f *Fetcher) route(ctx context.Context, req *models.FetchRequest, host string) (models.Method, string) {
	if req.ForceMethod.Valid() {
		return req.ForceMethod, ReasonForced
	}
	if m, _, ok := f.memory.Get(host); ok {
		return m, ReasonDomainMemory
	}
	d := f.decider.Decide(ctx, req.URL, "")
	return d.Method, d.Reason
}

// markDynamic runs the post-hoc content checks on a static result.
func (f *Fetcher) markDynamic(res *models.FetchResult) {
	if shell, why := classifier.LooksLikeShell(res.Content); shell {
		res.NeedsBrowser, res.DynamicSignal = true, why
		return
	}
	if d, hit := classifier.ScanContent(res.Content); hit {
		res.NeedsBrowser, res.DynamicSignal = true, d.Reason
	}
}

// ShouldRedispatch applies the configured policy to a static result.
func (f *Fetcher) ShouldRedispatch(res *models.FetchResult) bool {
	if f.browser == nil || !res.OK() || res.Method != models.MethodStatic || !res.NeedsBrowser {
		return false
	}
	switch f.cfg.Redispatch {
	case RedispatchDynamic:
		return true
	case RedispatchShell:
		switch res.DynamicSignal {
		case classifier.ShellThinBody, classifier.ShellEmptyRoot, classifier.ShellNoscriptNote, classifier.ShellScriptHeavy:
			return true
		}
	}
	return false
}

// Redispatch re-fetches a static result through the browser. The domain is
// remembered as static when the rendered page matches the static copy and
// as browser otherwise. On browser failure the static result is returned
// unchanged.
func (f *Fetcher) Redispatch(ctx context.Context, req *models.FetchRequest, static *models.FetchResult) *models.FetchResult {
	if f.browser == nil {
		return static
	}
	start := time.Now()
	f.metrics.escalation("redispatch_" + static.DynamicSignal)

	out := f.runPath(ctx, f.browser, models.MethodBrowser, req, false)
	res := out.result(req.URL)
	res.Elapsed = time.Since(start) + static.Elapsed
	res.Reason = static.Reason
	res.Escalated = true
	res.Attempts += static.Attempts
	f.metrics.finished(res)
	if res.Err != nil {
		slog.Warn("fetcher: re-dispatch failed, keeping static result", "url", req.URL, "error", res.Err)
		return static
	}

	host := engine.HostOf(req.URL)
	cmp := simhash.Compare(static.Content, res.Content)
	if cmp.Equivalent(domDriftThreshold) {
		f.memory.Set(host, models.MethodStatic, ReasonRenderedSame)
	} else {
		f.memory.Set(host, models.MethodBrowser, ReasonRenderedDiffs)
	}
	slog.Info("fetcher: re-dispatched through browser",
		"url", req.URL, "signal", static.DynamicSignal,
		"dom_distance", cmp.DOMDistance, "text_distance", cmp.TextDistance)
	return res
}

// pathOutcome is the result of one path's retry loop.
type pathOutcome struct {
	method   models.Method
	resp     *engine.Response
	err      error
	attempts int
	proxy    *proxy.Descriptor
}

func (o pathOutcome) result(rawURL string) *models.FetchResult {
	if o.err != nil {
		res := models.Failed(rawURL, o.method, o.err, 0)
		res.Attempts = o.attempts
		res.Proxy = o.proxy
		var se *models.ScrapeError
		if errors.As(o.err, &se) {
			res.StatusCode = se.StatusCode
		}
		return res
	}
	res := models.Succeeded(rawURL, o.resp.HTML, o.method, 0)
	res.Attempts = o.attempts
	res.Proxy = o.proxy
	res.StatusCode = o.resp.StatusCode
	res.FinalURL = o.resp.FinalURL
	res.Title = o.resp.Title
	return res
}

// runPath runs attempts on eng until one succeeds, the retry budget is
// spent or ctx ends. Retry n sleeps n times the path's backoff and asks
// the provider for a new proxy. With stopOnBlock set, a 403 or 429 ends
// the loop at once so the caller can escalate.
func (f *Fetcher) runPath(ctx context.Context, eng engine.Engine, method models.Method, req *models.FetchRequest, stopOnBlock bool) pathOutcome {
	budget := f.cfg.MaxRetries
	if req.MaxRetries != nil {
		budget = max(*req.MaxRetries, 0)
	}
	backoff := f.cfg.StaticBackoff
	if method == models.MethodBrowser {
		backoff = f.cfg.BrowserBackoff
	}

	out := pathOutcome{method: method, proxy: req.Proxy}
	if out.proxy == nil {
		out.proxy = f.nextProxy(ctx, nil)
	}
	for retry := 0; retry <= budget; retry++ {
		if retry > 0 {
			if ctx.Err() != nil {
				break
			}
			f.metrics.retry(method)
			out.proxy = f.nextProxy(ctx, out.proxy)
			slog.Info("fetcher: retrying",
				"url", req.URL, "method", method, "attempt", retry+1, "proxy", out.proxy.Key())
			if err := sleep(ctx, time.Duration(retry)*backoff); err != nil {
				break
			}
		}

		attempt := req.Clone()
		attempt.Proxy = out.proxy
		if attempt.Timeout <= 0 {
			attempt.Timeout = f.cfg.DefaultTimeout
		}
		if f.cfg.MaxTimeout > 0 && attempt.Timeout > f.cfg.MaxTimeout {
			attempt.Timeout = f.cfg.MaxTimeout
		}

		started := time.Now()
		resp, err := eng.Fetch(ctx, attempt)
		out.attempts++
		f.metrics.attempt(method, err)

		if err == nil {
			if out.proxy != nil {
				out.proxy.RecordSuccess(time.Since(started))
			}
			out.resp, out.err = resp, nil
			return out
		}

		if out.proxy != nil {
			out.proxy.RecordFailure()
		}
		out.err = err
		slog.Warn("fetcher: attempt failed",
			"url", req.URL, "method", method, "attempt", retry+1, "proxy", out.proxy.Key(), "error", err)

		if stopOnBlock && models.IsBlocked(err) {
			break
		}
	}
	if out.err == nil {
		out.err = models.NewScrapeError(models.ErrCodeTimeout, "fetch canceled before first attempt", ctx.Err())
	}
	return out
}

// nextProxy asks the provider for a proxy, keeping current when there is
// no provider or it has nothing to offer.
func (f *Fetcher) nextProxy(ctx context.Context, current *proxy.Descriptor) *proxy.Descriptor {
	if f.proxies == nil {
		return current
	}
	next, err := f.proxies.Next(ctx)
	if err != nil {
		if !errors.Is(err, proxy.ErrNoProxies) {
			slog.Warn("fetcher: proxy provider failed", "error", err)
		}
		return current
	}
	return next
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return models.NewScrapeError(models.ErrCodeInvalidInput, "url must be an absolute http(s) URL", err)
	}
	return nil
}

// sleep waits d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
