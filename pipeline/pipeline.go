// Package pipeline runs the full scrape cycle on top of the core packages:
// fetch, optional browser re-dispatch, extraction, transformation and the
// persistence sink, with a result cache in front and a batch runner beside.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/use-agent/harvest/cache"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/extractor"
	"github.com/use-agent/harvest/fetcher"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/proxy"
	"github.com/use-agent/harvest/sink"
	"github.com/use-agent/harvest/transform"
)

// Runner owns the collaborators of one scrape cycle. It is safe for
// concurrent use.
type Runner struct {
	fetcher   *fetcher.Fetcher
	registry  *extractor.Registry
	templates []*config.Template
	cache     *cache.Cache
	sink      sink.Sink
	cfg       config.FetcherConfig
}

// Option configures a Runner.
type Option func(*Runner)

// WithTemplates enables selector templates.
func WithTemplates(ts []*config.Template) Option {
	return func(r *Runner) { r.templates = ts }
}

// WithCache enables the result cache.
func WithCache(c *cache.Cache) Option {
	return func(r *Runner) { r.cache = c }
}

// WithSink sets the persistence sink used by requests with Store set.
func WithSink(s sink.Sink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithRegistry replaces the built-in extractor registry.
func WithRegistry(reg *extractor.Registry) Option {
	return func(r *Runner) { r.registry = reg }
}

// New creates a Runner over f.
func New(f *fetcher.Fetcher, cfg config.FetcherConfig, opts ...Option) *Runner {
	r := &Runner{fetcher: f, cfg: cfg}
	for _, o := range opts {
		o(r)
	}
	if r.registry == nil {
		r.registry = extractor.NewRegistry()
	}
	return r
}

// Fetcher returns the underlying fetcher.
func (r *Runner) Fetcher() *fetcher.Fetcher { return r.fetcher }

// Registry returns the extractor registry.
func (r *Runner) Registry() *extractor.Registry { return r.registry }

// Templates returns the loaded templates.
func (r *Runner) Templates() []*config.Template { return r.templates }

// Fetch runs the fetch stage alone, including re-dispatch.
func (r *Runner) Fetch(ctx context.Context, req *models.ScrapeRequest) *models.FetchResult {
	freq, err := r.fetchRequest(req.URL, &req.ScrapeOptions, r.dataType(req.URL, &req.ExtractOptions))
	if err != nil {
		return models.Failed(req.URL, req.Method, err, 0)
	}
	res := r.fetcher.Fetch(ctx, freq)
	if r.fetcher.ShouldRedispatch(res) {
		res = r.fetcher.Redispatch(ctx, freq, res)
	}
	return res
}

// Scrape runs one complete cycle. It always returns a result; failures
// are reported on it.
func (r *Runner) Scrape(ctx context.Context, req *models.ScrapeRequest) *models.ScrapeResult {
	j, done := r.prepare(req.URL, &req.ScrapeOptions)
	if done != nil {
		return done
	}
	return r.finish(ctx, j, r.fetcher.Fetch(ctx, j.freq))
}

// scrapeJob carries one URL through the cycle.
type scrapeJob struct {
	opts  *models.ScrapeOptions
	tmpl  *config.Template
	freq  *models.FetchRequest
	key   string
	res   *models.ScrapeResult
	start time.Time
}

// prepare resolves the template and data type, consults the cache and
// builds the fetch request. A non-nil result ends the cycle early.
func (r *Runner) prepare(rawURL string, opts *models.ScrapeOptions) (*scrapeJob, *models.ScrapeResult) {
	start := time.Now()
	tmpl, err := r.template(rawURL, &opts.ExtractOptions)
	dataType := r.resolveDataType(tmpl, &opts.ExtractOptions)
	res := &models.ScrapeResult{URL: rawURL, DataType: dataType, FetchedAt: start}
	if tmpl != nil {
		res.Template = tmpl.Name
	}
	if err != nil {
		res.Fail(err)
		res.Timing.TotalMs = time.Since(start).Milliseconds()
		return nil, res
	}

	key := cache.Key(rawURL, dataType, cacheSettings(&opts.ExtractOptions, tmpl))
	if cached, hit := r.cache.Get(key, time.Duration(opts.MaxAge)*time.Millisecond); hit {
		cached.CacheStatus = models.CacheHit
		cached.Timing = models.TimingInfo{TotalMs: time.Since(start).Milliseconds()}
		return nil, cached
	}

	freq, err := r.fetchRequest(rawURL, opts, dataType)
	if err != nil {
		res.Fail(err)
		res.Timing.TotalMs = time.Since(start).Milliseconds()
		return nil, res
	}
	return &scrapeJob{opts: opts, tmpl: tmpl, freq: freq, key: key, res: res, start: start}, nil
}

// finish takes a fetch result through re-dispatch, extraction, transform,
// the sink and the cache.
func (r *Runner) finish(ctx context.Context, j *scrapeJob, fetched *models.FetchResult) *models.ScrapeResult {
	res := j.res

	// ── 1. Re-dispatch ────────────────────────────────────────────────
	if r.fetcher.ShouldRedispatch(fetched) {
		fetched = r.fetcher.Redispatch(ctx, j.freq, fetched)
	}
	res.Timing.FetchMs = fetched.Elapsed.Milliseconds()
	res.MethodUsed = fetched.Method
	res.Escalated = fetched.Escalated
	res.Reason = fetched.Reason
	res.Attempts = fetched.Attempts
	res.StatusCode = fetched.StatusCode
	res.FinalURL = fetched.FinalURL

	if !fetched.OK() {
		res.Fail(fetched.Err)
		r.store(ctx, j.opts.Store, res, nil)
		res.Timing.TotalMs = time.Since(j.start).Milliseconds()
		return res
	}

	// ── 2. Extract and transform ──────────────────────────────────────
	pageURL := fetched.FinalURL
	if pageURL == "" {
		pageURL = res.URL
	}
	r.extractInto(res, pageURL, fetched.Content, j.tmpl, &j.opts.ExtractOptions)

	// ── 3. Sink and cache ─────────────────────────────────────────────
	if res.Success {
		r.store(ctx, j.opts.Store, res, res.Data)
		if j.opts.MaxAge > 0 {
			r.cache.Set(j.key, res)
			res.CacheStatus = models.CacheMiss
		}
	}
	res.Timing.TotalMs = time.Since(j.start).Milliseconds()
	return res
}

// Extract runs the extraction and transform stages over supplied HTML.
func (r *Runner) Extract(ctx context.Context, req *models.ExtractRequest) *models.ScrapeResult {
	start := time.Now()
	tmpl, err := r.template(req.URL, &req.ExtractOptions)
	res := &models.ScrapeResult{
		URL:       req.URL,
		DataType:  r.resolveDataType(tmpl, &req.ExtractOptions),
		FetchedAt: start,
	}
	if tmpl != nil {
		res.Template = tmpl.Name
	}
	if err != nil {
		res.Fail(err)
	} else if err := ctx.Err(); err != nil {
		res.Fail(models.NewScrapeError(models.ErrCodeTimeout, "extraction canceled", err))
	} else {
		r.extractInto(res, req.URL, req.HTML, tmpl, &req.ExtractOptions)
	}
	res.Timing.TotalMs = time.Since(start).Milliseconds()
	return res
}

// Classify exposes the fetcher's routing decision for rawURL.
func (r *Runner) Classify(ctx context.Context, rawURL, content string) models.ClassifyResponse {
	d := r.fetcher.Decide(ctx, rawURL, content)
	return models.ClassifyResponse{URL: rawURL, Method: d.Method, Reason: d.Reason, Detail: d.Detail}
}

func (r *Runner) extractInto(res *models.ScrapeResult, pageURL, html string, tmpl *config.Template, opts *models.ExtractOptions) {
	extractStart := time.Now()
	rec, err := r.registry.Extract(res.DataType, &extractor.Input{
		URL:             pageURL,
		HTML:            html,
		Selectors:       opts.Selectors,
		Patterns:        opts.Patterns,
		Template:        tmpl,
		IncludeMetadata: opts.IncludeMetadata,
		IncludeRawHTML:  opts.IncludeRawHTML,
		MaxReviews:      opts.MaxReviews,
	})
	res.Timing.ExtractMs = time.Since(extractStart).Milliseconds()
	if err != nil {
		res.Fail(err)
		return
	}

	if !opts.SkipTransform {
		transformStart := time.Now()
		rec = transform.Record(rec, transformOptions(opts, tmpl))
		res.Timing.TransformMs = time.Since(transformStart).Milliseconds()
	}
	res.Data = rec
	res.Success = true
}

// store hands the record to the sink and records the identifier. Sink
// failures are logged and do not fail the scrape.
func (r *Runner) store(ctx context.Context, wanted bool, res *models.ScrapeResult, rec map[string]any) {
	if !wanted || r.sink == nil {
		return
	}
	status := sink.StatusSuccess
	meta := sink.Metadata{
		URL:       res.URL,
		DataType:  res.DataType,
		Method:    string(res.MethodUsed),
		Template:  res.Template,
		FetchedAt: res.FetchedAt,
	}
	if !res.Success {
		status = sink.StatusFailed
		if res.Error != nil {
			meta.Error = res.Error.Message
		}
	}
	id, err := r.sink.Store(ctx, rec, status, meta)
	if err != nil {
		slog.Warn("pipeline: sink store failed", "url", res.URL, "error", err)
		return
	}
	res.SinkID = id
}

// template picks the named template, or the first whose expression
// matches rawURL.
func (r *Runner) template(rawURL string, opts *models.ExtractOptions) (*config.Template, error) {
	if opts.NoTemplate {
		return nil, nil
	}
	if opts.Template != "" {
		for _, t := range r.templates {
			if t.Name == opts.Template {
				return t, nil
			}
		}
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput, "unknown template "+opts.Template, nil)
	}
	// Caller-supplied selectors take precedence over URL matching.
	if len(opts.Selectors) > 0 || rawURL == "" {
		return nil, nil
	}
	return config.MatchTemplate(r.templates, rawURL), nil
}

func (r *Runner) dataType(rawURL string, opts *models.ExtractOptions) string {
	tmpl, _ := r.template(rawURL, opts)
	return r.resolveDataType(tmpl, opts)
}

func (r *Runner) resolveDataType(tmpl *config.Template, opts *models.ExtractOptions) string {
	switch {
	case tmpl != nil:
		return tmpl.DataType
	case opts.DataType != "":
		return opts.DataType
	case len(opts.Selectors) > 0:
		return models.DataTypeCustom
	default:
		return models.DataTypeGeneral
	}
}

// fetchRequest builds the core fetch request from API options.
func (r *Runner) fetchRequest(rawURL string, opts *models.ScrapeOptions, dataType string) (*models.FetchRequest, error) {
	freq := &models.FetchRequest{
		URL:             rawURL,
		DataType:        dataType,
		ForceMethod:     opts.Method,
		Timeout:         time.Duration(opts.Timeout) * time.Second,
		Headers:         opts.Headers,
		WaitForSelector: opts.WaitForSelector,
		NoScroll:        isFalse(opts.Scroll),
		KeepOverlays:    isFalse(opts.DismissOverlays),
		RemoveOverlays:  opts.RemoveOverlays,
		BlockAds:        opts.BlockAds,
		Actions:         opts.Actions,
	}
	if opts.MaxRetries != nil {
		n := *opts.MaxRetries
		freq.MaxRetries = &n
	}
	if opts.ProxyURL != "" {
		p, err := proxy.Parse(opts.ProxyURL)
		if err != nil {
			return nil, models.NewScrapeError(models.ErrCodeInvalidInput, "invalid proxy_url", err)
		}
		freq.Proxy = p
	}
	if opts.LoadMore {
		if pg := r.registry.Paginator(dataType); pg != nil {
			max := opts.MaxReviews
			if max <= 0 {
				max = extractor.DefaultMaxReviews
			}
			freq.LoadMore = &models.LoadMore{Paginator: pg, MaxItems: max}
			// Pagination only runs in a browser.
			if freq.ForceMethod == "" && r.fetcher.HasBrowser() {
				freq.ForceMethod = models.MethodBrowser
			}
		}
	}
	return freq, nil
}

func transformOptions(opts *models.ExtractOptions, tmpl *config.Template) transform.Options {
	switch {
	case opts.Transform != nil:
		return *opts.Transform
	case tmpl != nil && tmpl.Transform != nil:
		return *tmpl.Transform
	default:
		return transform.DefaultOptions()
	}
}

// cacheSettings is the part of the request that changes the record.
func cacheSettings(opts *models.ExtractOptions, tmpl *config.Template) any {
	s := map[string]any{
		"selectors":        opts.Selectors,
		"patterns":         opts.Patterns,
		"include_metadata": opts.IncludeMetadata,
		"include_raw_html": opts.IncludeRawHTML,
		"max_reviews":      opts.MaxReviews,
		"transform":        opts.Transform,
		"skip_transform":   opts.SkipTransform,
	}
	if tmpl != nil {
		s["template"] = tmpl.Name
	}
	return s
}

// isFalse reports whether an optional flag was explicitly switched off.
func isFalse(b *bool) bool { return b != nil && !*b }
