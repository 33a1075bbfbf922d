package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/harvest/cache"
	"github.com/use-agent/harvest/classifier"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/fetcher"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/sink"
)

const widgetHTML = `<html><head><title>Widget | Shop</title></head><body>
<h1 class="product-title">Widget</h1><span class="price">$19.99</span>
</body></html>`

type fixedDecider models.Method

func (d fixedDecider) Decide(context.Context, string, string) classifier.Decision {
	return classifier.Decision{Method: models.Method(d), Reason: "test"}
}

// pages serves HTML by URL and fails unknown URLs with a transport error.
type pages struct {
	name  string
	html  map[string]string
	calls atomic.Int64
}

func (p *pages) Name() string { return p.name }

func (p *pages) Fetch(_ context.Context, req *models.FetchRequest) (*engine.Response, error) {
	p.calls.Add(1)
	h, ok := p.html[req.URL]
	if !ok {
		return nil, models.NewScrapeError(models.ErrCodeTransport, "connection refused", errors.New("dial"))
	}
	return &engine.Response{HTML: h, StatusCode: 200, FinalURL: req.URL, EngineName: p.name}, nil
}

func testFetcherConfig() config.FetcherConfig {
	return config.FetcherConfig{
		MaxRetries:       1,
		DefaultTimeout:   time.Second,
		MaxTimeout:       2 * time.Second,
		BatchWorkers:     3,
		AsyncConcurrency: 3,
		Redispatch:       fetcher.RedispatchShell,
	}
}

func newRunner(static engine.Engine, opts ...Option) *Runner {
	cfg := testFetcherConfig()
	f := fetcher.New(static, cfg, fetcher.WithDecider(fixedDecider(models.MethodStatic)))
	return New(f, cfg, opts...)
}

func TestScrape_Product(t *testing.T) {
	url := "https://example.com/product/123"
	r := newRunner(&pages{name: "static", html: map[string]string{url: widgetHTML}})

	res := r.Scrape(context.Background(), &models.ScrapeRequest{
		URL:           url,
		ScrapeOptions: models.ScrapeOptions{ExtractOptions: models.ExtractOptions{DataType: models.DataTypeProduct}},
	})
	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, models.MethodStatic, res.MethodUsed)
	assert.False(t, res.Escalated)
	assert.Equal(t, "Widget", res.Data["title"])
	assert.Equal(t, 19.99, res.Data["price"])
	assert.Equal(t, "USD", res.Data["currency"])
	assert.Empty(t, res.CacheStatus)
}

func TestScrape_Cache(t *testing.T) {
	url := "https://example.com/a"
	eng := &pages{name: "static", html: map[string]string{url: widgetHTML}}
	r := newRunner(eng, WithCache(cache.New(10, time.Hour)))

	req := &models.ScrapeRequest{URL: url, ScrapeOptions: models.ScrapeOptions{MaxAge: 60000}}
	first := r.Scrape(context.Background(), req)
	require.True(t, first.Success)
	assert.Equal(t, models.CacheMiss, first.CacheStatus)

	second := r.Scrape(context.Background(), req)
	assert.Equal(t, models.CacheHit, second.CacheStatus)
	assert.Equal(t, first.Data["title"], second.Data["title"])
	assert.EqualValues(t, 1, eng.calls.Load())

	other := *req
	other.DataType = models.DataTypeProduct
	third := r.Scrape(context.Background(), &other)
	assert.Equal(t, models.CacheMiss, third.CacheStatus, "data type is part of the key")
	assert.EqualValues(t, 2, eng.calls.Load())
}

func TestScrape_FailureIsStored(t *testing.T) {
	mem := sink.NewMemory(0)
	r := newRunner(&pages{name: "static"}, WithSink(mem))

	res := r.Scrape(context.Background(), &models.ScrapeRequest{
		URL:           "https://down.test/",
		ScrapeOptions: models.ScrapeOptions{Store: true},
	})
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, models.ErrCodeTransport, res.Error.Code)
	assert.Equal(t, 2, res.Attempts)
	require.NotEmpty(t, res.SinkID)

	e, ok := mem.Get(res.SinkID)
	require.True(t, ok)
	assert.Equal(t, sink.StatusFailed, e.Status)
	assert.Equal(t, "https://down.test/", e.Metadata.URL)
	assert.Contains(t, e.Metadata.Error, "connection refused")
}

func TestScrape_SuccessIsStoredOnRequest(t *testing.T) {
	url := "https://example.com/p"
	mem := sink.NewMemory(0)
	r := newRunner(&pages{name: "static", html: map[string]string{url: widgetHTML}}, WithSink(mem))

	res := r.Scrape(context.Background(), &models.ScrapeRequest{URL: url})
	assert.Empty(t, res.SinkID, "not stored unless asked")

	res = r.Scrape(context.Background(), &models.ScrapeRequest{URL: url, ScrapeOptions: models.ScrapeOptions{Store: true}})
	e, ok := mem.Get(res.SinkID)
	require.True(t, ok)
	assert.Equal(t, sink.StatusSuccess, e.Status)
	assert.Equal(t, models.DataTypeGeneral, e.Metadata.DataType)
	assert.Equal(t, res.Data["title"], e.Record["title"])
}

func TestScrape_Templates(t *testing.T) {
	tmpl, err := config.ParseTemplate([]byte(`
name: shop
match: '^https://shop\.test/p/'
selectors:
  name: h1.product-title
  cost: .price
`))
	require.NoError(t, err)

	url := "https://shop.test/p/1"
	r := newRunner(&pages{name: "static", html: map[string]string{url: widgetHTML}},
		WithTemplates([]*config.Template{tmpl}))

	res := r.Scrape(context.Background(), &models.ScrapeRequest{URL: url})
	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, "shop", res.Template)
	assert.Equal(t, models.DataTypeCustom, res.DataType)
	data := res.Data["extracted_data"].(map[string]any)
	assert.Equal(t, "Widget", data["name"])
	assert.Equal(t, map[string]any{"name": "shop"}, res.Data["template"])

	res = r.Scrape(context.Background(), &models.ScrapeRequest{
		URL:           url,
		ScrapeOptions: models.ScrapeOptions{ExtractOptions: models.ExtractOptions{NoTemplate: true}},
	})
	assert.Equal(t, models.DataTypeGeneral, res.DataType)

	res = r.Scrape(context.Background(), &models.ScrapeRequest{
		URL:           url,
		ScrapeOptions: models.ScrapeOptions{ExtractOptions: models.ExtractOptions{Template: "missing"}},
	})
	require.NotNil(t, res.Error)
	assert.Equal(t, models.ErrCodeInvalidInput, res.Error.Code)
}

func TestScrape_InvalidProxy(t *testing.T) {
	r := newRunner(&pages{name: "static"})
	res := r.Scrape(context.Background(), &models.ScrapeRequest{
		URL:           "https://example.com/",
		ScrapeOptions: models.ScrapeOptions{ProxyURL: "ftp://nope"},
	})
	require.NotNil(t, res.Error)
	assert.Equal(t, models.ErrCodeInvalidInput, res.Error.Code)
}

func TestScrape_RedispatchesShell(t *testing.T) {
	url := "https://spa.test/"
	shell := `<html><body><div id="root"></div><script src="/app.js"></script></body></html>`
	rendered := "<html><body><main><h1>Rendered</h1><p>" +
		strings.Repeat("Client rendered paragraph text. ", 30) + "</p></main></body></html>"

	cfg := testFetcherConfig()
	f := fetcher.New(&pages{name: "static", html: map[string]string{url: shell}}, cfg,
		fetcher.WithDecider(fixedDecider(models.MethodStatic)),
		fetcher.WithBrowser(&pages{name: "browser", html: map[string]string{url: rendered}}))
	r := New(f, cfg)

	res := r.Scrape(context.Background(), &models.ScrapeRequest{URL: url})
	require.True(t, res.Success)
	assert.Equal(t, models.MethodBrowser, res.MethodUsed)
	assert.True(t, res.Escalated)
	assert.Equal(t, "Rendered", res.Data["headings"].(map[string]any)["h1"].([]any)[0])
}

func TestScrape_LoadMoreForcesBrowser(t *testing.T) {
	url := "https://reviews.test/item"
	var got *models.FetchRequest
	browser := engine.EngineFunc{EngineName: "browser", Fn: func(_ context.Context, req *models.FetchRequest) (*engine.Response, error) {
		got = req
		return &engine.Response{HTML: "<html><body></body></html>", StatusCode: 200, FinalURL: req.URL}, nil
	}}
	cfg := testFetcherConfig()
	f := fetcher.New(&pages{name: "static"}, cfg,
		fetcher.WithDecider(fixedDecider(models.MethodStatic)), fetcher.WithBrowser(browser))
	r := New(f, cfg)

	res := r.Scrape(context.Background(), &models.ScrapeRequest{
		URL: url,
		ScrapeOptions: models.ScrapeOptions{
			ExtractOptions: models.ExtractOptions{DataType: models.DataTypeReview, MaxReviews: 40},
			LoadMore:       true,
		},
	})
	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, models.MethodBrowser, res.MethodUsed)
	assert.Equal(t, fetcher.ReasonForced, res.Reason)
	require.NotNil(t, got.LoadMore)
	assert.Equal(t, 40, got.LoadMore.MaxItems)
	assert.NotNil(t, got.LoadMore.Paginator)
}

// recorder serves html for every URL and keeps the last request per URL.
type recorder struct {
	name string
	html string

	mu   sync.Mutex
	seen map[string]*models.FetchRequest
}

func (e *recorder) engine() engine.EngineFunc {
	return engine.EngineFunc{EngineName: e.name, Fn: func(_ context.Context, req *models.FetchRequest) (*engine.Response, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.seen == nil {
			e.seen = make(map[string]*models.FetchRequest)
		}
		e.seen[req.URL] = req
		return &engine.Response{HTML: e.html, StatusCode: 200, FinalURL: req.URL, EngineName: e.name}, nil
	}}
}

func (e *recorder) request(url string) *models.FetchRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seen[url]
}

func TestScrape_BrowserInteractionDefaults(t *testing.T) {
	off := false
	tests := []struct {
		name         string
		opts         models.ScrapeOptions
		noScroll     bool
		keepOverlays bool
	}{
		{"defaults", models.ScrapeOptions{}, false, false},
		{"scroll off", models.ScrapeOptions{Scroll: &off}, true, false},
		{"overlays kept", models.ScrapeOptions{DismissOverlays: &off}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "https://example.com/"
			browser := &recorder{name: "browser", html: widgetHTML}
			cfg := testFetcherConfig()
			f := fetcher.New(&pages{name: "static"}, cfg,
				fetcher.WithDecider(fixedDecider(models.MethodBrowser)), fetcher.WithBrowser(browser.engine()))
			r := New(f, cfg)

			res := r.Scrape(context.Background(), &models.ScrapeRequest{URL: url, ScrapeOptions: tt.opts})
			require.True(t, res.Success, "%+v", res.Error)
			got := browser.request(url)
			require.NotNil(t, got)
			assert.Equal(t, tt.noScroll, got.NoScroll)
			assert.Equal(t, tt.keepOverlays, got.KeepOverlays)
		})
	}
}

func TestScrape_EscalatedFetchScrolls(t *testing.T) {
	url := "https://down.test/"
	browser := &recorder{name: "browser", html: widgetHTML}
	cfg := testFetcherConfig()
	f := fetcher.New(&pages{name: "static"}, cfg,
		fetcher.WithDecider(fixedDecider(models.MethodStatic)), fetcher.WithBrowser(browser.engine()))
	r := New(f, cfg)

	res := r.Scrape(context.Background(), &models.ScrapeRequest{URL: url})
	require.True(t, res.Success, "%+v", res.Error)
	assert.True(t, res.Escalated)
	got := browser.request(url)
	require.NotNil(t, got)
	assert.False(t, got.NoScroll)
	assert.False(t, got.KeepOverlays)
}

func TestScrape_RetryBudgetZero(t *testing.T) {
	eng := &pages{name: "static"}
	r := newRunner(eng)
	zero := 0

	res := r.Scrape(context.Background(), &models.ScrapeRequest{
		URL:           "https://down.test/",
		ScrapeOptions: models.ScrapeOptions{MaxRetries: &zero},
	})
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.EqualValues(t, 1, eng.calls.Load())
}

func TestExtract(t *testing.T) {
	r := newRunner(&pages{name: "static"})
	res := r.Extract(context.Background(), &models.ExtractRequest{
		HTML: `<ul><li class="n"> 5 </li><li class="n">7</li></ul>`,
		URL:  "https://example.com/",
		ExtractOptions: models.ExtractOptions{Selectors: models.SelectorSpec{
			"numbers": {Type: models.SelectorCSS, Selector: "li.n", Multiple: true},
		}},
	})
	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, models.DataTypeCustom, res.DataType)
	assert.Equal(t, []any{5, 7}, res.Data["extracted_data"].(map[string]any)["numbers"])

	raw := r.Extract(context.Background(), &models.ExtractRequest{
		HTML: `<ul><li class="n"> 5 </li></ul>`,
		ExtractOptions: models.ExtractOptions{
			Selectors:     models.SelectorSpec{"n": models.Shorthand("li.n")},
			SkipTransform: true,
		},
	})
	assert.Equal(t, "5", raw.Data["extracted_data"].(map[string]any)["n"])
}

func TestBatch(t *testing.T) {
	ok1, ok2 := "https://a.test/1", "https://a.test/2"
	eng := &pages{name: "static", html: map[string]string{ok1: widgetHTML, ok2: widgetHTML}}
	r := newRunner(eng)

	for _, mode := range []string{models.BatchModePool, models.BatchModeAsync} {
		t.Run(mode, func(t *testing.T) {
			var mu sync.Mutex
			var seen []string
			results := r.Batch(context.Background(),
				[]string{ok1, "https://down.test/", ok2, ok1}, models.ScrapeOptions{}, mode, 2,
				func(res *models.ScrapeResult) {
					mu.Lock()
					seen = append(seen, res.URL)
					mu.Unlock()
				})
			require.Len(t, results, 3)
			assert.Equal(t, ok1, results[0].URL)
			assert.True(t, results[0].Success)
			assert.False(t, results[1].Success)
			assert.True(t, results[2].Success)
			assert.ElementsMatch(t, []string{ok1, "https://down.test/", ok2}, seen)
		})
	}
}

func TestBatch_RequestsFollowEachURL(t *testing.T) {
	tmpl, err := config.ParseTemplate([]byte(`
name: reviews
data_type: review
match: '^https://reviews\.test/'
`))
	require.NoError(t, err)

	reviewsURL, plainURL := "https://reviews.test/item", "https://plain.test/page"
	article := "<html><body><main><p>" + strings.Repeat("Server rendered paragraph text. ", 30) + "</p></main></body></html>"
	static := &recorder{name: "static", html: article}
	browser := &recorder{name: "browser", html: "<html><body></body></html>"}
	cfg := testFetcherConfig()
	f := fetcher.New(static.engine(), cfg,
		fetcher.WithDecider(fixedDecider(models.MethodStatic)), fetcher.WithBrowser(browser.engine()))
	r := New(f, cfg, WithTemplates([]*config.Template{tmpl}))

	for _, mode := range []string{models.BatchModePool, models.BatchModeAsync} {
		t.Run(mode, func(t *testing.T) {
			results := r.Batch(context.Background(), []string{reviewsURL, plainURL},
				models.ScrapeOptions{LoadMore: true}, mode, 2, nil)
			require.Len(t, results, 2)

			assert.Equal(t, models.DataTypeReview, results[0].DataType)
			assert.Equal(t, models.MethodBrowser, results[0].MethodUsed)
			reviewReq := browser.request(reviewsURL)
			require.NotNil(t, reviewReq)
			assert.Equal(t, models.DataTypeReview, reviewReq.DataType)
			assert.NotNil(t, reviewReq.LoadMore)

			require.True(t, results[1].Success, "%+v", results[1].Error)
			assert.Equal(t, models.DataTypeGeneral, results[1].DataType)
			assert.Equal(t, models.MethodStatic, results[1].MethodUsed)
			assert.Nil(t, browser.request(plainURL))
			plainReq := static.request(plainURL)
			require.NotNil(t, plainReq)
			assert.Equal(t, models.DataTypeGeneral, plainReq.DataType)
			assert.Nil(t, plainReq.LoadMore)
			assert.Empty(t, plainReq.ForceMethod)
		})
	}
}

func TestBatches(t *testing.T) {
	url := "https://a.test/1"
	r := newRunner(&pages{name: "static", html: map[string]string{url: widgetHTML}})
	b := NewBatches(context.Background(), r, time.Minute)

	job := b.Submit(&models.BatchRequest{URLs: []string{url, "https://down.test/", url}})
	b.Wait()

	got, ok := b.Get(job.ID)
	require.True(t, ok)
	st := got.Status()
	assert.Equal(t, models.BatchPartial, st.Status)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 2, st.Completed)
	assert.Equal(t, 1, st.Failed)
	assert.True(t, strings.HasPrefix(st.ID, "batch-"))

	_, ok = b.Get("batch-unknown")
	assert.False(t, ok)
}
