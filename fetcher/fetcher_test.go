package fetcher

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/harvest/classifier"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/proxy"
)

var articleHTML = "<html><head><title>Article</title></head><body><main><p>" +
	strings.Repeat("Server rendered paragraph with enough words to read. ", 20) +
	"</p></main></body></html>"

type fixedDecider models.Method

func (d fixedDecider) Decide(context.Context, string, string) classifier.Decision {
	return classifier.Decision{Method: models.Method(d), Reason: "test"}
}

// scriptedEngine returns the errors in order, then succeeds with html.
type scriptedEngine struct {
	name string
	html string
	errs []error

	mu      sync.Mutex
	calls   int
	proxies []string
}

func (e *scriptedEngine) Name() string { return e.name }

func (e *scriptedEngine) Fetch(_ context.Context, req *models.FetchRequest) (*engine.Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.proxies = append(e.proxies, req.Proxy.Key())
	if e.calls <= len(e.errs) {
		return nil, e.errs[e.calls-1]
	}
	return &engine.Response{HTML: e.html, StatusCode: 200, FinalURL: req.URL, EngineName: e.name}, nil
}

func (e *scriptedEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func failing(n int, err error) []error {
	out := make([]error, n)
	for i := range out {
		out[i] = err
	}
	return out
}

func testConfig() config.FetcherConfig {
	return config.FetcherConfig{
		MaxRetries:       3,
		DefaultTimeout:   time.Second,
		MaxTimeout:       2 * time.Second,
		BatchWorkers:     5,
		AsyncConcurrency: 10,
		Redispatch:       RedispatchShell,
	}
}

func retries(n int) *int { return &n }

var transportErr = models.NewScrapeError(models.ErrCodeTransport, "connection refused", errors.New("dial tcp"))

func TestFetch_StaticSuccess(t *testing.T) {
	static := &scriptedEngine{name: "static", html: articleHTML}
	f := New(static, testConfig(), WithDecider(fixedDecider(models.MethodStatic)))

	res := f.Fetch(context.Background(), &models.FetchRequest{URL: "https://example.com/a"})
	require.NoError(t, res.Err)
	assert.Equal(t, models.MethodStatic, res.Method)
	assert.Equal(t, articleHTML, res.Content)
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.Escalated)
	assert.False(t, res.NeedsBrowser)
	assert.Equal(t, "test", res.Reason)
}

func TestFetch_BlockedStaticEscalatesToBrowser(t *testing.T) {
	static := &scriptedEngine{name: "static", errs: failing(10, models.NewStatusError(403, "https://shop.test/p/1"))}
	browser := &scriptedEngine{name: "browser", html: "<html><body>rendered</body></html>"}
	memory := engine.NewDomainMemory(time.Hour)
	defer memory.Stop()
	metrics := NewMetrics()

	f := New(static, testConfig(),
		WithDecider(fixedDecider(models.MethodStatic)),
		WithBrowser(browser),
		WithDomainMemory(memory),
		WithMetrics(metrics))

	res := f.Fetch(context.Background(), &models.FetchRequest{URL: "https://shop.test/p/1"})
	require.NoError(t, res.Err)
	assert.Equal(t, models.MethodBrowser, res.Method)
	assert.True(t, res.Escalated)
	assert.Equal(t, "<html><body>rendered</body></html>", res.Content)
	assert.Equal(t, 1, static.Calls(), "403 stops static retries")
	assert.Equal(t, 2, res.Attempts)

	m, reason, ok := memory.Get("shop.test")
	require.True(t, ok)
	assert.Equal(t, models.MethodBrowser, m)
	assert.Equal(t, ReasonBlocked, reason)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Escalations.WithLabelValues(ReasonBlocked)))

	// The next fetch for the domain goes straight to the browser.
	res = f.Fetch(context.Background(), &models.FetchRequest{URL: "https://shop.test/p/2"})
	require.NoError(t, res.Err)
	assert.Equal(t, ReasonDomainMemory, res.Reason)
	assert.Equal(t, 1, static.Calls())
}

func TestFetch_TransportFailureRetriesThenEscalates(t *testing.T) {
	static := &scriptedEngine{name: "static", errs: failing(10, transportErr)}
	browser := &scriptedEngine{name: "browser", html: articleHTML}
	f := New(static, testConfig(), WithDecider(fixedDecider(models.MethodStatic)), WithBrowser(browser))

	res := f.Fetch(context.Background(), &models.FetchRequest{URL: "https://example.com/"})
	require.NoError(t, res.Err)
	assert.Equal(t, 4, static.Calls(), "one attempt plus three retries")
	assert.Equal(t, 1, browser.Calls())
	assert.Equal(t, 5, res.Attempts)
	assert.True(t, res.Escalated)
}

func TestFetch_ForcedStaticNeverEscalates(t *testing.T) {
	static := &scriptedEngine{name: "static", errs: failing(10, models.NewStatusError(429, "https://example.com/"))}
	browser := &scriptedEngine{name: "browser", html: articleHTML}
	f := New(static, testConfig(), WithBrowser(browser))

	res := f.Fetch(context.Background(), &models.FetchRequest{
		URL:         "https://example.com/",
		ForceMethod: models.MethodStatic,
		MaxRetries:  retries(2),
	})
	require.Error(t, res.Err)
	assert.Equal(t, models.MethodStatic, res.Method)
	assert.Equal(t, 3, static.Calls())
	assert.Zero(t, browser.Calls())
	assert.Equal(t, 429, res.StatusCode)
	assert.Equal(t, ReasonForced, res.Reason)
}

func TestFetch_BrowserExhaustsRetries(t *testing.T) {
	browser := &scriptedEngine{name: "browser", errs: failing(10, models.NewScrapeError(models.ErrCodeNavigation, "crashed", nil))}
	f := New(&scriptedEngine{name: "static"}, testConfig(),
		WithDecider(fixedDecider(models.MethodBrowser)), WithBrowser(browser))

	res := f.Fetch(context.Background(), &models.FetchRequest{URL: "https://example.com/", MaxRetries: retries(1)})
	require.Error(t, res.Err)
	assert.Equal(t, models.MethodBrowser, res.Method)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, models.ErrCodeNavigation, models.AsScrapeError(res.Err).Code)
}

func TestFetch_RetryBudget(t *testing.T) {
	tests := []struct {
		name    string
		retries *int
		calls   int
	}{
		{"unset uses configured budget", nil, 4},
		{"zero disables retries", retries(0), 1},
		{"explicit budget", retries(1), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			static := &scriptedEngine{name: "static", errs: failing(10, transportErr)}
			f := New(static, testConfig(), WithDecider(fixedDecider(models.MethodStatic)))

			res := f.Fetch(context.Background(), &models.FetchRequest{
				URL:         "https://example.com/",
				ForceMethod: models.MethodStatic,
				MaxRetries:  tt.retries,
			})
			require.Error(t, res.Err)
			assert.Equal(t, tt.calls, static.Calls())
			assert.Equal(t, tt.calls, res.Attempts)
		})
	}
}

func TestFetch_StaleBrowserMemoryFallsBackToStatic(t *testing.T) {
	memory := engine.NewDomainMemory(time.Hour)
	defer memory.Stop()
	memory.Set("example.com", models.MethodBrowser, ReasonBlocked)

	cfg := testConfig()
	cfg.MaxRetries = 0
	static := &scriptedEngine{name: "static", html: articleHTML}
	browser := &scriptedEngine{name: "browser", errs: failing(5, models.NewScrapeError(models.ErrCodeNavigation, "crashed", nil))}
	f := New(static, cfg, WithDecider(fixedDecider(models.MethodStatic)),
		WithBrowser(browser), WithDomainMemory(memory))

	res := f.Fetch(context.Background(), &models.FetchRequest{URL: "https://example.com/"})
	require.NoError(t, res.Err)
	assert.Equal(t, models.MethodStatic, res.Method)
	assert.Equal(t, ReasonMemoryStale, res.Reason)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, browser.Calls())

	_, _, ok := memory.Get("example.com")
	assert.False(t, ok)

	res = f.Fetch(context.Background(), &models.FetchRequest{URL: "https://example.com/"})
	require.NoError(t, res.Err)
	assert.Equal(t, "test", res.Reason)
	assert.Equal(t, 1, browser.Calls())
}

func TestFetch_FailedMemoryPathIsForgotten(t *testing.T) {
	memory := engine.NewDomainMemory(time.Hour)
	defer memory.Stop()
	memory.Set("example.com", models.MethodStatic, ReasonRenderedSame)

	cfg := testConfig()
	cfg.MaxRetries = 0
	f := New(&scriptedEngine{name: "static", errs: failing(5, transportErr)}, cfg,
		WithDecider(fixedDecider(models.MethodStatic)),
		WithBrowser(&scriptedEngine{name: "browser", errs: failing(5, transportErr)}),
		WithDomainMemory(memory))

	res := f.Fetch(context.Background(), &models.FetchRequest{URL: "https://example.com/"})
	require.Error(t, res.Err)
	assert.Equal(t, ReasonDomainMemory, res.Reason)
	assert.True(t, res.Escalated)

	_, _, ok := memory.Get("example.com")
	assert.False(t, ok)
}

func TestNew_DefaultDeciderProbesWithStaticClient(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodHead, "http://api.test/items", func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(200, "")
		resp.Header = http.Header{"Content-Type": []string{"application/json"}}
		return resp, nil
	})
	cfg := testConfig()
	cfg.ProbeTimeout = time.Second
	f := New(engine.NewHTTPEngine(engine.WithTransport(transport)), cfg)

	d := f.Decide(context.Background(), "http://api.test/items", "")
	assert.Equal(t, models.MethodBrowser, d.Method)
	assert.Equal(t, classifier.ReasonJSONResponse, d.Reason)
	assert.Equal(t, 1, transport.GetCallCountInfo()["HEAD http://api.test/items"])
}

func TestFetch_BrowserUnavailable(t *testing.T) {
	static := &scriptedEngine{name: "static", html: articleHTML}
	f := New(static, testConfig(), WithDecider(fixedDecider(models.MethodBrowser)))

	res := f.Fetch(context.Background(), &models.FetchRequest{URL: "https://example.com/"})
	require.NoError(t, res.Err)
	assert.Equal(t, models.MethodStatic, res.Method)
	assert.Equal(t, ReasonNoBrowser, res.Reason)

	res = f.Fetch(context.Background(), &models.FetchRequest{URL: "https://example.com/", ForceMethod: models.MethodBrowser})
	require.Error(t, res.Err)
	assert.Equal(t, models.ErrCodeInvalidInput, models.AsScrapeError(res.Err).Code)
}

func TestFetch_InvalidURL(t *testing.T) {
	static := &scriptedEngine{name: "static"}
	f := New(static, testConfig(), WithDecider(fixedDecider(models.MethodStatic)))
	for _, u := range []string{"", "example.com", "ftp://example.com/x", "http://"} {
		res := f.Fetch(context.Background(), &models.FetchRequest{URL: u})
		assert.Error(t, res.Err, u)
	}
	assert.Zero(t, static.Calls())
}

func TestFetch_RotatesProxyOnRetry(t *testing.T) {
	a := proxy.New("10.0.0.1", 8080, proxy.SchemeHTTP)
	b := proxy.New("10.0.0.2", 8080, proxy.SchemeSOCKS5)
	static := &scriptedEngine{name: "static", html: articleHTML, errs: failing(1, transportErr)}
	f := New(static, testConfig(),
		WithDecider(fixedDecider(models.MethodStatic)),
		WithProxies(proxy.NewRotator(proxy.StrategyRoundRobin, b)))

	res := f.Fetch(context.Background(), &models.FetchRequest{URL: "https://example.com/", Proxy: a})
	require.NoError(t, res.Err)
	assert.Equal(t, []string{a.Key(), b.Key()}, static.proxies)
	assert.Same(t, b, res.Proxy)
	assert.Equal(t, uint64(1), a.Stats().FailureCount)
	assert.Equal(t, uint64(0), a.Stats().SuccessCount)
	assert.Equal(t, uint64(1), b.Stats().SuccessCount)
}

func TestFetch_ProxyCountersUnderConcurrency(t *testing.T) {
	p := proxy.New("10.0.0.9", 3128, proxy.SchemeHTTP)
	var n atomic.Int64
	static := engine.EngineFunc{EngineName: "static", Fn: func(context.Context, *models.FetchRequest) (*engine.Response, error) {
		if n.Add(1)%3 == 0 {
			return nil, transportErr
		}
		return &engine.Response{HTML: articleHTML}, nil
	}}
	cfg := testConfig()
	cfg.MaxRetries = 0
	f := New(static, cfg, WithDecider(fixedDecider(models.MethodStatic)))

	const m = 300
	var wg sync.WaitGroup
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Fetch(context.Background(), &models.FetchRequest{
				URL: "https://example.com/", Proxy: p, ForceMethod: models.MethodStatic,
			})
		}()
	}
	wg.Wait()

	st := p.Stats()
	assert.Equal(t, uint64(m), st.SuccessCount+st.FailureCount)
	assert.Equal(t, uint64(m/3), st.FailureCount)
}

func TestFetch_CanceledBetweenRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	static := engine.EngineFunc{EngineName: "static", Fn: func(context.Context, *models.FetchRequest) (*engine.Response, error) {
		cancel()
		return nil, transportErr
	}}
	cfg := testConfig()
	cfg.StaticBackoff = time.Hour
	f := New(static, cfg, WithDecider(fixedDecider(models.MethodStatic)))

	done := make(chan *models.FetchResult)
	go func() { done <- f.Fetch(ctx, &models.FetchRequest{URL: "https://example.com/", ForceMethod: models.MethodStatic}) }()
	select {
	case res := <-done:
		require.Error(t, res.Err)
		assert.Equal(t, 1, res.Attempts)
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not stop after cancellation")
	}
}

func TestFetch_MarksClientRenderedShell(t *testing.T) {
	shell := `<html><body><div id="root"></div><script src="/static/js/main.js"></script></body></html>`
	f := New(&scriptedEngine{name: "static", html: shell}, testConfig(),
		WithDecider(fixedDecider(models.MethodStatic)),
		WithBrowser(&scriptedEngine{name: "browser", html: articleHTML}))

	res := f.Fetch(context.Background(), &models.FetchRequest{URL: "https://spa.test/"})
	require.NoError(t, res.Err)
	assert.True(t, res.NeedsBrowser)
	assert.Equal(t, classifier.ShellThinBody, res.DynamicSignal)
	assert.True(t, f.ShouldRedispatch(res))
}

func TestShouldRedispatch_Policies(t *testing.T) {
	shellRes := &models.FetchResult{Method: models.MethodStatic, NeedsBrowser: true, DynamicSignal: classifier.ShellEmptyRoot}
	scriptRes := &models.FetchResult{Method: models.MethodStatic, NeedsBrowser: true, DynamicSignal: classifier.ReasonInlineScript}
	plain := &models.FetchResult{Method: models.MethodStatic}

	tests := []struct {
		policy string
		res    *models.FetchResult
		want   bool
	}{
		{RedispatchOff, shellRes, false},
		{RedispatchShell, shellRes, true},
		{RedispatchShell, scriptRes, false},
		{RedispatchDynamic, scriptRes, true},
		{RedispatchDynamic, plain, false},
	}
	for _, tt := range tests {
		t.Run(tt.policy+"/"+tt.res.DynamicSignal, func(t *testing.T) {
			cfg := testConfig()
			cfg.Redispatch = tt.policy
			f := New(&scriptedEngine{}, cfg, WithBrowser(&scriptedEngine{}))
			assert.Equal(t, tt.want, f.ShouldRedispatch(tt.res))
		})
	}

	noBrowser := New(&scriptedEngine{}, testConfig())
	assert.False(t, noBrowser.ShouldRedispatch(shellRes))
}

func TestRedispatch_LearnsDomainMethod(t *testing.T) {
	shell := `<html><body><div id="root"></div><script src="/app.js"></script></body></html>`
	tests := []struct {
		name     string
		rendered string
		want     models.Method
		reason   string
	}{
		{"rendered page differs", articleHTML, models.MethodBrowser, ReasonRenderedDiffs},
		{"rendered page matches", shell, models.MethodStatic, ReasonRenderedSame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			memory := engine.NewDomainMemory(time.Hour)
			defer memory.Stop()
			f := New(&scriptedEngine{name: "static", html: shell}, testConfig(),
				WithDecider(fixedDecider(models.MethodStatic)),
				WithBrowser(&scriptedEngine{name: "browser", html: tt.rendered}),
				WithDomainMemory(memory))

			req := &models.FetchRequest{URL: "https://spa.test/"}
			static := f.Fetch(context.Background(), req)
			require.True(t, f.ShouldRedispatch(static))

			res := f.Redispatch(context.Background(), req, static)
			require.NoError(t, res.Err)
			assert.Equal(t, models.MethodBrowser, res.Method)
			assert.True(t, res.Escalated)
			assert.Equal(t, 2, res.Attempts)

			m, reason, ok := memory.Get("spa.test")
			require.True(t, ok)
			assert.Equal(t, tt.want, m)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestRedispatch_BrowserFailureKeepsStatic(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	browser := &scriptedEngine{name: "browser", errs: failing(5, transportErr)}
	f := New(&scriptedEngine{name: "static", html: articleHTML}, cfg, WithBrowser(browser))
	static := &models.FetchResult{URL: "https://example.com/", Content: articleHTML, Method: models.MethodStatic}
	res := f.Redispatch(context.Background(), &models.FetchRequest{URL: "https://example.com/"}, static)
	assert.Same(t, static, res)
}
