package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	tls "github.com/refraction-networking/utls"
	"golang.org/x/net/html"
	netproxy "golang.org/x/net/proxy"
	"golang.org/x/time/rate"

	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/proxy"
)

// HTTPEngine is the static path: one GET per attempt with browser-like
// headers and a Chrome TLS fingerprint. It never runs page JavaScript.
type HTTPEngine struct {
	identities *IdentityRotator
	timeout    time.Duration
	hostRPS    rate.Limit

	// base is used when no proxy is set; proxied transports are built once
	// per proxy key.
	base       http.RoundTripper
	transports sync.Map // proxy key -> *http.Client
	limiters   sync.Map // host -> *rate.Limiter
}

// HTTPOption configures an HTTPEngine.
type HTTPOption func(*HTTPEngine)

// WithIdentities rotates the User-Agent header through r.
func WithIdentities(r *IdentityRotator) HTTPOption {
	return func(e *HTTPEngine) { e.identities = r }
}

// WithTimeout sets the default per-attempt timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(e *HTTPEngine) { e.timeout = d }
}

// WithHostRate limits requests per second to each host. Zero disables.
func WithHostRate(rps float64) HTTPOption {
	return func(e *HTTPEngine) { e.hostRPS = rate.Limit(rps) }
}

// WithTransport replaces the direct transport. Tests use it to install
// mock transports.
func WithTransport(rt http.RoundTripper) HTTPOption {
	return func(e *HTTPEngine) { e.base = rt }
}

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to http/1.1
// only. Computed once at init time and reused for every connection.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	// Go's http.Transport cannot speak h2 over a utls connection.
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// defaultUserAgent is sent when identity rotation is off.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36"

// NewHTTPEngine creates an HTTPEngine with a Chrome-like TLS fingerprint.
func NewHTTPEngine(opts ...HTTPOption) *HTTPEngine {
	e := &HTTPEngine{timeout: 30 * time.Second}
	for _, o := range opts {
		o(e)
	}
	if e.base == nil {
		e.base = newTransport(&net.Dialer{Timeout: 10 * time.Second}, nil)
	}
	return e
}

// contextDialer is satisfied by net.Dialer and the x/net/proxy dialers.
type contextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// newTransport builds a transport whose TLS connections carry the Chrome
// fingerprint. httpProxy, when set, is used through CONNECT; in that case
// the standard TLS stack is used for the tunnel.
func newTransport(dialer contextDialer, httpProxy *url.URL) *http.Transport {
	t := &http.Transport{
		DialContext: dialer.DialContext,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("http_engine: apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2:   false,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	if httpProxy != nil {
		t.Proxy = http.ProxyURL(httpProxy)
	}
	return t
}

func (e *HTTPEngine) Name() string { return string(models.MethodStatic) }

// Client returns the unproxied client. It shares the engine's TLS
// fingerprint and redirect policy.
func (e *HTTPEngine) Client() *http.Client {
	c, _ := e.client(nil)
	return c
}

// client returns the HTTP client bound to p, building it on first use.
func (e *HTTPEngine) client(p *proxy.Descriptor) (*http.Client, error) {
	key := p.Key()
	if v, ok := e.transports.Load(key); ok {
		return v.(*http.Client), nil
	}

	rt := e.base
	if p != nil {
		t, err := proxyTransport(p)
		if err != nil {
			return nil, err
		}
		rt = t
	}
	c := &http.Client{
		Transport: rt,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("too many redirects")
			}
			return nil
		},
	}
	actual, _ := e.transports.LoadOrStore(key, c)
	return actual.(*http.Client), nil
}

func proxyTransport(p *proxy.Descriptor) (*http.Transport, error) {
	params := p.AsConnectionParams()
	base := &net.Dialer{Timeout: 10 * time.Second}
	switch p.Scheme {
	case proxy.SchemeHTTP, proxy.SchemeHTTPS:
		return newTransport(base, params.URL), nil
	case proxy.SchemeSOCKS5:
		var auth *netproxy.Auth
		if params.Username != "" {
			auth = &netproxy.Auth{User: params.Username, Password: params.Password}
		}
		d, err := netproxy.SOCKS5("tcp", params.URL.Host, auth, base)
		if err != nil {
			return nil, fmt.Errorf("http_engine: socks5 dialer: %w", err)
		}
		cd, ok := d.(contextDialer)
		if !ok {
			return nil, errors.New("http_engine: socks5 dialer lacks DialContext")
		}
		return newTransport(cd, nil), nil
	default:
		return nil, fmt.Errorf("http_engine: unsupported proxy scheme %q", p.Scheme)
	}
}

func (e *HTTPEngine) waitHost(ctx context.Context, rawURL string) error {
	if e.hostRPS <= 0 {
		return nil
	}
	host := HostOf(rawURL)
	v, _ := e.limiters.LoadOrStore(host, rate.NewLimiter(e.hostRPS, 1))
	return v.(*rate.Limiter).Wait(ctx)
}

// Fetch issues one GET. Transport failures and non-2xx statuses come back
// as *models.ScrapeError.
func (e *HTTPEngine) Fetch(ctx context.Context, req *models.FetchRequest) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := e.client(req.Proxy)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeTransport, "build proxy transport", err)
	}
	if err := e.waitHost(ctx, req.URL); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeTimeout, "waiting for host rate limit", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput, "build request", err)
	}

	ua := defaultUserAgent
	if e.identities != nil {
		ua = e.identities.Next()
	}
	httpReq.Header.Set("User-Agent", ua)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.5")
	httpReq.Header.Set("Accept-Encoding", "identity")
	httpReq.Header.Set("Connection", "keep-alive")
	httpReq.Header.Set("Upgrade-Insecure-Requests", "1")
	httpReq.Header.Set("Cache-Control", "max-age=0")

	// Caller headers override the defaults.
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	for i := range req.Cookies {
		httpReq.AddCookie(&req.Cookies[i])
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, models.NewScrapeError(models.ErrCodeTimeout, "static fetch timed out", err)
		}
		return nil, models.NewScrapeError(models.ErrCodeTransport, "static fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, models.NewStatusError(resp.StatusCode, req.URL)
	}

	// Read body with a 10 MB limit to prevent unbounded memory use.
	const maxBody = 10 << 20
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeTransport, "read body", err)
	}
	bodyStr := string(body)
	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Response{
		HTML:       bodyStr,
		Title:      ExtractTitle(bodyStr),
		StatusCode: resp.StatusCode,
		FinalURL:   finalURL,
		EngineName: e.Name(),
	}, nil
}

// ExtractTitle uses the Go HTML tokenizer to find the first <title> element.
func ExtractTitle(htmlStr string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(htmlStr))
	inTitle := false
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				inTitle = true
			}
		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(tokenizer.Text()))
			}
		case html.EndTagToken:
			if inTitle {
				return ""
			}
		}
	}
}

// HostOf returns the lowercased hostname of rawURL, or "" if it does not
// parse.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
