// Package classifier decides whether a URL can be fetched with a plain
// HTTP request or needs a headless browser.
package classifier

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/harvest/engine"
	"github.com/use-agent/harvest/models"
)

// BrowserDomains are sites known to need browser rendering. Subdomains
// match too.
var BrowserDomains = []string{
	"twitter.com", "x.com", "instagram.com", "facebook.com", "linkedin.com",
	"youtube.com", "tiktok.com", "amazon.com", "indeed.com", "glassdoor.com",
	"zillow.com", "booking.com", "airbnb.com", "target.com", "walmart.com",
	"bestbuy.com", "newegg.com", "ebay.com",
}

// ScriptIndicators are lowercase tokens that mark a script as driving the
// page from the client.
var ScriptIndicators = []string{
	"vue.js", "vue.min.js", "react.js", "react.min.js", "angular.js", "angular.min.js",
	"jquery.js", "jquery.min.js", "axios", "fetch(", "xmlhttprequest", "ajax",
	"document.getelementbyid", "document.queryselector", "getelementbyid",
	"queryselector", "addeventlistener", ".innerhtml", ".innertext",
	"window.onload", "domcontentloaded", "load()", "lazy-load",
	"data-src=", "data-lazy-src", "lazyload", "async", "defer",
	"window.history.pushstate", "window.location", "document.location",
	"classlist.add", "classlist.remove", "classlist.toggle",
	"createelement", "createattribute", "createevent",
	"nexttick", "settimeout", "setinterval", "requestanimationframe",
}

// DynamicSelectors mark containers filled in after load.
var DynamicSelectors = []string{
	".loading", "#loading", ".spinner", "#spinner", ".progress",
	"[data-loaded]", "[data-loading]", ".lazy-load", ".async-content",
	".dynamic-content", ".infinite-scroll", ".ajax-content",
}

var (
	generatorFrameworks = []string{"react", "vue", "angular", "next", "gatsby"}
	headerFrameworks    = []string{"react", "vue", "angular", "next"}
)

// Reasons reported with a Decision.
const (
	ReasonKnownDomain    = "known_domain"
	ReasonProbeFailed    = "probe_failed"
	ReasonJSONResponse   = "json_response"
	ReasonFrameworkHdr   = "framework_header"
	ReasonGeneratorMeta  = "generator_meta"
	ReasonScriptSrc      = "script_src"
	ReasonInlineScript   = "inline_script"
	ReasonDynamicContent = "dynamic_selector"
	ReasonLazyImages     = "lazy_images"
	ReasonDefault        = "default"
)

// Decision is a classification and the rule that produced it.
type Decision struct {
	Method models.Method `json:"method"`
	Reason string        `json:"reason"`
	Detail string        `json:"detail,omitempty"`
}

// Classifier implements the decision order: known domains, then a header
// probe when no content is supplied, then a content scan, then static.
// It holds no mutable state, so it is safe for concurrent use.
type Classifier struct {
	client       *http.Client
	identities   *engine.IdentityRotator
	probeTimeout time.Duration
	domains      []string
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithHTTPClient sets the client used for header probes.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Classifier) { cl.client = c }
}

// WithProbeTimeout bounds the header probe. Default 5s; non-positive
// values keep the default.
func WithProbeTimeout(d time.Duration) Option {
	return func(cl *Classifier) {
		if d > 0 {
			cl.probeTimeout = d
		}
	}
}

// WithIdentities sets the user agents sent with probes.
func WithIdentities(r *engine.IdentityRotator) Option {
	return func(cl *Classifier) { cl.identities = r }
}

// WithExtraDomains adds browser-only domains to the built-in list.
func WithExtraDomains(domains ...string) Option {
	return func(cl *Classifier) {
		for _, d := range domains {
			if d = normalizeHost(d); d != "" {
				cl.domains = append(cl.domains, d)
			}
		}
	}
}

// New creates a Classifier.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		probeTimeout: 5 * time.Second,
		domains:      append([]string(nil), BrowserDomains...),
	}
	for _, o := range opts {
		o(c)
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	if c.identities == nil {
		c.identities = engine.NewIdentityRotator()
	}
	return c
}

// Classify returns the fetch method for rawURL.
func (c *Classifier) Classify(ctx context.Context, rawURL, content string) models.Method {
	return c.Decide(ctx, rawURL, content).Method
}

// Decide classifies rawURL. content is the page body from an earlier
// static fetch, or "" to probe headers instead.
func (c *Classifier) Decide(ctx context.Context, rawURL, content string) Decision {
	host := normalizeHost(engine.HostOf(rawURL))
	if d, ok := c.knownDomain(host); ok {
		slog.Debug("classifier: known browser domain", "url", rawURL, "domain", d)
		return Decision{Method: models.MethodBrowser, Reason: ReasonKnownDomain, Detail: d}
	}

	if content == "" {
		if d, ok := c.probe(ctx, rawURL); ok {
			return d
		}
		return Decision{Method: models.MethodStatic, Reason: ReasonDefault}
	}

	if d, ok := ScanContent(content); ok {
		slog.Debug("classifier: dynamic content detected", "url", rawURL, "reason", d.Reason, "detail", d.Detail)
		return d
	}
	return Decision{Method: models.MethodStatic, Reason: ReasonDefault}
}

// RequiresBrowser reports whether host is, or is a subdomain of, a known
// browser-only domain.
func (c *Classifier) RequiresBrowser(host string) bool {
	_, ok := c.knownDomain(normalizeHost(host))
	return ok
}

func (c *Classifier) knownDomain(host string) (string, bool) {
	if host == "" {
		return "", false
	}
	for _, d := range c.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return d, true
		}
	}
	return "", false
}

// probe issues a HEAD request. ok is false when the headers give no signal.
func (c *Classifier) probe(ctx context.Context, rawURL string) (Decision, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		slog.Warn("classifier: cannot build probe", "url", rawURL, "error", err)
		return Decision{Method: models.MethodBrowser, Reason: ReasonProbeFailed, Detail: err.Error()}, true
	}
	req.Header.Set("User-Agent", c.identities.Next())

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Warn("classifier: header probe failed, defaulting to browser", "url", rawURL, "error", err)
		return Decision{Method: models.MethodBrowser, Reason: ReasonProbeFailed, Detail: err.Error()}, true
	}
	resp.Body.Close()

	if ct := strings.ToLower(resp.Header.Get("Content-Type")); strings.Contains(ct, "application/json") {
		return Decision{Method: models.MethodBrowser, Reason: ReasonJSONResponse, Detail: ct}, true
	}
	for name, values := range resp.Header {
		if !strings.Contains(strings.ToLower(name), "x-powered-by") {
			continue
		}
		for _, v := range values {
			if fw := containsAny(strings.ToLower(v), headerFrameworks); fw != "" {
				return Decision{Method: models.MethodBrowser, Reason: ReasonFrameworkHdr, Detail: fw}, true
			}
		}
	}
	return Decision{}, false
}

// ScanContent looks for client-rendering signals in a page body. ok is
// false when none is found.
func ScanContent(content string) (Decision, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return Decision{}, false
	}
	browser := func(reason, detail string) (Decision, bool) {
		return Decision{Method: models.MethodBrowser, Reason: reason, Detail: detail}, true
	}

	var hit string
	doc.Find(`meta[name="generator"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		hit = containsAny(strings.ToLower(s.AttrOr("content", "")), generatorFrameworks)
		return hit == ""
	})
	if hit != "" {
		return browser(ReasonGeneratorMeta, hit)
	}

	var reason string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if hit = containsAny(strings.ToLower(s.AttrOr("src", "")), ScriptIndicators); hit != "" {
			reason = ReasonScriptSrc
			return false
		}
		if hit = containsAny(strings.ToLower(s.Text()), ScriptIndicators); hit != "" {
			reason = ReasonInlineScript
			return false
		}
		return true
	})
	if hit != "" {
		return browser(reason, hit)
	}

	for _, sel := range DynamicSelectors {
		if doc.Find(sel).Length() > 0 {
			return browser(ReasonDynamicContent, sel)
		}
	}

	lazy := doc.Find("img").FilterFunction(func(_ int, s *goquery.Selection) bool {
		if v := s.AttrOr("data-src", ""); v != "" {
			return true
		}
		if v := s.AttrOr("data-lazy-src", ""); v != "" {
			return true
		}
		return s.AttrOr("loading", "") == "lazy"
	})
	if lazy.Length() > 0 {
		return browser(ReasonLazyImages, goquery.NodeName(lazy.First()))
	}
	return Decision{}, false
}

func containsAny(s string, tokens []string) string {
	if s == "" {
		return ""
	}
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return t
		}
	}
	return ""
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if u, err := url.Parse(host); err == nil && u.Host != "" {
		host = strings.ToLower(u.Hostname())
	}
	return strings.TrimPrefix(host, "www.")
}
