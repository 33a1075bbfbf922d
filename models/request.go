package models

import (
	"net/http"
	"time"

	"github.com/use-agent/harvest/proxy"
	"github.com/use-agent/harvest/transform"
)

// Method is the fetch path used for a page.
type Method string

const (
	MethodStatic  Method = "static"
	MethodBrowser Method = "browser"
)

// Valid reports whether m names a known method.
func (m Method) Valid() bool {
	return m == MethodStatic || m == MethodBrowser
}

// Data types accepted by the extractor registry.
const (
	DataTypeGeneral          = "general"
	DataTypeProduct          = "product"
	DataTypeReview           = "review"
	DataTypeCustom           = "custom"
	DataTypePatternDetection = "pattern_detection"
)

// FetchRequest is the immutable input to one fetch-extract cycle.
type FetchRequest struct {
	URL      string
	DataType string

	// ForceMethod skips classification when set.
	ForceMethod Method

	// Proxy is the proxy for the first attempt; retries may rotate.
	Proxy *proxy.Descriptor

	// Timeout bounds a single attempt. Zero uses the fetcher default.
	Timeout time.Duration

	Headers map[string]string
	Cookies []http.Cookie

	// MaxRetries is the retry budget per path. Nil uses the fetcher
	// default; zero disables retries.
	MaxRetries *int

	// Browser-only options. Lazy-load scrolling and overlay dismissal run
	// unless switched off.
	WaitForSelector string
	NoScroll        bool
	KeepOverlays    bool
	RemoveOverlays  bool
	BlockAds        bool
	Actions         []Action
	LoadMore        *LoadMore
}

// Clone returns a shallow copy safe to adjust per attempt.
func (r *FetchRequest) Clone() *FetchRequest {
	c := *r
	return &c
}

// Action types.
const (
	ActionClick  = "click"
	ActionInput  = "input"
	ActionWait   = "wait"
	ActionScript = "script"
	ActionScroll = "scroll"
)

// Action is one scripted browser interaction.
type Action struct {
	Type     string `json:"type" yaml:"type" binding:"required,oneof=click input wait script scroll"`
	Selector string `json:"selector,omitempty" yaml:"selector,omitempty"`

	// Value is the text typed by input actions.
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Script is the JavaScript function body run by script actions.
	Script string `json:"script,omitempty" yaml:"script,omitempty"`

	// Seconds is the pause for wait actions without a selector.
	Seconds float64 `json:"seconds,omitempty" yaml:"seconds,omitempty"`

	// WaitAfter overrides the per-type settle pause after the action.
	WaitAfter *float64 `json:"wait_after,omitempty" yaml:"wait_after,omitempty"`

	// Direction and Amount apply to scroll actions.
	Direction string `json:"direction,omitempty" yaml:"direction,omitempty"`
	Amount    int    `json:"amount,omitempty" yaml:"amount,omitempty"`
}

// ButtonTarget locates a pagination control. A non-empty Text matches the
// element's visible text as a case-insensitive pattern.
type ButtonTarget struct {
	Selector string
	Text     string
}

// PaginationPlan tells the browser loop what to count and what to click.
type PaginationPlan struct {
	ItemSelector string
	Buttons      []ButtonTarget
}

// Paginator builds a pagination plan from the first rendered DOM.
type Paginator interface {
	Plan(pageURL, html string) PaginationPlan
}

// LoadMore enables the browser-driven "load more" loop.
type LoadMore struct {
	Paginator Paginator

	// MaxItems stops the loop once this many items are visible.
	MaxItems int

	// MaxAttempts caps loop iterations. Zero uses the scraper default.
	MaxAttempts int
}

// ExtractOptions select and shape the extractor output.
type ExtractOptions struct {
	// DataType picks the extractor. Default: "general". A matching
	// template overrides it.
	DataType string `json:"data_type,omitempty" binding:"omitempty,oneof=general product review custom pattern_detection"`

	// Selectors drive the custom extractor.
	Selectors SelectorSpec `json:"selectors,omitempty"`

	// Patterns overrides the pattern_detection vocabulary.
	Patterns map[string][]string `json:"patterns,omitempty"`

	// Template names a loaded template. When empty the first template whose
	// match expression fits the URL is used.
	Template string `json:"template,omitempty"`

	// NoTemplate disables template matching.
	NoTemplate bool `json:"no_template,omitempty"`

	IncludeMetadata bool `json:"include_metadata,omitempty"`
	IncludeRawHTML  bool `json:"include_raw_html,omitempty"`

	// MaxReviews caps the review extractor. Default: 100.
	MaxReviews int `json:"max_reviews,omitempty" binding:"omitempty,min=1,max=1000"`

	// Transform replaces the default (or template) transform options.
	Transform *transform.Options `json:"transform,omitempty"`

	// SkipTransform returns the raw extractor record.
	SkipTransform bool `json:"skip_transform,omitempty"`
}

// ScrapeOptions are the per-request fetch and extraction settings shared
// by single and batch scrapes.
type ScrapeOptions struct {
	ExtractOptions

	// Method forces a fetch path and skips classification.
	Method Method `json:"method,omitempty" binding:"omitempty,oneof=static browser"`

	// Timeout is the per-attempt limit in seconds.
	Timeout int `json:"timeout,omitempty" binding:"omitempty,min=1,max=120"`

	// MaxRetries overrides the configured retry budget.
	MaxRetries *int `json:"max_retries,omitempty" binding:"omitempty,min=0,max=10"`

	// ProxyURL pins the first attempt to one proxy.
	ProxyURL string `json:"proxy_url,omitempty"`

	Headers map[string]string `json:"headers,omitempty"`

	WaitForSelector string `json:"wait_for_selector,omitempty"`

	// Scroll and DismissOverlays default to true on the browser path.
	Scroll          *bool    `json:"scroll,omitempty"`
	DismissOverlays *bool    `json:"dismiss_overlays,omitempty"`
	RemoveOverlays  bool     `json:"remove_overlays,omitempty"`
	BlockAds        bool     `json:"block_ads,omitempty"`
	Actions         []Action `json:"actions,omitempty" binding:"omitempty,dive"`

	// LoadMore runs the pagination loop for data types that support it.
	LoadMore bool `json:"load_more,omitempty"`

	// MaxAge serves a cached result younger than this many milliseconds.
	// Zero bypasses the cache.
	MaxAge int64 `json:"max_age,omitempty" binding:"omitempty,min=0"`

	// Store sends the finished record to the persistence sink.
	Store bool `json:"store,omitempty"`
}

// ScrapeRequest is the payload for POST /api/v1/scrape and /fetch.
type ScrapeRequest struct {
	URL string `json:"url" binding:"required,url"`
	ScrapeOptions
}

// ExtractRequest is the payload for POST /api/v1/extract. It runs an
// extractor over caller-supplied HTML without fetching.
type ExtractRequest struct {
	HTML string `json:"html" binding:"required"`

	// URL resolves relative links and selects templates.
	URL string `json:"url,omitempty" binding:"omitempty,url"`

	ExtractOptions
}

// ClassifyRequest is the payload for POST /api/v1/classify.
type ClassifyRequest struct {
	URL string `json:"url" binding:"required,url"`

	// Content, when given, is scanned instead of probing the URL.
	Content string `json:"content,omitempty"`
}

// TransformRequest is the payload for POST /api/v1/transform.
type TransformRequest struct {
	Record map[string]any `json:"record" binding:"required"`

	// Options default to the standard pipeline when omitted.
	Options *transform.Options `json:"options,omitempty"`
}
