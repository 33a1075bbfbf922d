package models

import (
	"time"

	"github.com/use-agent/harvest/proxy"
)

// FetchResult is the outcome of one fetch. Exactly one of Content or Err is
// meaningful: Err == nil means Content holds the page (possibly empty).
type FetchResult struct {
	URL        string
	Content    string
	Method     Method
	Err        error
	Elapsed    time.Duration
	StatusCode int
	FinalURL   string
	Title      string

	// Attempts counts attempts across every path tried.
	Attempts int

	// Escalated is set when the static path was abandoned for the browser.
	Escalated bool

	// Reason is the rule that chose the first path, such as
	// "known_domain", "domain_memory" or "forced".
	Reason string

	// NeedsBrowser is set on static results whose content still looks
	// client-rendered. DynamicSignal names the signal that fired.
	NeedsBrowser  bool
	DynamicSignal string

	// Proxy is the proxy used by the final attempt.
	Proxy *proxy.Descriptor
}

// OK reports whether the fetch produced content.
func (r *FetchResult) OK() bool { return r != nil && r.Err == nil }

// Succeeded builds a successful result.
func Succeeded(url, content string, method Method, elapsed time.Duration) *FetchResult {
	return &FetchResult{URL: url, Content: content, Method: method, Elapsed: elapsed}
}

// Failed builds a failed result. A nil err is replaced so the result never
// ends up with neither content nor error.
func Failed(url string, method Method, err error, elapsed time.Duration) *FetchResult {
	if err == nil {
		err = NewScrapeError(ErrCodeInternal, "fetch failed without an error", nil)
	}
	return &FetchResult{URL: url, Method: method, Err: err, Elapsed: elapsed}
}

// ErrorMessage returns the error text, or "" for a successful result.
func (r *FetchResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
