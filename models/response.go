package models

import "time"

// TimingInfo breaks down where a scrape spent its time.
type TimingInfo struct {
	TotalMs     int64 `json:"total_ms"`
	FetchMs     int64 `json:"fetch_ms,omitempty"`
	ExtractMs   int64 `json:"extract_ms,omitempty"`
	TransformMs int64 `json:"transform_ms,omitempty"`
}

// Cache statuses reported on scrape results.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// ScrapeResult is the outcome of one fetch, extract and transform cycle.
type ScrapeResult struct {
	// Success is false when the fetch or the extraction failed.
	Success bool `json:"success"`

	URL        string `json:"url"`
	FinalURL   string `json:"final_url,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	DataType   string `json:"data_type"`

	// MethodUsed is the path that produced the page: the successful path,
	// or the last one tried on failure.
	MethodUsed Method `json:"method_used,omitempty"`
	Escalated  bool   `json:"escalated"`
	Reason     string `json:"route_reason,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`

	// Template names the selector template applied, if any.
	Template string `json:"template,omitempty"`

	Data  Record       `json:"data,omitempty"`
	Error *ErrorDetail `json:"error,omitempty"`

	Timing      TimingInfo `json:"timing"`
	CacheStatus string     `json:"cache_status,omitempty"`

	// SinkID is the identifier returned by the persistence sink.
	SinkID string `json:"sink_id,omitempty"`

	FetchedAt time.Time `json:"fetched_at"`
}

// Fail records err on the result.
func (r *ScrapeResult) Fail(err error) {
	r.Success = false
	r.Error = AsScrapeError(err).ToDetail()
}

// FetchResponse is the response for POST /api/v1/fetch.
type FetchResponse struct {
	Success       bool         `json:"success"`
	URL           string       `json:"url"`
	FinalURL      string       `json:"final_url,omitempty"`
	StatusCode    int          `json:"status_code,omitempty"`
	MethodUsed    Method       `json:"method_used"`
	Escalated     bool         `json:"escalated"`
	Reason        string       `json:"route_reason,omitempty"`
	Attempts      int          `json:"attempts"`
	NeedsBrowser  bool         `json:"needs_browser,omitempty"`
	DynamicSignal string       `json:"dynamic_signal,omitempty"`
	Proxy         string       `json:"proxy,omitempty"`
	Title         string       `json:"title,omitempty"`
	Content       string       `json:"content,omitempty"`
	ElapsedMs     int64        `json:"elapsed_ms"`
	Error         *ErrorDetail `json:"error,omitempty"`
}

// NewFetchResponse converts a fetch result to its API form.
func NewFetchResponse(res *FetchResult) FetchResponse {
	out := FetchResponse{
		Success:       res.OK(),
		URL:           res.URL,
		FinalURL:      res.FinalURL,
		StatusCode:    res.StatusCode,
		MethodUsed:    res.Method,
		Escalated:     res.Escalated,
		Reason:        res.Reason,
		Attempts:      res.Attempts,
		NeedsBrowser:  res.NeedsBrowser,
		DynamicSignal: res.DynamicSignal,
		Title:         res.Title,
		Content:       res.Content,
		ElapsedMs:     res.Elapsed.Milliseconds(),
	}
	if res.Proxy != nil {
		out.Proxy = res.Proxy.Key()
	}
	if res.Err != nil {
		out.Error = AsScrapeError(res.Err).ToDetail()
	}
	return out
}

// ClassifyResponse is the response for POST /api/v1/classify.
type ClassifyResponse struct {
	URL    string `json:"url"`
	Method Method `json:"method"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// TransformResponse is the response for POST /api/v1/transform.
type TransformResponse struct {
	Record map[string]any `json:"record"`
}

// ErrorResponse wraps an error for endpoints without a richer result shape.
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}
