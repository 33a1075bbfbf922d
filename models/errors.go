package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeTransport    = "TRANSPORT_ERROR"
	ErrCodeHTTPStatus   = "HTTP_STATUS"
	ErrCodeBrowser      = "BROWSER_ERROR"
	ErrCodeTimeout      = "SCRAPE_TIMEOUT"
	ErrCodeNavigation   = "NAVIGATION_FAILED"
	ErrCodeActionFailed = "ACTION_FAILED"
	ErrCodeExtraction   = "EXTRACTION_FAILED"
	ErrCodeParse        = "PARSE_ERROR"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
}

// ScrapeError is the internal error type carrying an error code.
// StatusCode is set only for ErrCodeHTTPStatus errors.
type ScrapeError struct {
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// NewStatusError reports a non-2xx HTTP response.
func NewStatusError(status int, url string) *ScrapeError {
	return &ScrapeError{
		Code:       ErrCodeHTTPStatus,
		Message:    fmt.Sprintf("HTTP %d for %s", status, url),
		StatusCode: status,
	}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ScrapeError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message, StatusCode: e.StatusCode}
}

// AsScrapeError unwraps err into a ScrapeError, wrapping unknown errors as
// ErrCodeInternal.
func AsScrapeError(err error) *ScrapeError {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se
	}
	return NewScrapeError(ErrCodeInternal, err.Error(), err)
}

// IsBlocked reports whether err is an HTTP 403 or 429 response, the usual
// sign of an anti-bot wall.
func IsBlocked(err error) bool {
	var se *ScrapeError
	if !errors.As(err, &se) || se.Code != ErrCodeHTTPStatus {
		return false
	}
	return se.StatusCode == http.StatusForbidden || se.StatusCode == http.StatusTooManyRequests
}

// ErrorLabel returns a short, low-cardinality label for metrics.
func ErrorLabel(err error) string {
	if err == nil {
		return "none"
	}
	var se *ScrapeError
	if errors.As(err, &se) {
		if se.Code == ErrCodeHTTPStatus {
			return fmt.Sprintf("http_%d", se.StatusCode)
		}
		return se.Code
	}
	return "unknown"
}
