// Package transform normalizes extracted records: string cleanup, type
// coercion, date reformatting and optional flattening.
package transform

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Options toggles each transformation step. The zero value disables
// everything; use DefaultOptions for the usual pipeline.
type Options struct {
	Trim                bool `json:"trim" yaml:"trim"`
	RemoveEmpty         bool `json:"remove_empty" yaml:"remove_empty"`
	NormalizeWhitespace bool `json:"normalize_whitespace" yaml:"normalize_whitespace"`
	StripHTML           bool `json:"strip_html" yaml:"strip_html"`
	MinifyHTML          bool `json:"minify_html" yaml:"minify_html"`
	ExtractDomain       bool `json:"extract_domain" yaml:"extract_domain"`
	ConvertNumbers      bool `json:"convert_numbers" yaml:"convert_numbers"`
	ParseDates          bool `json:"parse_dates" yaml:"parse_dates"`

	// DateFormat is a Go time layout. Default "2006-01-02".
	DateFormat string `json:"date_format,omitempty" yaml:"date_format,omitempty"`

	Flatten          bool   `json:"flatten" yaml:"flatten"`
	FlattenSeparator string `json:"flatten_separator,omitempty" yaml:"flatten_separator,omitempty"`
}

// DefaultOptions enables every string step except domain extraction and
// flattening, both of which change record shape.
func DefaultOptions() Options {
	return Options{
		Trim:                true,
		RemoveEmpty:         true,
		NormalizeWhitespace: true,
		StripHTML:           true,
		MinifyHTML:          true,
		ConvertNumbers:      true,
		ParseDates:          true,
		DateFormat:          "2006-01-02",
		FlattenSeparator:    ".",
	}
}

var (
	reWhitespace = regexp.MustCompile(`\s+`)
	reTag        = regexp.MustCompile(`<[^>]*>`)
	reInterTag   = regexp.MustCompile(`>\s+<`)
	reNumber     = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	reURL        = regexp.MustCompile(`^(?i)https?://\S+$`)
)

// Transform applies opts recursively. Maps and lists are rebuilt; other
// scalar types pass through unchanged.
func Transform(v any, opts Options) any {
	if opts.DateFormat == "" {
		opts.DateFormat = "2006-01-02"
	}
	if opts.FlattenSeparator == "" {
		opts.FlattenSeparator = "."
	}
	out := transformValue(v, opts)
	if opts.Flatten {
		if m, ok := out.(map[string]any); ok {
			out = flatten(m, opts.FlattenSeparator)
		}
	}
	return out
}

// Record is Transform specialised to a top-level mapping.
func Record(rec map[string]any, opts Options) map[string]any {
	out, ok := Transform(rec, opts).(map[string]any)
	if !ok || out == nil {
		return map[string]any{}
	}
	return out
}

func transformValue(v any, opts Options) any {
	switch val := v.(type) {
	case map[string]any:
		return transformMap(val, opts)
	case []any:
		return transformList(val, opts)
	case []string:
		list := make([]any, len(val))
		for i, s := range val {
			list[i] = s
		}
		return transformList(list, opts)
	case string:
		return String(val, opts)
	default:
		return v
	}
}

func transformMap(m map[string]any, opts Options) any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		key := k
		if opts.Trim {
			key = strings.TrimSpace(key)
		}
		tv := transformValue(v, opts)
		if opts.RemoveEmpty && (key == "" || isEmpty(tv)) {
			continue
		}
		out[key] = tv
	}
	return out
}

func transformList(list []any, opts Options) any {
	out := make([]any, 0, len(list))
	for _, v := range list {
		tv := transformValue(v, opts)
		if opts.RemoveEmpty && isEmpty(tv) {
			continue
		}
		out = append(out, tv)
	}
	if opts.RemoveEmpty && len(out) == 0 {
		return nil
	}
	return out
}

// String runs the string pipeline: trim, whitespace collapse, tag strip,
// inter-tag minify, domain extraction, numeric coercion, date parsing.
// The result is a string, int, float64, or nil when RemoveEmpty drops it.
func String(s string, opts Options) any {
	if opts.Trim {
		s = strings.TrimSpace(s)
	}
	if opts.NormalizeWhitespace {
		s = reWhitespace.ReplaceAllString(s, " ")
	}
	changedMarkup := false
	if opts.StripHTML && strings.ContainsRune(s, '<') {
		stripped := reTag.ReplaceAllString(s, "")
		changedMarkup = stripped != s
		s = stripped
	}
	if opts.MinifyHTML {
		minified := reInterTag.ReplaceAllString(s, "><")
		changedMarkup = changedMarkup || minified != s
		s = minified
	}
	// Removing markup can expose new edge or doubled whitespace.
	if changedMarkup {
		if opts.NormalizeWhitespace {
			s = reWhitespace.ReplaceAllString(s, " ")
		}
		if opts.Trim {
			s = strings.TrimSpace(s)
		}
	}
	if opts.ExtractDomain && reURL.MatchString(s) {
		if u, err := url.Parse(s); err == nil && u.Hostname() != "" {
			s = u.Hostname()
		}
	}
	if opts.RemoveEmpty && s == "" {
		return nil
	}
	if opts.ConvertNumbers {
		if n, ok := toNumber(s); ok {
			return n
		}
	}
	if opts.ParseDates {
		if d, ok := toDate(s, opts.DateFormat); ok {
			return d
		}
	}
	return s
}

func toNumber(s string) (any, bool) {
	if !reNumber.MatchString(s) {
		return nil, false
	}
	if !strings.Contains(s, ".") {
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, false
	}
	return f, true
}

// toDate parses fuzzy dates. Strings without a digit are never dates, which
// keeps words like "May" or "Sunday" intact.
func toDate(s, layout string) (string, bool) {
	if len(s) < 6 || len(s) > 64 || !strings.ContainsAny(s, "0123456789") {
		return "", false
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return "", false
	}
	return t.Format(layout), true
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	default:
		return false
	}
}

func flatten(m map[string]any, sep string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		child, ok := v.(map[string]any)
		if !ok {
			out[k] = v
			continue
		}
		for ck, cv := range child {
			out[k+sep+ck] = cv
		}
	}
	return out
}
