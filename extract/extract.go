package extract

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"github.com/use-agent/harvest/models"
)

// Extract applies spec to rawHTML. Every spec field is present in the
// result; fields that match nothing or fail are nil.
func Extract(rawHTML string, spec models.SelectorSpec, baseURL string) models.Record {
	d, err := Parse(rawHTML, baseURL)
	if err != nil {
		slog.Warn("extract: failed to parse document", "url", baseURL, "error", err)
		rec := make(models.Record, len(spec))
		for name := range spec {
			rec[name] = nil
		}
		return rec
	}
	return d.Extract(spec)
}

// Extract applies spec to the document.
func (d *Document) Extract(spec models.SelectorSpec) models.Record {
	names := make([]string, 0, len(spec))
	for name := range spec {
		names = append(names, name)
	}
	sort.Strings(names)

	rec := make(models.Record, len(spec))
	for _, name := range names {
		rec[name] = d.Field(name, spec[name])
	}
	return rec
}

// Field extracts a single field. Failures are logged and yield nil.
func (d *Document) Field(name string, f models.FieldSpec) (v any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("extract: field panicked", "field", name, "selector", f.Selector, "panic", r)
			v = nil
		}
	}()

	var err error
	switch f.Type {
	case models.SelectorCSS:
		v, err = d.css(f)
	case models.SelectorXPath:
		v, err = d.xpath(f)
	case models.SelectorJSONLD:
		v = d.jsonld(f)
	default:
		err = fmt.Errorf("unknown selector_type %q", f.Type)
	}
	if err != nil {
		slog.Warn("extract: field failed", "field", name, "selector", f.Selector, "error", err)
		return nil
	}
	return v
}

// shape applies the scalar-or-list rule shared by all selector types.
func shape(values []any, matched int, multiple bool) any {
	if matched == 0 || len(values) == 0 {
		return nil
	}
	if matched == 1 && !multiple {
		return values[0]
	}
	return values
}

func (d *Document) css(f models.FieldSpec) (any, error) {
	sel, err := cascadia.Compile(f.Selector)
	if err != nil {
		return nil, err
	}
	matches := d.Query.FindMatcher(sel)
	values := make([]any, 0, matches.Length())
	matches.Each(func(_ int, s *goquery.Selection) {
		if v, ok := d.selectionValue(s, f.Attribute); ok {
			values = append(values, v)
		}
	})
	return shape(values, matches.Length(), f.Multiple), nil
}

func (d *Document) selectionValue(s *goquery.Selection, attr string) (string, bool) {
	switch attr {
	case "", "text":
		return strings.TrimSpace(s.Text()), true
	case "html":
		h, err := goquery.OuterHtml(s)
		return h, err == nil
	default:
		v, ok := s.Attr(attr)
		if !ok {
			return "", false
		}
		return d.attrValue(attr, v), true
	}
}

func (d *Document) attrValue(attr, v string) string {
	if attr == "href" || attr == "src" {
		return d.Resolve(v)
	}
	return v
}

func (d *Document) xpath(f models.FieldSpec) (any, error) {
	expr, err := xpath.Compile(f.Selector)
	if err != nil {
		return nil, err
	}

	switch res := expr.Evaluate(htmlquery.CreateXPathNavigator(d.Root())).(type) {
	case *xpath.NodeIterator:
		var values []any
		matched := 0
		for res.MoveNext() {
			matched++
			nav, ok := res.Current().(*htmlquery.NodeNavigator)
			if !ok {
				continue
			}
			if v, ok := d.xpathValue(nav, f.Attribute); ok {
				values = append(values, v)
			}
		}
		return shape(values, matched, f.Multiple), nil
	case string:
		if res == "" {
			return nil, nil
		}
		return strings.TrimSpace(res), nil
	case float64, bool:
		return res, nil
	default:
		return nil, errors.New("unsupported xpath result")
	}
}

func (d *Document) xpathValue(nav *htmlquery.NodeNavigator, attr string) (string, bool) {
	switch nav.NodeType() {
	case xpath.AttributeNode:
		return d.attrValue(nav.LocalName(), nav.Value()), true
	case xpath.TextNode, xpath.CommentNode:
		return strings.TrimSpace(nav.Value()), true
	}

	node := nav.Current()
	switch attr {
	case "", "text":
		return strings.TrimSpace(htmlquery.InnerText(node)), true
	case "html":
		return htmlquery.OutputHTML(node, true), true
	default:
		for _, a := range node.Attr {
			if a.Key == attr {
				return d.attrValue(attr, a.Val), true
			}
		}
		return "", false
	}
}

func (d *Document) jsonld(f models.FieldSpec) any {
	segs := strings.Split(strings.TrimSpace(f.Selector), ".")
	var values []any
	for _, doc := range d.JSONLD() {
		r := ResolvePath(doc, segs)
		if r == nil {
			continue
		}
		if list, ok := r.([]any); ok {
			values = append(values, list...)
			continue
		}
		values = append(values, r)
	}
	return shape(values, len(values), f.Multiple)
}

// ResolvePath walks a decoded JSON value along segs. When a segment meets
// a list, the remaining path is mapped over every element and the non-nil
// results are collected. A numeric segment indexes a list directly.
func ResolvePath(v any, segs []string) any {
	if len(segs) == 0 {
		return v
	}
	switch t := v.(type) {
	case map[string]any:
		child, ok := t[segs[0]]
		if !ok {
			return nil
		}
		return ResolvePath(child, segs[1:])
	case []any:
		if i, err := strconv.Atoi(segs[0]); err == nil {
			if i < 0 || i >= len(t) {
				return nil
			}
			return ResolvePath(t[i], segs[1:])
		}
		var out []any
		for _, el := range t {
			r := ResolvePath(el, segs)
			if r == nil {
				continue
			}
			if list, ok := r.([]any); ok {
				out = append(out, list...)
				continue
			}
			out = append(out, r)
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return nil
	}
}

// ValidateSpec compiles every selector and reports all problems at once.
func ValidateSpec(spec models.SelectorSpec) error {
	var errs []error
	for name, f := range spec {
		if err := f.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("field %q: %w", name, err))
			continue
		}
		switch f.Type {
		case models.SelectorCSS:
			if _, err := cascadia.Compile(f.Selector); err != nil {
				errs = append(errs, fmt.Errorf("field %q: css: %w", name, err))
			}
		case models.SelectorXPath:
			if _, err := xpath.Compile(f.Selector); err != nil {
				errs = append(errs, fmt.Errorf("field %q: xpath: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
