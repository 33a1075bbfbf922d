// Package extract turns HTML plus a declarative selector spec into records.
// It also hosts the structural pattern detector and the table reader shared
// by the specialized extractors.
package extract

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Document is a parsed page. CSS, XPath and JSON-LD lookups share one
// parse tree.
type Document struct {
	Raw   string
	Base  *url.URL
	Query *goquery.Document

	jsonOnce sync.Once
	jsonDocs []any
}

// Parse builds a Document. baseURL may be empty, in which case relative
// links are returned unresolved.
func Parse(rawHTML, baseURL string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}
	d := &Document{Raw: rawHTML, Query: doc}
	if baseURL != "" {
		if u, err := url.Parse(baseURL); err == nil {
			d.Base = u
		}
	}
	return d, nil
}

// Root returns the document node for XPath evaluation.
func (d *Document) Root() *html.Node {
	if len(d.Query.Nodes) == 0 {
		return &html.Node{Type: html.DocumentNode}
	}
	return d.Query.Nodes[0]
}

// Resolve makes ref absolute against the document base.
func (d *Document) Resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || d.Base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return d.Base.ResolveReference(u).String()
}

// JSONLD returns every parsed application/ld+json document. Top-level
// arrays contribute their elements. Malformed blocks are skipped.
func (d *Document) JSONLD() []any {
	d.jsonOnce.Do(func() {
		d.Query.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
			body := strings.TrimSpace(s.Text())
			if body == "" {
				return
			}
			var v any
			if err := json.Unmarshal([]byte(body), &v); err != nil {
				slog.Debug("extract: skipping malformed JSON-LD block", "error", err)
				return
			}
			if list, ok := v.([]any); ok {
				d.jsonDocs = append(d.jsonDocs, list...)
				return
			}
			d.jsonDocs = append(d.jsonDocs, v)
		})
	})
	return d.jsonDocs
}

// JSONLDOfType returns JSON-LD documents whose @type matches typ, looking
// inside @graph containers too.
func (d *Document) JSONLDOfType(typ string) []any {
	var out []any
	var visit func(v any)
	visit = func(v any) {
		m, ok := v.(map[string]any)
		if !ok {
			return
		}
		if hasType(m["@type"], typ) {
			out = append(out, m)
		}
		if graph, ok := m["@graph"].([]any); ok {
			for _, g := range graph {
				visit(g)
			}
		}
	}
	for _, doc := range d.JSONLD() {
		visit(doc)
	}
	return out
}

func hasType(v any, typ string) bool {
	switch t := v.(type) {
	case string:
		return strings.EqualFold(t, typ)
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok && strings.EqualFold(s, typ) {
				return true
			}
		}
	}
	return false
}

// CleanText collapses whitespace runs and trims.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Text returns the cleaned text of the first element in sel.
func Text(sel *goquery.Selection) string {
	return CleanText(sel.First().Text())
}

// FirstText returns the first non-empty cleaned text found by trying each
// selector in order against root.
func FirstText(root *goquery.Selection, selectors ...string) string {
	for _, css := range selectors {
		var found string
		root.Find(css).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = CleanText(s.Text())
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// FirstMatch returns the first element matching any selector, in selector
// priority order, whose cleaned text is non-empty.
func FirstMatch(root *goquery.Selection, selectors ...string) *goquery.Selection {
	for _, css := range selectors {
		var found *goquery.Selection
		root.Find(css).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if CleanText(s.Text()) != "" {
				found = s
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	return nil
}

// MetaContent returns the content attribute of the first meta tag matching
// the attribute/value pair, e.g. ("itemprop", "price").
func MetaContent(root *goquery.Selection, attr, value string) string {
	var out string
	root.Find("meta[" + attr + "]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, _ := s.Attr(attr); strings.EqualFold(v, value) {
			out = strings.TrimSpace(s.AttrOr("content", ""))
			return out == ""
		}
		return true
	})
	return out
}
