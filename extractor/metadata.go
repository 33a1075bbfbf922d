package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/harvest/cleaner"
	"github.com/use-agent/harvest/extract"
	"github.com/use-agent/harvest/models"
)

// pageTitle prefers <title>, then og:title, then the first h1.
func pageTitle(doc *extract.Document) string {
	root := doc.Query.Selection
	if t := extract.Text(root.Find("head title")); t != "" {
		return t
	}
	if t := extract.Text(root.Find("title")); t != "" {
		return t
	}
	if t := extract.MetaContent(root, "property", "og:title"); t != "" {
		return t
	}
	return extract.FirstText(root, "h1")
}

func metaDescription(doc *extract.Document) string {
	root := doc.Query.Selection
	if d := extract.MetaContent(root, "name", "description"); d != "" {
		return d
	}
	return extract.MetaContent(root, "property", "og:description")
}

func canonicalURL(doc *extract.Document) string {
	href := strings.TrimSpace(doc.Query.Find(`link[rel="canonical"]`).First().AttrOr("href", ""))
	if href == "" {
		return ""
	}
	return doc.Resolve(href)
}

func pageLanguage(doc *extract.Document) string {
	if lang := strings.TrimSpace(doc.Query.Find("html").First().AttrOr("lang", "")); lang != "" {
		return lang
	}
	return extract.MetaContent(doc.Query.Selection, "http-equiv", "content-language")
}

// favicon resolves the first icon link, falling back to /favicon.ico on
// the page host.
func favicon(doc *extract.Document) string {
	var href string
	doc.Query.Find("link[rel]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, rel := range strings.Fields(strings.ToLower(s.AttrOr("rel", ""))) {
			if rel == "icon" || rel == "apple-touch-icon" {
				href = strings.TrimSpace(s.AttrOr("href", ""))
				break
			}
		}
		return href == ""
	})
	if href == "" {
		if doc.Base == nil {
			return ""
		}
		href = "/favicon.ico"
	}
	return doc.Resolve(href)
}

// PageMetadata is the metadata block shared by the custom and
// pattern_detection results.
func PageMetadata(doc *extract.Document) models.Record {
	tags := make(map[string]any)
	for k, v := range cleaner.MetaTags(doc.Query.Selection) {
		tags[k] = v
	}
	return models.Record{
		"title":         pageTitle(doc),
		"description":   metaDescription(doc),
		"canonical_url": canonicalURL(doc),
		"language":      pageLanguage(doc),
		"favicon":       favicon(doc),
		"meta_tags":     tags,
	}
}

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
