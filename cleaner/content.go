// Package cleaner isolates the main content of a page and renders it as
// plain text and Markdown for the general extractor.
package cleaner

import (
	"log/slog"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"
)

// NoiseSelectors are removed before main-content selection.
var NoiseSelectors = []string{
	"script", "style", "noscript", "template", "iframe", "svg",
	"nav", "header", "footer",
}

// ContentSelectors are the prioritized main-content containers.
var ContentSelectors = []string{
	"article", "main", "[role=main]", "#content", ".content", "#main", ".main",
	".post-content", ".entry-content", ".article-body", ".article-content",
	".post", ".entry", ".story-body",
}

// Content sources.
const (
	SourceReadability = "readability"
	SourcePruning     = "pruning"
	SourceBody        = "body"
)

// Content is the isolated main content of a page.
type Content struct {
	// Source is the winning container selector, or one of the Source
	// constants when no container matched.
	Source   string
	HTML     string
	Text     string
	Markdown string
}

// Cleaner owns a reusable Markdown converter.
type Cleaner struct {
	md *converter.Converter
}

// NewCleaner creates a Cleaner.
func NewCleaner() *Cleaner {
	return &Cleaner{md: newMarkdownConverter()}
}

// MainContent picks the container with the longest text among
// ContentSelectors after noise removal. Without a match it compares
// readability against block pruning and keeps the longer text, falling back
// to the whole body.
func (c *Cleaner) MainContent(doc *goquery.Document, sourceURL string) Content {
	root := Strip(doc.Selection, NoiseSelectors...)

	var best Content
	for _, css := range ContentSelectors {
		root.Find(css).Each(func(_ int, s *goquery.Selection) {
			text := collapse(s.Text())
			if len(text) <= len(best.Text) {
				return
			}
			h, err := goquery.OuterHtml(s)
			if err != nil {
				return
			}
			best = Content{Source: css, HTML: h, Text: text}
		})
	}

	if best.Text == "" {
		best = c.fallback(doc, root, sourceURL)
	}

	if best.HTML != "" {
		md, err := c.ToMarkdown(best.HTML, sourceURL)
		if err != nil {
			slog.Warn("cleaner: markdown conversion failed", "url", sourceURL, "error", err)
		}
		best.Markdown = strings.TrimSpace(md)
	}
	return best
}

func (c *Cleaner) fallback(doc *goquery.Document, root *goquery.Selection, sourceURL string) Content {
	var out Content
	rawHTML, err := doc.Html()
	if err == nil {
		if article, ok := readable(rawHTML, sourceURL); ok {
			out = Content{Source: SourceReadability, HTML: article.Content, Text: collapse(article.TextContent)}
		}
	}

	body := root.Find("body")
	if body.Length() == 0 {
		body = root
	}
	if fragment, ok := prune(body); ok {
		text := collapse(fragmentText(fragment))
		if len(text) > len(out.Text) {
			out = Content{Source: SourcePruning, HTML: fragment, Text: text}
		}
	}

	if out.Text == "" {
		h, _ := body.Html()
		out = Content{Source: SourceBody, HTML: h, Text: collapse(body.Text())}
	}
	return out
}

// Strip returns a copy of sel with every element matching selectors
// removed. sel itself is untouched.
func Strip(sel *goquery.Selection, selectors ...string) *goquery.Selection {
	clone := sel.Clone()
	for _, css := range selectors {
		clone.Find(css).Remove()
	}
	return clone
}

func fragmentText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	return doc.Text()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
