package extract

import (
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Pattern is a named structural block and the candidate selectors that
// find it, tried in order.
type Pattern struct {
	Name      string   `json:"name" yaml:"name"`
	Selectors []string `json:"selectors" yaml:"selectors"`
}

// Pattern names with specific enrichment.
const (
	PatternProductCards = "product_cards"
	PatternTables       = "tables"
	PatternForms        = "forms"
	PatternReviewBlocks = "review_blocks"
)

// DefaultPatterns is the built-in pattern vocabulary.
var DefaultPatterns = []Pattern{
	{PatternProductCards, []string{
		".product-card", ".product-item", ".product-tile", "li.product",
		`[itemtype*="schema.org/Product"]`, "[data-product-id]", ".product",
	}},
	{PatternTables, []string{"table"}},
	{PatternForms, []string{"form"}},
	{PatternReviewBlocks, []string{
		".review", `[itemtype*="schema.org/Review"]`, ".review-container",
		".customer-review", "[data-review-id]",
	}},
	{"articles", []string{"article", `[itemtype*="schema.org/Article"]`, ".blog-post", ".post"}},
	{"navigation", []string{"nav", `[role="navigation"]`}},
	{"pagination", []string{".pagination", `[aria-label*="pagination"]`, ".pager"}},
	{"breadcrumbs", []string{`[itemtype*="BreadcrumbList"]`, ".breadcrumb", ".breadcrumbs", `[aria-label="breadcrumb"]`}},
	{"contact_info", []string{"address", `[itemtype*="PostalAddress"]`, `a[href^="mailto:"]`, `a[href^="tel:"]`}},
	{"social_links", []string{
		`a[href*="facebook.com"]`, `a[href*="twitter.com"]`, `a[href*="x.com/"]`,
		`a[href*="linkedin.com"]`, `a[href*="instagram.com"]`, `a[href*="youtube.com"]`,
	}},
}

// PatternsFromMap converts a caller-supplied name -> selectors mapping into
// a deterministic pattern list.
func PatternsFromMap(m map[string][]string) []Pattern {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Pattern, 0, len(m))
	for _, name := range names {
		out = append(out, Pattern{Name: name, Selectors: m[name]})
	}
	return out
}

const previewLength = 100

// DetectPatterns finds structural blocks in the document. Only patterns
// with at least one match appear in the result. A nil patterns argument
// uses DefaultPatterns.
func (d *Document) DetectPatterns(patterns []Pattern) map[string][]map[string]any {
	if patterns == nil {
		patterns = DefaultPatterns
	}
	out := make(map[string][]map[string]any)
	for _, p := range patterns {
		for _, css := range p.Selectors {
			matches := d.Query.Find(css)
			if matches.Length() == 0 {
				continue
			}
			summaries := make([]map[string]any, 0, matches.Length())
			matches.Each(func(_ int, s *goquery.Selection) {
				summaries = append(summaries, summarize(p.Name, s))
			})
			out[p.Name] = summaries
			break
		}
	}
	return out
}

// DetectPatterns parses rawHTML and runs pattern detection.
func DetectPatterns(rawHTML string, patterns []Pattern) map[string][]map[string]any {
	d, err := Parse(rawHTML, "")
	if err != nil {
		return map[string][]map[string]any{}
	}
	return d.DetectPatterns(patterns)
}

func summarize(pattern string, s *goquery.Selection) map[string]any {
	text := CleanText(s.Text())
	if r := []rune(text); len(r) > previewLength {
		text = string(r[:previewLength])
	}
	var classes []string
	if c, ok := s.Attr("class"); ok {
		classes = strings.Fields(c)
	}
	summary := map[string]any{
		"tag":          goquery.NodeName(s),
		"classes":      classes,
		"id":           s.AttrOr("id", ""),
		"text_preview": text,
		"child_count":  s.Children().Length(),
	}

	switch pattern {
	case PatternTables:
		t := ParseTable(s)
		summary["row_count"] = t.RowCount
		summary["column_count"] = t.ColumnCount
		summary["headers"] = t.Headers
	case PatternProductCards:
		summary["has_price"] = s.Find(`.price, [class*="price"], [itemprop="price"], [data-price]`).Length() > 0
		summary["has_title"] = s.Find(`h1, h2, h3, h4, .title, [class*="title"], [class*="name"], [itemprop="name"]`).Length() > 0
		summary["has_image"] = s.Find("img").Length() > 0
		summary["has_link"] = s.Find("a[href]").Length() > 0
	case PatternForms:
		summary["action"] = s.AttrOr("action", "")
		summary["method"] = strings.ToUpper(s.AttrOr("method", "GET"))
		summary["input_types"] = inputHistogram(s)
	case PatternReviewBlocks:
		summary["has_rating"] = s.Find(`[class*="rating"], [class*="star"], [itemprop="ratingValue"]`).Length() > 0
		summary["has_author"] = s.Find(`[class*="author"], [class*="reviewer"], [itemprop="author"]`).Length() > 0
	}
	return summary
}

func inputHistogram(form *goquery.Selection) map[string]int {
	hist := make(map[string]int)
	form.Find("input, select, textarea, button").Each(func(_ int, in *goquery.Selection) {
		kind := goquery.NodeName(in)
		if kind == "input" {
			kind = strings.ToLower(in.AttrOr("type", "text"))
		}
		hist[kind]++
	})
	return hist
}
