package simhash

import (
	"strings"

	"golang.org/x/net/html"
)

// skipTags never contribute to a structural fingerprint: their presence
// differs between static and rendered copies of the same page.
var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "link": true, "meta": true,
}

// FingerprintDOM computes the SimHash of a document's tag structure from
// 3-tag shingles, ignoring text and attributes.
func FingerprintDOM(htmlStr string) uint64 {
	tags := tagSequence(htmlStr)
	if len(tags) == 0 {
		return 0
	}
	if sh := shingles(tags, 3); len(sh) > 0 {
		return fromTokens(sh)
	}
	return fromTokens(tags)
}

// Comparison describes how far a rendered document drifted from its
// static copy.
type Comparison struct {
	DOMDistance  int `json:"dom_distance"`
	TextDistance int `json:"text_distance"`
}

// Equivalent reports whether both distances are within threshold.
func (c Comparison) Equivalent(threshold int) bool {
	return c.DOMDistance <= threshold && c.TextDistance <= threshold
}

// Compare fingerprints the structure and visible text of two documents.
func Compare(staticHTML, renderedHTML string) Comparison {
	return Comparison{
		DOMDistance:  Distance(FingerprintDOM(staticHTML), FingerprintDOM(renderedHTML)),
		TextDistance: Distance(Fingerprint(visibleText(staticHTML)), Fingerprint(visibleText(renderedHTML))),
	}
}

func tagSequence(htmlStr string) []string {
	z := html.NewTokenizer(strings.NewReader(htmlStr))
	var tags []string
	for {
		switch z.Next() {
		case html.ErrorToken:
			return tags
		case html.StartTagToken, html.SelfClosingTagToken:
			tn, _ := z.TagName()
			if name := string(tn); !skipTags[name] {
				tags = append(tags, name)
			}
		}
	}
}

func visibleText(htmlStr string) string {
	z := html.NewTokenizer(strings.NewReader(htmlStr))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken:
			if tn, _ := z.TagName(); skipTags[string(tn)] {
				skip++
			}
		case html.EndTagToken:
			if tn, _ := z.TagName(); skipTags[string(tn)] && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
				b.WriteByte(' ')
			}
		}
	}
}

func shingles(tokens []string, n int) []string {
	if len(tokens) < n {
		return nil
	}
	out := make([]string, 0, len(tokens)-n+1)
	for i := 0; i <= len(tokens)-n; i++ {
		out = append(out, strings.Join(tokens[i:i+n], "_"))
	}
	return out
}
