package cleaner

import (
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Block scores above pruneThreshold survive pruning.
const pruneThreshold = 0.0

const (
	wTextDensity   = 3.0
	wLinkDensity   = -2.0
	wTagWeight     = 1.5
	wClassIDWeight = 1.0
	wTextLength    = 0.5
)

var positiveClassID = []string{
	"content", "article", "post", "entry", "body", "main", "text", "product", "review",
}

var negativeClassID = []string{
	"sidebar", "ad", "widget", "nav", "menu", "footer", "header", "banner",
	"popup", "modal", "cookie", "social", "share", "related", "recommend", "promo",
}

// prune keeps the direct children of body whose block score passes the
// threshold and returns their joined outer HTML. ok is false when nothing
// survives.
func prune(body *goquery.Selection) (fragment string, ok bool) {
	var kept []string
	body.Children().Each(func(_ int, el *goquery.Selection) {
		if blockScore(el) <= pruneThreshold {
			return
		}
		if h, err := goquery.OuterHtml(el); err == nil {
			kept = append(kept, h)
		}
	})
	if len(kept) == 0 {
		return "", false
	}
	return strings.Join(kept, "\n"), true
}

// blockScore weighs text density, link density, the semantic tag and
// class/id hints of one block element.
func blockScore(el *goquery.Selection) float64 {
	outer, err := goquery.OuterHtml(el)
	if err != nil || outer == "" {
		return 0
	}
	text := strings.TrimSpace(el.Text())
	textLen := len(text)

	textDensity := float64(textLen) / float64(len(outer))

	linkLen := 0
	el.Find("a").Each(func(_ int, a *goquery.Selection) {
		linkLen += len(strings.TrimSpace(a.Text()))
	})
	linkDensity := 0.0
	if textLen > 0 {
		linkDensity = float64(linkLen) / float64(textLen)
	}

	return textDensity*wTextDensity +
		linkDensity*wLinkDensity +
		tagWeight(goquery.NodeName(el))*wTagWeight +
		classIDWeight(el)*wClassIDWeight +
		math.Log10(float64(textLen)+1)*wTextLength
}

func tagWeight(tag string) float64 {
	switch tag {
	case "article", "main", "section":
		return 5
	case "nav", "footer", "aside", "header":
		return -5
	}
	return 0
}

// classIDWeight counts at most one positive and one negative hint.
func classIDWeight(el *goquery.Selection) float64 {
	combined := strings.ToLower(el.AttrOr("class", "") + " " + el.AttrOr("id", ""))
	score := 0.0
	for _, p := range positiveClassID {
		if strings.Contains(combined, p) {
			score += 3
			break
		}
	}
	for _, p := range negativeClassID {
		if strings.Contains(combined, p) {
			score -= 3
			break
		}
	}
	return score
}
