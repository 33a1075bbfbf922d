package extractor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/use-agent/harvest/extract"
	"github.com/use-agent/harvest/models"
)

var (
	reStarsClass  = regexp.MustCompile(`^stars?_(\d+(?:_half)?)$`)
	reBubbleClass = regexp.MustCompile(`^bubble_(\d+)$`)
	reOutOf       = regexp.MustCompile(`(\d+(?:\.\d+)?)\s+out of\s+\d+`)
	reStarsLabel  = regexp.MustCompile(`(\d+(?:\.\d+)?) stars?`)
	reClassDigits = regexp.MustCompile(`\d+`)
)

func ptr[T any](v T) *T { return &v }

func textOf(root *goquery.Selection, selectors string) string {
	return extract.Text(root.Find(selectors))
}

func helpfulVotes(el *goquery.Selection, selectors string) *int {
	if n, ok := firstInt(textOf(el, selectors)); ok {
		return &n
	}
	return nil
}

func parseAmazon(root *goquery.Selection) []models.ReviewRecord {
	var out []models.ReviewRecord
	root.Find(`#cm_cr-review_list .review, [data-hook="review"]`).Each(func(_ int, el *goquery.Selection) {
		rv := models.ReviewRecord{
			ReviewerName:     textOf(el, `.a-profile-name, [data-hook="review-author"]`),
			Title:            textOf(el, `[data-hook="review-title"]`),
			Date:             textOf(el, `[data-hook="review-date"]`),
			Text:             textOf(el, `[data-hook="review-body"]`),
			VerifiedPurchase: el.Find(`[data-hook="avp-badge"]`).Length() > 0,
			HelpfulVotes:     helpfulVotes(el, `[data-hook="helpful-vote-statement"]`),
			ReviewID:         el.AttrOr("id", ""),
		}
		if v, ok := numberIn(textOf(el, `i.review-rating, [data-hook="review-star-rating"]`)); ok {
			rv.Rating = &v
		}
		out = append(out, rv)
	})
	return out
}

func parseYelp(root *goquery.Selection) []models.ReviewRecord {
	var out []models.ReviewRecord
	root.Find(".review, .review__wrapper").Each(func(_ int, el *goquery.Selection) {
		rv := models.ReviewRecord{
			ReviewerName: textOf(el, ".user-display-name, .user-passport-info .name"),
			Date:         textOf(el, ".review-content .rating-qualifier, .rating-qualifier"),
			Text:         textOf(el, ".review-content p, .comment__text"),
			ReviewID:     el.AttrOr("data-review-id", ""),
		}
		if r := el.Find(".rating-large, .i-stars").First(); r.Length() > 0 {
			if v, ok := numberIn(r.AttrOr("aria-label", "")); ok {
				rv.Rating = &v
			} else {
				rv.Rating = ratingFromClasses(r, reStarsClass)
			}
		}

		reactions := make(map[string]int)
		el.Find(".review-footer-action").Each(func(_ int, a *goquery.Selection) {
			t := strings.ToLower(extract.CleanText(a.Text()))
			n, _ := firstInt(t)
			for _, kind := range []string{"useful", "funny", "cool"} {
				if strings.Contains(t, kind) {
					reactions[kind] = n
					break
				}
			}
		})
		if len(reactions) > 0 {
			rv.Reactions = reactions
		}
		out = append(out, rv)
	})
	return out
}

func parseTripAdvisor(root *goquery.Selection) []models.ReviewRecord {
	var out []models.ReviewRecord
	root.Find(".review-container, [data-reviewid]").Each(func(_ int, el *goquery.Selection) {
		rv := models.ReviewRecord{
			ReviewerName: textOf(el, ".info_text, .member_info .username"),
			Title:        textOf(el, ".review-title, .title"),
			Date:         textOf(el, ".ratingDate, .review-date, .prw_reviews_stay_date"),
			Text:         textOf(el, ".prw_reviews_text_summary_hsx, .review-body, .reviewText"),
			TripType:     textOf(el, ".trip_type"),
			HelpfulVotes: helpfulVotes(el, ".helpful_text"),
			ReviewID:     el.AttrOr("data-reviewid", ""),
		}
		// Bubble classes encode tenths: bubble_45 is 4.5.
		if r := el.Find(".ui_bubble_rating").First(); r.Length() > 0 {
			if v := ratingFromClasses(r, reBubbleClass); v != nil {
				rv.Rating = ptr(*v / 10)
			}
		}
		out = append(out, rv)
	})
	return out
}

func parseAppStore(root *goquery.Selection) []models.ReviewRecord {
	var out []models.ReviewRecord
	root.Find(".we-customer-review").Each(func(_ int, el *goquery.Selection) {
		rv := models.ReviewRecord{
			ReviewerName: textOf(el, ".we-customer-review__user"),
			Title:        textOf(el, ".we-customer-review__title"),
			Date:         textOf(el, ".we-customer-review__date"),
			Text:         textOf(el, ".we-customer-review__body"),
			AppVersion:   textOf(el, ".we-customer-review__version"),
		}
		if datetime := el.Find(".we-customer-review__date").AttrOr("datetime", ""); datetime != "" {
			rv.DateParsed = parseReviewDate(datetime)
		}
		rv.Rating = ratingFromLabel(el.Find(".we-customer-review__rating").AttrOr("aria-label", ""))
		out = append(out, rv)
	})
	return out
}

func parseGooglePlay(root *goquery.Selection) []models.ReviewRecord {
	var out []models.ReviewRecord
	root.Find("[data-reviewid]").Each(func(_ int, el *goquery.Selection) {
		rv := models.ReviewRecord{
			ReviewerName: textOf(el, ".author-name"),
			Date:         textOf(el, ".review-date"),
			Text:         textOf(el, ".review-body, .review-text"),
			HelpfulVotes: helpfulVotes(el, ".review-info-bar-thumbs-up"),
			ReviewID:     el.AttrOr("data-reviewid", ""),
		}
		rv.Rating = ratingFromLabel(el.Find(".rating-bar-container, [role=img][aria-label*=star]").AttrOr("aria-label", ""))
		out = append(out, rv)
	})
	return out
}

// ratingFromLabel reads "4 out of 5 stars" or "4 stars" style labels.
func ratingFromLabel(label string) *float64 {
	label = strings.ToLower(label)
	m := reOutOf.FindStringSubmatch(label)
	if m == nil {
		m = reStarsLabel.FindStringSubmatch(label)
	}
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	return &v
}

// ratingFromClasses reads the rating from a class such as stars_4 or
// bubble_45. A trailing _half adds 0.5.
func ratingFromClasses(el *goquery.Selection, re *regexp.Regexp) *float64 {
	for _, cls := range strings.Fields(el.AttrOr("class", "")) {
		m := re.FindStringSubmatch(cls)
		if m == nil {
			continue
		}
		half := strings.HasSuffix(m[1], "_half")
		v, err := strconv.ParseFloat(strings.TrimSuffix(m[1], "_half"), 64)
		if err != nil {
			continue
		}
		if half {
			v += 0.5
		}
		return &v
	}
	return nil
}

var (
	genericContainerSelector = `.review, [itemtype*="Review"], .review-content, .review-container, ` +
		`.customer-review, .user-review, [data-review-id], .comment, .testimonial`
	genericNameSelectors = []string{
		".author", ".reviewer", ".user", ".name", ".customer-name",
		`[itemprop="author"]`, ".review-author", "h3", "h4",
	}
	genericRatingSelectors = []string{
		".rating", ".stars", `[itemprop="ratingValue"]`, `[class*="star"]`, `[class*="rating"]`,
	}
	genericTitleSelectors = []string{
		".review-title", ".title", "h3", "h4", `[itemprop="headline"]`, ".review-heading",
	}
	genericDateSelectors = []string{
		".date", ".review-date", "time", `[itemprop="datePublished"]`, ".review-time",
	}
	genericTextSelectors = []string{
		".review-text", ".text", ".content", ".description",
		`[itemprop="reviewBody"]`, ".review-content", "p",
	}
)

const minLooseReviewText = 30

// parseGeneric reads conventional review containers. Without any, it pairs
// each rating element with the next long paragraph in document order.
func parseGeneric(root *goquery.Selection) []models.ReviewRecord {
	containers := root.Find(genericContainerSelector)
	if containers.Length() == 0 {
		return parseLooseReviews(root)
	}

	var out []models.ReviewRecord
	containers.Each(func(_ int, el *goquery.Selection) {
		rv := models.ReviewRecord{
			ReviewerName: extract.FirstText(el, genericNameSelectors...),
			Title:        extract.FirstText(el, genericTitleSelectors...),
			Date:         extract.FirstText(el, genericDateSelectors...),
			Text:         extract.FirstText(el, genericTextSelectors...),
		}
		if dt := el.Find(`time[datetime], [itemprop="datePublished"][content]`).First(); dt.Length() > 0 {
			rv.DateParsed = parseReviewDate(dt.AttrOr("datetime", dt.AttrOr("content", "")))
		}
		for _, css := range genericRatingSelectors {
			if r := el.Find(css).First(); r.Length() > 0 {
				if rv.Rating = genericRating(r); rv.Rating != nil {
					break
				}
			}
		}
		if rv.Text != "" || rv.Rating != nil {
			out = append(out, rv)
		}
	})
	return out
}

// genericRating tries text, then rating-ish class names, then aria-label
// and the microdata content attribute.
func genericRating(r *goquery.Selection) *float64 {
	if v, ok := numberIn(extract.CleanText(r.Text())); ok {
		return &v
	}
	if v := ratingFromClassDigits(r); v != nil {
		return v
	}
	if v, ok := numberIn(r.AttrOr("aria-label", "")); ok {
		return &v
	}
	if v, ok := numberIn(r.AttrOr("content", "")); ok {
		return &v
	}
	return nil
}

func ratingFromClassDigits(r *goquery.Selection) *float64 {
	for _, cls := range strings.Fields(r.AttrOr("class", "")) {
		lc := strings.ToLower(cls)
		if !strings.Contains(lc, "star") && !strings.Contains(lc, "rating") {
			continue
		}
		if m := reClassDigits.FindString(cls); m != "" {
			v, _ := strconv.ParseFloat(m, 64)
			return &v
		}
	}
	return nil
}

func parseLooseReviews(root *goquery.Selection) []models.ReviewRecord {
	order := documentOrder(root)
	var out []models.ReviewRecord
	root.Find(`.rating, .stars, [class*="star"], [class*="rating"]`).Each(func(_ int, r *goquery.Selection) {
		at, ok := order.index[r.Nodes[0]]
		if !ok {
			return
		}
		para := order.next(at, func(n *html.Node) bool {
			return n.Data == "p" && len(extract.CleanText(nodeText(n))) > minLooseReviewText
		})
		if para == nil {
			return
		}

		rv := models.ReviewRecord{Text: extract.CleanText(nodeText(para))}
		if v, ok := numberIn(r.AttrOr("aria-label", "")); ok {
			rv.Rating = &v
		} else {
			rv.Rating = ratingFromClassDigits(r)
		}
		if name := order.prev(at, func(n *html.Node) bool {
			return n.Data == "h3" || n.Data == "h4" || n.Data == "strong"
		}); name != nil {
			rv.ReviewerName = extract.CleanText(nodeText(name))
		}
		if date := order.next(at, func(n *html.Node) bool {
			if n.Data == "time" {
				return true
			}
			cls := strings.ToLower(attr(n, "class"))
			return strings.Contains(cls, "date") || strings.Contains(cls, "time")
		}); date != nil {
			rv.Date = extract.CleanText(nodeText(date))
		}
		out = append(out, rv)
	})
	return out
}

// elementOrder is the document-order list of element nodes.
type elementOrder struct {
	nodes []*html.Node
	index map[*html.Node]int
}

func documentOrder(root *goquery.Selection) elementOrder {
	o := elementOrder{index: make(map[*html.Node]int)}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			o.index[n] = len(o.nodes)
			o.nodes = append(o.nodes, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range root.Nodes {
		walk(n)
	}
	return o
}

func (o elementOrder) next(from int, match func(*html.Node) bool) *html.Node {
	for i := from + 1; i < len(o.nodes); i++ {
		if match(o.nodes[i]) {
			return o.nodes[i]
		}
	}
	return nil
}

func (o elementOrder) prev(from int, match func(*html.Node) bool) *html.Node {
	for i := from - 1; i >= 0; i-- {
		if match(o.nodes[i]) {
			return o.nodes[i]
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
