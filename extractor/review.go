package extractor

import (
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"

	"github.com/use-agent/harvest/extract"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/simhash"
)

// Site is a review site family with its own markup conventions.
type Site string

const (
	SiteAmazon      Site = "amazon"
	SiteYelp        Site = "yelp"
	SiteTripAdvisor Site = "tripadvisor"
	SiteAppStore    Site = "app_store"
	SiteGooglePlay  Site = "google_play"
	SiteGeneric     Site = "generic"
)

const (
	// DefaultMaxReviews caps the review list when the input sets no cap.
	DefaultMaxReviews = 100

	// duplicateDistance is the SimHash distance under which two reviews by
	// the same reviewer count as one.
	duplicateDistance = 3

	dateLayout = "2006-01-02"
)

var urlSites = []struct {
	needles []string
	site    Site
}{
	{[]string{"amazon."}, SiteAmazon},
	{[]string{"yelp."}, SiteYelp},
	{[]string{"tripadvisor.", "trip-advisor.", "trip_advisor."}, SiteTripAdvisor},
	{[]string{"apps.apple.com", "itunes.apple.com"}, SiteAppStore},
	{[]string{"play.google.com"}, SiteGooglePlay},
}

var domSites = []struct {
	selector string
	site     Site
}{
	{`#cm_cr-review_list, div[data-hook="review"]`, SiteAmazon},
	{"div.review-content, div.review__content", SiteYelp},
	{"div.review-container, div[data-reviewid]", SiteTripAdvisor},
	{".we-customer-review", SiteAppStore},
}

// DetectSite matches the URL first, then DOM fingerprints, and falls back
// to SiteGeneric.
func DetectSite(pageURL string, root *goquery.Selection) Site {
	lower := strings.ToLower(pageURL)
	for _, u := range urlSites {
		for _, n := range u.needles {
			if strings.Contains(lower, n) {
				return u.site
			}
		}
	}
	if root != nil {
		for _, d := range domSites {
			if root.Find(d.selector).Length() > 0 {
				return d.site
			}
		}
	}
	return SiteGeneric
}

// siteRules is the per-site parsing and pagination table.
type siteRules struct {
	parse func(root *goquery.Selection) []models.ReviewRecord

	// countSelector counts visible reviews during load-more.
	countSelector string
	buttons       []models.ButtonTarget
}

// genericButtons are tried after the site-specific ones.
var genericButtons = []models.ButtonTarget{
	{Selector: "button", Text: "load more"},
	{Selector: "button", Text: "show more"},
	{Selector: "a", Text: "load more"},
	{Selector: "a", Text: "more reviews"},
	{Selector: ".load-more"},
	{Selector: ".show-more"},
	{Selector: "#more-reviews"},
	{Selector: ".pagination-next"},
	{Selector: "button.more"},
	{Selector: `[data-testid="pagination-button-next"]`},
}

var sites = map[Site]siteRules{
	SiteAmazon: {
		parse:         parseAmazon,
		countSelector: `.review, [data-hook="review"]`,
		buttons: []models.ButtonTarget{
			{Selector: ".a-pagination a", Text: "next page"},
			{Selector: ".show-more-reviews"},
			{Selector: "#cm_cr-pagination_bar a.a-link-item-right"},
		},
	},
	SiteYelp: {
		parse:         parseYelp,
		countSelector: ".review",
		buttons:       []models.ButtonTarget{{Selector: "button.pagination-link-more"}},
	},
	SiteTripAdvisor: {
		parse:         parseTripAdvisor,
		countSelector: ".review-container",
		buttons:       []models.ButtonTarget{{Selector: ".load-more button"}, {Selector: ".more-results"}},
	},
	SiteAppStore: {
		parse:         parseAppStore,
		countSelector: ".we-customer-review",
	},
	SiteGooglePlay: {
		parse:         parseGooglePlay,
		countSelector: "[data-reviewid], .review-body",
	},
	SiteGeneric: {
		parse:         parseGeneric,
		countSelector: `.review, [itemtype*="Review"], .review-content, .review-container`,
	},
}

// Review extracts review lists with per-site parsers and aggregates
// statistics. It also plans load-more pagination for the browser path.
type Review struct{}

// NewReview creates a Review extractor.
func NewReview() *Review { return &Review{} }

// Plan implements models.Paginator.
func (r *Review) Plan(pageURL, html string) models.PaginationPlan {
	var root *goquery.Selection
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		root = doc.Selection
	}
	rules := sites[DetectSite(pageURL, root)]
	buttons := make([]models.ButtonTarget, 0, len(rules.buttons)+len(genericButtons))
	buttons = append(buttons, rules.buttons...)
	buttons = append(buttons, genericButtons...)
	return models.PaginationPlan{ItemSelector: rules.countSelector, Buttons: buttons}
}

// Extract implements Extractor.
func (r *Review) Extract(doc *extract.Document, in *Input) (models.Record, error) {
	return r.Parse(doc, in.URL, in.MaxReviews).ToRecord(), nil
}

// Parse detects the site, runs its parser, drops near-duplicates, applies
// the cap and computes statistics.
func (r *Review) Parse(doc *extract.Document, pageURL string, maxReviews int) *models.ReviewPage {
	if maxReviews <= 0 {
		maxReviews = DefaultMaxReviews
	}
	root := doc.Query.Selection
	site := DetectSite(pageURL, root)

	reviews := dedupeReviews(sites[site].parse(root))
	for i := range reviews {
		if reviews[i].DateParsed == "" && reviews[i].Date != "" {
			reviews[i].DateParsed = parseReviewDate(reviews[i].Date)
		}
	}
	if len(reviews) > maxReviews {
		reviews = reviews[:maxReviews]
	}
	if reviews == nil {
		reviews = []models.ReviewRecord{}
	}

	page := &models.ReviewPage{
		URL:               pageURL,
		SiteType:          string(site),
		Product:           reviewProduct(doc),
		Reviews:           reviews,
		Statistics:        ReviewStatistics(reviews),
		ReviewCount:       len(reviews),
		MaxReviewsReached: len(reviews) >= maxReviews,
	}
	slog.Debug("extractor: reviews parsed", "url", pageURL, "site", site, "reviews", len(reviews))
	return page
}

// dedupeReviews drops reviews whose text is a near-duplicate of an earlier
// review by the same reviewer. Unnamed reviews are only dropped when they
// repeat an earlier one exactly.
func dedupeReviews(in []models.ReviewRecord) []models.ReviewRecord {
	set := simhash.Set{Threshold: duplicateDistance}
	anonymous := make(map[string]struct{})
	out := in[:0]
	for _, rv := range in {
		if rv.ReviewerName == "" {
			key := rv.Title + "\x00" + rv.Date + "\x00" + rv.Text
			if _, dup := anonymous[key]; dup {
				continue
			}
			anonymous[key] = struct{}{}
		} else if set.Add(rv.ReviewerName, rv.Text) {
			continue
		}
		out = append(out, rv)
	}
	return out
}

var (
	productNameSelectors = []string{
		"h1.product-title", "h1.product-name", "h1.product_title",
		"#productTitle", `h1[itemprop="name"]`, ".product-name",
	}
	productImageSelectors = []string{
		"img.product-image", "#landingImage", ".product-image img",
		`img[itemprop="image"]`, ".gallery-image-container img",
	}
	reviewDescriptionSelectors = []string{
		"#productDescription", ".product-description", `[itemprop="description"]`,
		".description", "#product-description",
	}
	avgRatingSelectors = []string{
		`[data-hook="rating-out-of-text"]`, ".average-rating", ".rating",
		`[itemprop="ratingValue"]`, ".average",
	}
	totalReviewSelectors = []string{
		`[data-hook="total-review-count"]`, ".review-count", ".reviews-count",
		`[itemprop="reviewCount"]`, ".ratings-count",
	}
)

func reviewProduct(doc *extract.Document) models.ReviewProduct {
	root := doc.Query.Selection
	p := models.ReviewProduct{
		Name:        extract.FirstText(root, productNameSelectors...),
		Description: extract.FirstText(root, reviewDescriptionSelectors...),
	}
	for _, css := range productImageSelectors {
		if src := strings.TrimSpace(root.Find(css).First().AttrOr("src", "")); src != "" {
			p.ImageURL = doc.Resolve(src)
			break
		}
	}
	for _, css := range avgRatingSelectors {
		if v, ok := numberIn(extract.Text(root.Find(css))); ok {
			p.AvgRating = &v
			break
		}
	}
	for _, css := range totalReviewSelectors {
		if n, ok := firstInt(extract.Text(root.Find(css))); ok {
			p.ReviewCount = &n
			break
		}
	}
	return p
}

var reDateCandidate = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4}|[A-Za-z]+ \d{1,2}, \d{4}|\d{1,2} [A-Za-z]+ \d{4})`)

// parseReviewDate normalizes review date text such as "Reviewed in the
// United States on January 1, 2020" to 2020-01-01. Unparseable text
// yields "".
func parseReviewDate(text string) string {
	if i := strings.LastIndex(text, " on "); i >= 0 {
		text = text[i+len(" on "):]
	}
	text = strings.TrimPrefix(strings.TrimSpace(text), "Reviewed ")
	candidates := reDateCandidate.FindAllString(text, -1)
	candidates = append(candidates, strings.TrimSpace(text))
	for _, c := range candidates {
		if t, err := dateparse.ParseAny(c); err == nil {
			return t.Format(dateLayout)
		}
	}
	return ""
}

// ReviewStatistics aggregates a review list.
func ReviewStatistics(reviews []models.ReviewRecord) models.ReviewStats {
	stats := models.ReviewStats{
		TotalReviews:       len(reviews),
		RatingDistribution: map[string]int{"1": 0, "2": 0, "3": 0, "4": 0, "5": 0},
	}
	var ratingSum float64
	var textLen int
	var earliest, latest string
	for _, rv := range reviews {
		if rv.Rating != nil {
			stats.HasRatingCount++
			ratingSum += *rv.Rating
			bucket := int(math.Min(math.Max(math.RoundToEven(*rv.Rating), 1), 5))
			stats.RatingDistribution[strconv.Itoa(bucket)]++
		}
		if rv.Text != "" {
			stats.HasTextCount++
			textLen += len([]rune(rv.Text))
		}
		if d := rv.DateParsed; d != "" {
			if earliest == "" || d < earliest {
				earliest = d
			}
			if latest == "" || d > latest {
				latest = d
			}
		}
	}
	if stats.HasRatingCount > 0 {
		avg := math.Round(ratingSum/float64(stats.HasRatingCount)*10) / 10
		stats.AverageRating = &avg
		stats.RatingPercentage = make(map[string]float64, 5)
		for k, n := range stats.RatingDistribution {
			stats.RatingPercentage[k] = math.Round(float64(n)/float64(stats.HasRatingCount)*1000) / 10
		}
	}
	if stats.HasTextCount > 0 {
		stats.TextLengthAvg = int(math.Round(float64(textLen) / float64(stats.HasTextCount)))
	}
	if earliest != "" {
		stats.DateRange = &models.DateRange{Earliest: earliest, Latest: latest}
	}
	return stats
}

// numberIn parses the first decimal number in text.
func numberIn(text string) (float64, bool) {
	m := reRating.FindString(text)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	return v, err == nil
}
