package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/harvest/models"
)

func TestDetectSite(t *testing.T) {
	tests := []struct {
		name string
		url  string
		html string
		want Site
	}{
		{"amazon url", "https://www.amazon.co.uk/dp/B0001", "", SiteAmazon},
		{"yelp url", "https://www.yelp.com/biz/cafe", "", SiteYelp},
		{"tripadvisor url", "https://www.tripadvisor.com/Hotel_Review", "", SiteTripAdvisor},
		{"app store url", "https://apps.apple.com/us/app/x/id1", "", SiteAppStore},
		{"google play url", "https://play.google.com/store/apps/details?id=x", "", SiteGooglePlay},
		{"amazon dom", "https://mirror.test/", `<div id="cm_cr-review_list"></div>`, SiteAmazon},
		{"yelp dom", "https://mirror.test/", `<div class="review-content"></div>`, SiteYelp},
		{"tripadvisor dom", "https://mirror.test/", `<div data-reviewid="9"></div>`, SiteTripAdvisor},
		{"generic", "https://shop.test/reviews", `<div class="review"></div>`, SiteGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := parseDoc(t, tt.html, tt.url)
			assert.Equal(t, tt.want, DetectSite(tt.url, doc.Query.Selection))
		})
	}
}

const amazonPage = `<html><body>
<h1 id="productTitle">Noise Cancelling Headphones</h1>
<img id="landingImage" src="/images/hp.jpg">
<span data-hook="rating-out-of-text">4.3 out of 5</span>
<span data-hook="total-review-count">2,481 global ratings</span>
<div id="cm_cr-review_list">
  <div id="R1" data-hook="review">
    <span class="a-profile-name">Ann</span>
    <a data-hook="review-title">Great sound</a>
    <i data-hook="review-star-rating">5.0 out of 5 stars</i>
    <span data-hook="review-date">Reviewed in the United States on January 2, 2024</span>
    <span data-hook="avp-badge">Verified Purchase</span>
    <span data-hook="review-body">Great product, works as described and arrived early.</span>
    <span data-hook="helpful-vote-statement">1,203 people found this helpful</span>
  </div>
  <div id="R2" data-hook="review">
    <span class="a-profile-name">Ann</span>
    <i data-hook="review-star-rating">5.0 out of 5 stars</i>
    <span data-hook="review-body">great product works as described and arrived early!</span>
  </div>
  <div id="R3" data-hook="review">
    <span class="a-profile-name">Bo</span>
    <i data-hook="review-star-rating">3.0 out of 5 stars</i>
    <span data-hook="review-date">Reviewed in Canada on March 5, 2023</span>
    <span data-hook="review-body">Average.</span>
  </div>
</div>
</body></html>`

func TestReview_Amazon(t *testing.T) {
	doc := parseDoc(t, amazonPage, "https://www.amazon.com/product-reviews/B01")
	page := NewReview().Parse(doc, "https://www.amazon.com/product-reviews/B01", 0)

	assert.Equal(t, string(SiteAmazon), page.SiteType)
	assert.Equal(t, "Noise Cancelling Headphones", page.Product.Name)
	assert.Equal(t, "https://www.amazon.com/images/hp.jpg", page.Product.ImageURL)
	require.NotNil(t, page.Product.AvgRating)
	assert.Equal(t, 4.3, *page.Product.AvgRating)
	require.NotNil(t, page.Product.ReviewCount)
	assert.Equal(t, 2481, *page.Product.ReviewCount)

	require.Len(t, page.Reviews, 2, "the near-duplicate by the same reviewer is dropped")
	first := page.Reviews[0]
	assert.Equal(t, "Ann", first.ReviewerName)
	assert.Equal(t, "Great sound", first.Title)
	assert.Equal(t, "2024-01-02", first.DateParsed)
	assert.True(t, first.VerifiedPurchase)
	require.NotNil(t, first.HelpfulVotes)
	assert.Equal(t, 1203, *first.HelpfulVotes)
	assert.Equal(t, "R1", first.ReviewID)
	assert.False(t, page.Reviews[1].VerifiedPurchase)

	stats := page.Statistics
	assert.Equal(t, 2, stats.TotalReviews)
	require.NotNil(t, stats.AverageRating)
	assert.Equal(t, 4.0, *stats.AverageRating)
	assert.Equal(t, map[string]int{"1": 0, "2": 0, "3": 1, "4": 0, "5": 1}, stats.RatingDistribution)
	assert.Equal(t, 50.0, stats.RatingPercentage["5"])
	require.NotNil(t, stats.DateRange)
	assert.Equal(t, models.DateRange{Earliest: "2023-03-05", Latest: "2024-01-02"}, *stats.DateRange)
	assert.Equal(t, 2, page.ReviewCount)
	assert.False(t, page.MaxReviewsReached)
}

func TestReview_MaxReviews(t *testing.T) {
	doc := parseDoc(t, amazonPage, "https://www.amazon.com/r")
	page := NewReview().Parse(doc, "https://www.amazon.com/r", 1)
	assert.Len(t, page.Reviews, 1)
	assert.True(t, page.MaxReviewsReached)
}

func TestRatingFromLabel(t *testing.T) {
	tests := map[string]*float64{
		"4 out of 5 stars":  ptr(4.0),
		"Rated 3.5 out of 5": ptr(3.5),
		"5 stars":           ptr(5.0),
		"no rating":         nil,
	}
	for label, want := range tests {
		assert.Equal(t, want, ratingFromLabel(label), label)
	}
}

func TestReview_SiteParsers(t *testing.T) {
	t.Run("yelp", func(t *testing.T) {
		page := `<div class="review" data-review-id="y1">
			<a class="user-display-name">Cy</a>
			<div class="i-stars stars_4_half"></div>
			<span class="rating-qualifier">6/14/2022</span>
			<div class="review-content"><p>Lovely brunch spot.</p></div>
			<a class="review-footer-action">Useful 3</a><a class="review-footer-action">Cool</a>
		</div>`
		got := parseYelp(parseDoc(t, page, "").Query.Selection)
		require.Len(t, got, 1)
		assert.Equal(t, "Cy", got[0].ReviewerName)
		require.NotNil(t, got[0].Rating)
		assert.Equal(t, 4.5, *got[0].Rating)
		assert.Equal(t, map[string]int{"useful": 3, "cool": 0}, got[0].Reactions)
		assert.Equal(t, "2022-06-14", parseReviewDate(got[0].Date))
	})

	t.Run("tripadvisor", func(t *testing.T) {
		page := `<div class="review-container" data-reviewid="t1">
			<div class="info_text">Dee</div>
			<span class="ui_bubble_rating bubble_45"></span>
			<span class="ratingDate">Reviewed May 4, 2021</span>
			<div class="review-body">Clean rooms.</div>
			<span class="trip_type">Traveled as a couple</span>
		</div>`
		got := parseTripAdvisor(parseDoc(t, page, "").Query.Selection)
		require.Len(t, got, 1)
		require.NotNil(t, got[0].Rating)
		assert.Equal(t, 4.5, *got[0].Rating)
		assert.Equal(t, "Traveled as a couple", got[0].TripType)
		assert.Equal(t, "t1", got[0].ReviewID)
		assert.Equal(t, "2021-05-04", parseReviewDate(got[0].Date))
	})

	t.Run("app store", func(t *testing.T) {
		page := `<div class="we-customer-review">
			<span class="we-customer-review__user">Eve</span>
			<h3 class="we-customer-review__title">Handy</h3>
			<figure class="we-customer-review__rating" aria-label="4 out of 5 stars"></figure>
			<time class="we-customer-review__date" datetime="2023-09-01T00:00:00Z">09/01/2023</time>
			<blockquote class="we-customer-review__body">Does the job.</blockquote>
			<p class="we-customer-review__version">Version 2.1</p>
		</div>`
		got := parseAppStore(parseDoc(t, page, "").Query.Selection)
		require.Len(t, got, 1)
		require.NotNil(t, got[0].Rating)
		assert.Equal(t, 4.0, *got[0].Rating)
		assert.Equal(t, "Version 2.1", got[0].AppVersion)
		assert.Equal(t, "2023-09-01", got[0].DateParsed)
	})
}

func TestReview_GenericContainers(t *testing.T) {
	page := `<div class="customer-review">
		<span class="author">Fay</span>
		<span class="rating star-4"></span>
		<h4 class="review-title">Solid</h4>
		<time datetime="2022-02-02">Feb 2</time>
		<p>Does what it says.</p>
	</div>
	<div class="customer-review"><span class="author">Empty</span></div>`

	got := parseGeneric(parseDoc(t, page, "").Query.Selection)
	require.Len(t, got, 1, "containers without text or rating are skipped")
	assert.Equal(t, "Fay", got[0].ReviewerName)
	assert.Equal(t, "Solid", got[0].Title)
	require.NotNil(t, got[0].Rating)
	assert.Equal(t, 4.0, *got[0].Rating)
	assert.Equal(t, "Does what it says.", got[0].Text)
	assert.Equal(t, "2022-02-02", got[0].DateParsed)
}

func TestDedupeReviews(t *testing.T) {
	in := []models.ReviewRecord{
		{ReviewerName: "Ann", Text: "Great blender, crushes ice in seconds and is easy to clean."},
		{ReviewerName: "Ann", Text: "Great blender, crushes ice in seconds and is easy to clean!"},
		{ReviewerName: "Bob", Text: "Great blender, crushes ice in seconds and is easy to clean."},
		{Text: "Works fine for smoothies every morning without any trouble."},
		{Text: "Works fine for smoothies every morning without any trouble!"},
		{Text: "Works fine for smoothies every morning without any trouble."},
		{Text: "Works fine for smoothies every morning without any trouble.", Date: "May 2"},
	}
	got := dedupeReviews(in)
	require.Len(t, got, 5)
	assert.Equal(t, "Ann", got[0].ReviewerName)
	assert.Equal(t, "Bob", got[1].ReviewerName)
	assert.Empty(t, got[2].ReviewerName)
	assert.Equal(t, "Works fine for smoothies every morning without any trouble!", got[3].Text)
	assert.Equal(t, "May 2", got[4].Date)
}

func TestReview_GenericLooseHeuristic(t *testing.T) {
	page := `<section>
		<h4>Jane</h4>
		<span class="stars" aria-label="4 out of 5"></span>
		<p>Too short.</p>
		<p>This is a long enough review text to be considered a real review.</p>
		<time>March 3, 2023</time>
	</section>`

	got := parseGeneric(parseDoc(t, page, "").Query.Selection)
	require.Len(t, got, 1)
	assert.Equal(t, "Jane", got[0].ReviewerName)
	require.NotNil(t, got[0].Rating)
	assert.Equal(t, 4.0, *got[0].Rating)
	assert.Equal(t, "This is a long enough review text to be considered a real review.", got[0].Text)
	assert.Equal(t, "March 3, 2023", got[0].Date)
}

func TestReviewStatistics_Empty(t *testing.T) {
	stats := ReviewStatistics(nil)
	assert.Equal(t, 0, stats.TotalReviews)
	assert.Nil(t, stats.AverageRating)
	assert.Nil(t, stats.DateRange)
	assert.Len(t, stats.RatingDistribution, 5)
}

func TestReviewStatistics_Buckets(t *testing.T) {
	reviews := []models.ReviewRecord{
		{Rating: ptr(0.4), Text: "ab"},
		{Rating: ptr(4.5), Text: "abcd"},
		{Rating: ptr(7.0)},
		{Text: "abcdef"},
	}
	stats := ReviewStatistics(reviews)
	assert.Equal(t, 3, stats.HasRatingCount)
	assert.Equal(t, 3, stats.HasTextCount)
	assert.Equal(t, 4, stats.TextLengthAvg)
	assert.Equal(t, map[string]int{"1": 1, "2": 0, "3": 0, "4": 1, "5": 1}, stats.RatingDistribution)
	assert.Equal(t, 33.3, stats.RatingPercentage["1"])
}

func TestReview_Plan(t *testing.T) {
	plan := NewReview().Plan("https://www.amazon.com/product-reviews/B01", "<html></html>")
	assert.Equal(t, `.review, [data-hook="review"]`, plan.ItemSelector)
	require.NotEmpty(t, plan.Buttons)
	assert.Equal(t, models.ButtonTarget{Selector: ".a-pagination a", Text: "next page"}, plan.Buttons[0])
	assert.Equal(t, genericButtons[len(genericButtons)-1], plan.Buttons[len(plan.Buttons)-1])

	generic := NewReview().Plan("https://shop.test/", `<div class="review"></div>`)
	assert.Equal(t, sites[SiteGeneric].countSelector, generic.ItemSelector)
	assert.Equal(t, genericButtons, generic.Buttons)

	var _ models.Paginator = NewReview()
}
