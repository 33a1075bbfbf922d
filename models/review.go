package models

// ReviewRecord is one review in the uniform shape shared by every site parser.
type ReviewRecord struct {
	ReviewerName     string         `json:"reviewer_name,omitempty"`
	Title            string         `json:"title,omitempty"`
	Rating           *float64       `json:"rating,omitempty"`
	Date             string         `json:"date,omitempty"`
	DateParsed       string         `json:"date_parsed,omitempty"`
	Text             string         `json:"text,omitempty"`
	VerifiedPurchase bool           `json:"verified_purchase"`
	HelpfulVotes     *int           `json:"helpful_votes,omitempty"`
	ReviewID         string         `json:"review_id,omitempty"`
	Reactions        map[string]int `json:"reactions,omitempty"`
	TripType         string         `json:"trip_type,omitempty"`
	AppVersion       string         `json:"app_version,omitempty"`
}

// ReviewProduct describes the item the reviews are about.
type ReviewProduct struct {
	Name        string   `json:"name,omitempty"`
	ImageURL    string   `json:"image_url,omitempty"`
	Description string   `json:"description,omitempty"`
	AvgRating   *float64 `json:"avg_rating,omitempty"`
	ReviewCount *int     `json:"review_count,omitempty"`
}

// DateRange is the span of parsed review dates.
type DateRange struct {
	Earliest string `json:"earliest"`
	Latest   string `json:"latest"`
}

// ReviewStats aggregates a review list.
type ReviewStats struct {
	TotalReviews       int                `json:"total_reviews"`
	AverageRating      *float64           `json:"average_rating,omitempty"`
	RatingDistribution map[string]int     `json:"rating_distribution"`
	RatingPercentage   map[string]float64 `json:"rating_percentage,omitempty"`
	TextLengthAvg      int                `json:"text_length_avg"`
	HasRatingCount     int                `json:"has_rating_count"`
	HasTextCount       int                `json:"has_text_count"`
	DateRange          *DateRange         `json:"date_range,omitempty"`
}

// ReviewPage is the fixed-shape output of the review extractor.
type ReviewPage struct {
	URL               string         `json:"url"`
	SiteType          string         `json:"site_type"`
	Product           ReviewProduct  `json:"product"`
	Reviews           []ReviewRecord `json:"reviews"`
	Statistics        ReviewStats    `json:"statistics"`
	ReviewCount       int            `json:"review_count"`
	MaxReviewsReached bool           `json:"max_reviews_reached"`
}

// ToRecord converts a review into the dynamic record form.
func (r *ReviewRecord) ToRecord() Record {
	rec := Record{
		"reviewer_name":     nilIfEmpty(r.ReviewerName),
		"title":             nilIfEmpty(r.Title),
		"rating":            nil,
		"date":              nilIfEmpty(r.Date),
		"date_parsed":       nilIfEmpty(r.DateParsed),
		"text":              nilIfEmpty(r.Text),
		"verified_purchase": r.VerifiedPurchase,
		"helpful_votes":     nil,
		"review_id":         nilIfEmpty(r.ReviewID),
		"reactions":         nil,
	}
	if r.Rating != nil {
		rec["rating"] = *r.Rating
	}
	if r.HelpfulVotes != nil {
		rec["helpful_votes"] = *r.HelpfulVotes
	}
	if len(r.Reactions) > 0 {
		m := make(map[string]any, len(r.Reactions))
		for k, v := range r.Reactions {
			m[k] = v
		}
		rec["reactions"] = m
	}
	if r.TripType != "" {
		rec["trip_type"] = r.TripType
	}
	if r.AppVersion != "" {
		rec["app_version"] = r.AppVersion
	}
	return rec
}

// ToRecord converts the statistics into the dynamic record form.
func (s *ReviewStats) ToRecord() Record {
	dist := make(map[string]any, len(s.RatingDistribution))
	for k, v := range s.RatingDistribution {
		dist[k] = v
	}
	rec := Record{
		"total_reviews":       s.TotalReviews,
		"average_rating":      nil,
		"rating_distribution": dist,
		"text_length_avg":     s.TextLengthAvg,
		"has_rating_count":    s.HasRatingCount,
		"has_text_count":      s.HasTextCount,
	}
	if s.AverageRating != nil {
		rec["average_rating"] = *s.AverageRating
	}
	if len(s.RatingPercentage) > 0 {
		pct := make(map[string]any, len(s.RatingPercentage))
		for k, v := range s.RatingPercentage {
			pct[k] = v
		}
		rec["rating_percentage"] = pct
	}
	if s.DateRange != nil {
		rec["date_range"] = map[string]any{
			"earliest": s.DateRange.Earliest,
			"latest":   s.DateRange.Latest,
		}
	}
	return rec
}

// ToRecord converts the page into the dynamic record form.
func (p *ReviewPage) ToRecord() Record {
	reviews := make([]any, 0, len(p.Reviews))
	for i := range p.Reviews {
		reviews = append(reviews, map[string]any(p.Reviews[i].ToRecord()))
	}
	product := Record{
		"name":         nilIfEmpty(p.Product.Name),
		"image_url":    nilIfEmpty(p.Product.ImageURL),
		"description":  nilIfEmpty(p.Product.Description),
		"avg_rating":   nil,
		"review_count": nil,
	}
	if p.Product.AvgRating != nil {
		product["avg_rating"] = *p.Product.AvgRating
	}
	if p.Product.ReviewCount != nil {
		product["review_count"] = *p.Product.ReviewCount
	}
	return Record{
		"url":                 p.URL,
		"site_type":           p.SiteType,
		"product":             map[string]any(product),
		"reviews":             reviews,
		"statistics":          map[string]any(p.Statistics.ToRecord()),
		"review_count":        p.ReviewCount,
		"max_reviews_reached": p.MaxReviewsReached,
	}
}
