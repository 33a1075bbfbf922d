package extractor

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/harvest/extract"
	"github.com/use-agent/harvest/models"
)

// Selector cascades, in priority order.
var (
	productTitleSelectors = []string{
		"h1.product-title", "h1.product-name", "h1.product_title",
		"h1.productTitle", "h1.product_name", "h1.title",
		"#productTitle", ".product-title h1", ".product-name h1",
		`[data-testid="product-title"]`, ".pdp-title", ".product-detail-name",
		".product-single__title", ".product-meta__title",
	}
	productPriceSelectors = []string{
		".product-price", ".price", ".offer-price",
		"#priceblock_ourprice", ".current-price",
		"[data-price]", `[itemprop="price"]`, ".product_price",
		".price-current", ".price-sales", ".sales-price",
		".product-meta__price", ".price__current", ".product__price",
		`[data-testid="product-price"]`, ".pdp-price", ".product-price-container",
	}
	productCurrencySelectors = []string{
		".product-price", ".price", ".offer-price", "#priceblock_ourprice", ".current-price",
	}
	productDescriptionSelectors = []string{
		"#product-description", ".product-description",
		`[itemprop="description"]`, "#description",
		".description", ".product-info__description",
		".product-single__description", ".product__description",
		`[data-testid="product-description"]`, ".pdp-description",
		".product-details__description",
	}
	productFeatureSelectors = []string{
		".product-features ul", "#feature-bullets ul",
		".features-list", ".product-attributes ul",
		".product-specs ul", "#productDetails ul",
		".key-features", ".feature-list", `[data-testid="product-features"]`,
	}
	productSpecSelectors = []string{
		".specifications", ".product-specs", ".tech-specs",
		".product-information__specifications", ".product-specifications",
		`[data-testid="product-specifications"]`, ".pdp-specs",
	}
	productGallerySelectors = []string{
		".product-image-gallery img", ".product-gallery img",
		".product__image-wrapper img", "#imageBlock img",
		".product-images img", ".woocommerce-product-gallery img",
		".product-single__photos img", ".product__photos img",
		`[data-testid="product-gallery"] img`, ".pdp-images img",
	}
	productMainImageSelectors = []string{
		".product-image img", "#main-image",
		".main-image img", `img[itemprop="image"]`,
		".product__featured-image", ".product-hero-image img",
	}
	productRatingSelectors = []string{
		".rating-value", ".product-rating", ".review-rating",
		`[itemprop="ratingValue"]`, ".stars-rating",
		".product-ratings", ".rating-stars", ".star-rating",
		`[data-testid="product-rating"]`, ".pdp-rating",
	}
	productReviewCountSelectors = []string{
		".review-count", "#reviewCount", `[itemprop="reviewCount"]`,
		".ratings-count", ".rating-count", ".review-links",
		".product-ratings__count", ".product__reviews-count",
		`[data-testid="product-reviews-count"]`, ".pdp-review-count",
	}
	productAvailabilitySelectors = []string{
		".availability", ".stock-status", `[itemprop="availability"]`,
		".product-availability", "#availability",
		".product__availability", ".product-stock",
		`[data-testid="product-availability"]`, ".pdp-availability",
	}
	productBrandSelectors = []string{
		".brand", `[itemprop="brand"]`, ".product-brand",
		".manufacturer", ".vendor", ".product-meta__vendor",
		".product__vendor", `[data-testid="product-brand"]`, ".pdp-brand",
	}
	productSKUSelectors = []string{
		`[itemprop="sku"]`, ".sku", ".product-sku",
		".product-code", "#product-code", ".product-meta__sku",
		".product__sku", `[data-testid="product-sku"]`,
		".pdp-sku", "[data-product-sku]",
	}
	productCategorySelectors = []string{
		`[itemtype*="BreadcrumbList"] [itemprop="name"]`,
		`nav[aria-label="breadcrumb"] li`, `nav[aria-label="Breadcrumb"] li`,
		".breadcrumb li", ".breadcrumbs li", ".breadcrumb a", ".breadcrumbs a",
		".woocommerce-breadcrumb a", `[data-testid="breadcrumbs"] a`,
	}
	productVariantSelectors = []string{
		`select[name*="option"]`, `select[name*="variant"]`, "select.variant-select",
		`select[data-option]`, `select[id*="variant"]`, `select[id*="option"]`,
	}
	productSwatchSelectors = []string{
		"[data-variant]", ".swatch-element", ".variant-option", ".swatch",
	}
)

// currencySymbols is scanned in order, so multi-character symbols that
// end in "$" precede the bare dollar sign.
var currencySymbols = []struct{ symbol, code string }{
	{"C$", "CAD"}, {"A$", "AUD"}, {"R$", "BRL"}, {"kr", "SEK"},
	{"$", "USD"}, {"€", "EUR"}, {"£", "GBP"}, {"¥", "JPY"},
	{"₹", "INR"}, {"₽", "RUB"}, {"฿", "THB"}, {"₩", "KRW"},
}

var (
	reNumber      = regexp.MustCompile(`[\d,]+\.?\d*`)
	reRating      = regexp.MustCompile(`\d+(\.\d+)?`)
	reInteger     = regexp.MustCompile(`\d+`)
	reWidthPct    = regexp.MustCompile(`width:\s*(\d+(?:\.\d+)?)%`)
	reLabeledSKU  = regexp.MustCompile(`(?i)(?:SKU|Item|Product Code|Model)(?:\s*(?::|#))?\s*([A-Z0-9\-]+)`)
	reSKUPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bSKU\s*(?::|#)?\s*([A-Z0-9\-]+)`),
		regexp.MustCompile(`(?i)\bItem\s*(?::|#)?\s*([A-Z0-9\-]+)`),
		regexp.MustCompile(`(?i)\bProduct Code\s*(?::|#)?\s*([A-Z0-9\-]+)`),
		regexp.MustCompile(`(?i)\bModel\s*(?::|#)?\s*([A-Z0-9\-]+)`),
	}
)

// Product extracts a fixed-shape product record.
type Product struct{}

// NewProduct creates a Product extractor.
func NewProduct() *Product { return &Product{} }

// Extract implements Extractor.
func (p *Product) Extract(doc *extract.Document, in *Input) (models.Record, error) {
	rec := p.Parse(doc, in.URL).ToRecord()
	if in.IncludeRawHTML {
		rec["raw_html"] = in.HTML
	}
	return rec, nil
}

// Parse runs every attribute cascade. JSON-LD Product blocks fill
// attributes the markup does not carry.
func (p *Product) Parse(doc *extract.Document, pageURL string) *models.ProductRecord {
	root := doc.Query.Selection
	ld := doc.JSONLDOfType("Product")

	rec := &models.ProductRecord{
		URL:            pageURL,
		Title:          productTitle(root),
		Price:          productPrice(root),
		Currency:       productCurrency(root),
		Description:    productDescription(root),
		Features:       productFeatures(root),
		Specifications: productSpecifications(root),
		Images:         productImages(doc),
		Rating:         productRating(root),
		ReviewCount:    productReviewCount(root),
		Availability:   productAvailability(root),
		Brand:          productBrand(root),
		SKU:            productSKU(root),
		StructuredData: ld,
	}
	rec.Categories = productCategories(root, rec.Title)
	rec.Variants = productVariants(root)

	if len(ld) > 0 {
		fillFromJSONLD(rec, ld[0])
	}
	return rec
}

func productTitle(root *goquery.Selection) string {
	if t := extract.FirstText(root, productTitleSelectors...); t != "" {
		return t
	}
	if t := extract.FirstText(root, "h1"); t != "" {
		return t
	}
	return extract.FirstText(root, "title")
}

// parsePrice takes the first numeric run, drops thousands separators and
// parses it as a float.
func parsePrice(text string) (float64, bool) {
	for _, m := range reNumber.FindAllString(text, -1) {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func productPrice(root *goquery.Selection) *float64 {
	for _, css := range productPriceSelectors {
		el := root.Find(css).First()
		if el.Length() == 0 {
			continue
		}
		text := extract.CleanText(el.Text())
		if text == "" {
			text = el.AttrOr("content", el.AttrOr("data-price", ""))
		}
		if v, ok := parsePrice(text); ok {
			return &v
		}
	}
	if content := extract.MetaContent(root, "itemprop", "price"); content != "" {
		if v, err := strconv.ParseFloat(content, 64); err == nil {
			return &v
		}
	}

	// Last resort: any element with "price" in an attribute value.
	var found *float64
	root.Find("*").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !attrContains(s, "price") {
			return true
		}
		if v, ok := parsePrice(extract.CleanText(s.Text())); ok {
			found = &v
			return false
		}
		return true
	})
	return found
}

func attrContains(s *goquery.Selection, needle string) bool {
	if len(s.Nodes) == 0 {
		return false
	}
	for _, a := range s.Nodes[0].Attr {
		if strings.Contains(strings.ToLower(a.Val), needle) {
			return true
		}
	}
	return false
}

// currencyFromText returns the ISO code of the first known symbol in text.
func currencyFromText(text string) string {
	for _, c := range currencySymbols {
		if strings.Contains(text, c.symbol) {
			return c.code
		}
	}
	return ""
}

func productCurrency(root *goquery.Selection) string {
	for _, css := range productCurrencySelectors {
		el := root.Find(css).First()
		if el.Length() == 0 {
			continue
		}
		if code := currencyFromText(el.Text()); code != "" {
			return code
		}
	}
	return extract.MetaContent(root, "itemprop", "priceCurrency")
}

func productDescription(root *goquery.Selection) string {
	if d := extract.FirstText(root, productDescriptionSelectors...); d != "" {
		return d
	}
	return extract.MetaContent(root, "name", "description")
}

func productFeatures(root *goquery.Selection) []string {
	for _, css := range productFeatureSelectors {
		el := root.Find(css).First()
		if el.Length() == 0 {
			continue
		}
		if items := texts(el.Find("li")); len(items) > 0 {
			return items
		}
	}

	var out []string
	root.Find("div, section").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(s.AttrOr("class", "")), "feature") {
			return true
		}
		out = texts(s.Find("p"))
		return len(out) == 0
	})
	return out
}

func productSpecifications(root *goquery.Selection) map[string]string {
	specs := make(map[string]string)
	for _, css := range productSpecSelectors {
		root.Find(css).Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("th, td")
			if cells.Length() < 2 {
				return
			}
			key := extract.CleanText(cells.Eq(0).Text())
			val := extract.CleanText(cells.Eq(1).Text())
			if key != "" && val != "" {
				specs[key] = val
			}
		})
		root.Find(css).Find("dl").Each(func(_ int, dl *goquery.Selection) {
			dts, dds := dl.Find("dt"), dl.Find("dd")
			for i := 0; i < min(dts.Length(), dds.Length()); i++ {
				key := extract.CleanText(dts.Eq(i).Text())
				val := extract.CleanText(dds.Eq(i).Text())
				if key != "" && val != "" {
					specs[key] = val
				}
			}
		})
	}
	if len(specs) == 0 {
		return nil
	}
	return specs
}

func productImages(doc *extract.Document) []string {
	root := doc.Query.Selection
	collect := func(selectors []string, all bool) []string {
		for _, css := range selectors {
			var out []string
			seen := make(map[string]struct{})
			root.Find(css).EachWithBreak(func(_ int, s *goquery.Selection) bool {
				src := imageSource(s)
				if src == "" {
					return true
				}
				abs := doc.Resolve(src)
				if _, dup := seen[abs]; !dup {
					seen[abs] = struct{}{}
					out = append(out, abs)
				}
				return all
			})
			if len(out) > 0 {
				return out
			}
		}
		return nil
	}
	if imgs := collect(productGallerySelectors, true); len(imgs) > 0 {
		return imgs
	}
	return collect(productMainImageSelectors, false)
}

func imageSource(s *goquery.Selection) string {
	for _, attr := range []string{"data-src", "data-lazy-src", "data-old-hires", "src", "content"} {
		if v := strings.TrimSpace(s.AttrOr(attr, "")); v != "" && !strings.HasPrefix(v, "data:") {
			return v
		}
	}
	return ""
}

func productRating(root *goquery.Selection) *float64 {
	for _, css := range productRatingSelectors {
		el := root.Find(css).First()
		if el.Length() == 0 {
			continue
		}
		if m := reRating.FindString(el.Text()); m != "" {
			if v, err := strconv.ParseFloat(m, 64); err == nil {
				return &v
			}
		}
	}
	var found *float64
	root.Find(".stars[style], .rating[style]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, ok := ratingFromWidth(s.AttrOr("style", "")); ok {
			found = &v
			return false
		}
		return true
	})
	if found != nil {
		return found
	}
	if content := extract.MetaContent(root, "itemprop", "ratingValue"); content != "" {
		if v, err := strconv.ParseFloat(content, 64); err == nil {
			return &v
		}
	}
	return nil
}

// ratingFromWidth converts a star-bar "width: N%" style to a 0-5 rating
// rounded to one decimal.
func ratingFromWidth(style string) (float64, bool) {
	m := reWidthPct.FindStringSubmatch(style)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return math.Round(pct/100*5*10) / 10, true
}

func productReviewCount(root *goquery.Selection) *int {
	for _, css := range productReviewCountSelectors {
		el := root.Find(css).First()
		if el.Length() == 0 {
			continue
		}
		if n, ok := firstInt(el.Text()); ok {
			return &n
		}
	}
	if content := extract.MetaContent(root, "itemprop", "reviewCount"); content != "" {
		if n, err := strconv.Atoi(content); err == nil {
			return &n
		}
	}
	return nil
}

func firstInt(text string) (int, bool) {
	m := reInteger.FindString(strings.ReplaceAll(text, ",", ""))
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	return n, err == nil
}

// Availability labels.
const (
	AvailabilityInStock    = "In Stock"
	AvailabilityOutOfStock = "Out of Stock"
	AvailabilityPreOrder   = "Pre-Order"
	AvailabilityBackorder  = "Backorder"
)

// normalizeAvailability maps free text onto the availability labels.
// Negative phrases are checked first: "unavailable" contains "available".
func normalizeAvailability(text string) string {
	t := strings.ToLower(extract.CleanText(text))
	switch {
	case t == "":
		return ""
	case containsAny(t, "out of stock", "unavailable", "out-of-stock", "outofstock", "sold out"):
		return AvailabilityOutOfStock
	case containsAny(t, "pre-order", "preorder"):
		return AvailabilityPreOrder
	case containsAny(t, "backorder", "back-order"):
		return AvailabilityBackorder
	case containsAny(t, "in stock", "available", "in-stock", "instock"):
		return AvailabilityInStock
	}
	return strings.ToUpper(t[:1]) + t[1:]
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func productAvailability(root *goquery.Selection) string {
	for _, css := range productAvailabilitySelectors {
		el := root.Find(css).First()
		if el.Length() == 0 {
			continue
		}
		text := el.Text()
		if strings.TrimSpace(text) == "" {
			text = el.AttrOr("content", el.AttrOr("href", ""))
		}
		if a := normalizeAvailability(text); a != "" {
			return a
		}
	}
	content := strings.ToLower(extract.MetaContent(root, "itemprop", "availability"))
	switch {
	case strings.Contains(content, "outofstock"):
		return AvailabilityOutOfStock
	case strings.Contains(content, "instock"):
		return AvailabilityInStock
	}
	return ""
}

func productBrand(root *goquery.Selection) string {
	for _, css := range productBrandSelectors {
		el := root.Find(css).First()
		if el.Length() == 0 {
			continue
		}
		if _, scoped := el.Attr("itemscope"); scoped {
			if name := extract.Text(el.Find(`[itemprop="name"]`)); name != "" {
				return name
			}
			if name := el.Find(`meta[itemprop="name"]`).AttrOr("content", ""); name != "" {
				return strings.TrimSpace(name)
			}
		}
		if t := extract.CleanText(el.Text()); t != "" {
			return t
		}
	}
	return extract.MetaContent(root, "itemprop", "brand")
}

func productSKU(root *goquery.Selection) string {
	for _, css := range productSKUSelectors {
		el := root.Find(css).First()
		if el.Length() == 0 {
			continue
		}
		text := extract.CleanText(el.Text())
		if text == "" {
			text = strings.TrimSpace(el.AttrOr("data-product-sku", el.AttrOr("content", "")))
		}
		if text == "" {
			continue
		}
		if m := reLabeledSKU.FindStringSubmatch(text); m != nil {
			return m[1]
		}
		return text
	}

	// Codes found in free text must contain a digit.
	body := extract.CleanText(root.Find("body").Text())
	for _, re := range reSKUPatterns {
		for _, m := range re.FindAllStringSubmatch(body, -1) {
			if strings.ContainsAny(m[1], "0123456789") {
				return m[1]
			}
		}
	}
	return extract.MetaContent(root, "itemprop", "sku")
}

// productCategories reads the first breadcrumb trail, dropping the leading
// "Home" crumb and a trailing crumb equal to the product title.
func productCategories(root *goquery.Selection, title string) []string {
	for _, css := range productCategorySelectors {
		crumbs := texts(root.Find(css))
		if len(crumbs) == 0 {
			continue
		}
		var out []string
		seen := make(map[string]struct{})
		for _, c := range crumbs {
			c = strings.Trim(c, "/>›» ")
			if c == "" || strings.EqualFold(c, "home") || c == title {
				continue
			}
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// productVariants reads option lists, then swatches. Placeholder options
// with an empty value are skipped.
func productVariants(root *goquery.Selection) []models.Variant {
	for _, css := range productVariantSelectors {
		var out []models.Variant
		root.Find(css).Each(func(_ int, sel *goquery.Selection) {
			name := variantGroupName(root, sel)
			sel.Find("option").Each(func(_ int, opt *goquery.Selection) {
				value, hasValue := opt.Attr("value")
				label := extract.CleanText(opt.Text())
				if (hasValue && strings.TrimSpace(value) == "") || label == "" {
					return
				}
				out = append(out, models.Variant{Name: name, Value: label, Price: dataPrice(opt)})
			})
		})
		if len(out) > 0 {
			return out
		}
	}
	for _, css := range productSwatchSelectors {
		var out []models.Variant
		root.Find(css).Each(func(_ int, s *goquery.Selection) {
			value := strings.TrimSpace(s.AttrOr("data-value", s.AttrOr("data-variant", "")))
			if value == "" {
				value = extract.CleanText(s.Text())
			}
			if value == "" {
				value = strings.TrimSpace(s.AttrOr("title", s.AttrOr("aria-label", "")))
			}
			if value == "" {
				return
			}
			out = append(out, models.Variant{Name: strings.TrimSpace(s.AttrOr("data-option-name", "")), Value: value, Price: dataPrice(s)})
		})
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func variantGroupName(root, sel *goquery.Selection) string {
	if label := strings.TrimSpace(sel.AttrOr("aria-label", "")); label != "" {
		return label
	}
	if id := sel.AttrOr("id", ""); id != "" {
		if label := extract.Text(root.Find(fmt.Sprintf(`label[for=%q]`, id))); label != "" {
			return label
		}
	}
	return strings.TrimSpace(sel.AttrOr("name", ""))
}

func dataPrice(s *goquery.Selection) *float64 {
	raw := s.AttrOr("data-price", "")
	if raw == "" {
		return nil
	}
	if v, ok := parsePrice(raw); ok {
		return &v
	}
	return nil
}

// fillFromJSONLD fills empty attributes from a schema.org Product block.
func fillFromJSONLD(rec *models.ProductRecord, product any) {
	str := func(path string) string {
		return scalarString(extract.ResolvePath(product, strings.Split(path, ".")))
	}
	if rec.Title == "" {
		rec.Title = str("name")
	}
	if rec.Description == "" {
		rec.Description = str("description")
	}
	if rec.Brand == "" {
		if b := str("brand.name"); b != "" {
			rec.Brand = b
		} else {
			rec.Brand = str("brand")
		}
	}
	if rec.SKU == "" {
		rec.SKU = str("sku")
	}
	if rec.Price == nil {
		if v, ok := parsePrice(str("offers.price")); ok {
			rec.Price = &v
		} else if v, ok := parsePrice(str("offers.lowPrice")); ok {
			rec.Price = &v
		}
	}
	if rec.Currency == "" {
		rec.Currency = str("offers.priceCurrency")
	}
	if rec.Availability == "" {
		a := str("offers.availability")
		if i := strings.LastIndex(a, "/"); i >= 0 {
			a = a[i+1:]
		}
		rec.Availability = normalizeAvailability(a)
	}
	if rec.Rating == nil {
		if v, err := strconv.ParseFloat(str("aggregateRating.ratingValue"), 64); err == nil {
			rec.Rating = &v
		}
	}
	if rec.ReviewCount == nil {
		if n, ok := firstInt(str("aggregateRating.reviewCount")); ok {
			rec.ReviewCount = &n
		}
	}
	if len(rec.Images) == 0 {
		switch img := extract.ResolvePath(product, []string{"image"}).(type) {
		case string:
			rec.Images = []string{img}
		case []any:
			for _, v := range img {
				if s := scalarString(v); s != "" {
					rec.Images = append(rec.Images, s)
				}
			}
		}
	}
}

// scalarString renders a JSON scalar, or the first scalar of a list.
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		for _, e := range t {
			if s := scalarString(e); s != "" {
				return s
			}
		}
	}
	return ""
}

func texts(sel *goquery.Selection) []string {
	var out []string
	sel.Each(func(_ int, s *goquery.Selection) {
		if t := extract.CleanText(s.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}
