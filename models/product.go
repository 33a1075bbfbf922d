package models

// Variant is one purchasable option of a product.
type Variant struct {
	Name  string   `json:"name,omitempty"`
	Value string   `json:"value"`
	Price *float64 `json:"price,omitempty"`
}

// ProductRecord is the fixed-shape output of the product extractor.
type ProductRecord struct {
	URL            string            `json:"url"`
	Title          string            `json:"title,omitempty"`
	Price          *float64          `json:"price,omitempty"`
	Currency       string            `json:"currency,omitempty"`
	Description    string            `json:"description,omitempty"`
	Features       []string          `json:"features,omitempty"`
	Specifications map[string]string `json:"specifications,omitempty"`
	Images         []string          `json:"images,omitempty"`
	Rating         *float64          `json:"rating,omitempty"`
	ReviewCount    *int              `json:"review_count,omitempty"`
	Availability   string            `json:"availability,omitempty"`
	Brand          string            `json:"brand,omitempty"`
	SKU            string            `json:"sku,omitempty"`
	Categories     []string          `json:"categories,omitempty"`
	Variants       []Variant         `json:"variants,omitempty"`
	StructuredData []any             `json:"structured_data,omitempty"`
}

// ToRecord converts the product into the dynamic record form. Missing
// attributes are present as nil so every product has the same key set.
func (p *ProductRecord) ToRecord() Record {
	rec := Record{
		"url":             p.URL,
		"title":           nilIfEmpty(p.Title),
		"price":           nil,
		"currency":        nilIfEmpty(p.Currency),
		"description":     nilIfEmpty(p.Description),
		"features":        stringsToAny(p.Features),
		"specifications":  nil,
		"images":          stringsToAny(p.Images),
		"rating":          nil,
		"review_count":    nil,
		"availability":    nilIfEmpty(p.Availability),
		"brand":           nilIfEmpty(p.Brand),
		"sku":             nilIfEmpty(p.SKU),
		"categories":      stringsToAny(p.Categories),
		"variants":        nil,
		"structured_data": nil,
	}
	if p.Price != nil {
		rec["price"] = *p.Price
	}
	if p.Rating != nil {
		rec["rating"] = *p.Rating
	}
	if p.ReviewCount != nil {
		rec["review_count"] = *p.ReviewCount
	}
	if len(p.Specifications) > 0 {
		specs := make(map[string]any, len(p.Specifications))
		for k, v := range p.Specifications {
			specs[k] = v
		}
		rec["specifications"] = specs
	}
	if len(p.Variants) > 0 {
		vs := make([]any, 0, len(p.Variants))
		for _, v := range p.Variants {
			m := map[string]any{"value": v.Value}
			if v.Name != "" {
				m["name"] = v.Name
			}
			if v.Price != nil {
				m["price"] = *v.Price
			}
			vs = append(vs, m)
		}
		rec["variants"] = vs
	}
	if len(p.StructuredData) > 0 {
		rec["structured_data"] = p.StructuredData
	}
	return rec
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func stringsToAny(ss []string) any {
	if len(ss) == 0 {
		return nil
	}
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
