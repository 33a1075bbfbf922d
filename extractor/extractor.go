// Package extractor holds the data-type specific extraction strategies
// layered over package extract: general page metadata, products, reviews,
// caller-supplied selectors and structural pattern detection.
package extractor

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/use-agent/harvest/cleaner"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/extract"
	"github.com/use-agent/harvest/models"
)

// Input is everything an extractor may consult besides the parsed page.
type Input struct {
	URL  string
	HTML string

	// Selectors drives the custom extractor.
	Selectors models.SelectorSpec

	// Patterns overrides the pattern_detection vocabulary.
	Patterns map[string][]string

	// Template, when set, supplies selectors or patterns and is named in
	// the result.
	Template *config.Template

	IncludeMetadata bool
	IncludeRawHTML  bool

	// MaxReviews caps the review list. Zero uses DefaultMaxReviews.
	MaxReviews int
}

// Extractor turns a parsed page into a record.
type Extractor interface {
	Extract(doc *extract.Document, in *Input) (models.Record, error)
}

// Func adapts a function to Extractor.
type Func func(doc *extract.Document, in *Input) (models.Record, error)

// Extract calls f.
func (f Func) Extract(doc *extract.Document, in *Input) (models.Record, error) {
	return f(doc, in)
}

// Registry maps data-type tags to extractors.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]Extractor
	review *Review
}

// NewRegistry registers the built-in extractors for every data type.
func NewRegistry() *Registry {
	general := NewGeneral(cleaner.NewCleaner())
	review := NewReview()
	r := &Registry{byType: make(map[string]Extractor), review: review}
	r.Register(models.DataTypeGeneral, general)
	r.Register(models.DataTypeProduct, NewProduct())
	r.Register(models.DataTypeReview, review)
	r.Register(models.DataTypeCustom, Func(Custom))
	r.Register(models.DataTypePatternDetection, Func(Patterns))
	return r
}

// Register binds e to dataType, replacing any previous binding.
func (r *Registry) Register(dataType string, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[dataType] = e
}

// Types lists the registered data types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Supports reports whether dataType has an extractor.
func (r *Registry) Supports(dataType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byType[dataType]
	return ok
}

// Paginator returns the load-more planner for dataType, or nil when the
// data type has no paginated list.
func (r *Registry) Paginator(dataType string) models.Paginator {
	if dataType == models.DataTypeReview {
		return r.review
	}
	return nil
}

// Extract parses in.HTML and runs the extractor bound to dataType. An
// empty dataType means general; a template overrides dataType.
func (r *Registry) Extract(dataType string, in *Input) (models.Record, error) {
	if in.Template != nil {
		dataType = in.Template.DataType
	}
	if dataType == "" {
		dataType = models.DataTypeGeneral
	}

	r.mu.RLock()
	e, ok := r.byType[dataType]
	r.mu.RUnlock()
	if !ok {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput,
			fmt.Sprintf("unsupported data type %q", dataType), nil)
	}

	doc, err := extract.Parse(in.HTML, in.URL)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeParse, "failed to parse HTML", err)
	}

	rec, err := e.Extract(doc, in)
	if err != nil {
		slog.Warn("extractor: extraction failed", "url", in.URL, "data_type", dataType, "error", err)
		return nil, err
	}
	if in.Template != nil {
		rec["template"] = map[string]any{"name": in.Template.Name}
	}
	return rec, nil
}
