package extractor

import (
	"github.com/use-agent/harvest/extract"
	"github.com/use-agent/harvest/models"
)

// Custom runs a caller-supplied selector spec, or the template's when the
// input carries none.
func Custom(doc *extract.Document, in *Input) (models.Record, error) {
	spec := in.Selectors
	if len(spec) == 0 && in.Template != nil {
		spec = in.Template.Selectors
	}
	if len(spec) == 0 {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput, "custom extraction needs selectors", nil)
	}
	if err := extract.ValidateSpec(spec); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput, err.Error(), err)
	}

	rec := models.Record{
		"url":            in.URL,
		"extracted_data": map[string]any(doc.Extract(spec)),
	}
	if in.IncludeMetadata {
		rec["metadata"] = map[string]any(PageMetadata(doc))
	}
	if in.IncludeRawHTML {
		rec["raw_html"] = in.HTML
	}
	return rec, nil
}

// Patterns runs structural pattern detection with the input's vocabulary,
// the template's, or the built-in one.
func Patterns(doc *extract.Document, in *Input) (models.Record, error) {
	vocab := in.Patterns
	if len(vocab) == 0 && in.Template != nil {
		vocab = in.Template.Patterns
	}
	var patterns []extract.Pattern
	if len(vocab) > 0 {
		patterns = extract.PatternsFromMap(vocab)
	}

	found := doc.DetectPatterns(patterns)
	detected := make(map[string]any, len(found))
	summary := make(map[string]any, len(found))
	for name, items := range found {
		list := make([]any, len(items))
		for i, it := range items {
			list[i] = it
		}
		detected[name] = list
		summary[name] = len(items)
	}

	rec := models.Record{
		"url":               in.URL,
		"patterns_detected": detected,
		"pattern_summary":   summary,
		"metadata":          map[string]any{"title": pageTitle(doc)},
	}
	if in.IncludeRawHTML {
		rec["raw_html"] = in.HTML
	}
	return rec, nil
}
