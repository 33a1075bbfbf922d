package extractor

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/harvest/cleaner"
	"github.com/use-agent/harvest/extract"
	"github.com/use-agent/harvest/models"
)

// Default list caps for the general record.
const (
	DefaultLinkLimit  = 20
	DefaultImageLimit = 10
	textSampleLength  = 1000
)

// General extracts page-level metadata, links, images and main content.
type General struct {
	cleaner    *cleaner.Cleaner
	LinkLimit  int
	ImageLimit int
}

// NewGeneral creates a General extractor with the default caps.
func NewGeneral(c *cleaner.Cleaner) *General {
	return &General{cleaner: c, LinkLimit: DefaultLinkLimit, ImageLimit: DefaultImageLimit}
}

// Extract implements Extractor.
func (g *General) Extract(doc *extract.Document, in *Input) (models.Record, error) {
	root := doc.Query.Selection

	// ── 1. Head metadata ────────────────────────────────────────────
	rec := models.Record{
		"url":              in.URL,
		"title":            pageTitle(doc),
		"meta_description": metaDescription(doc),
		"meta_keywords":    extract.MetaContent(root, "name", "keywords"),
		"canonical_url":    canonicalURL(doc),
		"language":         pageLanguage(doc),
		"favicon":          favicon(doc),
		"open_graph":       stringMap(cleaner.PrefixedMeta(root, "og:")),
		"twitter_card":     stringMap(cleaner.PrefixedMeta(root, "twitter:")),
		"meta_tags":        stringMap(cleaner.MetaTags(root)),
	}

	// ── 2. Headings ─────────────────────────────────────────────────
	headings := make(map[string]any, 3)
	for _, tag := range []string{"h1", "h2", "h3"} {
		texts := []any{}
		root.Find(tag).Each(func(_ int, s *goquery.Selection) {
			if t := extract.CleanText(s.Text()); t != "" {
				texts = append(texts, t)
			}
		})
		headings[tag] = texts
	}
	rec["headings"] = headings

	// ── 3. Links and images ─────────────────────────────────────────
	allLinks := root.Find("a[href]").Length()
	links := cleaner.Links(root, doc.Base, g.LinkLimit)
	linkList := make([]any, 0, len(links))
	for _, l := range links {
		linkList = append(linkList, map[string]any{
			"href": l.Href, "text": l.Text, "title": l.Title, "is_external": l.External,
		})
	}
	rec["links"] = linkList
	rec["links_count"] = allLinks

	allImages := root.Find("img").Length()
	images := cleaner.Images(root, doc.Base, g.ImageLimit)
	imageList := make([]any, 0, len(images))
	for _, im := range images {
		m := map[string]any{"src": im.Src, "alt": im.Alt, "title": im.Title}
		if im.Width > 0 {
			m["width"] = im.Width
		}
		if im.Height > 0 {
			m["height"] = im.Height
		}
		imageList = append(imageList, m)
	}
	rec["images"] = imageList
	rec["images_count"] = allImages

	// ── 4. Main content ─────────────────────────────────────────────
	content := g.cleaner.MainContent(doc.Query, in.URL)
	rec["main_content"] = content.Text
	rec["content_source"] = content.Source
	rec["content_markdown"] = content.Markdown
	sample := []rune(content.Text)
	if len(sample) > textSampleLength {
		sample = sample[:textSampleLength]
	}
	rec["text_sample"] = string(sample)

	// ── 5. Structured data ──────────────────────────────────────────
	rec["json_ld"] = doc.JSONLD()

	if in.IncludeRawHTML {
		rec["raw_html"] = in.HTML
	}
	return rec, nil
}
