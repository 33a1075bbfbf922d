package cleaner

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Link is one anchor on a page.
type Link struct {
	Href     string `json:"href"`
	Text     string `json:"text,omitempty"`
	Title    string `json:"title,omitempty"`
	External bool   `json:"is_external"`
}

// Image is one image on a page.
type Image struct {
	Src    string `json:"src"`
	Alt    string `json:"alt,omitempty"`
	Title  string `json:"title,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// lazySrcAttrs are consulted before src, which lazy loaders often fill
// with a placeholder.
var lazySrcAttrs = []string{"data-src", "data-lazy-src", "data-original", "src"}

// Links returns up to limit distinct http(s) links resolved against base.
// limit <= 0 means no cap.
func Links(root *goquery.Selection, base *url.URL, limit int) []Link {
	out := []Link{}
	seen := make(map[string]struct{})
	root.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		resolved, ok := resolve(base, s.AttrOr("href", ""))
		if !ok || (resolved.Scheme != "http" && resolved.Scheme != "https") {
			return true
		}
		abs := resolved.String()
		if _, dup := seen[abs]; dup {
			return true
		}
		seen[abs] = struct{}{}

		out = append(out, Link{
			Href:     abs,
			Text:     collapse(s.Text()),
			Title:    strings.TrimSpace(s.AttrOr("title", "")),
			External: base != nil && !strings.EqualFold(resolved.Hostname(), base.Hostname()),
		})
		return limit <= 0 || len(out) < limit
	})
	return out
}

// Images returns up to limit distinct images, preferring lazy-load source
// attributes over src. data: URIs are skipped.
func Images(root *goquery.Selection, base *url.URL, limit int) []Image {
	out := []Image{}
	seen := make(map[string]struct{})
	root.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var raw string
		for _, attr := range lazySrcAttrs {
			if v := strings.TrimSpace(s.AttrOr(attr, "")); v != "" && !strings.HasPrefix(v, "data:") {
				raw = v
				break
			}
		}
		resolved, ok := resolve(base, raw)
		if !ok {
			return true
		}
		abs := resolved.String()
		if _, dup := seen[abs]; dup {
			return true
		}
		seen[abs] = struct{}{}

		out = append(out, Image{
			Src:    abs,
			Alt:    strings.TrimSpace(s.AttrOr("alt", "")),
			Title:  strings.TrimSpace(s.AttrOr("title", "")),
			Width:  atoi(s.AttrOr("width", "")),
			Height: atoi(s.AttrOr("height", "")),
		})
		return limit <= 0 || len(out) < limit
	})
	return out
}

// PrefixedMeta collects meta tags whose property or name starts with
// prefix (e.g. "og:") into a map keyed by the remainder.
func PrefixedMeta(root *goquery.Selection, prefix string) map[string]string {
	out := make(map[string]string)
	root.Find("meta").Each(func(_ int, s *goquery.Selection) {
		key := s.AttrOr("property", "")
		if key == "" {
			key = s.AttrOr("name", "")
		}
		if !strings.HasPrefix(strings.ToLower(key), prefix) {
			return
		}
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if content == "" {
			return
		}
		if _, dup := out[key[len(prefix):]]; !dup {
			out[key[len(prefix):]] = content
		}
	})
	return out
}

// MetaTags maps every named meta tag to its content.
func MetaTags(root *goquery.Selection) map[string]string {
	out := make(map[string]string)
	root.Find("meta[name]").Each(func(_ int, s *goquery.Selection) {
		name := strings.ToLower(strings.TrimSpace(s.AttrOr("name", "")))
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if name != "" && content != "" {
			out[name] = content
		}
	})
	return out
}

func resolve(base *url.URL, ref string) (*url.URL, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil, false
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	return u, u.Scheme != "data"
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(s), "px"))
	if err != nil {
		return 0
	}
	return n
}
