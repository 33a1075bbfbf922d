package cleaner

import (
	"log/slog"
	nurl "net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// minContentLength is the shortest readability text accepted as a main
// content candidate.
const minContentLength = 50

// readable runs Mozilla Readability over rawHTML. The boolean is false when
// the URL is unusable, the parse fails, or the article text is too short.
func readable(rawHTML, sourceURL string) (readability.Article, bool) {
	parsedURL, err := nurl.Parse(sourceURL)
	if err != nil {
		slog.Debug("cleaner: invalid source URL, skipping readability", "url", sourceURL, "error", err)
		return readability.Article{}, false
	}

	article, err := readability.FromReader(strings.NewReader(rawHTML), parsedURL)
	if err != nil {
		slog.Debug("cleaner: readability failed", "url", sourceURL, "error", err)
		return readability.Article{}, false
	}

	if len(strings.TrimSpace(article.TextContent)) < minContentLength {
		slog.Debug("cleaner: readability text too short", "url", sourceURL, "length", len(article.TextContent))
		return readability.Article{}, false
	}
	return article, true
}
