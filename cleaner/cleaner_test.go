package cleaner

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, page string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	require.NoError(t, err)
	return doc
}

func TestMainContent_LongestContainerWins(t *testing.T) {
	doc := parse(t, `<html><body>
		<nav><a href="/">Home</a> navigation text that is quite long indeed</nav>
		<div class="content">Short teaser.</div>
		<article><h2>Story</h2><p>The full story has considerably more words than the teaser does.</p>
		<script>var tracking = "ignored";</script></article>
	</body></html>`)

	c := NewCleaner().MainContent(doc, "https://example.com/story")
	assert.Equal(t, "article", c.Source)
	assert.Contains(t, c.Text, "considerably more words")
	assert.NotContains(t, c.Text, "tracking")
	assert.Contains(t, c.Markdown, "## Story")

	assert.Equal(t, 1, doc.Find("script").Length(), "source document is not mutated")
}

func TestMainContent_FallsBackWithoutContainers(t *testing.T) {
	doc := parse(t, `<html><body><div id="x"><p>Plain page body text.</p></div></body></html>`)

	c := NewCleaner().MainContent(doc, "https://example.com/")
	assert.NotEmpty(t, c.Source)
	assert.Contains(t, c.Text, "Plain page body text.")
}

func TestLinksAndImages(t *testing.T) {
	doc := parse(t, `<body>
		<a href="/a" title="A">First</a>
		<a href="/a">Duplicate</a>
		<a href="mailto:x@example.com">Mail</a>
		<a href="https://other.test/b">Other</a>
		<a href="/c">Third</a>
		<img src="data:image/gif;base64,AAAA" data-src="/lazy.jpg" alt="lazy" width="40" height="30">
		<img src="/plain.png">
		<img src="data:image/gif;base64,BBBB">
	</body>`)
	base, _ := url.Parse("https://example.com/page")

	links := Links(doc.Selection, base, 2)
	require.Len(t, links, 2)
	assert.Equal(t, Link{Href: "https://example.com/a", Text: "First", Title: "A"}, links[0])
	assert.Equal(t, Link{Href: "https://other.test/b", Text: "Other", External: true}, links[1])

	images := Images(doc.Selection, base, 0)
	require.Len(t, images, 2)
	assert.Equal(t, Image{Src: "https://example.com/lazy.jpg", Alt: "lazy", Width: 40, Height: 30}, images[0])
	assert.Equal(t, "https://example.com/plain.png", images[1].Src)
}

func TestPrefixedMeta(t *testing.T) {
	doc := parse(t, `<head>
		<meta property="og:title" content="OG Title">
		<meta property="og:image" content="/img.png">
		<meta name="twitter:card" content="summary">
		<meta name="description" content="desc">
		<meta property="og:empty" content="">
	</head>`)

	assert.Equal(t, map[string]string{"title": "OG Title", "image": "/img.png"}, PrefixedMeta(doc.Selection, "og:"))
	assert.Equal(t, map[string]string{"card": "summary"}, PrefixedMeta(doc.Selection, "twitter:"))
	assert.Equal(t, map[string]string{"description": "desc", "twitter:card": "summary"}, MetaTags(doc.Selection))
}

func TestBlockScore(t *testing.T) {
	doc := parse(t, `<body>
		<article class="post">Long readable paragraph text with several words in it.</article>
		<nav class="menu"><a href="/">Home</a><a href="/x">X</a></nav>
	</body>`)
	article := doc.Find("article")
	nav := doc.Find("nav")
	assert.Greater(t, blockScore(article), 0.0)
	assert.Less(t, blockScore(nav), 0.0)

	fragment, ok := prune(doc.Find("body"))
	require.True(t, ok)
	assert.Contains(t, fragment, "readable paragraph")
	assert.NotContains(t, fragment, "Home")
}
