package scraper

import (
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

var resourceTypes = map[string]proto.NetworkResourceType{
	"image":      proto.NetworkResourceTypeImage,
	"stylesheet": proto.NetworkResourceTypeStylesheet,
	"font":       proto.NetworkResourceTypeFont,
	"media":      proto.NetworkResourceTypeMedia,
	"script":     proto.NetworkResourceTypeScript,
}

// trackerDomains are ad and analytics hosts dropped when ad blocking is on.
// Subdomains match too.
var trackerDomains = map[string]struct{}{
	"doubleclick.net":       {},
	"googlesyndication.com": {},
	"googleadservices.com":  {},
	"google-analytics.com":  {},
	"googletagmanager.com":  {},
	"googletagservices.com": {},
	"connect.facebook.net":  {},
	"adnxs.com":             {},
	"adsrvr.org":            {},
	"amazon-adsystem.com":   {},
	"criteo.com":            {},
	"criteo.net":            {},
	"outbrain.com":          {},
	"taboola.com":           {},
	"moatads.com":           {},
	"pubmatic.com":          {},
	"rubiconproject.com":    {},
	"scorecardresearch.com": {},
	"quantserve.com":        {},
	"hotjar.com":            {},
	"mixpanel.com":          {},
	"segment.io":            {},
	"ads-twitter.com":       {},
	"chartbeat.com":         {},
	"media.net":             {},
	"openx.net":             {},
	"casalemedia.com":       {},
	"demdex.net":            {},
	"krxd.net":              {},
	"bluekai.com":           {},
	"serving-sys.com":       {},
	"consensu.org":          {},
}

// requestBlocker decides which page subresources never leave the browser.
type requestBlocker struct {
	types    map[proto.NetworkResourceType]struct{}
	trackers bool
}

// newRequestBlocker builds a blocker from resource type names such as
// "Font" or "media". Unknown names are ignored. It returns nil when there
// is nothing to block.
func newRequestBlocker(typeNames []string, blockTrackers bool) *requestBlocker {
	b := &requestBlocker{
		types:    make(map[proto.NetworkResourceType]struct{}, len(typeNames)),
		trackers: blockTrackers,
	}
	for _, name := range typeNames {
		if rt, ok := resourceTypes[strings.ToLower(strings.TrimSpace(name))]; ok {
			b.types[rt] = struct{}{}
		}
	}
	if len(b.types) == 0 && !b.trackers {
		return nil
	}
	return b
}

// blocks reports whether a request of type rt to rawURL should fail.
func (b *requestBlocker) blocks(rt proto.NetworkResourceType, rawURL string) bool {
	if b == nil {
		return false
	}
	if _, ok := b.types[rt]; ok {
		return true
	}
	if !b.trackers {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return isTrackerHost(u.Hostname())
}

// install intercepts every request on page. The caller must Stop the
// returned router.
func (b *requestBlocker) install(page *rod.Page) *rod.HijackRouter {
	router := page.HijackRequests()
	_ = router.Add("*", "", func(h *rod.Hijack) {
		if b.blocks(h.Request.Type(), h.Request.URL().String()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

func isTrackerHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for host != "" {
		if _, ok := trackerDomains[host]; ok {
			return true
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			break
		}
		host = host[i+1:]
	}
	return false
}
