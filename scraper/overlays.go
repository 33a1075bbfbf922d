package scraper

import (
	"log/slog"
	"regexp"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// overlayButtonTexts match consent and modal buttons by visible text.
var overlayButtonTexts = []string{
	`accept all`,
	`accept all cookies`,
	`accept cookies`,
	`accept`,
	`allow all`,
	`i agree`,
	`agree`,
	`got it`,
	`ok`,
	`continue`,
	`no thanks`,
	`close`,
}

// overlaySelectors match consent and modal close controls by structure.
var overlaySelectors = []string{
	`#onetrust-accept-btn-handler`,
	`#didomi-notice-agree-button`,
	`.fc-cta-consent`,
	`.cc-btn.cc-allow`,
	`button[id*="accept"]`,
	`button[class*="accept"]`,
	`[aria-label="Close"]`,
	`[aria-label="close"]`,
	`[data-testid="close-button"]`,
	`.modal .close`,
	`.popup-close`,
	`.newsletter-close`,
}

// overlayTextPatterns renders overlayButtonTexts as anchored,
// case-insensitive JS regex literals for rod's text matching.
func overlayTextPatterns() []string {
	out := make([]string, len(overlayButtonTexts))
	for i, t := range overlayButtonTexts {
		out[i] = `/^\s*` + regexp.QuoteMeta(t) + `\s*$/i`
	}
	return out
}

// dismissOverlay clicks the first visible consent or modal control. It
// reports which candidate was clicked, or "" when none was.
func dismissOverlay(p *rod.Page) string {
	for _, pattern := range overlayTextPatterns() {
		for _, tag := range []string{"button", "a", `[role="button"]`} {
			ok, el, err := p.HasR(tag, pattern)
			if err != nil || !ok {
				continue
			}
			if clickIfVisible(el) {
				slog.Debug("scraper: overlay dismissed", "text", pattern)
				return pattern
			}
		}
	}
	for _, sel := range overlaySelectors {
		ok, el, err := p.Has(sel)
		if err != nil || !ok {
			continue
		}
		if clickIfVisible(el) {
			slog.Debug("scraper: overlay dismissed", "selector", sel)
			return sel
		}
	}
	return ""
}

func clickIfVisible(el *rod.Element) bool {
	visible, err := el.Visible()
	if err != nil || !visible {
		return false
	}
	return el.Click(proto.InputMouseButtonLeft, 1) == nil
}

// removeOverlays deletes fixed or sticky layers with a high z-index plus
// common cookie and popup containers, then restores page scrolling.
func removeOverlays(p *rod.Page) {
	const js = `() => {
		for (const el of document.querySelectorAll('*')) {
			const style = window.getComputedStyle(el);
			if (style.position === 'fixed' || style.position === 'sticky') {
				const z = parseInt(style.zIndex, 10);
				if (z >= 900) el.remove();
			}
		}
		const selectors = [
			'[class*="cookie"]', '[id*="cookie"]',
			'[class*="consent"]', '[id*="consent"]',
			'[class*="gdpr"]', '[id*="gdpr"]',
			'[class*="popup"]', '[id*="popup"]',
			'[class*="overlay"]', '[id*="overlay"]',
		];
		for (const sel of selectors) {
			document.querySelectorAll(sel).forEach(el => {
				const pos = window.getComputedStyle(el).position;
				if (pos === 'fixed' || pos === 'sticky' || pos === 'absolute') el.remove();
			});
		}
		document.documentElement.style.overflow = '';
		if (document.body) document.body.style.overflow = '';
	}`
	if _, err := p.Eval(js); err != nil {
		slog.Debug("scraper: overlay removal failed", "error", err)
	}
}
