package classifier

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Shell reasons reported by LooksLikeShell.
const (
	ShellThinBody     = "thin_body"
	ShellEmptyRoot    = "empty_root"
	ShellNoscriptNote = "noscript_warning"
	ShellScriptHeavy  = "script_heavy"
)

var (
	emptyRootRe = regexp.MustCompile(`<div id="(?:root|app|__next|__nuxt)"\s*>\s*</div>`)
	noscriptRe  = regexp.MustCompile(`<noscript[^>]*>[^<]*(enable|activate|turn on|requires?)\s+javascript`)
)

// LooksLikeShell inspects HTML returned by a static fetch and reports
// whether it is a client-rendered shell that only a browser can fill in.
func LooksLikeShell(html string) (bool, string) {
	text := visibleText(html)
	if len(text) < 200 {
		return true, ShellThinBody
	}
	lower := strings.ToLower(html)
	if emptyRootRe.MatchString(lower) {
		return true, ShellEmptyRoot
	}
	if noscriptRe.MatchString(lower) {
		return true, ShellNoscriptNote
	}
	if strings.Count(lower, "<script") > 10 && len(text) < 500 {
		return true, ShellScriptHeavy
	}
	return false, ""
}

func visibleText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	body := doc.Find("body")
	body.Find("script, style, noscript, template").Remove()
	return strings.Join(strings.Fields(body.Text()), " ")
}
