package scraper

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/use-agent/harvest/models"
)

// paginationDriver is the page surface the load-more loop needs.
type paginationDriver interface {
	// countItems returns how many items are currently rendered.
	countItems() int
	// advance clicks the first actionable next/more control. It reports
	// false when no control could be clicked.
	advance(ctx context.Context) bool
	// scrollToBottom is the fallback when no control is actionable.
	scrollToBottom(ctx context.Context)
}

// loadMoreStats describes one load-more run.
type loadMoreStats struct {
	Attempts int
	Clicks   int
	Items    int
}

// runLoadMore repeatedly advances pagination until the item count stops
// changing, reaches maxItems (zero means unbounded), or maxAttempts runs
// out.
func runLoadMore(ctx context.Context, d paginationDriver, maxItems, maxAttempts int) loadMoreStats {
	var st loadMoreStats
	current := 0
	for st.Attempts < maxAttempts {
		if ctx.Err() != nil {
			break
		}
		n := d.countItems()
		st.Items = n
		if n == current || (maxItems > 0 && n >= maxItems) {
			break
		}
		current = n
		st.Attempts++
		if d.advance(ctx) {
			st.Clicks++
			continue
		}
		d.scrollToBottom(ctx)
	}
	return st
}

// rodPagination drives a live page according to a models.PaginationPlan.
type rodPagination struct {
	page *rod.Page
	plan models.PaginationPlan

	preClick   time.Duration
	clickPause time.Duration
	scrollWait time.Duration
}

func (r *rodPagination) countItems() int {
	if r.plan.ItemSelector == "" {
		return 0
	}
	res, err := r.page.Eval(`(sel) => document.querySelectorAll(sel).length`, r.plan.ItemSelector)
	if err != nil {
		slog.Debug("scraper: item count failed", "selector", r.plan.ItemSelector, "error", err)
		return 0
	}
	return res.Value.Int()
}

func (r *rodPagination) advance(ctx context.Context) bool {
	for _, b := range r.plan.Buttons {
		el := r.find(b)
		if el == nil {
			continue
		}
		if visible, err := el.Visible(); err != nil || !visible {
			continue
		}
		if err := el.ScrollIntoView(); err != nil {
			continue
		}
		if pause(ctx, r.preClick) != nil {
			return false
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			slog.Debug("scraper: load-more click failed", "selector", b.Selector, "text", b.Text, "error", err)
			continue
		}
		_ = pause(ctx, r.clickPause)
		return true
	}
	return false
}

func (r *rodPagination) find(b models.ButtonTarget) *rod.Element {
	sel := b.Selector
	if b.Text != "" {
		if sel == "" {
			sel = "button, a"
		}
		ok, el, err := r.page.HasR(sel, "/"+regexp.QuoteMeta(b.Text)+"/i")
		if err != nil || !ok {
			return nil
		}
		return el
	}
	if sel == "" {
		return nil
	}
	ok, el, err := r.page.Has(sel)
	if err != nil || !ok {
		return nil
	}
	return el
}

func (r *rodPagination) scrollToBottom(ctx context.Context) {
	if _, err := r.page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
		slog.Debug("scraper: scroll to bottom failed", "error", err)
	}
	_ = pause(ctx, r.scrollWait)
}
