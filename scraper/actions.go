package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"github.com/use-agent/harvest/models"
)

// Default settle pauses after each action type.
var actionSettle = map[string]time.Duration{
	models.ActionClick:  time.Second,
	models.ActionInput:  500 * time.Millisecond,
	models.ActionScript: 500 * time.Millisecond,
	models.ActionScroll: 500 * time.Millisecond,
}

// runActions executes actions in order. Every action gets its own deadline
// and a failure is logged and skipped, so one broken selector never sinks
// the page. It returns how many actions succeeded.
func runActions(ctx context.Context, page *rod.Page, actions []models.Action, timeout time.Duration) int {
	done := 0
	for i, a := range actions {
		if ctx.Err() != nil {
			break
		}
		if err := runAction(ctx, page, a, timeout); err != nil {
			slog.Warn("scraper: action failed, continuing",
				"index", i, "type", a.Type, "selector", a.Selector, "error", err)
			continue
		}
		done++
		if err := pause(ctx, settleAfter(a)); err != nil {
			break
		}
	}
	return done
}

func runAction(ctx context.Context, page *rod.Page, a models.Action, timeout time.Duration) error {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	p := page.Context(actx)

	switch a.Type {
	case models.ActionClick:
		if a.Selector == "" {
			return fmt.Errorf("click requires a selector")
		}
		el, err := p.Element(a.Selector)
		if err != nil {
			return fmt.Errorf("element %q: %w", a.Selector, err)
		}
		// A script click ignores overlapping elements that would swallow a
		// synthetic mouse event.
		_, err = el.Eval(`() => this.click()`)
		return err

	case models.ActionInput:
		if a.Selector == "" {
			return fmt.Errorf("input requires a selector")
		}
		el, err := p.Element(a.Selector)
		if err != nil {
			return fmt.Errorf("element %q: %w", a.Selector, err)
		}
		if err := el.SelectAllText(); err != nil {
			return err
		}
		return el.Input(a.Value)

	case models.ActionWait:
		if a.Selector != "" {
			return p.WaitElementsMoreThan(a.Selector, 0)
		}
		secs := a.Seconds
		if secs <= 0 {
			secs = 1
		}
		return pause(ctx, time.Duration(secs*float64(time.Second)))

	case models.ActionScript:
		if strings.TrimSpace(a.Script) == "" {
			return fmt.Errorf("script requires a body")
		}
		_, err := p.Eval(wrapScript(a.Script))
		return err

	case models.ActionScroll:
		return scrollBy(ctx, p, a.Direction, a.Amount)

	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}

func settleAfter(a models.Action) time.Duration {
	if a.WaitAfter != nil {
		if *a.WaitAfter <= 0 {
			return 0
		}
		return time.Duration(*a.WaitAfter * float64(time.Second))
	}
	return actionSettle[a.Type]
}

// wrapScript turns a user script into a function expression for Eval. Both
// bare statements and ready-made functions are accepted.
func wrapScript(src string) string {
	s := strings.TrimSpace(src)
	if strings.HasPrefix(s, "function") || strings.HasPrefix(s, "async function") ||
		strings.HasPrefix(s, "() =>") || strings.HasPrefix(s, "async () =>") {
		return s
	}
	return "() => {\n" + s + "\n}"
}

// scrollBy moves the viewport amount screens up or down.
func scrollBy(ctx context.Context, p *rod.Page, direction string, amount int) error {
	if amount <= 0 {
		amount = 1
	}
	res, err := p.Eval(`() => window.innerHeight`)
	if err != nil {
		return fmt.Errorf("viewport height: %w", err)
	}
	delta := float64(res.Value.Int())
	if direction == "up" {
		delta = -delta
	}
	for i := 0; i < amount; i++ {
		if err := p.Mouse.Scroll(0, delta, 0); err != nil {
			return fmt.Errorf("scroll step %d: %w", i, err)
		}
		if err := pause(ctx, 100*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

// pause sleeps for d or until ctx ends.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
