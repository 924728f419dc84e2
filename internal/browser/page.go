// internal/browser/page.go
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// Page is the surface action scripts drive. Every method is bounded by the
// context's action timeout so a single wedged step cannot stall a session.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Press(ctx context.Context, key string) error
	ScrollBy(ctx context.Context, pixels int) error
	Evaluate(ctx context.Context, expression string, out any) error
	WaitVisible(ctx context.Context, selector string) error
	Title(ctx context.Context) (string, error)
	Location(ctx context.Context) (string, error)
	Sleep(ctx context.Context, d time.Duration) error
}

// chromePage drives a single chromedp tab.
type chromePage struct {
	tabCtx  context.Context
	timeout time.Duration
}

func newChromePage(tabCtx context.Context, timeout time.Duration) *chromePage {
	return &chromePage{tabCtx: tabCtx, timeout: timeout}
}

// run executes actions against the tab with the action ceiling applied,
// while still honoring cancellation from the caller's context.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.tabCtx, p.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (p *chromePage) Type(ctx context.Context, selector, text string) error {
	return p.run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (p *chromePage) Press(ctx context.Context, key string) error {
	return p.run(ctx, chromedp.KeyEvent(key))
}

func (p *chromePage) ScrollBy(ctx context.Context, pixels int) error {
	return p.run(ctx, chromedp.Evaluate(fmt.Sprintf(`window.scrollBy(0, %d)`, pixels), nil))
}

func (p *chromePage) Evaluate(ctx context.Context, expression string, out any) error {
	return p.run(ctx, chromedp.Evaluate(expression, out))
}

func (p *chromePage) WaitVisible(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromePage) Title(ctx context.Context) (string, error) {
	var title string
	err := p.run(ctx, chromedp.Title(&title))
	return title, err
}

func (p *chromePage) Location(ctx context.Context) (string, error) {
	var loc string
	err := p.run(ctx, chromedp.Location(&loc))
	return loc, err
}

// Sleep waits without the action ceiling; humanized pacing routinely exceeds
// what a single browser command is allowed to take.
func (p *chromePage) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.tabCtx.Done():
		return p.tabCtx.Err()
	}
}
