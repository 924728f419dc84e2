// internal/script/website.go
package script

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/driftnet-cli/internal/browser"
	"github.com/xkilldash9x/driftnet-cli/internal/config"
	"github.com/xkilldash9x/driftnet-cli/internal/events"
)

const (
	maxVisitDuration = 5 * time.Minute
	staySegment      = 10 * time.Second
)

// scrollProfile is one browsing persona: how many scrolls, how far each one
// travels, and how long to linger between them.
type scrollProfile struct {
	count     int
	minDelay  time.Duration
	maxDelay  time.Duration
	minScroll int
	maxScroll int
}

var scrollProfiles = map[config.ScrollPattern]scrollProfile{
	config.ScrollDefault:    {count: 5, minDelay: 1000 * time.Millisecond, maxDelay: 3000 * time.Millisecond, minScroll: 300, maxScroll: 800},
	config.ScrollSkimmer:    {count: 3, minDelay: 500 * time.Millisecond, maxDelay: 1500 * time.Millisecond, minScroll: 500, maxScroll: 1200},
	config.ScrollReader:     {count: 8, minDelay: 2000 * time.Millisecond, maxDelay: 5000 * time.Millisecond, minScroll: 200, maxScroll: 500},
	config.ScrollResearcher: {count: 10, minDelay: 1500 * time.Millisecond, maxDelay: 4000 * time.Millisecond, minScroll: 100, maxScroll: 400},
}

// anchorScanJS collects candidate internal links, excluding fragments,
// javascript/mailto schemes, downloads and anchors without visible text.
const anchorScanJS = `
	Array.from(document.querySelectorAll('a'))
		.filter(a => {
			const href = a.href;
			const text = a.textContent.trim();
			return href &&
				href.length > 0 &&
				!href.includes('#') &&
				!href.startsWith('javascript:') &&
				!href.startsWith('mailto:') &&
				text.length > 1 &&
				!a.hasAttribute('download');
		})
		.map(a => a.href)
		.slice(0, 8)
`

// Website navigates to the configured URL, scrolls it according to the
// selected profile, optionally hops through one internal link, then stays on
// the page for the visit duration.
type Website struct {
	cfg      config.RunConfig
	logger   *zap.Logger
	report   Reporter
	rng      *rand.Rand
	outcomes map[string]StepOutcome
}

func NewWebsite(cfg config.RunConfig, logger *zap.Logger, report Reporter) *Website {
	return &Website{
		cfg:      cfg,
		logger:   logger.Named("website"),
		report:   report,
		rng:      newRNG(),
		outcomes: make(map[string]StepOutcome),
	}
}

func (s *Website) Name() string { return "website" }

// URL returns the normalized visit target.
func (s *Website) URL() string { return NormalizeURL(s.cfg.WebURL) }

// Outcomes reports how each configured interaction ended.
func (s *Website) Outcomes() map[string]StepOutcome {
	out := make(map[string]StepOutcome, len(s.outcomes))
	for k, v := range s.outcomes {
		out[k] = v
	}
	return out
}

func (s *Website) checkpoint(status, message string, progress int) {
	if s.report != nil {
		s.report(status, message, progress)
	}
}

func (s *Website) Run(ctx context.Context, pg browser.Page) error {
	target := s.URL()

	s.checkpoint(events.StatusNavigating, fmt.Sprintf("Opening %s", target), 65)
	if err := pg.Navigate(ctx, target); err != nil {
		return fmt.Errorf("failed to open %s: %w", target, err)
	}

	title, err := pg.Title(ctx)
	if err != nil {
		s.logger.Debug("Could not read page title.", zap.Error(err))
	} else {
		s.logger.Info("Page loaded.", zap.String("title", title))
	}
	s.checkpoint(events.StatusBrowsing, "Page loaded", 70)

	if err := pg.Sleep(ctx, 2*time.Second); err != nil {
		return err
	}

	if err := s.scrollThrough(ctx, pg); err != nil {
		return err
	}

	if s.cfg.ClickLinks {
		outcome := s.followInternalLink(ctx, pg)
		s.outcomes["link_hop"] = outcome
		s.logger.Info("Link hop finished.", zap.Stringer("outcome", outcome))
	}

	return s.stay(ctx, pg)
}

// NormalizeURL prepends https:// to schemeless URLs.
func NormalizeURL(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "https://" + raw
}

func (s *Website) profile() scrollProfile {
	if p, ok := scrollProfiles[s.cfg.ScrollPattern]; ok {
		return p
	}
	return scrollProfiles[config.ScrollDefault]
}

func (s *Website) scrollThrough(ctx context.Context, pg browser.Page) error {
	p := s.profile()
	s.logger.Info("Scrolling page.",
		zap.String("pattern", string(s.cfg.ScrollPattern)), zap.Int("count", p.count))

	for i := 0; i < p.count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		amount := intBetween(s.rng, p.minScroll, p.maxScroll)
		if err := pg.ScrollBy(ctx, amount); err != nil {
			return fmt.Errorf("scroll failed: %w", err)
		}
		if err := pg.Sleep(ctx, durationBetween(s.rng, p.minDelay, p.maxDelay)); err != nil {
			return err
		}

		s.checkpoint(events.StatusBrowsing,
			fmt.Sprintf("Exploring page (%d/%d)", i+1, p.count),
			70+(i*20)/p.count)
	}
	return nil
}

// followInternalLink hops through one randomly chosen on-page link. It can
// never fail the visit: a page without candidate links is a skip, and a
// failed hop leaves the session on the current page.
func (s *Website) followInternalLink(ctx context.Context, pg browser.Page) StepOutcome {
	var hrefs []string
	if err := pg.Evaluate(ctx, anchorScanJS, &hrefs); err != nil {
		s.logger.Debug("Link scan failed.", zap.Error(err))
		return StepFailed
	}
	if len(hrefs) == 0 {
		return StepSkipped
	}

	target := hrefs[s.rng.Intn(len(hrefs))]
	s.checkpoint(events.StatusInteracting, "Visiting an internal link", 90)

	if err := pg.Navigate(ctx, target); err != nil {
		s.logger.Debug("Internal link navigation failed.", zap.String("url", target), zap.Error(err))
		return StepFailed
	}
	pg.Sleep(ctx, 2*time.Second)

	for i := 0; i < 2; i++ {
		pg.ScrollBy(ctx, 400)
		pg.Sleep(ctx, 1500*time.Millisecond)
	}
	return StepPerformed
}

// stay keeps the page open for the configured visit duration, capped at five
// minutes, in fixed idle segments with an occasional attention scroll. The
// last segment may overrun the cap by at most one segment length.
func (s *Website) stay(ctx context.Context, pg browser.Page) error {
	visit := time.Duration(s.cfg.VisitMinutes) * time.Minute
	if visit > maxVisitDuration {
		visit = maxVisitDuration
	}
	segments := int(math.Ceil(float64(visit) / float64(staySegment)))

	s.logger.Info("Staying on page.",
		zap.Duration("duration", visit), zap.Int("segments", segments))

	for i := 0; i < segments; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := pg.Sleep(ctx, staySegment); err != nil {
			return err
		}

		if i%3 == 0 {
			nudge := 100
			if s.rng.Float64() < 0.5 {
				nudge = -50
			}
			pg.ScrollBy(ctx, nudge)
		}

		s.checkpoint(events.StatusBrowsing,
			fmt.Sprintf("Observing content (%d/%d)", i+1, segments),
			90+(i*5)/segments)
	}
	return nil
}
