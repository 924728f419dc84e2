// Package script holds the behavioral programs a session runs against its
// page: a YouTube watch flow and a generic website visit flow. Scripts are
// strictly ordered step lists; a step failure aborts the rest of the script
// and surfaces to the session boundary, never panics.
package script

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/driftnet-cli/internal/browser"
	"github.com/xkilldash9x/driftnet-cli/internal/config"
)

// Keys sent through the page's raw key event path.
const (
	keyEnter = "\r"
	keySpace = " "
)

// Reporter receives a progress checkpoint after each script step. The
// orchestrator binds it to the run's event emitter; nil disables reporting.
type Reporter func(status, message string, progress int)

// StepOutcome reports how an optional interaction ended. Optional steps
// never fail the session; the outcome distinguishes a missing control from
// one that errored so callers can tell skip from failure.
type StepOutcome int

const (
	StepPerformed StepOutcome = iota
	StepSkipped
	StepFailed
)

func (o StepOutcome) String() string {
	switch o {
	case StepPerformed:
		return "performed"
	case StepSkipped:
		return "skipped"
	case StepFailed:
		return "failed"
	}
	return "unknown"
}

// Script is one behavioral program run against a live page. Outcomes
// reports the optional interactions attempted during Run, keyed by step
// name. URL reports the page the script targeted; it is valid on the
// failure path too, once the target is known.
type Script interface {
	Name() string
	Run(ctx context.Context, pg browser.Page) error
	Outcomes() map[string]StepOutcome
	URL() string
}

// ActionFor names the result action recorded for a target's script.
func ActionFor(t config.Target) string {
	switch t {
	case config.TargetYouTube:
		return "youtube_traffic"
	case config.TargetWebsite:
		return "website_traffic"
	}
	return ""
}

// ForConfig selects the script matching the run's target.
func ForConfig(cfg config.RunConfig, logger *zap.Logger, report Reporter) (Script, error) {
	switch cfg.Target {
	case config.TargetYouTube:
		return NewYouTube(cfg, logger, report), nil
	case config.TargetWebsite:
		return NewWebsite(cfg, logger, report), nil
	}
	return nil, fmt.Errorf("no script for target %q", cfg.Target)
}

// intBetween returns a uniform random int in [lo, hi].
func intBetween(rng *rand.Rand, lo, hi int) int {
	return lo + rng.Intn(hi-lo+1)
}

// durationBetween returns a uniform random duration in [lo, hi].
func durationBetween(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	return lo + time.Duration(rng.Int63n(int64(hi-lo)+1))
}

func newRNG() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// selectorPresent reports whether the selector matches any element on the
// current page.
func selectorPresent(ctx context.Context, pg browser.Page, selector string) (bool, error) {
	var present bool
	expr := fmt.Sprintf(`!!document.querySelector('%s')`, selector)
	err := pg.Evaluate(ctx, expr, &present)
	return present, err
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
