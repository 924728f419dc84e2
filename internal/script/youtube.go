// internal/script/youtube.go
package script

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/driftnet-cli/internal/browser"
	"github.com/xkilldash9x/driftnet-cli/internal/config"
	"github.com/xkilldash9x/driftnet-cli/internal/events"
)

// ErrNoSearchResults is returned when a keyword search renders zero videos
// within the step timeout.
var ErrNoSearchResults = errors.New("no videos found in search results")

const (
	youtubeURL = "https://www.youtube.com"

	searchBoxSelector   = `input[name="search_query"]`
	thumbnailSelector   = `ytd-video-renderer #thumbnail`
	likeButtonSelector  = `button[aria-label^="Like"]`
	commentAreaSelector = `#placeholder-area`
	commentBoxSelector  = `#contenteditable-root`
	commentPostSelector = `#submit-button`
	subscribeSelector   = `#subscribe-button`

	watchSegment  = 10 * time.Second
	playbackWait  = 5 * time.Second
	pauseResume   = 0.3 // chance per segment of a spacebar pause/resume
	minWatchNudge = 100
	maxWatchNudge = 400
)

// YouTube resolves a video by direct URL or keyword search, simulates
// watching it in fixed segments, then performs the configured interactions.
type YouTube struct {
	cfg      config.RunConfig
	logger   *zap.Logger
	report   Reporter
	rng      *rand.Rand
	outcomes map[string]StepOutcome
	url      string
}

func NewYouTube(cfg config.RunConfig, logger *zap.Logger, report Reporter) *YouTube {
	return &YouTube{
		cfg:      cfg,
		logger:   logger.Named("youtube"),
		report:   report,
		rng:      newRNG(),
		outcomes: make(map[string]StepOutcome),
	}
}

func (s *YouTube) Name() string { return "youtube" }

// URL returns the watched video URL: the configured direct URL, or the
// page location once a search result has been opened.
func (s *YouTube) URL() string { return s.url }

// Outcomes reports how each configured interaction ended.
func (s *YouTube) Outcomes() map[string]StepOutcome {
	out := make(map[string]StepOutcome, len(s.outcomes))
	for k, v := range s.outcomes {
		out[k] = v
	}
	return out
}

func (s *YouTube) checkpoint(status, message string, progress int) {
	if s.report != nil {
		s.report(status, message, progress)
	}
}

func (s *YouTube) Run(ctx context.Context, pg browser.Page) error {
	if err := s.resolveVideo(ctx, pg); err != nil {
		return err
	}

	// Let playback start before interacting with the player.
	s.checkpoint(events.StatusWatching, "Waiting for playback", 75)
	if err := pg.Sleep(ctx, playbackWait); err != nil {
		return err
	}

	if err := s.watch(ctx, pg); err != nil {
		return err
	}

	s.interact(ctx, pg)
	return ctx.Err()
}

// resolveVideo lands the page on the target video. A direct URL bypasses
// search entirely.
func (s *YouTube) resolveVideo(ctx context.Context, pg browser.Page) error {
	if s.cfg.YTDirectURL != "" {
		s.url = s.cfg.YTDirectURL
		s.checkpoint(events.StatusNavigating, "Opening video URL", 65)
		if err := pg.Navigate(ctx, s.cfg.YTDirectURL); err != nil {
			return fmt.Errorf("failed to open video url: %w", err)
		}
		return nil
	}

	s.checkpoint(events.StatusNavigating, "Opening YouTube", 65)
	if err := pg.Navigate(ctx, youtubeURL); err != nil {
		return fmt.Errorf("failed to open youtube: %w", err)
	}

	s.checkpoint(events.StatusSearching, fmt.Sprintf("Searching for %q", s.cfg.YTKeyword), 70)
	if err := pg.WaitVisible(ctx, searchBoxSelector); err != nil {
		return fmt.Errorf("search box never appeared: %w", err)
	}
	if err := pg.Type(ctx, searchBoxSelector, s.cfg.YTKeyword); err != nil {
		return fmt.Errorf("failed to enter search query: %w", err)
	}
	if err := pg.Press(ctx, keyEnter); err != nil {
		return fmt.Errorf("failed to submit search: %w", err)
	}
	if err := pg.Sleep(ctx, 3*time.Second); err != nil {
		return err
	}

	if err := pg.WaitVisible(ctx, thumbnailSelector); err != nil {
		return fmt.Errorf("%w: %v", ErrNoSearchResults, err)
	}
	if err := pg.Click(ctx, thumbnailSelector); err != nil {
		return fmt.Errorf("%w: %v", ErrNoSearchResults, err)
	}
	if err := pg.Sleep(ctx, 5*time.Second); err != nil {
		return err
	}
	if loc, err := pg.Location(ctx); err == nil {
		s.url = loc
	}
	return nil
}

// watch splits the requested duration into fixed segments; each segment gets
// a small scroll, an occasional spacebar pause/resume, and the remainder of
// the segment asleep. Progress is checkpointed at segment granularity.
func (s *YouTube) watch(ctx context.Context, pg browser.Page) error {
	total := time.Duration(s.cfg.WatchMinutes) * time.Minute
	segments := int(math.Ceil(float64(total) / float64(watchSegment)))

	s.logger.Info("Simulating watch.",
		zap.Duration("duration", total), zap.Int("segments", segments))

	for i := 0; i < segments; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := pg.ScrollBy(ctx, intBetween(s.rng, minWatchNudge, maxWatchNudge)); err != nil {
			return fmt.Errorf("watch scroll failed: %w", err)
		}

		if s.rng.Float64() < pauseResume {
			if err := pg.Press(ctx, keySpace); err != nil {
				return fmt.Errorf("pause failed: %w", err)
			}
			if err := pg.Sleep(ctx, time.Second); err != nil {
				return err
			}
			if err := pg.Press(ctx, keySpace); err != nil {
				return fmt.Errorf("resume failed: %w", err)
			}
		}

		if err := pg.Sleep(ctx, watchSegment); err != nil {
			return err
		}

		s.checkpoint(events.StatusWatching,
			fmt.Sprintf("Watching (%d/%d)", i+1, segments),
			75+(i*20)/segments)
	}
	return nil
}

// interact performs the optional like/comment/subscribe steps. None of them
// can fail the session: a logged-out page simply does not render the
// controls, so each step resolves to an explicit outcome instead.
func (s *YouTube) interact(ctx context.Context, pg browser.Page) {
	if s.cfg.LikeVideo {
		s.record("like", s.likeVideo(ctx, pg))
	}

	if s.cfg.PostComment {
		if s.cfg.CommentText == "" {
			s.record("comment", StepSkipped)
		} else {
			s.record("comment", s.postComment(ctx, pg))
		}
	}

	if s.cfg.Subscribe {
		s.record("subscribe", s.subscribe(ctx, pg))
	}
}

func (s *YouTube) record(step string, outcome StepOutcome) {
	s.outcomes[step] = outcome
	s.logger.Info("Interaction finished.",
		zap.String("step", step), zap.Stringer("outcome", outcome))
}

func (s *YouTube) likeVideo(ctx context.Context, pg browser.Page) StepOutcome {
	present, err := selectorPresent(ctx, pg, likeButtonSelector)
	if err != nil || !present {
		return StepSkipped
	}
	if err := pg.Click(ctx, likeButtonSelector); err != nil {
		s.logger.Debug("Could not like video.", zap.Error(err))
		return StepFailed
	}
	s.checkpoint(events.StatusInteracting, "Liked the video", 0)
	pg.Sleep(ctx, 2*time.Second)
	return StepPerformed
}

func (s *YouTube) postComment(ctx context.Context, pg browser.Page) StepOutcome {
	pg.ScrollBy(ctx, 800)
	pg.Sleep(ctx, 2*time.Second)

	present, err := selectorPresent(ctx, pg, commentAreaSelector)
	if err != nil || !present {
		return StepSkipped
	}
	if err := pg.Click(ctx, commentAreaSelector); err != nil {
		s.logger.Debug("Comment area did not accept focus.", zap.Error(err))
		return StepFailed
	}
	pg.Sleep(ctx, time.Second)

	if err := pg.Type(ctx, commentBoxSelector, s.cfg.CommentText); err != nil {
		s.logger.Debug("Could not enter comment text.", zap.Error(err))
		return StepFailed
	}
	pg.Sleep(ctx, 2*time.Second)

	if err := pg.Click(ctx, commentPostSelector); err != nil {
		s.logger.Debug("Could not post comment.", zap.Error(err))
		return StepFailed
	}
	s.checkpoint(events.StatusInteracting, "Comment posted", 0)
	return StepPerformed
}

func (s *YouTube) subscribe(ctx context.Context, pg browser.Page) StepOutcome {
	present, err := selectorPresent(ctx, pg, subscribeSelector)
	if err != nil || !present {
		return StepSkipped
	}

	var label string
	expr := fmt.Sprintf(
		`(document.querySelector('%s') || {textContent: ''}).textContent`, subscribeSelector)
	if err := pg.Evaluate(ctx, expr, &label); err != nil {
		s.logger.Debug("Could not read subscribe button.", zap.Error(err))
		return StepFailed
	}
	// Already subscribed counts as a skip, not a failure.
	if containsFold(label, "subscribed") {
		return StepSkipped
	}

	if err := pg.Click(ctx, subscribeSelector); err != nil {
		s.logger.Debug("Could not subscribe.", zap.Error(err))
		return StepFailed
	}
	s.checkpoint(events.StatusInteracting, "Subscribed to channel", 0)
	pg.Sleep(ctx, 2*time.Second)
	return StepPerformed
}
