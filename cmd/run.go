package cmd

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/driftnet-cli/internal/config"
	"github.com/xkilldash9x/driftnet-cli/internal/events"
	"github.com/xkilldash9x/driftnet-cli/internal/identity"
	"github.com/xkilldash9x/driftnet-cli/internal/metrics"
	"github.com/xkilldash9x/driftnet-cli/internal/observability"
	"github.com/xkilldash9x/driftnet-cli/internal/orchestrator"
	"github.com/xkilldash9x/driftnet-cli/internal/proxy"
)

// newRunCmd creates the `run` command: a one-shot orchestration driven
// entirely by flags.
func newRunCmd() *cobra.Command {
	var rc config.RunConfig
	var target, proxySource, login, scrollPattern string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Runs traffic sessions against a target and waits for completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			rc.Target = config.Target(target)
			rc.ProxySource = config.ProxySource(proxySource)
			rc.LoginMethod = config.LoginMethod(login)
			rc.ScrollPattern = config.ScrollPattern(scrollPattern)

			collector := metrics.NewCollector("driftnet", prometheus.NewRegistry())
			emitter := events.NewZapEmitter(logger)
			orch := orchestrator.New(appCfg, logger, emitter, collector)
			applyIdentityCatalog(orch, logger)

			if hs := openHealthStore(logger); hs != nil {
				defer hs.Close()
				orch.UseHealthStore(hs)
			}

			result, err := orch.StartRun(ctx, rc)
			if err != nil {
				return err
			}

			fmt.Printf("\nRun complete. Run ID: %s\n", result.RunID)
			fmt.Printf("%d/%d session(s) succeeded.\n", result.Succeeded(), result.SessionCount)
			return nil
		},
	}

	flags := runCmd.Flags()

	flags.StringVarP(&target, "target", "t", "", "Target type: 'youtube' or 'website' (required)")
	flags.IntVarP(&rc.SessionCount, "sessions", "n", 1, "Number of sessions to run")
	flags.IntVarP(&rc.Concurrency, "concurrency", "j", 1, "Number of sessions to run in parallel")

	flags.StringVar(&proxySource, "proxy-source", "none", "Proxy source: none, manual, multi-manual, file or auto")
	flags.StringVar(&rc.ManualProxy, "proxy", "", "Single proxy (host:port or host:port:user:pass)")
	flags.StringVar(&rc.MultiProxies, "proxies", "", "Comma or newline separated proxy list")
	flags.StringVar(&rc.ProxyFile, "proxy-file", "", "Path to a proxy list file")
	flags.BoolVar(&rc.ValidateProxies, "validate-proxies", false, "Probe proxies before use")
	flags.BoolVar(&rc.CheckLeaks, "check-leaks", false, "Run WebRTC/DNS leak advisories per session")

	flags.BoolVar(&rc.RotateUA, "rotate-ua", false, "Rotate user agents across sessions")
	flags.StringVar(&rc.DeviceClass, "device-class", "random", "Identity device class: desktop, mobile or random")
	flags.StringVar(&rc.PlatformClass, "platform-class", "random", "Identity platform class")
	flags.BoolVar(&rc.DifferentProfiles, "different-profiles", false, "Give every session its own browser profile")

	flags.StringVar(&login, "login", "none", "Login method: none, google or youtube")
	flags.StringVar(&rc.GoogleEmail, "email", "", "Google account email")
	flags.StringVar(&rc.GooglePassword, "password", "", "Google account password")

	flags.StringVarP(&rc.YTKeyword, "keyword", "k", "", "YouTube search keyword")
	flags.StringVar(&rc.YTDirectURL, "video-url", "", "Direct YouTube video URL (skips search)")
	flags.IntVar(&rc.WatchMinutes, "watch-minutes", 1, "Minutes to watch the video")
	flags.BoolVar(&rc.LikeVideo, "like", false, "Like the video")
	flags.BoolVar(&rc.PostComment, "post-comment", false, "Post a comment")
	flags.StringVar(&rc.CommentText, "comment-text", "", "Comment text to post")
	flags.BoolVar(&rc.Subscribe, "subscribe", false, "Subscribe to the channel")

	flags.StringVarP(&rc.WebURL, "url", "u", "", "Website URL to visit")
	flags.IntVar(&rc.VisitMinutes, "visit-minutes", 1, "Minutes to stay on the website")
	flags.StringVar(&scrollPattern, "scroll-pattern", "default", "Browsing profile: default, skimmer, reader or researcher")
	flags.BoolVar(&rc.ClickLinks, "click-links", false, "Follow one internal link per visit")

	return runCmd
}

// applyIdentityCatalog swaps in the user-agent catalog from config when a
// file is configured. A broken file degrades to the built-in catalog.
func applyIdentityCatalog(orch *orchestrator.Orchestrator, logger *zap.Logger) {
	if appCfg.Identity.UserAgentFile == "" {
		return
	}
	r, err := identity.NewRotatorFromFile(logger, appCfg.Identity.UserAgentFile)
	if err != nil {
		logger.Warn("User agent catalog unavailable, using built-in.",
			zap.String("path", appCfg.Identity.UserAgentFile), zap.Error(err))
		return
	}
	orch.UseRotator(r)
}

// openHealthStore opens the configured proxy health database. Failure only
// costs ranking history, so it degrades to a warning.
func openHealthStore(logger *zap.Logger) *proxy.HealthStore {
	if appCfg.Proxy.HealthDBPath == "" {
		return nil
	}
	hs, err := proxy.OpenHealthStore(logger, appCfg.Proxy.HealthDBPath)
	if err != nil {
		logger.Warn("Proxy health store unavailable.", zap.Error(err))
		return nil
	}
	if retention := appCfg.Proxy.HealthRetention; retention > 0 {
		if err := hs.Prune(retention); err != nil {
			logger.Warn("Could not prune proxy health history.", zap.Error(err))
		}
	}
	return hs
}
