// internal/browser/context.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	cdp "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/driftnet-cli/internal/config"
	"github.com/xkilldash9x/driftnet-cli/internal/identity"
	"github.com/xkilldash9x/driftnet-cli/internal/proxy"
)

// ErrLaunchFailed is returned when every launch variant has been exhausted.
var ErrLaunchFailed = errors.New("all browser launch variants failed")

const teardownGracePeriod = 10 * time.Second

// State tracks the lifecycle of an AutomationContext. Contexts are
// single-use: there is no transition back to an earlier state.
type State int32

const (
	StateCreated State = iota
	StateLaunching
	StateReady
	StateActive
	StateClosing
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLaunching:
		return "launching"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

var stateTransitions = map[State][]State{
	StateCreated:   {StateLaunching, StateClosing},
	StateLaunching: {StateReady, StateErrored, StateClosing},
	StateReady:     {StateActive, StateErrored, StateClosing},
	StateActive:    {StateErrored, StateClosing},
	StateErrored:   {StateClosing},
	StateClosing:   {StateClosed},
}

// LaunchVariant is one attempt at starting the browser process. Variants are
// tried in order until one responds.
type LaunchVariant struct {
	Name string
	Opts []chromedp.ExecAllocatorOption
}

// AutomationContext owns exactly one browser process and one tab for the
// lifetime of a single session, and guarantees teardown runs exactly once.
type AutomationContext struct {
	id     string
	logger *zap.Logger
	cfg    config.BrowserConfig

	proxy      *proxy.Endpoint
	ident      identity.Identity
	profileDir string

	mu             sync.Mutex
	state          State
	profileCreated bool

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	page        Page

	teardownOnce sync.Once
}

// NewAutomationContext binds a proxy endpoint (nil for a direct connection)
// and an identity to a fresh context. profileDir, when non-empty, names an
// isolated user-data directory that this context will create and own.
func NewAutomationContext(logger *zap.Logger, cfg config.BrowserConfig, ep *proxy.Endpoint, ident identity.Identity, profileDir string) *AutomationContext {
	id := uuid.New().String()
	return &AutomationContext{
		id:         id,
		logger:     logger.Named("browser").With(zap.String("session_id", id[:8])),
		cfg:        cfg,
		proxy:      ep,
		ident:      ident,
		profileDir: profileDir,
		state:      StateCreated,
	}
}

// ID returns the unique identifier for this context.
func (ac *AutomationContext) ID() string {
	return ac.id
}

// State reports the current lifecycle state.
func (ac *AutomationContext) State() State {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.state
}

func (ac *AutomationContext) transition(to State) error {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	for _, next := range stateTransitions[ac.state] {
		if next == to {
			ac.state = to
			return nil
		}
	}
	return fmt.Errorf("illegal state transition %s -> %s", ac.state, to)
}

// MarkErrored records a session-level failure. Legal only from
// Launching/Ready/Active; anywhere else it is a no-op.
func (ac *AutomationContext) MarkErrored() {
	if err := ac.transition(StateErrored); err != nil {
		ac.logger.Debug("Ignoring errored mark.", zap.Error(err))
	}
}

// Launch starts the browser process, trying each launch variant in order
// until one responds. A context that fails every variant moves to Errored
// and returns ErrLaunchFailed.
func (ac *AutomationContext) Launch(ctx context.Context) error {
	if err := ac.transition(StateLaunching); err != nil {
		return err
	}

	if ac.profileDir != "" {
		if err := os.MkdirAll(ac.profileDir, 0o700); err != nil {
			ac.MarkErrored()
			return fmt.Errorf("failed to create profile directory: %w", err)
		}
		ac.mu.Lock()
		ac.profileCreated = true
		ac.mu.Unlock()
	}

	var lastErr error
	for _, variant := range ac.launchVariants() {
		allocCtx, cancel := chromedp.NewExecAllocator(ctx, variant.Opts...)

		if err := ac.probe(allocCtx); err != nil {
			ac.logger.Warn("Launch variant failed.",
				zap.String("variant", variant.Name), zap.Error(err))
			cancel()
			lastErr = err
			continue
		}

		ac.mu.Lock()
		ac.allocCtx = allocCtx
		ac.allocCancel = cancel
		ac.mu.Unlock()

		if err := ac.transition(StateReady); err != nil {
			cancel()
			return err
		}
		ac.logger.Info("Browser launched.", zap.String("variant", variant.Name))
		return nil
	}

	ac.MarkErrored()
	return fmt.Errorf("%w: %v", ErrLaunchFailed, lastErr)
}

// probe opens a throwaway tab to confirm the browser process is alive and
// responsive before the variant is accepted.
func (ac *AutomationContext) probe(allocCtx context.Context) error {
	probeCtx, cancelProbe := context.WithTimeout(allocCtx, ac.cfg.LaunchTimeout)
	defer cancelProbe()
	tabCtx, cancelTab := chromedp.NewContext(probeCtx)
	defer cancelTab()
	return chromedp.Run(tabCtx, chromedp.Navigate("about:blank"))
}

// ConfigurePage opens the session tab, applies the identity's user agent and,
// for credentialed proxies, answers the proxy auth challenge via fetch
// interception. Moves Ready -> Active.
func (ac *AutomationContext) ConfigurePage(ctx context.Context) error {
	ac.mu.Lock()
	if ac.state != StateReady {
		state := ac.state
		ac.mu.Unlock()
		return fmt.Errorf("cannot configure page in state %s", state)
	}
	allocCtx := ac.allocCtx
	ac.mu.Unlock()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	actions := []chromedp.Action{
		emulation.SetUserAgentOverride(ac.ident.UserAgent),
	}
	if ac.proxy != nil && ac.proxy.HasAuth() {
		ac.listenForAuthChallenges(tabCtx)
		actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
	}

	runCtx, cancelRun := context.WithTimeout(tabCtx, ac.cfg.ActionTimeout)
	defer cancelRun()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		cancelTab()
		ac.MarkErrored()
		return fmt.Errorf("failed to configure page: %w", err)
	}

	ac.mu.Lock()
	ac.tabCancel = cancelTab
	ac.page = newChromePage(tabCtx, ac.cfg.ActionTimeout)
	ac.mu.Unlock()

	if err := ac.transition(StateActive); err != nil {
		return err
	}
	ac.logger.Debug("Page configured.", zap.String("user_agent", ac.ident.UserAgent))
	return nil
}

// listenForAuthChallenges answers the browser's proxy authentication
// challenge with the endpoint's credentials. Fetch interception pauses every
// request, so paused requests are continued untouched.
func (ac *AutomationContext) listenForAuthChallenges(tabCtx context.Context) {
	username := ac.proxy.Username
	password := ac.proxy.Password

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				execCtx := cdp.WithExecutor(tabCtx, chromedp.FromContext(tabCtx).Target)
				resp := &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: username,
					Password: password,
				}
				if err := fetch.ContinueWithAuth(ev.RequestID, resp).Do(execCtx); err != nil {
					ac.logger.Warn("Failed to answer proxy auth challenge.", zap.Error(err))
				}
			}()
		case *fetch.EventRequestPaused:
			go func() {
				execCtx := cdp.WithExecutor(tabCtx, chromedp.FromContext(tabCtx).Target)
				_ = fetch.ContinueRequest(ev.RequestID).Do(execCtx)
			}()
		}
	})
}

// Page returns the live page. Nil until ConfigurePage has succeeded.
func (ac *AutomationContext) Page() Page {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.page
}

// Teardown closes the tab and the browser process and removes the profile
// directory if this context created one. Idempotent, never fails: errors are
// logged and swallowed. Safe to call on a context that never launched.
func (ac *AutomationContext) Teardown(ctx context.Context) {
	ac.teardownOnce.Do(func() {
		ac.mu.Lock()
		ac.state = StateClosing
		tabCancel := ac.tabCancel
		allocCancel := ac.allocCancel
		allocCtx := ac.allocCtx
		removeProfile := ac.profileCreated
		ac.mu.Unlock()

		if tabCancel != nil {
			tabCancel()
		}
		if allocCancel != nil {
			allocCancel()
			select {
			case <-allocCtx.Done():
			case <-ctx.Done():
				ac.logger.Warn("Gave up waiting for browser termination.", zap.Error(ctx.Err()))
			case <-time.After(teardownGracePeriod):
				ac.logger.Warn("Timeout waiting for browser termination.")
			}
		}

		if removeProfile {
			if err := os.RemoveAll(ac.profileDir); err != nil {
				ac.logger.Warn("Failed to remove profile directory.",
					zap.String("dir", ac.profileDir), zap.Error(err))
			}
		}

		ac.mu.Lock()
		ac.state = StateClosed
		ac.mu.Unlock()
		ac.logger.Debug("Automation context closed.")
	})
}

// launchVariants returns the ordered launch attempts: the full flag set
// first, then a minimal fallback for constrained environments where the
// primary set fails to start a browser.
func (ac *AutomationContext) launchVariants() []LaunchVariant {
	return []LaunchVariant{
		{Name: "primary", Opts: ac.primaryOptions()},
		{Name: "minimal", Opts: ac.minimalOptions()},
	}
}

func (ac *AutomationContext) primaryOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	// Later flags win, so overrides of the defaults are appended here.
	opts = append(opts,
		chromedp.Flag("headless", ac.cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", ac.cfg.IgnoreTLSErrors),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", ac.cfg.Headless),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("window-size", "1280,720"),
		chromedp.UserAgent(ac.ident.UserAgent),
	)

	for _, arg := range ac.cfg.Args {
		name, value := splitArg(arg)
		opts = append(opts, chromedp.Flag(name, value))
	}

	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	return ac.appendSessionOptions(opts)
}

func (ac *AutomationContext) minimalOptions() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("headless", ac.cfg.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
	}
	return ac.appendSessionOptions(opts)
}

// appendSessionOptions adds the options every variant must carry: the
// executable path, the assigned proxy, and the isolated profile directory.
func (ac *AutomationContext) appendSessionOptions(opts []chromedp.ExecAllocatorOption) []chromedp.ExecAllocatorOption {
	if ac.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(ac.cfg.ExecPath))
	}
	if ac.proxy != nil {
		opts = append(opts, chromedp.ProxyServer(ac.proxy.BrowserFlag()))
	}
	if ac.profileDir != "" {
		opts = append(opts, chromedp.UserDataDir(ac.profileDir))
	}
	return opts
}

// splitArg converts a "--flag=value" or "--flag" argument into the name and
// value chromedp.Flag expects.
func splitArg(arg string) (string, any) {
	parts := strings.SplitN(arg, "=", 2)
	name := strings.TrimPrefix(parts[0], "--")
	if len(parts) == 2 {
		return name, parts[1]
	}
	return name, true
}
