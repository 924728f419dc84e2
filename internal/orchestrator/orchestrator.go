// Package orchestrator is the top-level control loop: it validates a run
// configuration, assigns a proxy and identity per session index, drives each
// session pipeline inside an isolated failure boundary, and collects
// per-session results. One session's total failure never aborts its
// siblings.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/driftnet-cli/internal/browser"
	"github.com/xkilldash9x/driftnet-cli/internal/config"
	"github.com/xkilldash9x/driftnet-cli/internal/events"
	"github.com/xkilldash9x/driftnet-cli/internal/identity"
	"github.com/xkilldash9x/driftnet-cli/internal/metrics"
	"github.com/xkilldash9x/driftnet-cli/internal/proxy"
	"github.com/xkilldash9x/driftnet-cli/internal/script"
)

const sessionTeardownTimeout = 15 * time.Second

// driver is the slice of the browser lifecycle the pipeline needs. The real
// implementation is browser.AutomationContext.
type driver interface {
	Launch(ctx context.Context) error
	ConfigurePage(ctx context.Context) error
	Authenticate(ctx context.Context, method config.LoginMethod, email, password string) bool
	Page() browser.Page
	MarkErrored()
	Teardown(ctx context.Context)
}

type driverFactory func(logger *zap.Logger, cfg config.BrowserConfig, ep *proxy.Endpoint, ident identity.Identity, profileDir string) driver

func defaultDriverFactory(logger *zap.Logger, cfg config.BrowserConfig, ep *proxy.Endpoint, ident identity.Identity, profileDir string) driver {
	return browser.NewAutomationContext(logger, cfg, ep, ident, profileDir)
}

// Orchestrator runs traffic sessions against the configured target.
type Orchestrator struct {
	cfg      *config.Config
	logger   *zap.Logger
	emitter  events.Emitter
	metrics  *metrics.Collector
	registry *Registry
	rotator  *identity.Rotator
	prober   proxy.Prober
	fetcher  *proxy.Fetcher
	leak     *proxy.LeakChecker
	health   *proxy.HealthStore

	newDriver driverFactory
}

// meteredProber counts probe outcomes on top of the real checker.
type meteredProber struct {
	inner   proxy.Prober
	metrics *metrics.Collector
}

func (m meteredProber) Probe(ctx context.Context, ep *proxy.Endpoint) (proxy.ProbeResult, error) {
	res, err := m.inner.Probe(ctx, ep)
	m.metrics.RecordProxyProbe(err == nil)
	return res, err
}

// New wires an orchestrator with the default proxy checker, fetcher and
// builtin identity catalog. A nil emitter disables event reporting.
func New(cfg *config.Config, logger *zap.Logger, emitter events.Emitter, collector *metrics.Collector) *Orchestrator {
	l := logger.Named("orchestrator")
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	checker := proxy.NewChecker(logger, cfg.Proxy.ReflectorURL, cfg.Proxy.ValidateTimeout)
	return &Orchestrator{
		cfg:       cfg,
		logger:    l,
		emitter:   emitter,
		metrics:   collector,
		registry:  NewRegistry(cfg.Orchestrator.RunRetention),
		rotator:   identity.NewRotator(logger),
		prober:    meteredProber{inner: checker, metrics: collector},
		fetcher:   proxy.NewFetcher(logger, cfg.Proxy.FetchSources, cfg.Proxy.FetchRateLimit),
		leak:      proxy.NewLeakChecker(logger, checker),
		newDriver: defaultDriverFactory,
	}
}

// UseRotator replaces the builtin identity catalog, e.g. with one loaded
// from a user-agents file.
func (o *Orchestrator) UseRotator(r *identity.Rotator) {
	o.rotator = r
}

// UseHealthStore enables persisted proxy health counters.
func (o *Orchestrator) UseHealthStore(hs *proxy.HealthStore) {
	o.health = hs
}

// Registry exposes the run cache to the API layer.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Stop requests best-effort cancellation of a running run.
func (o *Orchestrator) Stop(runID string) bool {
	return o.registry.Stop(runID)
}

func (o *Orchestrator) emit(evt events.Event) {
	o.emitter.Emit(evt)
}

func (o *Orchestrator) emitSession(runID, sessionID string, index int, status, message string, progress int) {
	o.emit(events.Event{
		RunID:        runID,
		SessionID:    sessionID,
		SessionIndex: index,
		Status:       status,
		Message:      message,
		Progress:     progress,
	})
}

// StartRun validates the configuration and executes every session, blocking
// until all of them have finished. Validation failure returns before any
// session starts and before any event is emitted.
func (o *Orchestrator) StartRun(ctx context.Context, rc config.RunConfig) (RunResult, error) {
	rc.ApplyDefaults()
	if err := rc.Validate(); err != nil {
		return RunResult{}, fmt.Errorf("invalid run configuration: %w", err)
	}
	return o.execute(ctx, uuid.New().String(), rc)
}

// StartRunAsync validates the configuration and launches the run in the
// background, returning its run ID immediately. The run's progress is
// observable through the registry and the event stream.
func (o *Orchestrator) StartRunAsync(ctx context.Context, rc config.RunConfig) (string, error) {
	rc.ApplyDefaults()
	if err := rc.Validate(); err != nil {
		return "", fmt.Errorf("invalid run configuration: %w", err)
	}
	runID := uuid.New().String()
	go func() {
		if _, err := o.execute(ctx, runID, rc); err != nil {
			o.logger.Error("Background run failed.",
				zap.String("run_id", runID[:8]), zap.Error(err))
		}
	}()
	return runID, nil
}

func (o *Orchestrator) execute(ctx context.Context, runID string, rc config.RunConfig) (RunResult, error) {
	if rc.SessionCount > o.cfg.Orchestrator.MaxSessions {
		o.logger.Warn("Session count clamped.",
			zap.Int("requested", rc.SessionCount),
			zap.Int("max", o.cfg.Orchestrator.MaxSessions))
		rc.SessionCount = o.cfg.Orchestrator.MaxSessions
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.registry.register(runID, rc.Target, rc.SessionCount, cancel)
	logger := o.logger.With(zap.String("run_id", runID[:8]))
	logger.Info("Run starting.",
		zap.String("target", string(rc.Target)),
		zap.Int("sessions", rc.SessionCount),
		zap.Int("concurrency", rc.Concurrency))

	o.emit(events.Event{
		RunID:   runID,
		Status:  events.StatusStarting,
		Message: fmt.Sprintf("Starting %d session(s)", rc.SessionCount),
		Data: map[string]any{
			"target":       string(rc.Target),
			"sessionCount": rc.SessionCount,
		},
	})

	pool, err := o.buildPool(runCtx, rc)
	if err != nil {
		logger.Error("Proxy setup failed.", zap.Error(err))
		o.emit(events.Event{RunID: runID, Status: events.StatusError, Message: err.Error()})
		o.registry.finish(runID, RunFailed)
		o.metrics.RecordRun(string(rc.Target), false)
		return RunResult{}, fmt.Errorf("proxy setup failed: %w", err)
	}

	limit := o.concurrencyCap(rc)
	sem := semaphore.NewWeighted(int64(limit))
	results := make([]SessionResult, rc.SessionCount)
	var wg sync.WaitGroup

	for i := 0; i < rc.SessionCount; i++ {
		if err := sem.Acquire(runCtx, 1); err != nil {
			// Run cancelled while waiting for a slot; the remaining
			// sessions are recorded as failed without starting.
			res := SessionResult{
				SessionID:    sessionID(runID, i),
				SessionIndex: i,
				Action:       script.ActionFor(rc.Target),
				Error:        "run cancelled",
			}
			results[i] = res
			o.registry.append(runID, res)
			continue
		}
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			defer sem.Release(1)
			res := o.runSession(runCtx, runID, index, rc, pool)
			results[index] = res
			o.registry.append(runID, res)
		}(i)
	}
	wg.Wait()

	result := RunResult{
		RunID:        runID,
		Success:      true,
		SessionCount: rc.SessionCount,
		Results:      results,
		CompletedAt:  time.Now(),
	}

	o.emit(events.Event{
		RunID:   runID,
		Status:  events.StatusAllCompleted,
		Message: fmt.Sprintf("All sessions completed (%d/%d succeeded)", result.Succeeded(), rc.SessionCount),
		Data:    map[string]any{"results": results},
	})
	o.registry.finish(runID, RunCompleted)
	o.metrics.RecordRun(string(rc.Target), true)

	logger.Info("Run finished.",
		zap.Int("succeeded", result.Succeeded()),
		zap.Int("sessions", rc.SessionCount))
	return result, nil
}

func (o *Orchestrator) concurrencyCap(rc config.RunConfig) int {
	limit := rc.Concurrency
	if limit < 1 {
		limit = 1
	}
	if max := o.cfg.Orchestrator.MaxConcurrency; max > 0 && limit > max {
		limit = max
	}
	return limit
}

// buildPool loads and optionally validates the run's proxy endpoints.
func (o *Orchestrator) buildPool(ctx context.Context, rc config.RunConfig) (*proxy.Pool, error) {
	pool := proxy.NewPool(o.logger, o.prober, o.cfg.Proxy.ValidateWorkers)

	opts := proxy.LoadOptions{
		Manual:   rc.ManualProxy,
		Multi:    rc.MultiProxies,
		FilePath: rc.ProxyFile,
	}
	if rc.ProxySource == config.ProxySourceAuto {
		fetched, _, err := o.fetcher.FetchAll(ctx)
		if err != nil {
			return nil, err
		}
		opts.Fetched = fetched
	}

	if err := pool.Load(rc.ProxySource, opts); err != nil {
		return nil, err
	}

	if o.health != nil {
		if err := o.health.Seed(pool.Ranked()); err != nil {
			o.logger.Warn("Could not seed proxy health history.", zap.Error(err))
		}
	}

	if rc.ValidateProxies && pool.Size() > 0 {
		if err := pool.Validate(ctx); err != nil {
			return nil, err
		}
		stats := pool.Stats()
		o.metrics.SetWorkingProxies(stats.Working)
		if o.health != nil {
			if err := o.health.Record(pool.Ranked()); err != nil {
				o.logger.Warn("Could not persist proxy health.", zap.Error(err))
			}
		}
	}

	return pool, nil
}

func sessionID(runID string, index int) string {
	return fmt.Sprintf("%s-%d", runID[:8], index)
}

// runSession executes the full per-session pipeline. Every failure mode,
// panics included, converts into a failed SessionResult; teardown runs
// unconditionally for any driver that was created.
func (o *Orchestrator) runSession(ctx context.Context, runID string, index int, rc config.RunConfig, pool *proxy.Pool) (res SessionResult) {
	sid := sessionID(runID, index)
	logger := o.logger.With(zap.String("session_id", sid))

	res = SessionResult{
		SessionID:    sid,
		SessionIndex: index,
		Action:       script.ActionFor(rc.Target),
		StartedAt:    time.Now(),
	}

	o.metrics.SessionStarted()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Session panicked.", zap.Any("panic", r))
			res.Success = false
			res.Error = fmt.Sprintf("panic: %v", r)
			o.emitSession(runID, sid, index, events.StatusError, res.Error, 0)
		}
		res.FinishedAt = time.Now()
		res.DurationMs = res.FinishedAt.Sub(res.StartedAt).Milliseconds()
		o.metrics.SessionFinished()
		o.metrics.RecordSession(res.Success, res.FinishedAt.Sub(res.StartedAt).Seconds())
	}()

	fail := func(err error, stage string) SessionResult {
		logger.Error("Session failed.", zap.String("stage", stage), zap.Error(err))
		res.Success = false
		res.Error = fmt.Sprintf("%s: %v", stage, err)
		o.emitSession(runID, sid, index, events.StatusError, res.Error, 0)
		return res
	}

	o.emitSession(runID, sid, index, events.StatusStarting,
		fmt.Sprintf("Starting session %d/%d", index+1, rc.SessionCount), 5)

	ep := pool.Assign(index)
	if ep != nil {
		res.Proxy = ep.Addr()
		o.emitSession(runID, sid, index, events.StatusProxyAssigned,
			"Using proxy "+ep.Addr(), 10)

		if rc.CheckLeaks {
			advisory := o.leak.Check(ctx, ep)
			if !advisory.IsSecure {
				logger.Warn("Proxy leak advisory.",
					zap.String("proxy", ep.Addr()),
					zap.Strings("leaks", advisory.Leaks))
			}
		}
	}

	ident := identity.Default()
	if rc.RotateUA {
		ident = o.rotator.Assign(index,
			identity.Device(rc.DeviceClass), identity.Platform(rc.PlatformClass))
	}
	res.UserAgent = ident.UserAgent

	var profileDir string
	if rc.DifferentProfiles {
		profileDir = filepath.Join(o.cfg.Browser.ProfileRoot,
			fmt.Sprintf("profile-%s-%d", sid, time.Now().UnixNano()))
	}

	drv := o.newDriver(logger, o.cfg.Browser, ep, ident, profileDir)
	defer func() {
		tctx, tcancel := context.WithTimeout(context.Background(), sessionTeardownTimeout)
		defer tcancel()
		drv.Teardown(tctx)
	}()

	o.emitSession(runID, sid, index, events.StatusLaunching, "Launching browser", 30)
	if err := drv.Launch(ctx); err != nil {
		return fail(err, "browser launch")
	}
	if err := drv.ConfigurePage(ctx); err != nil {
		return fail(err, "page configuration")
	}

	if rc.LoginMethod != config.LoginNone {
		o.emitSession(runID, sid, index, events.StatusLogin, "Logging in", 55)
		if drv.Authenticate(ctx, rc.LoginMethod, rc.GoogleEmail, rc.GooglePassword) {
			o.emitSession(runID, sid, index, events.StatusLoginSuccess, "Login succeeded", 60)
		} else {
			// Non-fatal: the script tolerates being logged out.
			logger.Warn("Login failed, continuing unauthenticated.")
			o.emitSession(runID, sid, index, events.StatusLoginError,
				"Login failed, continuing without authentication", 60)
		}
	}

	report := func(status, message string, progress int) {
		o.emitSession(runID, sid, index, status, message, progress)
	}
	sc, err := script.ForConfig(rc, logger, report)
	if err != nil {
		return fail(err, "script selection")
	}

	err = sc.Run(ctx, drv.Page())
	res.URL = sc.URL()
	if outcomes := sc.Outcomes(); len(outcomes) > 0 {
		res.ActionData = make(map[string]string, len(outcomes))
		for step, outcome := range outcomes {
			res.ActionData[step] = outcome.String()
		}
	}
	if err != nil {
		drv.MarkErrored()
		if ep != nil {
			ep.MarkFailure()
		}
		return fail(err, "script execution")
	}

	res.Success = true
	o.emitSession(runID, sid, index, events.StatusCompleted, "Session completed", 100)
	return res
}
