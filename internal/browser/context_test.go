// internal/browser/context_test.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/driftnet-cli/internal/config"
	"github.com/xkilldash9x/driftnet-cli/internal/identity"
)

func newTestContext(t *testing.T) *AutomationContext {
	t.Helper()
	cfg := config.BrowserConfig{
		Headless:      true,
		LaunchTimeout: 5 * time.Second,
		ActionTimeout: 5 * time.Second,
	}
	ident := identity.Identity{UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) TestAgent/1.0"}
	return NewAutomationContext(zaptest.NewLogger(t), cfg, nil, ident, "")
}

func TestNewAutomationContextStartsCreated(t *testing.T) {
	ac := newTestContext(t)
	assert.Equal(t, StateCreated, ac.State())
	assert.NotEmpty(t, ac.ID())
	assert.Nil(t, ac.Page())
}

func TestTeardownWithoutLaunch(t *testing.T) {
	ac := newTestContext(t)

	ac.Teardown(context.Background())
	assert.Equal(t, StateClosed, ac.State())

	// A second call must be a harmless no-op.
	ac.Teardown(context.Background())
	assert.Equal(t, StateClosed, ac.State())
}

func TestLaunchAfterTeardownRejected(t *testing.T) {
	ac := newTestContext(t)
	ac.Teardown(context.Background())

	err := ac.Launch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal state transition")
}

func TestConfigurePageRequiresReady(t *testing.T) {
	ac := newTestContext(t)

	err := ac.ConfigurePage(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "created")
}

func TestMarkErrored(t *testing.T) {
	ac := newTestContext(t)

	// Created is not an errorable state; the mark is ignored.
	ac.MarkErrored()
	assert.Equal(t, StateCreated, ac.State())

	ac.mu.Lock()
	ac.state = StateActive
	ac.mu.Unlock()

	ac.MarkErrored()
	assert.Equal(t, StateErrored, ac.State())

	// The only way out of Errored is teardown.
	ac.Teardown(context.Background())
	assert.Equal(t, StateClosed, ac.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "errored", StateErrored.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestSplitArg(t *testing.T) {
	tests := []struct {
		arg   string
		name  string
		value any
	}{
		{"--window-size=800,600", "window-size", "800,600"},
		{"--disable-sync", "disable-sync", true},
		{"no-zygote", "no-zygote", true},
		{"--lang=en-US", "lang", "en-US"},
	}
	for _, tt := range tests {
		name, value := splitArg(tt.arg)
		assert.Equal(t, tt.name, name, tt.arg)
		assert.Equal(t, tt.value, value, tt.arg)
	}
}

func TestLaunchVariantOrdering(t *testing.T) {
	ac := newTestContext(t)
	variants := ac.launchVariants()
	require.Len(t, variants, 2)
	assert.Equal(t, "primary", variants[0].Name)
	assert.Equal(t, "minimal", variants[1].Name)
	assert.Greater(t, len(variants[0].Opts), len(variants[1].Opts))
}

// -- login flow tests against a scripted page --

type fakePage struct {
	mu        sync.Mutex
	calls     []string
	location  string
	loggedIn  bool
	missing   map[string]bool
	redirects map[string]string
}

func newFakePage() *fakePage {
	return &fakePage{
		missing:   make(map[string]bool),
		redirects: make(map[string]string),
	}
}

func (p *fakePage) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.record("navigate:" + url)
	p.mu.Lock()
	p.location = url
	p.mu.Unlock()
	return nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	p.record("click:" + selector)
	if p.missing[selector] {
		return fmt.Errorf("no node found for selector %q", selector)
	}
	if loc, ok := p.redirects[selector]; ok {
		p.mu.Lock()
		p.location = loc
		p.mu.Unlock()
	}
	return nil
}

func (p *fakePage) Type(ctx context.Context, selector, text string) error {
	p.record("type:" + selector)
	return nil
}

func (p *fakePage) Press(ctx context.Context, key string) error {
	p.record("press:" + key)
	return nil
}

func (p *fakePage) ScrollBy(ctx context.Context, pixels int) error {
	p.record("scroll")
	return nil
}

func (p *fakePage) Evaluate(ctx context.Context, expression string, out any) error {
	p.record("evaluate")
	if b, ok := out.(*bool); ok {
		*b = p.loggedIn
	}
	return nil
}

func (p *fakePage) WaitVisible(ctx context.Context, selector string) error {
	p.record("wait:" + selector)
	if p.missing[selector] {
		return fmt.Errorf("timeout waiting for %q", selector)
	}
	return nil
}

func (p *fakePage) Title(ctx context.Context) (string, error) { return "", nil }

func (p *fakePage) Location(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location, nil
}

func (p *fakePage) Sleep(ctx context.Context, d time.Duration) error { return nil }

func installFakePage(ac *AutomationContext, pg Page) {
	ac.mu.Lock()
	ac.page = pg
	ac.state = StateActive
	ac.mu.Unlock()
}

func TestAuthenticateWithoutPage(t *testing.T) {
	ac := newTestContext(t)
	ok := ac.Authenticate(context.Background(), config.LoginGoogle, "a@b.com", "pw")
	assert.False(t, ok)
}

func TestGoogleLoginSuccess(t *testing.T) {
	ac := newTestContext(t)
	pg := newFakePage()
	installFakePage(ac, pg)

	// Clicking the final next button redirects away from the signin origin.
	pg.redirects[passwordNextSelector] = "https://myaccount.google.com/"

	ok := ac.loginGoogle(context.Background(), pg, "user@example.com", "hunter2")
	assert.True(t, ok)
	assert.Contains(t, pg.calls, "type:"+emailFieldSelector)
	assert.Contains(t, pg.calls, "type:"+passwordFieldSelector)
	assert.Contains(t, pg.calls, "click:"+passwordNextSelector)
}

func TestGoogleLoginStalledOnChallenge(t *testing.T) {
	ac := newTestContext(t)
	pg := newFakePage()
	installFakePage(ac, pg)

	// Location stays on accounts.google.com, e.g. a 2FA interstitial.
	ok := ac.loginGoogle(context.Background(), pg, "user@example.com", "hunter2")
	assert.False(t, ok)
}

func TestGoogleLoginMissingEmailField(t *testing.T) {
	ac := newTestContext(t)
	pg := newFakePage()
	pg.missing[emailFieldSelector] = true
	installFakePage(ac, pg)

	ok := ac.loginGoogle(context.Background(), pg, "user@example.com", "hunter2")
	assert.False(t, ok)
	assert.NotContains(t, pg.calls, "type:"+passwordFieldSelector)
}

func TestYouTubeLoginAlreadyAuthenticated(t *testing.T) {
	ac := newTestContext(t)
	pg := newFakePage()
	pg.loggedIn = true
	installFakePage(ac, pg)

	ok := ac.Authenticate(context.Background(), config.LoginYouTube, "user@example.com", "hunter2")
	assert.True(t, ok)
	assert.NotContains(t, pg.calls, "navigate:"+googleSigninURL)
}

func TestYouTubeLoginFunnelsIntoGoogle(t *testing.T) {
	ac := newTestContext(t)
	pg := newFakePage()
	installFakePage(ac, pg)

	pg.redirects[passwordNextSelector] = "https://www.youtube.com/"

	ok := ac.loginYouTube(context.Background(), pg, "user@example.com", "hunter2")
	assert.True(t, ok)
	assert.Contains(t, pg.calls, "click:"+ytSignInSelector)
	assert.Contains(t, pg.calls, "navigate:"+googleSigninURL)
}

func TestYouTubeLoginNoSignInButton(t *testing.T) {
	ac := newTestContext(t)
	pg := newFakePage()
	pg.missing[ytSignInSelector] = true
	installFakePage(ac, pg)

	ok := ac.loginYouTube(context.Background(), pg, "user@example.com", "hunter2")
	assert.False(t, ok)
	assert.NotContains(t, pg.calls, "navigate:"+googleSigninURL)
}

func TestUnknownLoginMethodFails(t *testing.T) {
	ac := newTestContext(t)
	installFakePage(ac, newFakePage())

	ok := ac.Authenticate(context.Background(), config.LoginMethod("facebook"), "a", "b")
	assert.False(t, ok)
}
