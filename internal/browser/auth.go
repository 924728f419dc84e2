// internal/browser/auth.go
package browser

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/driftnet-cli/internal/config"
)

const (
	googleSigninURL = "https://accounts.google.com/signin"
	youtubeHomeURL  = "https://www.youtube.com"

	emailFieldSelector    = `input[type="email"]`
	passwordFieldSelector = `input[type="password"]`
	emailNextSelector     = `#identifierNext button`
	passwordNextSelector  = `#passwordNext button`
	ytAvatarSelector      = `#avatar-btn`
	ytSignInSelector      = `ytd-button-renderer yt-button-shape a`
)

// Authenticate drives the requested login flow on the active page. A failed
// login is non-fatal: the caller logs a warning and proceeds unauthenticated.
func (ac *AutomationContext) Authenticate(ctx context.Context, method config.LoginMethod, email, password string) bool {
	pg := ac.Page()
	if pg == nil {
		ac.logger.Warn("Authenticate called before page configuration.")
		return false
	}

	switch method {
	case config.LoginGoogle:
		return ac.loginGoogle(ctx, pg, email, password)
	case config.LoginYouTube:
		return ac.loginYouTube(ctx, pg, email, password)
	}
	return false
}

// loginGoogle walks the two-step Google sign-in form. Success is detected by
// leaving the accounts.google.com origin; landing anywhere else (2FA
// challenge, captcha) counts as failure.
func (ac *AutomationContext) loginGoogle(ctx context.Context, pg Page, email, password string) bool {
	if err := pg.Navigate(ctx, googleSigninURL); err != nil {
		ac.logger.Warn("Google login: signin page unreachable.", zap.Error(err))
		return false
	}

	if err := pg.WaitVisible(ctx, emailFieldSelector); err != nil {
		ac.logger.Warn("Google login: email field never appeared.", zap.Error(err))
		return false
	}
	if err := pg.Type(ctx, emailFieldSelector, email); err != nil {
		ac.logger.Warn("Google login: failed to enter email.", zap.Error(err))
		return false
	}
	pg.Sleep(ctx, time.Second)
	if err := pg.Click(ctx, emailNextSelector); err != nil {
		ac.logger.Warn("Google login: next button missing after email.", zap.Error(err))
		return false
	}
	pg.Sleep(ctx, 2*time.Second)

	if err := pg.WaitVisible(ctx, passwordFieldSelector); err != nil {
		ac.logger.Warn("Google login: password field never appeared.", zap.Error(err))
		return false
	}
	if err := pg.Type(ctx, passwordFieldSelector, password); err != nil {
		ac.logger.Warn("Google login: failed to enter password.", zap.Error(err))
		return false
	}
	pg.Sleep(ctx, time.Second)
	if err := pg.Click(ctx, passwordNextSelector); err != nil {
		ac.logger.Warn("Google login: next button missing after password.", zap.Error(err))
		return false
	}
	pg.Sleep(ctx, 5*time.Second)

	loc, err := pg.Location(ctx)
	if err != nil {
		ac.logger.Warn("Google login: could not read location.", zap.Error(err))
		return false
	}
	if strings.Contains(loc, "accounts.google.com") {
		ac.logger.Warn("Google login stalled, possibly a verification challenge.",
			zap.String("location", loc))
		return false
	}

	ac.logger.Info("Google login succeeded.")
	return true
}

// loginYouTube funnels into the Google flow through YouTube's sign-in
// button, short-circuiting when an avatar shows an existing session.
func (ac *AutomationContext) loginYouTube(ctx context.Context, pg Page, email, password string) bool {
	if err := pg.Navigate(ctx, youtubeHomeURL); err != nil {
		ac.logger.Warn("YouTube login: homepage unreachable.", zap.Error(err))
		return false
	}

	var loggedIn bool
	if err := pg.Evaluate(ctx, `document.querySelector('`+ytAvatarSelector+`') !== null`, &loggedIn); err == nil && loggedIn {
		ac.logger.Info("Already logged in to YouTube.")
		return true
	}

	if err := pg.Click(ctx, ytSignInSelector); err != nil {
		ac.logger.Warn("YouTube login: sign-in button missing.", zap.Error(err))
		return false
	}
	pg.Sleep(ctx, 3*time.Second)

	return ac.loginGoogle(ctx, pg, email, password)
}
