package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 45*time.Second, cfg.Browser.LaunchTimeout)
	assert.Equal(t, 10*time.Second, cfg.Proxy.ValidateTimeout)
	assert.Equal(t, 20, cfg.Proxy.ValidateWorkers)
	assert.Equal(t, 720*time.Hour, cfg.Proxy.HealthRetention)
	assert.Equal(t, 5*time.Minute, cfg.Orchestrator.RunRetention)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Empty(t, cfg.Identity.UserAgentFile)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.NoError(t, cfg.Validate(), "a default config should be valid")

	invalidWorkers := *cfg
	invalidWorkers.Proxy.ValidateWorkers = 0
	err := invalidWorkers.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "proxy.validate_workers must be a positive integer")

	invalidSessions := *cfg
	invalidSessions.Orchestrator.MaxSessions = -1
	err = invalidSessions.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "orchestrator.max_sessions must be a positive integer")

	invalidRetention := *cfg
	invalidRetention.Orchestrator.RunRetention = 0
	err = invalidRetention.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "orchestrator.run_retention must be a positive duration")
}

func TestRunConfigValidation(t *testing.T) {
	validYouTube := func() RunConfig {
		rc := RunConfig{
			Target:    TargetYouTube,
			YTKeyword: "lofi beats",
		}
		rc.ApplyDefaults()
		return rc
	}

	t.Run("valid youtube config", func(t *testing.T) {
		rc := validYouTube()
		assert.NoError(t, rc.Validate())
	})

	t.Run("youtube requires keyword or direct url", func(t *testing.T) {
		rc := validYouTube()
		rc.YTKeyword = "   "
		err := rc.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "yt_keyword or yt_direct_url")

		rc.YTDirectURL = "https://www.youtube.com/watch?v=abc123"
		assert.NoError(t, rc.Validate())
	})

	t.Run("website requires web_url", func(t *testing.T) {
		rc := RunConfig{Target: TargetWebsite}
		rc.ApplyDefaults()
		err := rc.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "web_url")

		rc.WebURL = "example.com"
		assert.NoError(t, rc.Validate())
	})

	t.Run("unknown target rejected", func(t *testing.T) {
		rc := RunConfig{Target: "tiktok"}
		rc.ApplyDefaults()
		err := rc.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown target")
	})

	t.Run("proxy source requirements", func(t *testing.T) {
		rc := validYouTube()
		rc.ProxySource = ProxySourceManual
		err := rc.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "manual_proxy")

		rc.ManualProxy = "10.0.0.1:8080"
		assert.NoError(t, rc.Validate())

		rc.ProxySource = ProxySourceFile
		err = rc.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "proxy_file")
	})

	t.Run("login method requires credentials", func(t *testing.T) {
		rc := validYouTube()
		rc.LoginMethod = LoginGoogle
		err := rc.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "google_email and google_password")

		rc.GoogleEmail = "bot@example.com"
		rc.GooglePassword = "hunter2"
		assert.NoError(t, rc.Validate())
	})

	t.Run("unknown scroll pattern rejected", func(t *testing.T) {
		rc := validYouTube()
		rc.ScrollPattern = "speedrun"
		err := rc.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown scroll_pattern")
	})
}

func TestRunConfigApplyDefaults(t *testing.T) {
	rc := RunConfig{Target: TargetWebsite, WebURL: "example.com"}
	rc.ApplyDefaults()

	assert.Equal(t, 1, rc.SessionCount)
	assert.Equal(t, 1, rc.Concurrency, "default concurrency is sequential")
	assert.Equal(t, ProxySourceNone, rc.ProxySource)
	assert.Equal(t, LoginNone, rc.LoginMethod)
	assert.Equal(t, ScrollDefault, rc.ScrollPattern)
	assert.Equal(t, 1, rc.VisitMinutes)
	assert.Equal(t, "random", rc.DeviceClass)

	// Existing values survive.
	rc2 := RunConfig{Target: TargetYouTube, SessionCount: 7, Concurrency: 3}
	rc2.ApplyDefaults()
	assert.Equal(t, 7, rc2.SessionCount)
	assert.Equal(t, 3, rc2.Concurrency)
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
server:
  addr: ":9090"
proxy:
  validate_workers: 4
orchestrator:
  run_retention: 2m
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		err := v.ReadConfig(bytes.NewBuffer(yamlBytes))
		require.NoError(t, err)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, ":9090", cfg.Server.Addr)
		assert.Equal(t, 4, cfg.Proxy.ValidateWorkers)
		assert.Equal(t, 2*time.Minute, cfg.Orchestrator.RunRetention)
		// A default value survives alongside overrides.
		assert.Equal(t, "info", cfg.Logger.Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("proxy.validate_workers", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "proxy.validate_workers must be a positive integer")
	})
}
