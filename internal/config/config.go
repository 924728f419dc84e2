package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Target selects which action script a run executes.
type Target string

const (
	TargetYouTube Target = "youtube"
	TargetWebsite Target = "website"
)

// ProxySource selects where the run obtains its proxy endpoints.
type ProxySource string

const (
	ProxySourceNone        ProxySource = "none"
	ProxySourceManual      ProxySource = "manual"
	ProxySourceMultiManual ProxySource = "multi-manual"
	ProxySourceFile        ProxySource = "file"
	ProxySourceAuto        ProxySource = "auto"
)

// LoginMethod selects the optional pre-script authentication flow.
type LoginMethod string

const (
	LoginNone    LoginMethod = "none"
	LoginGoogle  LoginMethod = "google"
	LoginYouTube LoginMethod = "youtube"
)

// ScrollPattern names a website browsing profile.
type ScrollPattern string

const (
	ScrollDefault    ScrollPattern = "default"
	ScrollSkimmer    ScrollPattern = "skimmer"
	ScrollReader     ScrollPattern = "reader"
	ScrollResearcher ScrollPattern = "researcher"
)

// LoggerConfig controls the zap logger bootstrap.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig tunes the HTTP/WebSocket server mode.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// BrowserConfig tunes the chromedp allocator shared by all sessions.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath        string        `mapstructure:"exec_path" yaml:"exec_path"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	LaunchTimeout   time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	ActionTimeout   time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	ProfileRoot     string        `mapstructure:"profile_root" yaml:"profile_root"`
	Args            []string      `mapstructure:"args" yaml:"args"`
}

// ProxyConfig tunes proxy validation, fetching and health persistence.
type ProxyConfig struct {
	ValidateTimeout time.Duration `mapstructure:"validate_timeout" yaml:"validate_timeout"`
	ValidateWorkers int           `mapstructure:"validate_workers" yaml:"validate_workers"`
	ReflectorURL    string        `mapstructure:"reflector_url" yaml:"reflector_url"`
	FetchSources    []string      `mapstructure:"fetch_sources" yaml:"fetch_sources"`
	FetchRateLimit  float64       `mapstructure:"fetch_rate_limit" yaml:"fetch_rate_limit"`
	HealthDBPath    string        `mapstructure:"health_db_path" yaml:"health_db_path"`
	// HealthRetention bounds how long untested endpoints stay in the
	// health database; zero disables pruning.
	HealthRetention time.Duration `mapstructure:"health_retention" yaml:"health_retention"`
}

// IdentityConfig controls the user-agent catalog.
type IdentityConfig struct {
	// UserAgentFile, when set, replaces the built-in catalog with a
	// newline-separated UA list (# comments allowed).
	UserAgentFile string `mapstructure:"user_agent_file" yaml:"user_agent_file"`
}

// OrchestratorConfig tunes run execution and the run registry.
type OrchestratorConfig struct {
	RunRetention   time.Duration `mapstructure:"run_retention" yaml:"run_retention"`
	MaxSessions    int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	MaxConcurrency int           `mapstructure:"max_concurrency" yaml:"max_concurrency"`
}

// Config holds the application configuration, excluding per-run parameters
// which arrive through RunConfig.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Browser      BrowserConfig      `mapstructure:"browser" yaml:"browser"`
	Proxy        ProxyConfig        `mapstructure:"proxy" yaml:"proxy"`
	Identity     IdentityConfig     `mapstructure:"identity" yaml:"identity"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "driftnet-cli")
	v.SetDefault("logger.log_file", "driftnet.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.launch_timeout", "45s")
	v.SetDefault("browser.action_timeout", "30s")
	v.SetDefault("browser.profile_root", "")

	// -- Proxy --
	v.SetDefault("proxy.validate_timeout", "10s")
	v.SetDefault("proxy.validate_workers", 20)
	v.SetDefault("proxy.reflector_url", "https://api.ipify.org?format=json")
	v.SetDefault("proxy.fetch_rate_limit", 2.0)
	v.SetDefault("proxy.health_db_path", "")
	v.SetDefault("proxy.health_retention", "720h")

	// -- Identity --
	v.SetDefault("identity.user_agent_file", "")

	// -- Orchestrator --
	v.SetDefault("orchestrator.run_retention", "5m")
	v.SetDefault("orchestrator.max_sessions", 50)
	v.SetDefault("orchestrator.max_concurrency", 10)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults alone.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a validated configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Proxy.ValidateWorkers <= 0 {
		return fmt.Errorf("proxy.validate_workers must be a positive integer")
	}
	if c.Orchestrator.MaxSessions <= 0 {
		return fmt.Errorf("orchestrator.max_sessions must be a positive integer")
	}
	if c.Orchestrator.MaxConcurrency <= 0 {
		return fmt.Errorf("orchestrator.max_concurrency must be a positive integer")
	}
	if c.Orchestrator.RunRetention <= 0 {
		return fmt.Errorf("orchestrator.run_retention must be a positive duration")
	}
	return nil
}

// RunConfig carries the parameters of a single orchestration run. It arrives
// from CLI flags or an API request body, never from the config file.
type RunConfig struct {
	Target       Target `mapstructure:"target" json:"target"`
	SessionCount int    `mapstructure:"session_count" json:"sessionCount"`
	Concurrency  int    `mapstructure:"concurrency" json:"concurrency"`

	ProxySource     ProxySource `mapstructure:"proxy_source" json:"proxySource"`
	ManualProxy     string      `mapstructure:"manual_proxy" json:"manualProxy"`
	MultiProxies    string      `mapstructure:"multi_proxies" json:"multiProxies"`
	ProxyFile       string      `mapstructure:"proxy_file" json:"proxyFile"`
	ValidateProxies bool        `mapstructure:"validate_proxies" json:"validateProxies"`
	CheckLeaks      bool        `mapstructure:"check_leaks" json:"checkLeaks"`

	RotateUA          bool   `mapstructure:"rotate_ua" json:"rotateUA"`
	DeviceClass       string `mapstructure:"device_class" json:"deviceClass"`
	PlatformClass     string `mapstructure:"platform_class" json:"platformClass"`
	DifferentProfiles bool   `mapstructure:"different_profiles" json:"differentProfiles"`

	LoginMethod    LoginMethod `mapstructure:"login_method" json:"loginMethod"`
	GoogleEmail    string      `mapstructure:"google_email" json:"googleEmail"`
	GooglePassword string      `mapstructure:"google_password" json:"googlePassword"`

	YTKeyword    string `mapstructure:"yt_keyword" json:"ytKeyword"`
	YTDirectURL  string `mapstructure:"yt_direct_url" json:"ytDirectURL"`
	WatchMinutes int    `mapstructure:"watch_minutes" json:"watchMinutes"`
	LikeVideo    bool   `mapstructure:"like_video" json:"likeVideo"`
	PostComment  bool   `mapstructure:"post_comment" json:"postComment"`
	CommentText  string `mapstructure:"comment_text" json:"commentText"`
	Subscribe    bool   `mapstructure:"subscribe" json:"subscribe"`

	WebURL        string        `mapstructure:"web_url" json:"webURL"`
	VisitMinutes  int           `mapstructure:"visit_minutes" json:"visitMinutes"`
	ScrollPattern ScrollPattern `mapstructure:"scroll_pattern" json:"scrollPattern"`
	ClickLinks    bool          `mapstructure:"click_links" json:"clickLinks"`
}

// ApplyDefaults fills zero values with their run-time defaults. Called before
// Validate so a minimal config is still runnable.
func (rc *RunConfig) ApplyDefaults() {
	if rc.SessionCount <= 0 {
		rc.SessionCount = 1
	}
	if rc.Concurrency <= 0 {
		rc.Concurrency = 1
	}
	if rc.ProxySource == "" {
		rc.ProxySource = ProxySourceNone
	}
	if rc.LoginMethod == "" {
		rc.LoginMethod = LoginNone
	}
	if rc.WatchMinutes <= 0 {
		rc.WatchMinutes = 1
	}
	if rc.VisitMinutes <= 0 {
		rc.VisitMinutes = 1
	}
	if rc.ScrollPattern == "" {
		rc.ScrollPattern = ScrollDefault
	}
	if rc.DeviceClass == "" {
		rc.DeviceClass = "random"
	}
	if rc.PlatformClass == "" {
		rc.PlatformClass = "random"
	}
}

// Validate checks the run parameters before any session is started. The
// returned error names the offending field so callers can surface it as a
// configuration failure.
func (rc *RunConfig) Validate() error {
	switch rc.Target {
	case TargetYouTube:
		if strings.TrimSpace(rc.YTKeyword) == "" && strings.TrimSpace(rc.YTDirectURL) == "" {
			return fmt.Errorf("youtube target requires yt_keyword or yt_direct_url")
		}
	case TargetWebsite:
		if strings.TrimSpace(rc.WebURL) == "" {
			return fmt.Errorf("website target requires web_url")
		}
	default:
		return fmt.Errorf("unknown target %q: must be %q or %q", rc.Target, TargetYouTube, TargetWebsite)
	}

	switch rc.ProxySource {
	case ProxySourceNone, ProxySourceAuto:
	case ProxySourceManual:
		if strings.TrimSpace(rc.ManualProxy) == "" {
			return fmt.Errorf("proxy_source %q requires manual_proxy", rc.ProxySource)
		}
	case ProxySourceMultiManual:
		if strings.TrimSpace(rc.MultiProxies) == "" {
			return fmt.Errorf("proxy_source %q requires multi_proxies", rc.ProxySource)
		}
	case ProxySourceFile:
		if strings.TrimSpace(rc.ProxyFile) == "" {
			return fmt.Errorf("proxy_source %q requires proxy_file", rc.ProxySource)
		}
	default:
		return fmt.Errorf("unknown proxy_source %q", rc.ProxySource)
	}

	switch rc.LoginMethod {
	case LoginNone:
	case LoginGoogle, LoginYouTube:
		if rc.GoogleEmail == "" || rc.GooglePassword == "" {
			return fmt.Errorf("login_method %q requires google_email and google_password", rc.LoginMethod)
		}
	default:
		return fmt.Errorf("unknown login_method %q", rc.LoginMethod)
	}

	switch rc.ScrollPattern {
	case ScrollDefault, ScrollSkimmer, ScrollReader, ScrollResearcher:
	default:
		return fmt.Errorf("unknown scroll_pattern %q", rc.ScrollPattern)
	}

	return nil
}
