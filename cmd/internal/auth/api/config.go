package authapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is the environment prefix for auth API settings.
const EnvPrefix = "HANDOFF_AUTH_"

// ErrConfig is returned for invalid auth API configuration.
var ErrConfig = errors.New("invalid auth api config")

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool  `env:"TRUST_PROXY" envDefault:"false"`
	MaxBodyBytes int64 `env:"MAX_BODY_BYTES" envDefault:"16384"`

	// CallerKey, when set, must be presented by the authenticated (mobile)
	// side on issue and redeem.
	CallerKey       string `env:"CALLER_KEY"`
	CallerKeyHeader string `env:"CALLER_KEY_HEADER" envDefault:"X-Handoff-Caller-Key"`

	SessionCookieEnabled bool   `env:"SESSION_COOKIE_ENABLED" envDefault:"true"`
	SessionCookieName    string `env:"SESSION_COOKIE_NAME" envDefault:"handoff_session"`
	SessionHeaderName    string `env:"SESSION_HEADER_NAME" envDefault:"X-Session-ID"`
	CookiePath           string `env:"COOKIE_PATH" envDefault:"/"`
	CookieDomain         string `env:"COOKIE_DOMAIN"`
	CookieSecure         bool   `env:"COOKIE_SECURE" envDefault:"true"`
	CookieSameSite       string `env:"COOKIE_SAMESITE" envDefault:"lax"`

	IssueIPMax     int           `env:"ISSUE_IP_MAX" envDefault:"30"`
	IssueIPWindow  time.Duration `env:"ISSUE_IP_WINDOW" envDefault:"1m"`
	RedeemIPMax    int           `env:"REDEEM_IP_MAX" envDefault:"60"`
	RedeemIPWindow time.Duration `env:"REDEEM_IP_WINDOW" envDefault:"1m"`
	PollIPMax      int           `env:"POLL_IP_MAX" envDefault:"240"`
	PollIPWindow   time.Duration `env:"POLL_IP_WINDOW" envDefault:"1m"`

	// RetryAfter is advertised on 503 storage_unavailable responses.
	RetryAfter time.Duration `env:"RETRY_AFTER" envDefault:"2s"`
}

// DefaultConfig returns the tag defaults without reading the environment.
func DefaultConfig() Config {
	var cfg Config
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// LoadConfigFromEnv loads auth config from HANDOFF_AUTH_* variables.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.CallerKey = strings.TrimSpace(cfg.CallerKey)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants.
func (c Config) Validate() error {
	switch {
	case c.MaxBodyBytes <= 0:
		return fmt.Errorf("%w: max body bytes must be positive", ErrConfig)
	case c.SessionCookieEnabled && strings.TrimSpace(c.SessionCookieName) == "":
		return fmt.Errorf("%w: session cookie name is required", ErrConfig)
	case c.CallerKey != "" && len(c.CallerKey) < 16:
		return fmt.Errorf("%w: caller key must be at least 16 bytes", ErrConfig)
	case c.RetryAfter < 0:
		return fmt.Errorf("%w: retry after must not be negative", ErrConfig)
	}
	if _, ok := parseSameSite(c.CookieSameSite); !ok {
		return fmt.Errorf("%w: unknown cookie samesite %q", ErrConfig, c.CookieSameSite)
	}
	return nil
}

func (c Config) sameSite() http.SameSite {
	s, _ := parseSameSite(c.CookieSameSite)
	return s
}

func parseSameSite(v string) (http.SameSite, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "lax":
		return http.SameSiteLaxMode, true
	case "strict":
		return http.SameSiteStrictMode, true
	case "none":
		return http.SameSiteNoneMode, true
	default:
		return http.SameSiteDefaultMode, false
	}
}
