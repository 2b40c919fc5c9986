package pairing

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"handoff/cmd/security/token"
)

// EnvPrefix is the environment prefix for pairing settings.
const EnvPrefix = "HANDOFF_PAIRING_"

// Config defines runtime configuration for pairing tokens.
type Config struct {
	// TokenTTL is how long an issued token stays redeemable.
	TokenTTL time.Duration `env:"TOKEN_TTL" envDefault:"10m"`

	// TokenBytes is the entropy of generated token ids.
	TokenBytes int `env:"TOKEN_BYTES" envDefault:"32"`

	// Domain is embedded in QR payloads so scanners can tell deployments apart.
	Domain string `env:"DOMAIN" envDefault:"localhost"`

	// RevokePriorPending expires a user's earlier pending tokens on issue.
	RevokePriorPending bool `env:"REVOKE_PRIOR_PENDING" envDefault:"false"`

	// Retention keeps tokens pollable after expires_at before they are purged.
	// It should cover the session TTL so a redeemed token keeps resolving to
	// its session for as long as the session lives.
	Retention time.Duration `env:"RETENTION" envDefault:"1h"`
}

// DefaultConfig returns the tag defaults without reading the environment.
func DefaultConfig() Config {
	var cfg Config
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// LoadConfigFromEnv loads pairing configuration from HANDOFF_PAIRING_* variables.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.Domain = strings.TrimSpace(cfg.Domain)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants.
func (c Config) Validate() error {
	switch {
	case c.TokenTTL <= 0:
		return fmt.Errorf("%w: token ttl must be positive", ErrConfig)
	case c.TokenBytes < token.MinOpaqueBytes || c.TokenBytes > maxTokenBytes:
		return fmt.Errorf("%w: token bytes must be within [%d, %d]", ErrConfig, token.MinOpaqueBytes, maxTokenBytes)
	case strings.TrimSpace(c.Domain) == "":
		return fmt.Errorf("%w: domain is required", ErrConfig)
	case c.Retention < 0:
		return fmt.Errorf("%w: retention must not be negative", ErrConfig)
	}
	return nil
}
