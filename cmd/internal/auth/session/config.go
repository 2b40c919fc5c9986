package session

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is the environment prefix for session settings.
const EnvPrefix = "HANDOFF_SESSION_"

// Config defines runtime configuration for web sessions.
type Config struct {
	// TTL is the fixed lifetime of a session. Use does not extend it.
	TTL time.Duration `env:"TTL" envDefault:"1h"`

	// TokenBytes is the entropy of generated session ids.
	TokenBytes int `env:"TOKEN_BYTES" envDefault:"32"`

	// CacheTTL bounds how long a verified session may be served from memory.
	// Zero disables the cache.
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"30s"`

	// CacheSize caps the number of cached sessions.
	CacheSize int `env:"CACHE_SIZE" envDefault:"10000"`
}

// DefaultConfig returns the tag defaults without reading the environment.
func DefaultConfig() Config {
	var cfg Config
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// LoadConfigFromEnv loads session configuration from HANDOFF_SESSION_* variables.
//
// Returns an error wrapping ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants.
func (c Config) Validate() error {
	switch {
	case c.TTL <= 0:
		return fmt.Errorf("%w: ttl must be positive", ErrConfig)
	case c.TokenBytes < 16 || c.TokenBytes > 64:
		return fmt.Errorf("%w: token bytes must be within [16, 64]", ErrConfig)
	case c.CacheTTL < 0:
		return fmt.Errorf("%w: cache ttl must not be negative", ErrConfig)
	case c.CacheSize < 0:
		return fmt.Errorf("%w: cache size must not be negative", ErrConfig)
	}
	return nil
}
