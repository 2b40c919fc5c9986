package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrConfig is returned when runtime configuration is invalid.
var ErrConfig = errors.New("app: invalid config")

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config contains the runtime configuration loaded from HANDOFF_* environment variables.
// Package-level settings (pairing, session, auth API) are loaded by their own packages.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes    int           `env:"HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Store selects the persistence backend: memory, postgres or sqlite.
	Store string `env:"STORE" envDefault:"memory"`

	DatabaseURL string `env:"DATABASE_URL"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"0"`
	DBMigrate   bool   `env:"DB_MIGRATE" envDefault:"true"`

	SQLitePath string `env:"SQLITE_PATH" envDefault:"handoff.db"`

	// If true, /readyz returns 503 unless a database backend is configured and reachable.
	ReadinessRequireDB bool `env:"READINESS_REQUIRE_DB" envDefault:"false"`

	// If true, HANDOFF_TOKEN_HMAC_KEY must be set (>= 32 bytes) and pairing tokens are HMAC-hashed.
	RequireTokenHMAC bool `env:"REQUIRE_TOKEN_HMAC" envDefault:"false"`

	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`

	CORSAllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	CORSAllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS" envDefault:"true"`
	CORSMaxAgeSeconds    int      `env:"CORS_MAX_AGE_SECONDS" envDefault:"600"`
}

// DefaultConfig returns the configuration with every default applied and no environment read.
func DefaultConfig() Config {
	var cfg Config
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// LoadConfig loads Config from HANDOFF_* environment variables and validates it.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "HANDOFF_"}); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%w: http addr is required", ErrConfig)
	}
	switch c.LogFormat {
	case "json", "pretty":
	default:
		return fmt.Errorf("%w: log format must be json or pretty", ErrConfig)
	}
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("%w: HANDOFF_DATABASE_URL is required for the postgres store", ErrConfig)
		}
		if c.DBMinConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
			return fmt.Errorf("%w: db min conns must be within [0, max]", ErrConfig)
		}
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("%w: HANDOFF_SQLITE_PATH is required for the sqlite store", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrConfig, c.Store)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("%w: sweep interval must be positive", ErrConfig)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown timeout must be positive", ErrConfig)
	}
	return nil
}

// dbEnabled reports whether the configured backend is a database.
func (c Config) dbEnabled() bool {
	return c.Store == StorePostgres || c.Store == StoreSQLite
}
