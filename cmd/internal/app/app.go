// Package app wires the handoff server runtime: config, logging, storage backends,
// the pairing and session services, HTTP routes and the expiry sweeper.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	authapi "handoff/cmd/internal/auth/api"
	"handoff/cmd/internal/auth/session"
	"handoff/cmd/internal/clock"
	"handoff/cmd/internal/pairing"
	"handoff/cmd/internal/storage"
	"handoff/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const hasherPurpose = "pairing"

// Components carries the package-level configuration the App is assembled from.
type Components struct {
	Pairing pairing.Config
	Session session.Config
	Auth    authapi.Config
	Hasher  token.Hasher

	// Clock defaults to the system clock.
	Clock clock.Clock
}

// LoadComponents reads every package config from the environment and builds the token hasher.
func LoadComponents(cfg Config) (Components, error) {
	pcfg, err := pairing.LoadConfigFromEnv()
	if err != nil {
		return Components{}, err
	}
	scfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return Components{}, err
	}
	acfg, err := authapi.LoadConfigFromEnv()
	if err != nil {
		return Components{}, err
	}
	hasher, err := token.NewHasherFromEnv(hasherPurpose, cfg.RequireTokenHMAC)
	if err != nil {
		return Components{}, fmt.Errorf("security policy: %w", err)
	}
	return Components{Pairing: pcfg, Session: scfg, Auth: acfg, Hasher: hasher}, nil
}

// App is the handoff server runtime.
type App struct {
	cfg Config
	log Logger

	backend  *backend
	registry *prometheus.Registry

	sessions *session.Service
	pairing  *pairing.Service
	auth     *authapi.Handler
	sweeper  *Sweeper
}

// New opens the configured backend and wires services, handlers and the sweeper.
func New(ctx context.Context, cfg Config, comps Components, log Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	clk := comps.Clock
	if clk == nil {
		clk = clock.System{}
	}

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := assemble(cfg, comps, log, clk, be)
	if err != nil {
		be.close()
		return nil, err
	}
	return a, nil
}

func assemble(cfg Config, comps Components, log Logger, clk clock.Clock, be *backend) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sessMetrics := session.NewMetrics(reg)
	pairMetrics := pairing.NewMetrics(reg)

	var sessStore session.Store = be.sessions
	if comps.Session.CacheTTL > 0 {
		cached, err := session.NewCachedStore(be.sessions, comps.Session.CacheTTL, comps.Session.CacheSize,
			session.WithCacheClock(clk),
			session.WithCacheMetrics(sessMetrics),
		)
		if err != nil {
			return nil, err
		}
		sessStore = cached
	}

	sessionSvc, err := session.NewService(comps.Session, sessStore,
		session.WithClock(clk),
		session.WithLogger(log),
		session.WithMetrics(sessMetrics),
	)
	if err != nil {
		return nil, err
	}

	pairingSvc, err := pairing.NewService(comps.Pairing, be.pairing, sessionSvc,
		pairing.WithClock(clk),
		pairing.WithLogger(log),
		pairing.WithMetrics(pairMetrics),
		pairing.WithHasher(comps.Hasher),
	)
	if err != nil {
		return nil, err
	}

	auth, err := authapi.NewHandler(log, comps.Auth, pairingSvc, sessionSvc, authapi.WithHandlerClock(clk))
	if err != nil {
		return nil, err
	}

	sweeper := NewSweeper(log, cfg.SweepInterval)
	sweeper.Add("pairing_tokens", pairingSvc)
	sweeper.Add("web_sessions", sessionSvc)

	log.Info("app.wired",
		"store", cfg.Store,
		"token_hmac", comps.Hasher.HMACEnabled(),
		"session_cache", comps.Session.CacheTTL > 0,
		"pairing_domain", comps.Pairing.Domain,
	)

	return &App{
		cfg:      cfg,
		log:      log,
		backend:  be,
		registry: reg,
		sessions: sessionSvc,
		pairing:  pairingSvc,
		auth:     auth,
		sweeper:  sweeper,
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.backend.ping, a.registry, a.auth)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, a.log)
}

// Run starts the HTTP server and the sweeper and blocks until ctx is cancelled or the
// server fails. Resources are released before it returns.
func (a *App) Run(ctx context.Context) error {
	defer a.backend.close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.sweeper.Start(ctx)
	defer a.sweeper.Stop()

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "store", a.cfg.Store)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// backend holds the stores for one persistence mode and owns their resources.
type backend struct {
	sessions session.Store
	pairing  pairing.Store

	// ping is nil for the in-memory backend.
	ping  func(ctx context.Context) error
	close func()
}

func openBackend(ctx context.Context, cfg Config, log Logger) (*backend, error) {
	switch cfg.Store {
	case StorePostgres:
		pool, err := storage.OpenPostgres(ctx, cfg.DatabaseURL, storage.PostgresOptions{
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
			Migrate:  cfg.DBMigrate,
		})
		if err != nil {
			return nil, err
		}
		be, err := postgresBackend(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("db.enabled.postgres_store", "max_conns", cfg.DBMaxConns, "migrate", cfg.DBMigrate)
		return be, nil

	case StoreSQLite:
		db, err := storage.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		be, err := sqliteBackend(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("db.enabled.sqlite_store", "path", cfg.SQLitePath)
		return be, nil

	default:
		be, err := memoryBackend()
		if err != nil {
			return nil, err
		}
		log.Info("db.disabled.inmemory_store")
		return be, nil
	}
}

func memoryBackend() (*backend, error) {
	sessions := session.NewMemoryStore()
	tokens, err := pairing.NewMemoryStore(sessions)
	if err != nil {
		return nil, err
	}
	return &backend{sessions: sessions, pairing: tokens, close: func() {}}, nil
}

func postgresBackend(pool *pgxpool.Pool) (*backend, error) {
	sessions, err := session.NewPostgresStore(pool)
	if err != nil {
		return nil, err
	}
	tokens, err := pairing.NewPostgresStore(pool)
	if err != nil {
		return nil, err
	}
	return &backend{
		sessions: sessions,
		pairing:  tokens,
		ping: func(ctx context.Context) error {
			return storage.PingPostgres(ctx, pool, 2*time.Second)
		},
		close: pool.Close,
	}, nil
}

func sqliteBackend(db *sql.DB) (*backend, error) {
	sessions, err := session.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	tokens, err := pairing.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return &backend{
		sessions: sessions,
		pairing:  tokens,
		ping: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return db.PingContext(ctx)
		},
		close: func() { _ = db.Close() },
	}, nil
}
