package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	authapi "handoff/cmd/internal/auth/api"
	"handoff/cmd/internal/auth/session"
	"handoff/cmd/internal/clock"
	"handoff/cmd/internal/pairing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testComponents(clk clock.Clock) Components {
	pcfg := pairing.DefaultConfig()
	pcfg.Domain = "handoff.example.com"
	acfg := authapi.DefaultConfig()
	acfg.CookieSecure = false
	return Components{
		Pairing: pcfg,
		Session: session.DefaultConfig(),
		Auth:    acfg,
		Clock:   clk,
	}
}

func newTestApp(t *testing.T, mutate func(*Config)) (*App, *clock.Fake) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clk := clock.NewFake(testStart)
	a, err := New(context.Background(), cfg, testComponents(clk), discardLogger())
	require.NoError(t, err)
	t.Cleanup(a.backend.close)
	return a, clk
}

func serve(t *testing.T, h http.Handler, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "198.51.100.4:4000"
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.MetricsEnabled)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "unknown store", mutate: func(c *Config) { c.Store = "redis" }},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store = StorePostgres }},
		{name: "sqlite without path", mutate: func(c *Config) { c.Store = StoreSQLite; c.SQLitePath = " " }},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }},
		{name: "zero sweep", mutate: func(c *Config) { c.SweepInterval = 0 }},
		{name: "min over max", mutate: func(c *Config) {
			c.Store = StorePostgres
			c.DatabaseURL = "postgres://localhost/handoff"
			c.DBMinConns = 20
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrConfig)
		})
	}
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("HANDOFF_STORE", "sqlite")
	t.Setenv("HANDOFF_SQLITE_PATH", "/tmp/handoff-test.db")
	t.Setenv("HANDOFF_SWEEP_INTERVAL", "30s")
	t.Setenv("HANDOFF_CORS_ALLOWED_ORIGINS", "https://app.example.com,http://127.0.0.1:*")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, []string{"https://app.example.com", "http://127.0.0.1:*"}, cfg.CORSAllowedOrigins)

	t.Setenv("HANDOFF_SWEEP_INTERVAL", "soon")
	_, err = LoadConfig()
	require.ErrorIs(t, err, ErrConfig)
}

func TestLoadComponents_RequireHMAC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequireTokenHMAC = true

	t.Setenv("HANDOFF_TOKEN_HMAC_KEY", "")
	_, err := LoadComponents(cfg)
	require.Error(t, err)

	t.Setenv("HANDOFF_TOKEN_HMAC_KEY", strings.Repeat("k", 32))
	comps, err := LoadComponents(cfg)
	require.NoError(t, err)
	assert.True(t, comps.Hasher.HMACEnabled())
}

func runPairingFlow(t *testing.T, a *App) {
	t.Helper()
	h := a.Handler()

	rr := serve(t, h, http.MethodPost, "/api/auth/pairing-tokens", map[string]string{
		"user_id":    "user-1",
		"user_email": "user@example.com",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get(requestIDHeader))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	var issued struct {
		TokenID   string `json:"token_id"`
		QRPayload string `json:"qr_payload"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &issued))

	rr = serve(t, h, http.MethodPost, "/api/auth/pairing-tokens/redeem", map[string]string{"qr_payload": issued.QRPayload})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = serve(t, h, http.MethodPost, "/api/auth/pairing-tokens/"+issued.TokenID+"/redeem", nil)
	require.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())

	rr = serve(t, h, http.MethodGet, "/api/auth/pairing-tokens/"+issued.TokenID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var polled struct {
		Status    string `json:"status"`
		UserEmail string `json:"user_email"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &polled))
	assert.Equal(t, "authenticated", polled.Status)
	assert.Equal(t, "user@example.com", polled.UserEmail)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)

	rr = serve(t, h, http.MethodGet, "/api/auth/session", nil, cookies[0])
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"user_id":"user-1"`)
}

func TestApp_MemoryStore_PairingFlow(t *testing.T) {
	a, _ := newTestApp(t, nil)
	runPairingFlow(t, a)

	rr := serve(t, a.Handler(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `handoff_pairing_redemptions_total{result="success"} 1`)
	assert.Contains(t, body, `handoff_pairing_redemptions_total{result="already_redeemed"} 1`)
	assert.Contains(t, body, `handoff_session_verifications_total{result="valid"}`)
}

func TestApp_SQLiteStore_PairingFlow(t *testing.T) {
	a, _ := newTestApp(t, func(c *Config) {
		c.Store = StoreSQLite
		c.SQLitePath = filepath.Join(t.TempDir(), "handoff.db")
	})
	runPairingFlow(t, a)

	rr := serve(t, a.Handler(), http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestApp_Health(t *testing.T) {
	a, _ := newTestApp(t, nil)
	h := a.Handler()

	rr := serve(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(t, h, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestApp_ReadyzRequiresDB(t *testing.T) {
	a, _ := newTestApp(t, func(c *Config) { c.ReadinessRequireDB = true })

	rr := serve(t, a.Handler(), http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestApp_MetricsDisabled(t *testing.T) {
	a, _ := newTestApp(t, func(c *Config) { c.MetricsEnabled = false })

	rr := serve(t, a.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestApp_SweeperPurgesRetiredTokens(t *testing.T) {
	a, clk := newTestApp(t, nil)

	_, err := a.pairing.IssueToken(context.Background(), pairing.IssueInput{
		UserID:    "user-2",
		UserEmail: "two@example.com",
		Initiator: pairing.InitiatorMobile,
	})
	require.NoError(t, err)

	assert.Zero(t, a.sweeper.SweepOnce(context.Background()))

	clk.Advance(a.pairing.Config().TokenTTL + a.pairing.Config().Retention + time.Second)
	assert.EqualValues(t, 1, a.sweeper.SweepOnce(context.Background()))
}

func TestApp_RunShutsDownOnCancel(t *testing.T) {
	a, _ := newTestApp(t, func(c *Config) { c.HTTPAddr = "127.0.0.1:0" })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
