package authapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSessionIDFromRequest_Precedence(t *testing.T) {
	h := &Handler{cfg: DefaultConfig()}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer from-bearer")
	if id, _ := h.sessionIDFromRequest(req); id != "from-bearer" {
		t.Fatalf("bearer: %q", id)
	}

	req.Header.Set("X-Session-ID", "from-header")
	if id, _ := h.sessionIDFromRequest(req); id != "from-header" {
		t.Fatalf("header: %q", id)
	}

	req.AddCookie(&http.Cookie{Name: "handoff_session", Value: "from-cookie"})
	id, fromCookie := h.sessionIDFromRequest(req)
	if id != "from-cookie" || !fromCookie {
		t.Fatalf("cookie: %q %v", id, fromCookie)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":  "abc",
		"bearer  abc": "abc",
		"Basic abc":   "",
		"Bearer ":     "",
		"":            "",
	}
	for in, want := range cases {
		got, _ := bearerToken(in)
		if got != want {
			t.Fatalf("bearerToken(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:1234"
	req.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.1")

	if ip := clientIP(req, false); ip.String() != "192.0.2.10" {
		t.Fatalf("untrusted proxy: %v", ip)
	}
	if ip := clientIP(req, true); ip.String() != "198.51.100.9" {
		t.Fatalf("trusted proxy: %v", ip)
	}
}

func TestSharedKeyVerifier(t *testing.T) {
	v := SharedKeyVerifier{Header: "X-Key", Key: "secret-secret-secret"}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if err := v.VerifyCaller(req); err == nil {
		t.Fatalf("missing header accepted")
	}
	req.Header.Set("X-Key", "secret-secret-secret")
	if err := v.VerifyCaller(req); err != nil {
		t.Fatalf("valid key rejected: %v", err)
	}
	if err := (SharedKeyVerifier{Header: "X-Key"}).VerifyCaller(req); err == nil {
		t.Fatalf("empty configured key must reject")
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.SessionCookieName != "handoff_session" || cfg.sameSite() != http.SameSiteLaxMode || !cfg.CookieSecure {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("HANDOFF_AUTH_COOKIE_SAMESITE", "strict")
	t.Setenv("HANDOFF_AUTH_CALLER_KEY", "  0123456789abcdef  ")
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.sameSite() != http.SameSiteStrictMode || cfg.CallerKey != "0123456789abcdef" {
		t.Fatalf("cfg=%+v", cfg)
	}

	t.Setenv("HANDOFF_AUTH_COOKIE_SAMESITE", "sideways")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatalf("expected error for bad samesite")
	}
}
