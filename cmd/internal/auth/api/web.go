package authapi

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"
)

func (h *Handler) setSessionCookie(w http.ResponseWriter, sessionID string, exp time.Time) {
	if h == nil || w == nil || !h.cfg.SessionCookieEnabled {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    sessionID,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  exp,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.sameSite(),
	})
}

func (h *Handler) expireSessionCookie(w http.ResponseWriter) {
	if h == nil || w == nil || !h.cfg.SessionCookieEnabled {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    "",
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.sameSite(),
	})
}

// sessionIDFromRequest reads the session id from, in order, the session
// cookie, the session header, and an Authorization bearer token.
func (h *Handler) sessionIDFromRequest(r *http.Request) (id string, fromCookie bool) {
	if h == nil || r == nil {
		return "", false
	}
	if h.cfg.SessionCookieEnabled {
		if c, err := r.Cookie(h.cfg.SessionCookieName); err == nil {
			if v := strings.TrimSpace(c.Value); v != "" {
				return v, true
			}
		}
	}
	if v := strings.TrimSpace(r.Header.Get(h.cfg.SessionHeaderName)); v != "" {
		return v, false
	}
	if v, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return v, false
	}
	return "", false
}

func bearerToken(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) < 7 || !strings.EqualFold(raw[:7], "bearer ") {
		return "", false
	}
	v := strings.TrimSpace(raw[7:])
	return v, v != ""
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

func secureStringEqual(a, b string) bool {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
