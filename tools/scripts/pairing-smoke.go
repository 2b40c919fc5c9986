// Package main provides a CI-friendly smoke test for the handoff pairing API.
//
// It validates:
//   - token issuance returns a token id and QR payload
//   - the web poller sees pending before redemption
//   - N concurrent redemptions of one QR payload have exactly one winner
//   - the poller flips to authenticated and receives the session cookie
//   - the session resolves to the issuing identity
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

type smokeClient struct {
	base      string
	callerKey string
	http      *http.Client
	verbose   bool
}

type issued struct {
	ID        string    `json:"id"`
	TokenID   string    `json:"token_id"`
	QRPayload string    `json:"qr_payload"`
	ExpiresAt time.Time `json:"expires_at"`
}

type polled struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	UserEmail string `json:"user_email"`
}

type identity struct {
	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email"`
}

func main() {
	var (
		baseURL   = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		callerKey = flag.String("caller-key", os.Getenv("HANDOFF_AUTH_CALLER_KEY"), "Shared caller key for issue/redeem")
		userID    = flag.String("user", fmt.Sprintf("smoke-%d", time.Now().UnixNano()), "User id to pair")
		email     = flag.String("email", "smoke@example.com", "User email to pair")
		racers    = flag.Int("n", 10, "Concurrent redemptions of the same token")
		timeout   = flag.Duration("timeout", 7*time.Second, "Per-request timeout")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if *racers < 1 {
		fatalf("invalid -n: must be >= 1")
	}

	c := &smokeClient{
		base:      strings.TrimRight(*baseURL, "/"),
		callerKey: strings.TrimSpace(*callerKey),
		http:      &http.Client{Timeout: *timeout},
		verbose:   *verbose,
	}
	ctx := context.Background()

	tok := c.mustIssue(ctx, *userID, *email)
	c.logf("issued: id=%s expires_at=%s", tok.ID, tok.ExpiresAt.Format(time.RFC3339))

	if p, _ := c.mustPoll(ctx, tok.TokenID); p.Status != "pending" {
		fatalf("poll before redeem: status=%q want pending", p.Status)
	}

	winner := c.mustRace(ctx, tok.QRPayload, *racers)
	c.logf("redeemed: session_id=%s", winner)

	p, cookie := c.mustPoll(ctx, tok.TokenID)
	if p.Status != "authenticated" {
		fatalf("poll after redeem: status=%q want authenticated", p.Status)
	}
	if p.SessionID != winner {
		fatalf("poll after redeem: session_id=%q want %q", p.SessionID, winner)
	}
	if cookie == nil {
		fatalf("poll after redeem: no session cookie")
	}

	id := c.mustSession(ctx, cookie)
	if id.UserID != *userID {
		fatalf("session identity: user_id=%q want %q", id.UserID, *userID)
	}

	fmt.Printf("OK: pairing_id=%s session_id=%s user_id=%s racers=%d\n", tok.ID, winner, id.UserID, *racers)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func (c *smokeClient) mustIssue(ctx context.Context, userID, email string) issued {
	var out issued
	status, _, err := c.do(ctx, http.MethodPost, "/api/auth/pairing-tokens", map[string]string{
		"user_id":    userID,
		"user_email": email,
	}, nil, &out)
	if err != nil {
		fatalf("issue: %v", err)
	}
	if status != http.StatusCreated {
		fatalf("issue: status=%d want 201", status)
	}
	if out.TokenID == "" || out.QRPayload == "" {
		fatalf("issue: response missing token_id or qr_payload")
	}
	return out
}

func (c *smokeClient) mustPoll(ctx context.Context, tokenID string) (polled, *http.Cookie) {
	var out polled
	status, cookies, err := c.do(ctx, http.MethodGet, "/api/auth/pairing-tokens/"+url.PathEscape(tokenID), nil, nil, &out)
	if err != nil {
		fatalf("poll: %v", err)
	}
	if status != http.StatusOK {
		fatalf("poll: status=%d want 200", status)
	}
	var session *http.Cookie
	for _, ck := range cookies {
		if ck.HttpOnly && ck.Value != "" {
			session = ck
		}
	}
	return out, session
}

// mustRace fires n redemptions of the same payload at once and returns the winner's session id.
func (c *smokeClient) mustRace(ctx context.Context, payload string, n int) string {
	var (
		wins      atomic.Int64
		conflicts atomic.Int64
		winner    atomic.Value
	)
	start := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			<-start
			var out struct {
				SessionID string `json:"session_id"`
			}
			status, _, err := c.do(gctx, http.MethodPost, "/api/auth/pairing-tokens/redeem",
				map[string]string{"qr_payload": payload}, nil, &out)
			if err != nil {
				return err
			}
			switch status {
			case http.StatusOK:
				wins.Add(1)
				winner.Store(out.SessionID)
			case http.StatusConflict:
				conflicts.Add(1)
			default:
				return fmt.Errorf("redeem: unexpected status %d", status)
			}
			return nil
		})
	}
	close(start)

	if err := g.Wait(); err != nil {
		fatalf("race: %v", err)
	}
	if wins.Load() != 1 || conflicts.Load() != int64(n-1) {
		fatalf("race: wins=%d conflicts=%d want 1/%d", wins.Load(), conflicts.Load(), n-1)
	}
	id, _ := winner.Load().(string)
	if id == "" {
		fatalf("race: winner returned no session_id")
	}
	return id
}

func (c *smokeClient) mustSession(ctx context.Context, cookie *http.Cookie) identity {
	var out identity
	status, _, err := c.do(ctx, http.MethodGet, "/api/auth/session", nil, []*http.Cookie{cookie}, &out)
	if err != nil {
		fatalf("session: %v", err)
	}
	if status != http.StatusOK {
		fatalf("session: status=%d want 200", status)
	}
	return out
}

func (c *smokeClient) do(ctx context.Context, method, path string, body any, cookies []*http.Cookie, out any) (int, []*http.Cookie, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.callerKey != "" {
		req.Header.Set("X-Handoff-Caller-Key", c.callerKey)
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	c.logf("%s %s -> %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))

	if out != nil && resp.StatusCode < 300 && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, nil, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, resp.Cookies(), nil
}

func (c *smokeClient) logf(format string, args ...any) {
	if c.verbose {
		fmt.Printf(format+"\n", args...)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
