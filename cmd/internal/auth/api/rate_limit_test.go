package authapi

import (
	"net"
	"testing"
	"time"
)

func TestIPRateLimiter_SlidingWindow(t *testing.T) {
	l := NewIPRateLimiter(3, time.Minute)
	ip := net.ParseIP("198.51.100.1")
	now := testStart

	for i := range 3 {
		if ok, _ := l.Allow(ip, now.Add(time.Duration(i)*time.Second)); !ok {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	ok, retry := l.Allow(ip, now.Add(10*time.Second))
	if ok {
		t.Fatalf("4th event should be rejected")
	}
	if retry != 50*time.Second {
		t.Fatalf("retry=%v, want 50s", retry)
	}

	if ok, _ := l.Allow(ip, now.Add(61*time.Second)); !ok {
		t.Fatalf("event after oldest left the window should be allowed")
	}
}

func TestIPRateLimiter_PerClient(t *testing.T) {
	l := NewIPRateLimiter(1, time.Minute)
	a, b := net.ParseIP("198.51.100.1"), net.ParseIP("198.51.100.2")

	if ok, _ := l.Allow(a, testStart); !ok {
		t.Fatalf("a first")
	}
	if ok, _ := l.Allow(b, testStart); !ok {
		t.Fatalf("b must not share a's budget")
	}
	if ok, _ := l.Allow(a, testStart); ok {
		t.Fatalf("a second should be limited")
	}
}

func TestIPRateLimiter_Disabled(t *testing.T) {
	l := NewIPRateLimiter(0, time.Minute)
	for range 100 {
		if ok, _ := l.Allow(nil, testStart); !ok {
			t.Fatalf("disabled limiter rejected")
		}
	}
}

func TestIPRateLimiter_Prunes(t *testing.T) {
	l := NewIPRateLimiter(1, time.Second)
	for i := range maxLimiterKeys {
		ip := net.IPv4(10, byte(i>>16), byte(i>>8), byte(i))
		l.Allow(ip, testStart)
	}
	l.Allow(net.ParseIP("192.0.2.1"), testStart.Add(2*time.Second))
	if n := len(l.clients); n != 1 {
		t.Fatalf("clients=%d, want 1 after prune", n)
	}
}
