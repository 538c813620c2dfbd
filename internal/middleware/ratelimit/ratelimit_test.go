package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(cfg Config, now *time.Time) *Limiter {
	cfg.Clock = func() time.Time { return *now }
	rl := NewLimiter(cfg)
	return rl
}

func TestLimiterAllowsWithinWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newTestLimiter(Config{MaxRequests: 3, Interval: time.Minute}, &now)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("4th request should be denied")
	}
	// Other clients are unaffected.
	if !rl.Allow("5.6.7.8") {
		t.Fatal("different client should be allowed")
	}
}

func TestLimiterResetsAfterInterval(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newTestLimiter(Config{MaxRequests: 1, Interval: time.Minute}, &now)
	defer rl.Stop()

	if !rl.Allow("c") {
		t.Fatal("first request denied")
	}
	if rl.Allow("c") {
		t.Fatal("second request in window allowed")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("c") {
		t.Fatal("request after window expiry denied")
	}
}

func TestLimiterBoundsClientMap(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newTestLimiter(Config{MaxRequests: 10, Interval: time.Minute, MaxClients: 2}, &now)
	defer rl.Stop()

	rl.Allow("a")
	now = now.Add(time.Second)
	rl.Allow("b")
	now = now.Add(time.Second)
	rl.Allow("c")

	rl.mu.Lock()
	size := len(rl.clients)
	_, hasA := rl.clients["a"]
	rl.mu.Unlock()

	if size > 2 {
		t.Fatalf("client map size = %d, want <= 2", size)
	}
	if hasA {
		t.Fatal("stalest client should have been evicted")
	}
}
