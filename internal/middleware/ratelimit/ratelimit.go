package ratelimit

import (
	"sync"
	"time"
)

// Clock supplies the current time; injected for deterministic tests.
type Clock func() time.Time

// Limiter is a fixed-window request limiter keyed by client identifier.
// Construct one per process and pass it by reference to handlers.
type Limiter struct {
	mu           sync.Mutex
	clients      map[string]*window
	now          Clock
	stopCleanup  chan struct{}
	shutdownOnce sync.Once

	maxRequests int
	interval    time.Duration
	maxClients  int
}

type window struct {
	start    time.Time
	requests int
}

// Config holds rate limiter configuration.
type Config struct {
	// MaxRequests per Interval per client.
	MaxRequests int
	Interval    time.Duration
	// MaxClients bounds the tracked-client map; the stalest windows are
	// dropped when the bound is exceeded.
	MaxClients      int
	CleanupInterval time.Duration
	Clock           Clock
}

// DefaultConfig allows 300 requests per minute per client, matching the
// dashboard polling pattern.
func DefaultConfig() Config {
	return Config{
		MaxRequests:     300,
		Interval:        time.Minute,
		MaxClients:      10_000,
		CleanupInterval: 5 * time.Minute,
	}
}

// LoginConfig is the strict variant used on the login endpoint.
func LoginConfig() Config {
	return Config{
		MaxRequests:     10,
		Interval:        15 * time.Minute,
		MaxClients:      10_000,
		CleanupInterval: 5 * time.Minute,
	}
}

// NewLimiter creates a rate limiter and starts its cleanup goroutine.
func NewLimiter(config Config) *Limiter {
	if config.MaxRequests <= 0 {
		config.MaxRequests = DefaultConfig().MaxRequests
	}
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.MaxClients <= 0 {
		config.MaxClients = 10_000
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	now := config.Clock
	if now == nil {
		now = time.Now
	}

	rl := &Limiter{
		clients:     make(map[string]*window),
		now:         now,
		stopCleanup: make(chan struct{}),
		maxRequests: config.MaxRequests,
		interval:    config.Interval,
		maxClients:  config.MaxClients,
	}
	go rl.startCleanup(config.CleanupInterval)
	return rl
}

// Allow reports whether a request from the given client fits in the current
// window, counting it if so.
func (rl *Limiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, exists := rl.clients[client]

	if !exists || now.Sub(w.start) > rl.interval {
		if !exists && len(rl.clients) >= rl.maxClients {
			rl.evictStalest()
		}
		rl.clients[client] = &window{start: now, requests: 1}
		return true
	}

	w.requests++
	return w.requests <= rl.maxRequests
}

// evictStalest drops the client with the oldest window. Caller holds the lock.
func (rl *Limiter) evictStalest() {
	var stalest string
	var oldest time.Time
	for client, w := range rl.clients {
		if stalest == "" || w.start.Before(oldest) {
			stalest = client
			oldest = w.start
		}
	}
	if stalest != "" {
		delete(rl.clients, stalest)
	}
}

func (rl *Limiter) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *Limiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-2 * rl.interval)
	for client, w := range rl.clients {
		if w.start.Before(cutoff) {
			delete(rl.clients, client)
		}
	}
}

// Stop shuts down the cleanup goroutine.
func (rl *Limiter) Stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}
