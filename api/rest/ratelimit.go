package rest

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/abcfe/abcfe-wallet/config"
	"github.com/jonboulle/clockwork"
)

var ErrTooManyAttempts = errors.New("too many password attempts, try again later")

// RateLimitConfig limits password attempts per client
type RateLimitConfig struct {
	BurstSize         int           // attempts allowed at once
	AttemptsPerMinute int           // refill rate
	BanDuration       time.Duration // ban once the bucket is empty
}

// NewRateLimitConfig reads the limits from the server config
func NewRateLimitConfig(cfg config.Server) RateLimitConfig {
	return RateLimitConfig{
		BurstSize:         cfg.PasswordBurst,
		AttemptsPerMinute: cfg.PasswordPerMinute,
		BanDuration:       time.Duration(cfg.PasswordBanSec) * time.Second,
	}
}

// clientBucket is the token bucket of one client
type clientBucket struct {
	tokens      float64
	lastRefill  time.Time
	bannedUntil time.Time
}

// RateLimiter throttles password routes per client address
type RateLimiter struct {
	mu      sync.Mutex
	config  RateLimitConfig
	clock   clockwork.Clock
	clients map[string]*clientBucket

	cleanupInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
}

// NewRateLimiter starts a limiter with its cleanup loop
func NewRateLimiter(cfg RateLimitConfig, clock clockwork.Clock) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 5
	}
	if cfg.AttemptsPerMinute <= 0 {
		cfg.AttemptsPerMinute = 5
	}
	rl := &RateLimiter{
		config:          cfg,
		clock:           clock,
		clients:         make(map[string]*clientBucket),
		cleanupInterval: 5 * time.Minute,
		stopCh:          make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the cleanup loop
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := rl.clock.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.Chan():
			rl.cleanup()
		}
	}
}

// cleanup drops clients idle for 10 minutes that are not banned
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	for client, b := range rl.clients {
		if now.Sub(b.lastRefill) > 10*time.Minute && now.After(b.bannedUntil) {
			delete(rl.clients, client)
		}
	}
}

// Allow consumes one attempt for client
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	b, ok := rl.clients[client]
	if !ok {
		b = &clientBucket{tokens: float64(rl.config.BurstSize), lastRefill: now}
		rl.clients[client] = b
	}

	if now.Before(b.bannedUntil) {
		return false
	}

	// Refill tokens (token bucket algorithm)
	b.tokens += now.Sub(b.lastRefill).Minutes() * float64(rl.config.AttemptsPerMinute)
	if limit := float64(rl.config.BurstSize); b.tokens > limit {
		b.tokens = limit
	}
	b.lastRefill = now

	if b.tokens < 1 {
		b.bannedUntil = now.Add(rl.config.BanDuration)
		logger.Warn("password attempts exceeded, client banned: ", client)
		return false
	}
	b.tokens--
	return true
}

// IsBanned reports whether client is currently banned
func (rl *RateLimiter) IsBanned(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.clients[client]
	return ok && rl.clock.Now().Before(b.bannedUntil)
}

// Limit wraps a password handler
func (rl *RateLimiter) Limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientAddr(r)) {
			sendResp(w, http.StatusTooManyRequests, nil, ErrTooManyAttempts)
			return
		}
		next(w, r)
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
