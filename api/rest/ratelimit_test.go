package rest

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterBansAfterBurst(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl := NewRateLimiter(RateLimitConfig{BurstSize: 2, AttemptsPerMinute: 1, BanDuration: time.Minute}, clock)
	defer rl.Stop()

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.IsBanned("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))

	// still banned even though a token refilled
	clock.Advance(59 * time.Second)
	assert.False(t, rl.Allow("10.0.0.1"))

	clock.Advance(2 * time.Second)
	assert.False(t, rl.IsBanned("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{BurstSize: 1, AttemptsPerMinute: 1, BanDuration: time.Minute}, clockwork.NewFakeClock())
	defer rl.Stop()

	calls := 0
	h := rl.Limit(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/vault/unlock", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec := httptest.NewRecorder()
	h(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req.RemoteAddr = "10.0.0.1:6666"
	rec = httptest.NewRecorder()
	h(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrTooManyAttempts.Error())
	assert.Equal(t, 1, calls)
}
