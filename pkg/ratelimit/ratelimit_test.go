package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(cfg Config) (*PerIPLimiter, *manualClock) {
	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := New(cfg)
	rl.now = clock.Now
	return rl, clock
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 20, New(Config{}).Burst())
	assert.Equal(t, 6, New(Config{Rate: 3}).Burst())
	assert.Equal(t, 1, New(Config{Rate: 0.2}).Burst())
	assert.Equal(t, 5, New(Config{Rate: 3, Burst: 5}).Burst())
}

func TestAllow_BurstThenRefill(t *testing.T) {
	t.Parallel()

	rl, clock := newTestLimiter(Config{Rate: 2, Burst: 3})

	for i := 2; i >= 0; i-- {
		ok, remaining, _ := rl.Allow("10.0.0.1")
		require.True(t, ok)
		assert.Equal(t, i, remaining)
	}

	ok, _, retry := rl.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.EqualValues(t, 1, retry)

	// Other clients have their own bucket.
	ok, _, _ = rl.Allow("10.0.0.2")
	assert.True(t, ok)

	clock.Advance(500 * time.Millisecond)
	ok, _, _ = rl.Allow("10.0.0.1")
	assert.True(t, ok, "one token refills after half a second at 2/s")
}

func TestAllow_RetryAfterScalesWithRate(t *testing.T) {
	t.Parallel()

	rl, _ := newTestLimiter(Config{Rate: 0.1, Burst: 1})
	ok, _, _ := rl.Allow("10.0.0.1")
	require.True(t, ok)

	ok, _, retry := rl.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.EqualValues(t, 10, retry)
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	rl := New(Config{TrustedProxies: []string{"10.0.0.0/8", "192.168.1.1", "bogus"}})

	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"direct client", "203.0.113.9:5000", "", "203.0.113.9"},
		{"untrusted peer ignores header", "203.0.113.9:5000", "198.51.100.1", "203.0.113.9"},
		{"trusted CIDR", "10.1.2.3:5000", "198.51.100.1, 10.1.2.3", "198.51.100.1"},
		{"trusted single IP", "192.168.1.1:5000", "198.51.100.2", "198.51.100.2"},
		{"invalid header falls back", "10.1.2.3:5000", "not-an-ip", "10.1.2.3"},
		{"no port", "203.0.113.9", "", "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, rl.ClientIP(r))
		})
	}
}

func TestRemoveStale(t *testing.T) {
	t.Parallel()

	rl, clock := newTestLimiter(Config{Rate: 1, EntryTTL: time.Minute})
	rl.Allow("10.0.0.1")
	clock.Advance(45 * time.Second)
	rl.Allow("10.0.0.2")
	clock.Advance(30 * time.Second)

	rl.removeStale()
	assert.Equal(t, 1, rl.size())
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	rl := New(Config{})
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- rl.Run(ctx, time.Millisecond) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	rl, _ := newTestLimiter(Config{Rate: 1, Burst: 1})
	reject := func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}
	h := Middleware(rl, reject)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		r.RemoteAddr = "127.0.0.1:4000"
		h.ServeHTTP(rec, r)
		return rec
	}

	rec := serve()
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = serve()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestMiddleware_NilLimiter(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	rec := httptest.NewRecorder()
	Middleware(nil, nil)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
