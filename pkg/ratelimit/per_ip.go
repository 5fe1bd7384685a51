// Package ratelimit provides per-client token-bucket rate limiting for the
// MCP endpoint.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default limiter values.
const (
	DefaultCleanupInterval = time.Minute
	DefaultEntryTTL        = time.Minute
)

// Config configures a PerIPLimiter.
type Config struct {
	Rate           float64  // tokens per second
	Burst          int      // maximum bucket capacity
	TrustedProxies []string // CIDRs or IPs whose X-Forwarded-For is honoured
	EntryTTL       time.Duration
}

// ipBucket is the token bucket for a single client IP.
type ipBucket struct {
	limiter *rate.Limiter

	mu       sync.Mutex
	lastSeen time.Time
}

// PerIPLimiter keeps one token bucket per client IP. It is safe for
// concurrent use.
type PerIPLimiter struct {
	rate     float64
	burst    int
	entryTTL time.Duration
	trusted  []*net.IPNet
	now      func() time.Time

	mu      sync.RWMutex
	buckets map[string]*ipBucket
}

// New creates a limiter. A non-positive burst defaults to twice the rate.
// Stale entries are only dropped while Run is active.
func New(cfg Config) *PerIPLimiter {
	perSec := cfg.Rate
	if perSec <= 0 {
		perSec = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = max(int(perSec*2), 1)
	}
	ttl := cfg.EntryTTL
	if ttl <= 0 {
		ttl = DefaultEntryTTL
	}

	return &PerIPLimiter{
		rate:     perSec,
		burst:    burst,
		entryTTL: ttl,
		trusted:  parseNetworks(cfg.TrustedProxies),
		now:      time.Now,
		buckets:  make(map[string]*ipBucket),
	}
}

// Burst returns the maximum bucket capacity.
func (rl *PerIPLimiter) Burst() int {
	return rl.burst
}

// Allow takes one token from ip's bucket. It returns whether the request may
// proceed, the tokens left and, when refused, the seconds until a token is
// available.
func (rl *PerIPLimiter) Allow(ip string) (allowed bool, remaining int, retryAfterSec int64) {
	now := rl.now()
	bucket := rl.bucket(ip, now)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	bucket.lastSeen = now

	if bucket.limiter.AllowN(now, 1) {
		return true, int(bucket.limiter.TokensAt(now)), 0
	}

	retry := int64((1 - bucket.limiter.TokensAt(now)) / rl.rate)
	if retry < 1 {
		retry = 1
	}
	return false, 0, retry
}

func (rl *PerIPLimiter) bucket(ip string, now time.Time) *ipBucket {
	rl.mu.RLock()
	b, ok := rl.buckets[ip]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok = rl.buckets[ip]; !ok {
		b = &ipBucket{limiter: rate.NewLimiter(rate.Limit(rl.rate), rl.burst), lastSeen: now}
		rl.buckets[ip] = b
	}
	return b
}

// ClientIP extracts the client IP from r. X-Forwarded-For is honoured only
// when the direct peer is a trusted proxy.
func (rl *PerIPLimiter) ClientIP(r *http.Request) string {
	remote := remoteIP(r.RemoteAddr)
	if !rl.isTrusted(remote) {
		return remote
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return remote
}

// Run drops buckets idle for longer than the entry TTL until ctx ends.
func (rl *PerIPLimiter) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rl.removeStale()
		}
	}
}

func (rl *PerIPLimiter) removeStale() {
	cutoff := rl.now().Add(-rl.entryTTL)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, b := range rl.buckets {
		b.mu.Lock()
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, ip)
		}
		b.mu.Unlock()
	}
}

func (rl *PerIPLimiter) size() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.buckets)
}

func (rl *PerIPLimiter) isTrusted(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, network := range rl.trusted {
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

// parseNetworks accepts CIDRs and bare IPs. Invalid entries are skipped.
func parseNetworks(entries []string) []*net.IPNet {
	var out []*net.IPNet
	for _, entry := range entries {
		if _, network, err := net.ParseCIDR(entry); err == nil {
			out = append(out, network)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 128
		if ip.To4() != nil {
			ip, bits = ip.To4(), 32
		}
		out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return out
}

func remoteIP(remoteAddr string) string {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return ip
}
