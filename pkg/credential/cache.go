package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getmockd/mcpgate/pkg/logging"
	"github.com/getmockd/mcpgate/pkg/metrics"
)

// Defaults used when no option overrides them.
const (
	DefaultBuffer         = 5 * time.Minute
	DefaultRefreshTimeout = 30 * time.Second
)

// Credential is a freshly issued token and its remaining lifetime.
type Credential struct {
	Value string
	TTL   time.Duration
}

// Fetcher performs one token exchange.
type Fetcher interface {
	Fetch(ctx context.Context) (Credential, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) (Credential, error)

// Fetch calls f(ctx).
func (f FetcherFunc) Fetch(ctx context.Context) (Credential, error) {
	return f(ctx)
}

// Status is a point-in-time view of the cache. It never carries the token.
type Status struct {
	Cached     bool      `json:"cached"`
	Fresh      bool      `json:"fresh"`
	ExpiresAt  time.Time `json:"expiresAt,omitzero"`
	Refreshing bool      `json:"refreshing"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithBuffer sets how long before expiry a token stops being handed out.
func WithBuffer(d time.Duration) Option {
	return func(c *Cache) { c.buffer = d }
}

// WithRefreshTimeout bounds each exchange.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Cache) { c.timeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Cache) { c.log = logging.Component(log, "credential") }
}

// WithMetrics records refresh outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// flight is a refresh in progress. done is closed once value and err are set.
type flight struct {
	done  chan struct{}
	value string
	err   error
}

// Cache holds one bearer token and refreshes it on demand.
type Cache struct {
	fetcher Fetcher
	buffer  time.Duration
	timeout time.Duration
	now     func() time.Time
	log     *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	value     string
	expiresAt time.Time
	inflight  *flight
}

// New creates an empty Cache backed by fetcher.
func New(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher: fetcher,
		buffer:  DefaultBuffer,
		timeout: DefaultRefreshTimeout,
		now:     time.Now,
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a valid bearer token, refreshing it first when it is missing
// or within the buffer of its expiry.
//
// While a refresh is running every caller waits on it instead of starting
// another. The exchange runs detached from ctx, so a caller giving up does not
// abort it for the others; ctx only bounds how long this caller waits.
func (c *Cache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.freshLocked() {
		v := c.value
		c.mu.Unlock()
		return v, nil
	}

	f := c.inflight
	if f == nil {
		f = &flight{done: make(chan struct{})}
		c.inflight = f
		go c.refresh(context.WithoutCancel(ctx), f)
	}
	c.mu.Unlock()

	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Invalidate drops the cached token so the next Token call exchanges again.
// Call it after the backing API rejects a token.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.value = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
	c.log.Debug("cached token invalidated")
}

// Status reports the cache state.
func (c *Cache) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Cached:     c.value != "",
		Fresh:      c.freshLocked(),
		ExpiresAt:  c.expiresAt,
		Refreshing: c.inflight != nil,
	}
}

func (c *Cache) freshLocked() bool {
	return c.value != "" && c.now().Before(c.expiresAt.Add(-c.buffer))
}

func (c *Cache) refresh(ctx context.Context, f *flight) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := c.now()
	cred, err := c.fetcher.Fetch(ctx)
	if err == nil && cred.TTL <= 0 {
		err = fmt.Errorf("token lifetime %s is not positive", cred.TTL)
	}
	if err == nil && cred.Value == "" {
		err = errors.New("empty token")
	}

	c.mu.Lock()
	if err != nil {
		var afe *AuthFetchError
		if !errors.As(err, &afe) {
			err = &AuthFetchError{Err: err}
		}
		f.err = err
	} else {
		c.value = cred.Value
		c.expiresAt = c.now().Add(cred.TTL)
		f.value = cred.Value
	}
	c.inflight = nil
	expiresAt := c.expiresAt
	c.mu.Unlock()

	c.metrics.TokenRefreshed(err)
	close(f.done)

	if err != nil {
		c.log.Warn("token refresh failed", logging.KeyError, err)
		return
	}
	c.log.Debug("token refreshed",
		"expires_at", expiresAt,
		"duration", c.now().Sub(start),
	)
}
