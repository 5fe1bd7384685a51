package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/getmockd/mcpgate/pkg/config"
	"github.com/getmockd/mcpgate/pkg/httputil"
	"github.com/getmockd/mcpgate/pkg/logging"
	"github.com/getmockd/mcpgate/pkg/metrics"
	"github.com/getmockd/mcpgate/pkg/ratelimit"
	gatetls "github.com/getmockd/mcpgate/pkg/tls"
	"github.com/getmockd/mcpgate/pkg/transport"
)

// ShutdownTimeout bounds the graceful HTTP shutdown.
const ShutdownTimeout = 5 * time.Second

// Health is the body served on /healthz.
type Health struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Sessions int    `json:"sessions"`
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = logging.Component(log, "server") }
}

// WithMetrics mounts the metrics handler on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the version reported on /healthz.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server serves the MCP endpoint over HTTP.
type Server struct {
	cfg        config.ServerConfig
	dispatcher *transport.Dispatcher
	metrics    *metrics.Metrics
	limiter    *ratelimit.PerIPLimiter
	version    string
	log        *slog.Logger
}

// New creates a server for cfg that routes MCP traffic to d.
func New(cfg config.ServerConfig, d *transport.Dispatcher, opts ...Option) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		version:    "dev",
		log:        logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if rl := cfg.RateLimit; rl.Rate > 0 {
		s.limiter = ratelimit.New(ratelimit.Config{
			Rate:           rl.Rate,
			Burst:          rl.Burst,
			TrustedProxies: rl.TrustedProxies,
		})
	}
	return s
}

// Handler returns the full HTTP handler, middleware included.
// This is useful for testing without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, ratelimit.Middleware(s.limiter, transport.WriteRateLimited)(s.dispatcher))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return s.withMiddleware(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteOK(w, Health{
		Status:   "ok",
		Version:  s.version,
		Sessions: s.dispatcher.Registry().Count(),
	})
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Address(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. It runs the idle
// reaper alongside the listener. On shutdown the HTTP server stops first,
// then every remaining session is closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	scheme := "http"
	if s.cfg.TLS.Enabled {
		tlsCfg, err := gatetls.ServerConfig(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		if err != nil {
			_ = ln.Close()
			return err
		}
		ln = tls.NewListener(ln, tlsCfg)
		scheme = "https"
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
	}
	// Push streams never go idle on their own.
	srv.RegisterOnShutdown(s.dispatcher.CloseStreams)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("listening", "url", scheme+"://"+ln.Addr().String()+s.cfg.Path)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.dispatcher.RunReaper(gctx, s.cfg.IdleTimeout, s.cfg.ReapInterval)
	})

	if s.limiter != nil {
		g.Go(func() error {
			return s.limiter.Run(gctx, ratelimit.DefaultCleanupInterval)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		s.dispatcher.Shutdown()
		if err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	})

	return g.Wait()
}
