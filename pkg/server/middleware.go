package server

import (
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/getmockd/mcpgate/internal/id"
	"github.com/getmockd/mcpgate/pkg/httputil"
	"github.com/getmockd/mcpgate/pkg/logging"
	"github.com/getmockd/mcpgate/pkg/mcp"
	"github.com/getmockd/mcpgate/pkg/tracing"
	"github.com/getmockd/mcpgate/pkg/transport"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-Id"

// withMiddleware wraps handler with, outermost first: panic recovery,
// request ids, trace context extraction, access logging, the localhost
// guard, origin validation and CORS.
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	h := s.withCORS(handler)
	h = s.withOriginCheck(h)
	h = s.withLocalhostOnly(h)
	h = s.withAccessLog(h)
	h = tracing.Middleware(h)
	h = withRequestID(h)
	return s.withRecovery(h)
}

func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.log.Error("panic serving request",
				logging.KeyRequestID, httputil.RequestID(r.Context()),
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			httputil.WriteRPCError(w, http.StatusInternalServerError, mcp.ErrCodeInternalError, "Internal error", transport.ReasonInternalError)
		}()
		next.ServeHTTP(w, r)
	})
}

// withRequestID keeps a well-formed client request id and mints one
// otherwise.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get(HeaderRequestID)
		if _, err := id.RequestTime(rid); err != nil {
			rid = id.Request()
		}
		w.Header().Set(HeaderRequestID, rid)
		next.ServeHTTP(w, r.WithContext(httputil.WithRequestID(r.Context(), rid)))
	})
}

func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := httputil.NewStatusRecorder(w)
		next.ServeHTTP(rec, r)

		level := slog.LevelDebug
		if rec.Status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.log.Log(r.Context(), level, "request",
			logging.KeyRequestID, httputil.RequestID(r.Context()),
			logging.KeyMethod, r.Method,
			"path", r.URL.Path,
			logging.KeyStatus, rec.Status,
			logging.KeySessionID, r.Header.Get(transport.HeaderSessionID),
			logging.KeyTraceID, tracing.TraceID(r.Context()),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) withLocalhostOnly(next http.Handler) http.Handler {
	if s.cfg.AllowRemote {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLocalhost(r.RemoteAddr) {
			http.Error(w, "Remote access not allowed", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withOriginCheck(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && !s.isOriginAllowed(origin) {
			http.Error(w, "Origin not allowed", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers",
			"Content-Type, Accept, "+transport.HeaderSessionID+", "+transport.HeaderProtocolVersion+", Last-Event-ID, "+HeaderRequestID)
		w.Header().Set("Access-Control-Expose-Headers", transport.HeaderSessionID+", "+HeaderRequestID)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isLocalhost reports whether remoteAddr is a loopback address. An empty
// address comes from in-process callers and is allowed.
func isLocalhost(remoteAddr string) bool {
	if remoteAddr == "" {
		return true
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = strings.Trim(remoteAddr, "[]")
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || matchOrigin(origin, allowed) {
			return true
		}
	}
	return false
}

// matchOrigin matches origin against pattern. A trailing ":*" in the
// pattern matches any numeric port.
func matchOrigin(origin, pattern string) bool {
	if origin == pattern {
		return true
	}
	prefix, ok := strings.CutSuffix(pattern, "*")
	if !ok || !strings.HasSuffix(prefix, ":") {
		return false
	}
	port, ok := strings.CutPrefix(origin, prefix)
	if !ok || port == "" {
		return false
	}
	for _, c := range port {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
