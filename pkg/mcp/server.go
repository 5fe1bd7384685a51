package mcp

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/getmockd/mcpgate/pkg/audit"
	"github.com/getmockd/mcpgate/pkg/credential"
	"github.com/getmockd/mcpgate/pkg/logging"
)

// ServerVersion is the mcpgate server version.
const ServerVersion = "0.1.0"

// DefaultOutboundBuffer is the per-session notification queue size.
const DefaultOutboundBuffer = 100

// APIClient is the backing API as seen by tools. *apiclient.Client
// implements it.
type APIClient interface {
	GetJSON(ctx context.Context, path string, query url.Values, out any) error
	BaseURL() string
}

// CredentialStatus reports on the cached API credential.
// *credential.Cache implements it.
type CredentialStatus interface {
	Status() credential.Status
}

// Server holds what every session shares: the tool registry and the
// backing API client. It builds one Engine per session.
type Server struct {
	api            APIClient
	creds          CredentialStatus
	tools          *ToolRegistry
	info           ServerInfo
	instructions   string
	outboundBuffer int
	audit          audit.Logger
	log            *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithCredentialStatus lets api_status report on the credential cache.
func WithCredentialStatus(cs CredentialStatus) Option {
	return func(s *Server) { s.creds = cs }
}

// WithOutboundBuffer sets the per-session notification queue size.
func WithOutboundBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.outboundBuffer = n
		}
	}
}

// WithInstructions sets the instructions returned from initialize.
func WithInstructions(text string) Option {
	return func(s *Server) { s.instructions = text }
}

// WithAudit records every tool call to l.
func WithAudit(l audit.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.audit = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = logging.Component(log, "mcp") }
}

// NewServer creates a Server whose tools call api.
func NewServer(api APIClient, opts ...Option) *Server {
	s := &Server{
		api: api,
		info: ServerInfo{
			Name:    "mcpgate",
			Version: ServerVersion,
		},
		outboundBuffer: DefaultOutboundBuffer,
		audit:          audit.NoOpLogger{},
		log:            logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tools = NewToolRegistry()
	return s
}

// NewEngine creates the protocol engine for a new session.
func (s *Server) NewEngine() *Engine {
	return newEngine(s)
}

// Tools returns the tool registry.
func (s *Server) Tools() *ToolRegistry {
	return s.tools
}

// API returns the backing API client.
func (s *Server) API() APIClient {
	return s.api
}
