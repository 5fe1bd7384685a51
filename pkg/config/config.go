package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config is the complete mcpgate configuration.
type Config struct {
	Server ServerConfig `yaml:"server" toml:"server"`
	Auth   AuthConfig   `yaml:"auth" toml:"auth"`
	API    APIConfig    `yaml:"api" toml:"api"`
	Log    LogConfig    `yaml:"log" toml:"log"`
	Audit  AuditConfig  `yaml:"audit" toml:"audit"`
}

// ServerConfig configures the Streamable HTTP endpoint.
type ServerConfig struct {
	// Port is the TCP port to listen on.
	Port int `yaml:"port" toml:"port"`

	// Path is the MCP endpoint path (e.g., "/mcp").
	Path string `yaml:"path" toml:"path"`

	// AllowRemote allows connections from non-localhost addresses and binds
	// all interfaces. Default: false (localhost only).
	AllowRemote bool `yaml:"allow_remote" toml:"allow_remote"`

	// AllowedOrigins is a list of allowed Origin headers.
	// Supports wildcards like "http://localhost:*".
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`

	// MaxSessions caps concurrent sessions. Zero means unlimited.
	MaxSessions int `yaml:"max_sessions" toml:"max_sessions"`

	// IdleTimeout terminates sessions with no traffic for this long.
	// Zero disables reaping; sessions then end only on DELETE or close.
	IdleTimeout time.Duration `yaml:"idle_timeout" toml:"idle_timeout"`

	// ReapInterval is how often idle sessions are checked.
	ReapInterval time.Duration `yaml:"reap_interval" toml:"reap_interval"`

	// ReadTimeout is the HTTP read timeout. There is no write timeout since
	// push streams stay open indefinitely.
	ReadTimeout time.Duration `yaml:"read_timeout" toml:"read_timeout"`

	// MaxBodyBytes limits POST bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes" toml:"max_body_bytes"`

	// OutboundBuffer is the per-session queue of server-initiated messages
	// waiting for a push stream.
	OutboundBuffer int `yaml:"outbound_buffer" toml:"outbound_buffer"`

	// RateLimit throttles the MCP endpoint per client IP.
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`

	// TLS serves HTTPS instead of plain HTTP.
	TLS TLSConfig `yaml:"tls" toml:"tls"`
}

// RateLimitConfig configures per-IP throttling. A zero Rate disables it.
type RateLimitConfig struct {
	// Rate is the sustained requests per second allowed per client.
	Rate float64 `yaml:"rate" toml:"rate"`

	// Burst is the bucket size. Zero means twice the rate.
	Burst int `yaml:"burst" toml:"burst"`

	// TrustedProxies lists CIDRs whose X-Forwarded-For header is honoured.
	TrustedProxies []string `yaml:"trusted_proxies" toml:"trusted_proxies"`
}

// TLSConfig configures HTTPS.
type TLSConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// CertFile and KeyFile are PEM files. When both are empty a self-signed
	// certificate for localhost is generated at startup.
	CertFile string `yaml:"cert_file" toml:"cert_file"`
	KeyFile  string `yaml:"key_file" toml:"key_file"`
}

// AuthConfig configures the password-grant token exchange.
type AuthConfig struct {
	// TokenURL is the token endpoint.
	TokenURL string `yaml:"token_url" toml:"token_url"`

	// ClientID and ClientSecret are the fixed public client identity sent as
	// HTTP Basic credentials.
	ClientID     string `yaml:"client_id" toml:"client_id"`
	ClientSecret string `yaml:"client_secret" toml:"client_secret"`

	// APIKey and APISecret are the caller's credentials, sent as the grant's
	// username and password.
	APIKey    string `yaml:"api_key" toml:"api_key"`
	APISecret string `yaml:"api_secret" toml:"api_secret"`

	// Scopes are optional OAuth scopes.
	Scopes []string `yaml:"scopes" toml:"scopes"`

	// RefreshBuffer is subtracted from the expiry to refresh early.
	RefreshBuffer time.Duration `yaml:"refresh_buffer" toml:"refresh_buffer"`

	// RefreshTimeout bounds one token exchange.
	RefreshTimeout time.Duration `yaml:"refresh_timeout" toml:"refresh_timeout"`

	// DefaultTTL applies when the token endpoint declares no lifetime and the
	// token is not a JWT carrying an exp claim.
	DefaultTTL time.Duration `yaml:"default_ttl" toml:"default_ttl"`
}

// APIConfig configures the backing REST API.
type APIConfig struct {
	BaseURL string        `yaml:"base_url" toml:"base_url"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	// Path is the JSON-lines file entries are appended to. "-" writes to
	// stderr and an empty path disables auditing.
	Path string `yaml:"path" toml:"path"`
}

// Default returns a Config with sensible defaults. Credentials and URLs are
// left empty and must be supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           9091,
			Path:           "/mcp",
			AllowedOrigins: []string{"*"},
			MaxSessions:    100,
			ReapInterval:   time.Minute,
			ReadTimeout:    30 * time.Second,
			MaxBodyBytes:   4 << 20,
			OutboundBuffer: 100,
		},
		Auth: AuthConfig{
			RefreshBuffer:  5 * time.Minute,
			RefreshTimeout: 30 * time.Second,
			DefaultTTL:     time.Hour,
		},
		API: APIConfig{
			Timeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if err := c.Server.validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := validateURL("base_url", c.API.BaseURL); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if c.API.Timeout <= 0 {
		return errors.New("api: timeout must be positive")
	}
	return nil
}

func (s *ServerConfig) validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	if s.Path == "" {
		return errors.New("path cannot be empty")
	}
	if s.Path[0] != '/' {
		return fmt.Errorf("path must start with '/', got %q", s.Path)
	}
	if s.MaxSessions < 0 {
		return fmt.Errorf("max_sessions cannot be negative, got %d", s.MaxSessions)
	}
	if s.IdleTimeout < 0 {
		return errors.New("idle_timeout cannot be negative")
	}
	if s.IdleTimeout > 0 && s.ReapInterval <= 0 {
		return errors.New("reap_interval must be positive when idle_timeout is set")
	}
	if s.MaxBodyBytes <= 0 {
		return errors.New("max_body_bytes must be positive")
	}
	if s.OutboundBuffer < 1 {
		return fmt.Errorf("outbound_buffer must be at least 1, got %d", s.OutboundBuffer)
	}
	if s.RateLimit.Rate < 0 || s.RateLimit.Burst < 0 {
		return errors.New("rate_limit: rate and burst cannot be negative")
	}
	if (s.TLS.CertFile == "") != (s.TLS.KeyFile == "") {
		return errors.New("tls: cert_file and key_file must be set together")
	}
	return nil
}

func (a *AuthConfig) validate() error {
	if err := validateURL("token_url", a.TokenURL); err != nil {
		return err
	}
	if a.ClientID == "" {
		return errors.New("client_id is required")
	}
	if a.APIKey == "" || a.APISecret == "" {
		return errors.New("api_key and api_secret are required")
	}
	if a.RefreshBuffer < 0 {
		return errors.New("refresh_buffer cannot be negative")
	}
	if a.RefreshTimeout <= 0 {
		return errors.New("refresh_timeout must be positive")
	}
	if a.DefaultTTL <= a.RefreshBuffer {
		return errors.New("default_ttl must exceed refresh_buffer")
	}
	return nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s is missing a host", field)
	}
	return nil
}

// Address returns the listen address for the HTTP server.
func (s *ServerConfig) Address() string {
	if s.AllowRemote {
		return fmt.Sprintf(":%d", s.Port)
	}
	return fmt.Sprintf("127.0.0.1:%d", s.Port)
}
