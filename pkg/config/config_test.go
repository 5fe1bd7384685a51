package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Auth.TokenURL = "https://auth.example.com/oauth/token"
	cfg.Auth.ClientID = "public-cli"
	cfg.Auth.APIKey = "key"
	cfg.Auth.APISecret = "secret"
	cfg.API.BaseURL = "https://api.example.com/v1"
	return cfg
}

func TestDefault_Values(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 9091, cfg.Server.Port)
	assert.Equal(t, "/mcp", cfg.Server.Path)
	assert.Equal(t, 5*time.Minute, cfg.Auth.RefreshBuffer)
	assert.Zero(t, cfg.Server.IdleTimeout, "idle reaping must be opt-in")
	assert.Equal(t, "127.0.0.1:9091", cfg.Server.Address())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server: port"},
		{"relative path", func(c *Config) { c.Server.Path = "mcp" }, "must start with '/'"},
		{"negative sessions", func(c *Config) { c.Server.MaxSessions = -1 }, "max_sessions"},
		{"idle without interval", func(c *Config) {
			c.Server.IdleTimeout = time.Minute
			c.Server.ReapInterval = 0
		}, "reap_interval"},
		{"missing token url", func(c *Config) { c.Auth.TokenURL = "" }, "auth: token_url is required"},
		{"non-http token url", func(c *Config) { c.Auth.TokenURL = "ftp://x" }, "http(s)"},
		{"missing client id", func(c *Config) { c.Auth.ClientID = "" }, "client_id"},
		{"missing secret", func(c *Config) { c.Auth.APISecret = "" }, "api_secret"},
		{"ttl under buffer", func(c *Config) { c.Auth.DefaultTTL = time.Minute }, "default_ttl"},
		{"missing base url", func(c *Config) { c.API.BaseURL = "" }, "api: base_url"},
		{"negative rate", func(c *Config) { c.Server.RateLimit.Rate = -1 }, "rate_limit"},
		{"cert without key", func(c *Config) { c.Server.TLS.CertFile = "cert.pem" }, "tls: cert_file and key_file"},
		{"tls with files", func(c *Config) {
			c.Server.TLS = TLSConfig{Enabled: true, CertFile: "cert.pem", KeyFile: "key.pem"}
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_YAML(t *testing.T) {
	t.Setenv("TEST_MCPGATE_SECRET", "from-env")

	data := []byte(`
server:
  port: 8080
  idle_timeout: 10m
auth:
  token_url: https://auth.example.com/token
  client_id: cli
  api_key: k
  api_secret: ${TEST_MCPGATE_SECRET}
  refresh_buffer: 2m
api:
  base_url: ${TEST_MCPGATE_BASE:-https://api.example.com}
`)
	cfg := Default()
	require.NoError(t, Parse(".yaml", data, cfg))

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/mcp", cfg.Server.Path, "unset fields keep defaults")
	assert.Equal(t, 10*time.Minute, cfg.Server.IdleTimeout)
	assert.Equal(t, "from-env", cfg.Auth.APISecret)
	assert.Equal(t, 2*time.Minute, cfg.Auth.RefreshBuffer)
	assert.Equal(t, "https://api.example.com", cfg.API.BaseURL)
}

func TestParse_TOML(t *testing.T) {
	data := []byte(`
[server]
port = 7000
allowed_origins = ["http://localhost:*"]

[server.rate_limit]
rate = 5.0
trusted_proxies = ["10.0.0.0/8"]

[auth]
token_url = "https://auth.example.com/token"
client_id = "cli"
refresh_buffer = "90s"

[log]
format = "json"
`)
	cfg := Default()
	require.NoError(t, Parse(".toml", data, cfg))

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, RateLimitConfig{Rate: 5, TrustedProxies: []string{"10.0.0.0/8"}}, cfg.Server.RateLimit)
	assert.Equal(t, 90*time.Second, cfg.Auth.RefreshBuffer)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestParse_UnsupportedFormat(t *testing.T) {
	err := Parse(".json", []byte(`{}`), Default())
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"MCPGATE_API_KEY":    "env-key",
		"MCPGATE_PORT":       "9999",
		"MCPGATE_LOG_LEVEL":  "debug",
		"MCPGATE_AUDIT_PATH": "-",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := validConfig()
	require.NoError(t, ApplyEnv(cfg, lookup))
	assert.Equal(t, "env-key", cfg.Auth.APIKey)
	assert.Equal(t, "secret", cfg.Auth.APISecret, "unset variables keep the file value")
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "-", cfg.Audit.Path)

	env["MCPGATE_PORT"] = "not-a-number"
	assert.Error(t, ApplyEnv(cfg, lookup))
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcpgate.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
auth:
  token_url: https://auth.example.com/token
  client_id: cli
  api_key: file-key
  api_secret: file-secret
api:
  base_url: https://api.example.com
`), 0o600))

	t.Setenv("MCPGATE_API_SECRET", "env-secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-key", cfg.Auth.APIKey)
	assert.Equal(t, "env-secret", cfg.Auth.APISecret)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestLoad_InvalidConfig(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_MCPGATE_HOST", "example.com")

	assert.Equal(t, "hello", ExpandEnvVars("hello"))
	assert.Equal(t, "url: http://example.com:80",
		ExpandEnvVars("url: ${TEST_MCPGATE_PROTO:-http}://${TEST_MCPGATE_HOST}:${TEST_MCPGATE_PORT:-80}"))
	assert.Equal(t, "key: ", ExpandEnvVars("key: ${TEST_MCPGATE_MISSING}"))
}

func TestLoad_SampleConfig(t *testing.T) {
	t.Setenv("MCPGATE_API_KEY", "sample-key")
	t.Setenv("MCPGATE_API_SECRET", "sample-secret")

	cfg, err := Load(filepath.Join("..", "..", "examples", "mcpgate.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sample-key", cfg.Auth.APIKey)
	assert.Equal(t, 30*time.Minute, cfg.Server.IdleTimeout)
	assert.Equal(t, 20.0, cfg.Server.RateLimit.Rate)
	assert.Equal(t, "./mcpgate-audit.jsonl", cfg.Audit.Path)
}
