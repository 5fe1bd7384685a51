package cli

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/getmockd/mcpgate/pkg/apiclient"
	"github.com/getmockd/mcpgate/pkg/audit"
	"github.com/getmockd/mcpgate/pkg/config"
	"github.com/getmockd/mcpgate/pkg/credential"
	"github.com/getmockd/mcpgate/pkg/logging"
	"github.com/getmockd/mcpgate/pkg/mcp"
	"github.com/getmockd/mcpgate/pkg/metrics"
	"github.com/getmockd/mcpgate/pkg/session"
)

var _ session.Conn = (*mcp.Engine)(nil)

// gateway holds the components shared by every transport.
type gateway struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *metrics.Metrics
	creds   *credential.Cache
	api     *apiclient.Client
	mcp     *mcp.Server
	audit   audit.Logger
}

// newGateway wires the credential cache, the API client and the MCP server.
func newGateway(cfg *config.Config, log *slog.Logger) (*gateway, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	grant := credential.NewPasswordGrant(cfg.Auth, &http.Client{Timeout: cfg.Auth.RefreshTimeout})
	creds := credential.New(grant,
		credential.WithBuffer(cfg.Auth.RefreshBuffer),
		credential.WithRefreshTimeout(cfg.Auth.RefreshTimeout),
		credential.WithLogger(log),
		credential.WithMetrics(m),
	)

	api, err := apiclient.New(cfg.API.BaseURL, creds,
		apiclient.WithTimeout(cfg.API.Timeout),
		apiclient.WithUserAgent("mcpgate/"+Version),
		apiclient.WithLogger(log),
		apiclient.WithMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("creating API client: %w", err)
	}

	trail, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return nil, err
	}

	srv := mcp.NewServer(api,
		mcp.WithCredentialStatus(creds),
		mcp.WithOutboundBuffer(cfg.Server.OutboundBuffer),
		mcp.WithAudit(trail),
		mcp.WithLogger(log),
	)

	return &gateway{
		cfg:     cfg,
		log:     log,
		metrics: m,
		creds:   creds,
		api:     api,
		mcp:     srv,
		audit:   trail,
	}, nil
}

// Close flushes the audit trail.
func (g *gateway) Close() {
	if err := g.audit.Close(); err != nil {
		g.log.Warn("closing audit trail failed", logging.KeyError, err)
	}
}
