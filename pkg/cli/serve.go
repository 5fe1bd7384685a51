package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/getmockd/mcpgate/pkg/logging"
	"github.com/getmockd/mcpgate/pkg/server"
	"github.com/getmockd/mcpgate/pkg/session"
	"github.com/getmockd/mcpgate/pkg/transport"
)

var (
	servePort        int
	serveAllowRemote bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP sessions over Streamable HTTP",
	Long: `Start the HTTP gateway. MCP clients POST JSON-RPC messages to the
configured path, open a GET stream for server notifications and DELETE the
session when done. /healthz and /metrics are served on the same port.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}
		if cmd.Flags().Changed("allow-remote") {
			cfg.Server.AllowRemote = serveAllowRemote
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		log := newLogger(cfg, cmd.ErrOrStderr())
		gw, err := newGateway(cfg, log)
		if err != nil {
			return err
		}
		defer gw.Close()

		registry := session.NewRegistry(session.WithMaxSessions(cfg.Server.MaxSessions))
		dispatcher := transport.New(registry,
			func() session.Conn { return gw.mcp.NewEngine() },
			transport.WithLogger(log),
			transport.WithMetrics(gw.metrics),
			transport.WithAudit(gw.audit),
			transport.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		)
		srv := server.New(cfg.Server, dispatcher,
			server.WithLogger(log),
			server.WithMetrics(gw.metrics),
			server.WithVersion(Version),
		)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("mcpgate starting",
			"version", Version,
			"addr", cfg.Server.Address(),
			"path", cfg.Server.Path,
			"api", cfg.API.BaseURL,
			"api_key", logging.MaskSecret(cfg.Auth.APIKey),
		)
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveAllowRemote, "allow-remote", false, "Accept connections from non-localhost addresses")
	rootCmd.AddCommand(serveCmd)
}
