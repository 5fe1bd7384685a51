package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/getmockd/mcpgate/pkg/mcp"
)

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Serve a single MCP session over stdin/stdout",
	Long: `Run one MCP session over newline-delimited JSON-RPC on stdin/stdout.

This is used by MCP hosts that launch the gateway as a subprocess. Logs are
written to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		log := newLogger(cfg, cmd.ErrOrStderr())
		gw, err := newGateway(cfg, log)
		if err != nil {
			return err
		}
		defer gw.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s := mcp.NewStdioServer(gw.mcp)
		s.SetLogger(log)
		s.SetIO(cmd.InOrStdin(), cmd.OutOrStdout())
		return s.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(stdioCmd)
}
