package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/mcpgate/pkg/cli/internal/output"
	"github.com/getmockd/mcpgate/pkg/logging"
)

// TokenOutput represents JSON output format
type TokenOutput struct {
	TokenURL  string    `json:"tokenUrl"`
	ClientID  string    `json:"clientId"`
	APIKey    string    `json:"apiKey"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	ExpiresIn string    `json:"expiresIn"`
	Fresh     bool      `json:"fresh"`
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Exchange the configured credentials for a token",
	Long: `Perform one token exchange with the configured credentials and report
when the token expires. The token itself is masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		gw, err := newGateway(cfg, newLogger(cfg, cmd.ErrOrStderr()))
		if err != nil {
			return err
		}
		defer gw.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Auth.RefreshTimeout)
		defer cancel()

		token, err := gw.creds.Token(ctx)
		if err != nil {
			return fmt.Errorf("requesting token: %w", err)
		}
		status := gw.creds.Status()

		out := TokenOutput{
			TokenURL:  cfg.Auth.TokenURL,
			ClientID:  cfg.Auth.ClientID,
			APIKey:    logging.MaskSecret(cfg.Auth.APIKey),
			Token:     logging.MaskSecret(token),
			ExpiresAt: status.ExpiresAt,
			ExpiresIn: time.Until(status.ExpiresAt).Round(time.Second).String(),
			Fresh:     status.Fresh,
		}

		if !out.Fresh {
			output.Warn(cmd.ErrOrStderr(), "token expires within the refresh buffer (%s)", cfg.Auth.RefreshBuffer)
		}

		if jsonOutput {
			return output.JSON(cmd.OutOrStdout(), out)
		}

		tw := output.Table(cmd.OutOrStdout())
		fmt.Fprintf(tw, "Token URL:\t%s\n", out.TokenURL)
		fmt.Fprintf(tw, "Client ID:\t%s\n", out.ClientID)
		fmt.Fprintf(tw, "API key:\t%s\n", out.APIKey)
		fmt.Fprintf(tw, "Token:\t%s\n", out.Token)
		fmt.Fprintf(tw, "Expires:\t%s (in %s)\n", out.ExpiresAt.Format(time.RFC3339), out.ExpiresIn)
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}
