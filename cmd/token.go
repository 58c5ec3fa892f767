package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/0xshugo/suno-api-mcp/internal/app"
	"github.com/0xshugo/suno-api-mcp/internal/auth"
	"github.com/0xshugo/suno-api-mcp/internal/config"
	"github.com/0xshugo/suno-api-mcp/internal/server"
)

func newTokenCmd() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect and test Suno credentials",
	}

	tokenCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show auth health and access token expiry without refreshing",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), server.FormatStatus(a.Monitor.Status(), time.Now()))
			return nil
		}),
	})

	tokenCmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
			ac, err := a.Monitor.Refresh(ctx)
			if err != nil {
				return fmt.Errorf("refresh failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Access token refreshed, expires at %s.\n", ac.ExpiresAt.UTC().Format(time.RFC3339))
			return nil
		}),
	})

	tokenCmd.AddCommand(&cobra.Command{
		Use:   "validate <token-or-cookie>",
		Short: "Check a candidate refresh token without installing it",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error {
			candidate := auth.RefreshCredential{
				Token:    config.ExtractClientToken(args[0]),
				DeviceID: a.Config.Suno.DeviceID,
			}
			if err := a.Monitor.Validate(ctx, candidate); err != nil {
				return fmt.Errorf("candidate refresh token rejected: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Refresh token is valid. Set SUNO_REFRESH_TOKEN and restart to use it.")
			return nil
		}),
	})

	return tokenCmd
}

// withApp runs fn against a freshly wired App and closes it afterwards.
func withApp(fn func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx, cmd)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()
		return fn(ctx, cmd, a, args)
	}
}
