package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/0xshugo/suno-api-mcp/internal/console"
)

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Start the interactive operator console",
		Long: `Start an interactive console over the same tools the MCP server exposes.

Use it to check authentication health, test a new refresh token, look at
credits, and generate or manage tracks from a terminal.`,
		Args: cobra.NoArgs,
		RunE: runConsole,
	}
}

func runConsole(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	setupSignalHandler(cancel)

	a, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	a.Start(ctx)
	c := console.New(newServer(a), a.Router.Names(), a.Logger)
	if err := c.Run(ctx); err != nil {
		return fmt.Errorf("console error: %w", err)
	}
	return nil
}
