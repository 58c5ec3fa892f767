package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/0xshugo/suno-api-mcp/internal/app"
	"github.com/0xshugo/suno-api-mcp/internal/config"
	"github.com/0xshugo/suno-api-mcp/internal/logging"
	"github.com/0xshugo/suno-api-mcp/internal/server"
)

var (
	version = "dev"

	configPath     string
	envFile        string
	verbose        bool
	noColor        bool
	jsonLogs       bool
	transport      string
	stdio          bool
	listenAddr     string
	responseFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "suno-mcp",
	Short: "MCP server for Suno music generation",
	Long: `suno-mcp exposes Suno music generation as MCP tools.

It keeps a short-lived Suno access token alive from a long-lived Clerk
refresh token, submits generation jobs, polls them until the audio is ready,
and stores the results as WAV files in a local library, optionally
uploading them to Google Drive.

Tools:
- generate_track: generate a track and save it as WAV
- get_credits: show remaining credits
- list_tracks / delete_track: manage stored tracks
- auth_status / auth_validate / auth_refresh: inspect and repair authentication

By default the server listens for SSE connections on :8888. Use --stdio to
run as a subprocess of an MCP client, or --transport streamable-http to
serve at /mcp.

Credentials are read from the environment (SUNO_REFRESH_TOKEN), a .env file
or the TOML config file.`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// SetVersion sets the version for the application
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to a TOML config file (default: user config dir, if present)")
	pf.StringVar(&envFile, "env-file", ".env", "Path to a .env file (ignored when missing)")
	pf.BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	pf.BoolVar(&noColor, "no-color", false, "Disable colored output")
	pf.BoolVar(&jsonLogs, "json-logs", false, "Emit logs as JSON")
	pf.StringVar(&responseFormat, "response-format", "", "Tool response format: text or json (overrides config)")

	rootCmd.Flags().StringVar(&transport, "transport", "", "MCP transport: sse, streamable-http or stdio (default from config: sse)")
	rootCmd.Flags().BoolVar(&stdio, "stdio", false, "Serve MCP over stdio (shorthand for --transport stdio)")
	rootCmd.Flags().StringVar(&listenAddr, "listen-addr", "", "Listen address for HTTP transports (default from config or MCP_PORT: :8888)")

	rootCmd.MarkFlagsMutuallyExclusive("transport", "stdio")

	rootCmd.AddCommand(newConsoleCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}

// setupSignalHandler sets up graceful shutdown on interrupt signals
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		// stderr keeps stdout clean for the stdio transport.
		fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, shutting down gracefully...")
		cancel()
	}()
}

// loadConfig builds the effective configuration: file, .env, environment,
// then command-line flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{Path: configPath, EnvFile: envFile})
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if stdio {
		cfg.Server.Transport = server.TransportStdio
	} else if flags.Changed("transport") {
		cfg.Server.Transport = transport
	}
	if flags.Changed("listen-addr") {
		cfg.Server.ListenAddr = listenAddr
	}
	if responseFormat != "" {
		cfg.Server.ResponseFormat = responseFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger creates the process logger from flags and the log section.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logger := logging.NewLogger(verbose, !noColor, jsonLogs)
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	if verbose {
		logger.SetVerbose(true)
	}
	logger.AttachFile(cfg.Log.File, cfg.Log.MaxSizeMB)
	return logger, nil
}

// bootstrap loads configuration and wires the application.
func bootstrap(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, app.Options{Logger: logger})
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("failed to initialise: %w", err)
	}
	return a, nil
}

// newServer builds the tool layer over a.
func newServer(a *app.App) *server.Server {
	return server.New(server.Deps{
		Generator: a.Orchestrator,
		Credits:   a.Client,
		Files:     a.Router,
		Auth:      a.Monitor,
		DeviceID:  a.Config.Suno.DeviceID,
	}, server.Options{
		Name:           app.ServiceName,
		Version:        version,
		ResponseFormat: a.Config.Server.ResponseFormat,
		BaseURL:        a.Config.Server.BaseURL,
		Logger:         a.Logger.With("component", "server"),
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	setupSignalHandler(cancel)

	a, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	a.Start(ctx)
	a.Logger.Info("Starting %s %s (transport: %s, output: %s)", app.ServiceName, version, a.Config.Server.Transport, a.Config.Output.BaseDir)
	if a.Router.RemoteEnabled() {
		a.Logger.Info("Google Drive uploads enabled")
	}

	if err := newServer(a).Start(ctx, a.Config.Server.Transport, a.Config.Server.ListenAddr); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
