// Package app builds the process-wide state shared by every tool call.
//
// An App is constructed once at startup from configuration and torn down at
// exit. Nothing it holds is persisted.
package app

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/api/option"

	"github.com/0xshugo/suno-api-mcp/internal/audio"
	"github.com/0xshugo/suno-api-mcp/internal/auth"
	"github.com/0xshugo/suno-api-mcp/internal/config"
	"github.com/0xshugo/suno-api-mcp/internal/logging"
	"github.com/0xshugo/suno-api-mcp/internal/notify"
	"github.com/0xshugo/suno-api-mcp/internal/output"
	"github.com/0xshugo/suno-api-mcp/internal/suno"
)

// ServiceName identifies this server in notifications.
const ServiceName = "suno-mcp"

// Options overrides collaborators, mainly for tests.
type Options struct {
	Logger     *logging.Logger
	HTTPClient *http.Client
	Converter  audio.Converter
	// DriveOptions are passed to the Drive client.
	DriveOptions []option.ClientOption
}

// App owns the credential lifecycle, the orchestrator and the output router.
type App struct {
	Config       *config.Config
	Logger       *logging.Logger
	Store        *auth.Store
	Monitor      *auth.Monitor
	Notifier     *notify.Dispatcher
	Client       *suno.Client
	Orchestrator *suno.Orchestrator
	Router       *output.Router
}

// New wires the application from cfg. cfg must have passed Validate.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	store := auth.NewStore(auth.RefreshCredential{Token: cfg.Suno.RefreshToken, DeviceID: cfg.Suno.DeviceID})

	refresher := auth.NewClerkRefresher(auth.ClerkConfig{
		BaseURL:    cfg.Suno.ClerkBase,
		JSVersion:  cfg.Suno.ClerkJSVersion,
		UserAgent:  cfg.Suno.UserAgent,
		DefaultTTL: cfg.Auth.DefaultTTL.Duration,
		HTTPClient: opts.HTTPClient,
		Logger:     logger.With("component", "clerk"),
	}, store)

	dispatcher := notify.NewDispatcher(notify.Config{
		Sinks:      notify.SinksFrom(cfg.Notify.Webhooks, cfg.Notify.Slack, cfg.Notify.Discord),
		Timeout:    cfg.Notify.Timeout.Duration,
		HTTPClient: opts.HTTPClient,
		Logger:     logger.With("component", "notify"),
	})

	monitor := auth.NewMonitor(store, refresher, auth.MonitorConfig{
		SafetyMargin:     cfg.Auth.SafetyMargin.Duration,
		RefreshTimeout:   cfg.Auth.RefreshTimeout.Duration,
		FailureThreshold: uint(max(cfg.Auth.FailureThreshold, 1)),
		Service:          ServiceName,
		Notifier:         dispatcher,
		Logger:           logger.With("component", "auth"),
	})
	if cfg.Suno.SessionToken != "" {
		monitor.SeedAccess(cfg.Suno.SessionToken, cfg.Auth.DefaultTTL.Duration)
		if cfg.Suno.RefreshToken == "" {
			logger.Warning("Using SUNO_SESSION_TOKEN without a refresh token; it will not be renewed")
		}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Suno.HTTPTimeout.Duration}
	}
	client := suno.NewClient(monitor, suno.ClientConfig{
		BaseURL:           cfg.Suno.APIBase,
		DeviceID:          cfg.Suno.DeviceID,
		UserAgent:         cfg.Suno.UserAgent,
		RequestsPerSecond: cfg.Suno.RequestsPerSecond,
		Burst:             cfg.Suno.Burst,
		HTTPClient:        httpClient,
		Logger:            logger.With("component", "suno"),
	})

	router := output.NewRouter(output.RouterConfig{
		BaseDir:  cfg.Output.BaseDir,
		Uploader: newUploader(ctx, cfg.Drive, opts.DriveOptions, logger),
		Logger:   logger.With("component", "output"),
	})

	converter := opts.Converter
	if converter == nil {
		ff := audio.NewFFmpegConverter(cfg.Generation.FFmpegPath)
		if !ff.Available() {
			logger.Warning("ffmpeg not found at %q; MP3 conversion will fail", ff.Path)
		}
		converter = ff
	}

	orchestrator := suno.NewOrchestrator(suno.Config{
		Provider:  client,
		Converter: converter,
		Output:    router,
		Policy: suno.PollPolicy{
			Interval:        cfg.Generation.PollInterval.Duration,
			Timeout:         cfg.Generation.PollTimeout.Duration,
			BackoffInitial:  cfg.Generation.BackoffInitial.Duration,
			BackoffMax:      cfg.Generation.BackoffMax.Duration,
			MaxErrors:       cfg.Generation.MaxPollErrors,
			AcceptStreaming: cfg.Generation.AcceptStreaming,
		},
		DefaultModel:        cfg.Suno.DefaultModel,
		MaxTagsLength:       cfg.Generation.MaxTagsLength,
		DownloadConcurrency: cfg.Generation.DownloadConcurrency,
		Logger:              logger.With("component", "generate"),
	})

	return &App{
		Config:       cfg,
		Logger:       logger,
		Store:        store,
		Monitor:      monitor,
		Notifier:     dispatcher,
		Client:       client,
		Orchestrator: orchestrator,
		Router:       router,
	}, nil
}

// newUploader returns nil when Drive is not configured or the client
// cannot be built, which leaves gdrive writes local-only.
func newUploader(ctx context.Context, cfg config.DriveConfig, opts []option.ClientOption, logger *logging.Logger) output.Uploader {
	if cfg.FolderID == "" {
		return nil
	}
	if !cfg.Enabled() {
		logger.Warning("GDRIVE_MUSIC_FOLDER_ID is set but Drive OAuth credentials are incomplete; uploads disabled")
		return nil
	}
	up, err := output.NewDriveUploader(ctx, output.DriveConfig{
		FolderID:     cfg.FolderID,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RefreshToken: cfg.RefreshToken,
		Subfolder:    cfg.Subfolder,
		Options:      opts,
	})
	if err != nil {
		logger.Warning("Google Drive disabled: %v", err)
		return nil
	}
	return up
}

// Start prepares output directories and launches the keep-alive loop.
// Directory failures are logged; a read-only volume is not fatal.
func (a *App) Start(ctx context.Context) {
	if err := a.Router.EnsureDirs(); err != nil {
		a.Logger.Warning("Could not create output directories: %v", err)
	}
	if interval := a.Config.Auth.KeepAliveInterval.Duration; interval > 0 {
		go a.Monitor.KeepAlive(ctx, interval)
	}
}

// Close waits for pending notifications and flushes the log file.
func (a *App) Close() error {
	return errors.Join(a.Notifier.Close(), a.Logger.Close())
}
