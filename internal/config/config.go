// Package config loads server settings from the embedded defaults, an
// optional TOML file, an optional .env file and the process environment.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/0xshugo/suno-api-mcp/internal/apperr"
)

//go:embed config.example.toml
var exampleConf []byte

// Response formats understood by the tool layer.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Duration is a time.Duration that decodes from TOML strings such as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the complete server configuration.
type Config struct {
	Suno       SunoConfig       `toml:"suno"`
	Auth       AuthConfig       `toml:"auth"`
	Generation GenerationConfig `toml:"generation"`
	Output     OutputConfig     `toml:"output"`
	Drive      DriveConfig      `toml:"gdrive"`
	Notify     NotifyConfig     `toml:"notify"`
	Server     ServerConfig     `toml:"server"`
	Log        LogConfig        `toml:"log"`
}

// SunoConfig holds provider credentials and endpoints.
type SunoConfig struct {
	RefreshToken      string   `toml:"refresh_token"`
	SessionToken      string   `toml:"session_token"`
	DeviceID          string   `toml:"device_id"`
	APIBase           string   `toml:"api_base"`
	ClerkBase         string   `toml:"clerk_base"`
	ClerkJSVersion    string   `toml:"clerk_js_version"`
	UserAgent         string   `toml:"user_agent"`
	DefaultModel      string   `toml:"default_model"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	HTTPTimeout       Duration `toml:"http_timeout"`
}

// AuthConfig tunes the credential lifecycle.
type AuthConfig struct {
	SafetyMargin      Duration `toml:"safety_margin"`
	DefaultTTL        Duration `toml:"default_ttl"`
	FailureThreshold  int      `toml:"failure_threshold"`
	RefreshTimeout    Duration `toml:"refresh_timeout"`
	KeepAliveInterval Duration `toml:"keepalive_interval"`
}

// GenerationConfig tunes submission, polling and artifact retrieval.
type GenerationConfig struct {
	PollInterval        Duration `toml:"poll_interval"`
	PollTimeout         Duration `toml:"poll_timeout"`
	BackoffInitial      Duration `toml:"backoff_initial"`
	BackoffMax          Duration `toml:"backoff_max"`
	MaxPollErrors       int      `toml:"max_poll_errors"`
	MaxTagsLength       int      `toml:"max_tags_length"`
	DownloadConcurrency int      `toml:"download_concurrency"`
	AcceptStreaming     bool     `toml:"accept_streaming"`
	FFmpegPath          string   `toml:"ffmpeg_path"`
}

// OutputConfig locates the local music library.
type OutputConfig struct {
	BaseDir string `toml:"base_dir"`
}

// DriveConfig holds Google Drive upload settings.
type DriveConfig struct {
	FolderID     string `toml:"folder_id"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RefreshToken string `toml:"refresh_token"`
	Subfolder    string `toml:"subfolder"`
}

// Enabled reports whether Drive uploads can be attempted.
func (d DriveConfig) Enabled() bool {
	return d.FolderID != "" && d.ClientID != "" && d.ClientSecret != "" && d.RefreshToken != ""
}

// NotifyConfig lists webhook sinks per payload format.
type NotifyConfig struct {
	Webhooks []string `toml:"webhooks"`
	Slack    []string `toml:"slack"`
	Discord  []string `toml:"discord"`
	Timeout  Duration `toml:"timeout"`
}

// ServerConfig selects the MCP transport.
type ServerConfig struct {
	Transport      string `toml:"transport"`
	ListenAddr     string `toml:"listen_addr"`
	BaseURL        string `toml:"base_url"`
	ResponseFormat string `toml:"response_format"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
}

// LoadOptions controls where Load looks for settings.
type LoadOptions struct {
	// Path is an explicit TOML file. Missing explicit files are an error.
	Path string
	// EnvFile is a .env file. Missing files are ignored.
	EnvFile string
	// Lookup replaces os.LookupEnv, mainly for tests.
	Lookup func(string) (string, bool)
}

// DefaultConfig returns the embedded example configuration.
func DefaultConfig() *Config {
	var cfg Config
	if err := toml.Unmarshal(exampleConf, &cfg); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &cfg
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "suno-mcp", "config.toml")
}

// Load builds the effective configuration.
func Load(opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", opts.EnvFile, err)
		}
	}

	cfg := DefaultConfig()

	path := opts.Path
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}

	str("SUNO_REFRESH_TOKEN", &c.Suno.RefreshToken)
	str("SUNO_SESSION_TOKEN", &c.Suno.SessionToken)
	str("SUNO_DEVICE_ID", &c.Suno.DeviceID)
	str("SUNO_MODEL", &c.Suno.DefaultModel)
	str("MUSIC_BASE", &c.Output.BaseDir)
	str("GDRIVE_MUSIC_FOLDER_ID", &c.Drive.FolderID)
	str("GDRIVE_CLIENT_ID", &c.Drive.ClientID)
	str("GDRIVE_CLIENT_SECRET", &c.Drive.ClientSecret)
	str("GDRIVE_REFRESH_TOKEN", &c.Drive.RefreshToken)
	str("GDRIVE_SUBFOLDER", &c.Drive.Subfolder)
	list("NOTIFY_WEBHOOK_URL", &c.Notify.Webhooks)
	list("NOTIFY_SLACK_WEBHOOK_URL", &c.Notify.Slack)
	list("NOTIFY_DISCORD_WEBHOOK_URL", &c.Notify.Discord)
	str("RESPONSE_FORMAT", &c.Server.ResponseFormat)
	str("MCP_TRANSPORT", &c.Server.Transport)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)
	str("FFMPEG_PATH", &c.Generation.FFmpegPath)

	if v, ok := lookup("MCP_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return apperr.Configuration("config", "invalid MCP_PORT %q", v)
		}
		c.Server.ListenAddr = ":" + strconv.Itoa(port)
	}
	return nil
}

func (c *Config) normalize() {
	c.Suno.RefreshToken = ExtractClientToken(c.Suno.RefreshToken)
	c.Suno.SessionToken = strings.TrimSpace(c.Suno.SessionToken)
	if c.Suno.DeviceID == "" {
		c.Suno.DeviceID = uuid.NewString()
	}
	c.Server.ResponseFormat = strings.ToLower(strings.TrimSpace(c.Server.ResponseFormat))
	c.Server.Transport = strings.ToLower(strings.TrimSpace(c.Server.Transport))
}

// Validate checks that the configuration can start the server.
func (c *Config) Validate() error {
	if c.Suno.RefreshToken == "" && c.Suno.SessionToken == "" {
		return apperr.Configuration("config", "SUNO_REFRESH_TOKEN is not set (SUNO_SESSION_TOKEN may be used as a legacy fallback)")
	}
	switch c.Server.ResponseFormat {
	case FormatText, FormatJSON:
	default:
		return apperr.Configuration("config", "invalid response format %q (expected text or json)", c.Server.ResponseFormat)
	}
	if c.Output.BaseDir == "" {
		return apperr.Configuration("config", "output base directory is empty")
	}

	positive := map[string]time.Duration{
		"generation.poll_interval": c.Generation.PollInterval.Duration,
		"generation.poll_timeout":  c.Generation.PollTimeout.Duration,
		"auth.default_ttl":         c.Auth.DefaultTTL.Duration,
		"auth.refresh_timeout":     c.Auth.RefreshTimeout.Duration,
	}
	for name, d := range positive {
		if d <= 0 {
			return apperr.Configuration("config", "%s must be positive", name)
		}
	}
	if c.Auth.FailureThreshold < 1 {
		return apperr.Configuration("config", "auth.failure_threshold must be at least 1")
	}
	if c.Generation.MaxTagsLength < 1 {
		return apperr.Configuration("config", "generation.max_tags_length must be at least 1")
	}
	return nil
}

// CreateConfigFile writes the embedded example configuration to path.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, exampleConf, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ExtractClientToken accepts either a bare token or a browser cookie string
// and returns the "__client" value.
func ExtractClientToken(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "__client="); ok {
			return v
		}
	}
	return raw
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
