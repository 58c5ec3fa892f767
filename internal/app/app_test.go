package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/0xshugo/suno-api-mcp/internal/config"
	"github.com/0xshugo/suno-api-mcp/internal/output"
	"github.com/0xshugo/suno-api-mcp/internal/suno"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Suno.RefreshToken = "client-token"
	cfg.Suno.DeviceID = "device"
	cfg.Output.BaseDir = t.TempDir()
	cfg.Generation.FFmpegPath = filepath.Join(t.TempDir(), "no-ffmpeg")
	return cfg
}

func TestNew(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = a.Close() }()

	if a.Monitor == nil || a.Orchestrator == nil || a.Router == nil || a.Client == nil {
		t.Fatal("components not wired")
	}
	if a.Router.RemoteEnabled() {
		t.Error("Drive must be disabled without configuration")
	}
	if st := a.Monitor.Status(); st.Mode != "refresh" || st.AccessExpiresAt != nil {
		t.Errorf("Status() = %+v", st)
	}
}

func TestNewLegacySessionToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Suno.RefreshToken = ""
	cfg.Suno.SessionToken = "legacy-jwt"

	a, err := New(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = a.Close() }()

	st := a.Monitor.Status()
	if st.Mode != "legacy" || st.AccessExpiresAt == nil {
		t.Fatalf("Status() = %+v", st)
	}
	ac, err := a.Monitor.EnsureValidAccess(context.Background())
	if err != nil || ac.Token != "legacy-jwt" {
		t.Errorf("EnsureValidAccess() = %q, %v", ac.Token, err)
	}
}

func TestNewIncompleteDriveConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Drive.FolderID = "folder"

	a, err := New(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = a.Close() }()
	if a.Router.RemoteEnabled() {
		t.Error("incomplete Drive credentials must not enable uploads")
	}
}

func TestStartCreatesDirectories(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = a.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)

	for _, name := range []string{output.TargetCh1, output.TargetCh2, output.TargetLibrary} {
		if _, err := os.Stat(filepath.Join(cfg.Output.BaseDir, name)); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}
}

// TestGenerateEndToEnd runs a generation against stub identity and
// studio servers.
func TestGenerateEndToEnd(t *testing.T) {
	var refreshes atomic.Int32
	clerk := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/client":
			_, _ = io.WriteString(w, `{"response":{"last_active_session_id":"sess_1"}}`)
		case "/v1/client/sessions/sess_1/tokens":
			refreshes.Add(1)
			_, _ = io.WriteString(w, `{"jwt":"access-1","expires_in":3600}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer clerk.Close()

	var studio *httptest.Server
	studio = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cdn/c1.wav" && r.Header.Get("Authorization") != "Bearer access-1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/generate/v2-web/":
			_, _ = io.WriteString(w, `{"clips":[{"id":"c1"}]}`)
		case "/api/feed/v2":
			_, _ = io.WriteString(w, `{"clips":[{"id":"c1","title":"Deep Flow","status":"complete","audio_url":"`+studio.URL+`/cdn/c1.mp3"}]}`)
		case "/cdn/c1.wav":
			w.Header().Set("Content-Type", "audio/wav")
			_, _ = io.WriteString(w, "RIFF\x00\x00\x00\x00WAVEdata")
		default:
			http.NotFound(w, r)
		}
	}))
	defer studio.Close()

	cfg := testConfig(t)
	cfg.Suno.ClerkBase = clerk.URL
	cfg.Suno.APIBase = studio.URL
	cfg.Generation.PollInterval = config.Duration{Duration: 1}

	a, err := New(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = a.Close() }()

	target, err := a.Router.Resolve("library")
	if err != nil {
		t.Fatal(err)
	}
	job, results, err := a.Orchestrator.Run(context.Background(), suno.Params{Tags: "dnb", Title: "x"}, target)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if job.Status != suno.JobReady || len(results) != 1 || results[0].Err != nil {
		t.Fatalf("job = %s, results = %+v", job.Status, results)
	}
	if results[0].Strategy != "derived" || results[0].Filename != "Deep Flow_c1.wav" {
		t.Errorf("result = %+v", results[0])
	}
	if n := refreshes.Load(); n != 1 {
		t.Errorf("identity refreshes = %d, want 1", n)
	}
	if h := a.Monitor.Health(); h.State != "ok" {
		t.Errorf("health = %+v", h)
	}
}
