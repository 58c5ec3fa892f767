package audio

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/0xshugo/suno-api-mcp/internal/apperr"
)

// fakeFFmpeg writes a shell script standing in for ffmpeg.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\nfor last; do :; done\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("failed to write fake ffmpeg: %v", err)
	}
	return path
}

func TestFFmpegConverter(t *testing.T) {
	tests := []struct {
		name     string
		script   string
		input    []byte
		wantErr  bool
		errMatch string
	}{
		{
			name:   "successful conversion",
			script: `printf 'RIFF\000\000\000\000WAVEfmt ' > "$last"`,
			input:  []byte("ID3 fake mp3"),
		},
		{
			name:     "non-zero exit",
			script:   `echo "Invalid data found when processing input" >&2; exit 1`,
			input:    []byte("garbage"),
			wantErr:  true,
			errMatch: "Invalid data found",
		},
		{
			name:     "output without RIFF header",
			script:   `printf 'not audio' > "$last"`,
			input:    []byte("ID3"),
			wantErr:  true,
			errMatch: "not a WAV",
		},
		{
			name:     "empty input",
			script:   `exit 0`,
			wantErr:  true,
			errMatch: "empty input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewFFmpegConverter(fakeFFmpeg(t, tt.script))

			out, err := c.ToWAV(context.Background(), tt.input)
			if tt.wantErr {
				if !apperr.Is(err, apperr.KindConversion) {
					t.Fatalf("expected conversion error, got %v", err)
				}
				if !strings.Contains(err.Error(), tt.errMatch) {
					t.Errorf("error %q does not contain %q", err, tt.errMatch)
				}
				return
			}
			if err != nil {
				t.Fatalf("ToWAV() error = %v", err)
			}
			if !IsWAV(out) {
				t.Errorf("expected WAV output, got %q", out)
			}
		})
	}
}

func TestFFmpegConverterMissingBinary(t *testing.T) {
	c := NewFFmpegConverter(filepath.Join(t.TempDir(), "does-not-exist"))
	if c.Available() {
		t.Error("missing binary must not be available")
	}
	if _, err := c.ToWAV(context.Background(), []byte("x")); !apperr.Is(err, apperr.KindConversion) {
		t.Errorf("expected conversion error, got %v", err)
	}
}

func TestIsWAV(t *testing.T) {
	tests := map[string]bool{
		"RIFF\x00\x00\x00\x00WAVEfmt ": true,
		"RIFF\x00\x00\x00\x00AVI LIST": false,
		"ID3\x03":                      false,
		"":                             false,
	}
	for in, want := range tests {
		if got := IsWAV([]byte(in)); got != want {
			t.Errorf("IsWAV(%q) = %v, want %v", in, got, want)
		}
	}
}
