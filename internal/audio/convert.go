// Package audio normalises downloaded artifacts to WAV.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/0xshugo/suno-api-mcp/internal/apperr"
)

// Converter turns compressed audio into WAV.
type Converter interface {
	ToWAV(ctx context.Context, src []byte) ([]byte, error)
}

// IsWAV reports whether b starts with a RIFF/WAVE header.
func IsWAV(b []byte) bool {
	return len(b) >= 12 && bytes.Equal(b[:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE"))
}

// FFmpegConverter shells out to ffmpeg and produces 16-bit 44.1kHz PCM.
type FFmpegConverter struct {
	Path string
}

// NewFFmpegConverter returns a converter using the given binary, or
// "ffmpeg" from PATH when empty.
func NewFFmpegConverter(path string) *FFmpegConverter {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegConverter{Path: path}
}

// Available reports whether the binary can be found.
func (c *FFmpegConverter) Available() bool {
	_, err := exec.LookPath(c.Path)
	return err == nil
}

// ToWAV implements Converter. Temporary files are removed on every path.
func (c *FFmpegConverter) ToWAV(ctx context.Context, src []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, apperr.Conversion("ffmpeg", fmt.Errorf("empty input"))
	}

	dir, err := os.MkdirTemp("", "suno-convert-*")
	if err != nil {
		return nil, apperr.Conversion("ffmpeg", fmt.Errorf("failed to create temp dir: %w", err))
	}
	defer func() { _ = os.RemoveAll(dir) }()

	in := filepath.Join(dir, "in.mp3")
	out := filepath.Join(dir, "out.wav")
	if err := os.WriteFile(in, src, 0o600); err != nil {
		return nil, apperr.Conversion("ffmpeg", fmt.Errorf("failed to write input: %w", err))
	}

	cmd := exec.CommandContext(ctx, c.Path, "-y", "-i", in, "-acodec", "pcm_s16le", "-ar", "44100", out)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		return nil, apperr.Conversion("ffmpeg", fmt.Errorf("%w: %s", err, msg))
	}

	wav, err := os.ReadFile(out)
	if err != nil {
		return nil, apperr.Conversion("ffmpeg", fmt.Errorf("failed to read output: %w", err))
	}
	if !IsWAV(wav) {
		return nil, apperr.Conversion("ffmpeg", fmt.Errorf("output is not a WAV file"))
	}
	return wav, nil
}
