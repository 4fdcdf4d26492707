package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/video-system/go-photo-kiosk/internal/runner"
	"github.com/video-system/go-photo-kiosk/pkg/faults"
)

// FFmpeg wraps the verified ffmpeg/ffprobe binaries. It holds no mutable
// state and is shared by concurrent jobs.
type FFmpeg struct {
	binaryPath string
	probePath  string
	logger     *slog.Logger
}

// New discovers both binaries with loc and fails if either is missing.
func New(ctx context.Context, loc *Locator, logger *slog.Logger) (*FFmpeg, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bins := loc.Locate(ctx)
	if !bins.Complete() {
		return nil, faults.New("ffmpeg.New", faults.ErrBinaryDiscoveryFailed,
			fmt.Sprintf("%s not found in PATH or common locations", strings.Join(bins.Missing(), ", ")))
	}
	return NewWithPaths(bins.FFmpeg, bins.FFprobe, logger), nil
}

// NewWithPaths wraps already-verified binaries.
func NewWithPaths(ffmpegPath, probePath string, logger *slog.Logger) *FFmpeg {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{
		binaryPath: ffmpegPath,
		probePath:  probePath,
		logger:     logger,
	}
}

// Binaries returns the resolved binary paths.
func (f *FFmpeg) Binaries() Binaries {
	return Binaries{FFmpeg: f.binaryPath, FFprobe: f.probePath}
}

// Version returns the first line of "ffmpeg -version".
func (f *FFmpeg) Version(ctx context.Context) (string, error) {
	res, err := runner.Run(ctx, f.binaryPath, []string{"-version"}, runner.Options{Timeout: 5 * time.Second})
	if err != nil {
		return "", faults.New("ffmpeg.Version", faults.ErrToolUnavailable, err.Error())
	}
	if !res.Success() {
		return "", fmt.Errorf("ffmpeg -version exited with code %d", res.Code)
	}

	lines := strings.Split(string(res.Stdout), "\n")
	if len(lines) > 0 && strings.TrimSpace(lines[0]) != "" {
		return strings.TrimSpace(lines[0]), nil
	}
	return "", fmt.Errorf("no version output")
}

// classifyFailure maps ffmpeg/ffprobe stderr to a sentinel. It is the only
// place that pattern-matches transcoder output.
func classifyFailure(stderr string) error {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "no such file or directory"):
		return faults.ErrInputMissing
	case strings.Contains(s, "invalid data found"), strings.Contains(s, "moov atom not found"):
		return fmt.Errorf("unreadable media")
	default:
		return nil
	}
}

// tail returns the last n non-empty lines of s.
func tail(s string, n int) string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "; ")
}
