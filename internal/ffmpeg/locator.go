package ffmpeg

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/video-system/go-photo-kiosk/internal/runner"
)

const (
	nameFFmpeg  = "ffmpeg"
	nameFFprobe = "ffprobe"

	// DefaultVerifyTimeout bounds each "-version" check.
	DefaultVerifyTimeout = 5 * time.Second
)

// Binaries holds verified transcoder paths. Either may be empty.
type Binaries struct {
	FFmpeg  string `json:"ffmpeg,omitempty"`
	FFprobe string `json:"ffprobe,omitempty"`
}

// Complete reports whether both binaries were found.
func (b Binaries) Complete() bool {
	return b.FFmpeg != "" && b.FFprobe != ""
}

// Missing names the binaries that were not found.
func (b Binaries) Missing() []string {
	var missing []string
	if b.FFmpeg == "" {
		missing = append(missing, nameFFmpeg)
	}
	if b.FFprobe == "" {
		missing = append(missing, nameFFprobe)
	}
	return missing
}

// Locator discovers working ffmpeg/ffprobe binaries. A candidate is only
// accepted after it has been executed successfully.
type Locator struct {
	GOOS          string
	SearchPaths   map[string][]string
	VerifyTimeout time.Duration

	// Lookup asks the OS for candidate paths of name. Defaults to the shell
	// lookup command for GOOS.
	Lookup func(ctx context.Context, name string) []string

	logger *slog.Logger
}

// NewLocator returns a Locator for the running platform.
func NewLocator(logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Locator{
		GOOS:          runtime.GOOS,
		SearchPaths:   SearchPaths,
		VerifyTimeout: DefaultVerifyTimeout,
		logger:        logger,
	}
	l.Lookup = l.shellLookup
	return l
}

// Locate runs the discovery steps in order and stops as soon as both
// binaries are verified.
func (l *Locator) Locate(ctx context.Context) Binaries {
	var found Binaries

	// 1. Ask the OS.
	found.FFmpeg = l.firstVerified(ctx, nameFFmpeg, l.Lookup(ctx, nameFFmpeg))
	found.FFprobe = l.firstVerified(ctx, nameFFprobe, l.Lookup(ctx, nameFFprobe))
	if found.Complete() {
		return found
	}

	// 2. The missing one usually sits next to the one we found.
	switch {
	case found.FFmpeg != "" && found.FFprobe == "":
		found.FFprobe = l.firstVerified(ctx, nameFFprobe, []string{l.sibling(found.FFmpeg, nameFFprobe)})
	case found.FFprobe != "" && found.FFmpeg == "":
		found.FFmpeg = l.firstVerified(ctx, nameFFmpeg, []string{l.sibling(found.FFprobe, nameFFmpeg)})
	}
	if found.Complete() {
		return found
	}

	// 3. Conventional install directories.
	for _, dir := range l.SearchPaths[l.GOOS] {
		if found.FFmpeg == "" {
			found.FFmpeg = l.firstVerified(ctx, nameFFmpeg, []string{filepath.Join(dir, executableName(l.GOOS, nameFFmpeg))})
		}
		if found.FFprobe == "" {
			found.FFprobe = l.firstVerified(ctx, nameFFprobe, []string{filepath.Join(dir, executableName(l.GOOS, nameFFprobe))})
		}
		if found.Complete() {
			break
		}
	}

	if !found.Complete() {
		l.logger.Warn("ffmpeg: transcoder discovery incomplete", "missing", found.Missing())
	}
	return found
}

// Verify checks explicitly configured binaries the same way discovered ones
// are checked. Rejected paths come back empty.
func (l *Locator) Verify(ctx context.Context, b Binaries) Binaries {
	return Binaries{
		FFmpeg:  l.firstVerified(ctx, nameFFmpeg, []string{b.FFmpeg}),
		FFprobe: l.firstVerified(ctx, nameFFprobe, []string{b.FFprobe}),
	}
}

func (l *Locator) sibling(path, name string) string {
	return filepath.Join(filepath.Dir(path), executableName(l.GOOS, name))
}

func (l *Locator) firstVerified(ctx context.Context, name string, candidates []string) string {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, err := os.Stat(c); err != nil {
			continue
		}
		if l.verify(ctx, c, name) {
			return c
		}
	}
	return ""
}

// verify runs "<path> -version" and checks the banner.
func (l *Locator) verify(ctx context.Context, path, name string) bool {
	timeout := l.VerifyTimeout
	if timeout <= 0 {
		timeout = DefaultVerifyTimeout
	}

	res, err := runner.Run(ctx, path, []string{"-version"}, runner.Options{Timeout: timeout})
	if err != nil {
		l.logger.Debug("ffmpeg: candidate rejected", "path", path, "error", err)
		return false
	}
	if !res.Success() {
		l.logger.Debug("ffmpeg: candidate rejected", "path", path, "exit_code", res.Code, "timed_out", res.TimedOut)
		return false
	}
	if !strings.Contains(strings.ToLower(string(res.Stdout)), name+" version") {
		l.logger.Debug("ffmpeg: candidate rejected, unrecognised version output", "path", path)
		return false
	}
	return true
}

// shellLookup runs which/where. If the lookup command itself is unavailable
// it falls back to scanning PATH for files with the right name; those are
// still subject to verification.
func (l *Locator) shellLookup(ctx context.Context, name string) []string {
	res, err := runner.Run(ctx, lookupCommand(l.GOOS), []string{name}, runner.Options{Timeout: l.VerifyTimeout})
	if err != nil {
		return l.scanPath(name)
	}
	if !res.Success() {
		return nil
	}

	var paths []string
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	return paths
}

func (l *Locator) scanPath(name string) []string {
	var paths []string
	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		if dir == "" {
			continue
		}
		p := filepath.Join(dir, executableName(l.GOOS, name))
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	return paths
}
