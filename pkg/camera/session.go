// Package camera drives a tethered camera through the gphoto2 CLI: device
// detection, still capture and an MJPEG live preview.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"

	"github.com/video-system/go-photo-kiosk/internal/metrics"
	"github.com/video-system/go-photo-kiosk/internal/runner"
	"github.com/video-system/go-photo-kiosk/pkg/faults"
)

// Defaults for Config.
const (
	DefaultBinary             = "gphoto2"
	DefaultDetectTimeout      = 10 * time.Second
	DefaultCaptureTimeout     = 15 * time.Second
	DefaultStallTimeout       = 5 * time.Second
	DefaultMaxPreviewRestarts = 3
)

// Config holds session configuration
type Config struct {
	Binary         string        `yaml:"binary" env:"BINARY"`
	DetectTimeout  time.Duration `yaml:"detect_timeout" env:"DETECT_TIMEOUT"`
	CaptureTimeout time.Duration `yaml:"capture_timeout" env:"CAPTURE_TIMEOUT"`

	// StallTimeout is how long the preview may go without a frame before the
	// stream is restarted.
	StallTimeout time.Duration `yaml:"stall_timeout" env:"STALL_TIMEOUT"`
	// MaxPreviewRestarts caps consecutive restarts without an intervening
	// frame. Past the cap the preview is stopped and OnPreviewFailure runs.
	MaxPreviewRestarts int `yaml:"max_preview_restarts" env:"MAX_PREVIEW_RESTARTS"`

	OnPreviewFailure func(error) `yaml:"-" env:"-"`
}

func (c *Config) applyDefaults() {
	if c.Binary == "" {
		c.Binary = DefaultBinary
	}
	if c.DetectTimeout <= 0 {
		c.DetectTimeout = DefaultDetectTimeout
	}
	if c.CaptureTimeout <= 0 {
		c.CaptureTimeout = DefaultCaptureTimeout
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = DefaultStallTimeout
	}
	if c.MaxPreviewRestarts <= 0 {
		c.MaxPreviewRestarts = DefaultMaxPreviewRestarts
	}
}

// Session is the exclusive owner of the camera. At most one gphoto2 process
// that holds the device (capture or preview) runs at a time; starting one
// stops the other.
type Session struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	capture *runner.Process // in-flight still capture
	preview *preview

	// gen invalidates frame callbacks of replaced preview processes.
	gen atomic.Uint64
}

// NewSession creates an idle session.
func NewSession(cfg Config, logger *slog.Logger) *Session {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:    cfg,
		logger: logger,
	}
}

// State returns the current activity.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Enumerate lists attached cameras. It does not take the device, so it may
// run alongside a capture or preview.
func (s *Session) Enumerate(ctx context.Context) ([]Descriptor, error) {
	const op = "camera.Enumerate"

	s.mu.Lock()
	if s.state == StateIdle {
		s.state = StateEnumerating
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.state == StateEnumerating {
			s.state = StateIdle
		}
		s.mu.Unlock()
	}()

	res, err := runner.Run(ctx, s.cfg.Binary, []string{"--auto-detect"}, runner.Options{Timeout: s.cfg.DetectTimeout})
	if err != nil {
		return nil, spawnFailure(ctx, op, err)
	}
	if res.TimedOut {
		return nil, faults.New(op, faults.ErrTimeout, fmt.Sprintf("no answer within %s", s.cfg.DetectTimeout))
	}
	if res.Canceled {
		return nil, faults.Wrap(op, ctx.Err())
	}

	stdout, stderr := string(res.Stdout), string(res.Stderr)
	if cause := ClassifyDetect(stdout, stderr); cause != nil {
		return nil, faults.New(op, cause, "")
	}
	if !res.Success() {
		return nil, fmt.Errorf("%s: %s exited with code %d: %s", op, s.cfg.Binary, res.Code, strings.TrimSpace(stderr))
	}

	devices := ParseDetect(stdout)
	if len(devices) == 0 {
		return nil, faults.New(op, faults.ErrNoDevices, "")
	}

	s.logger.Debug("camera: devices detected", "count", len(devices))
	return devices, nil
}

// IsAvailable reports whether at least one camera answers detection.
func (s *Session) IsAvailable(ctx context.Context) bool {
	devices, err := s.Enumerate(ctx)
	return err == nil && len(devices) > 0
}

// CaptureStill triggers the shutter, downloads the image and moves it to
// req.OutputPath. A running preview is stopped first.
func (s *Session) CaptureStill(ctx context.Context, req CaptureRequest) (string, error) {
	path, err := s.captureStill(ctx, req)
	metrics.CapturesTotal.WithLabelValues(captureResult(err)).Inc()
	if err != nil {
		s.logger.Warn("camera: capture failed", "error", err)
		return "", err
	}
	s.logger.Info("camera: still captured", "path", path)
	return path, nil
}

func (s *Session) captureStill(ctx context.Context, req CaptureRequest) (string, error) {
	const op = "camera.CaptureStill"

	if req.OutputPath == "" {
		return "", faults.New(op, faults.ErrCaptureFailed, "output path is required")
	}
	dir := filepath.Dir(req.OutputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%s: create output dir: %w", op, err)
	}

	args := []string{"--force-overwrite"}
	if req.Format != "" {
		args = append(args, "--set-config", "imageformat="+req.Format)
	}
	args = append(args, "--capture-image-and-download")

	var stdout, stderr bytes.Buffer

	s.mu.Lock()
	if s.capture != nil {
		s.mu.Unlock()
		return "", faults.New(op, faults.ErrDeviceBusy, "another capture is in progress")
	}
	if s.preview != nil {
		s.logger.Info("camera: stopping preview for capture")
		s.stopPreviewLocked()
	}
	proc, err := runner.Start(ctx, s.cfg.Binary, args, runner.Options{
		Dir:     dir,
		Timeout: s.cfg.CaptureTimeout,
		Stdout:  func(p []byte) { stdout.Write(p) },
		Stderr:  func(p []byte) { stderr.Write(p) },
	})
	if err != nil {
		s.mu.Unlock()
		return "", spawnFailure(ctx, op, err)
	}
	s.capture = proc
	s.state = StateCapturing
	s.mu.Unlock()

	exit := proc.Wait()

	s.mu.Lock()
	if s.capture == proc {
		s.capture = nil
		s.state = StateIdle
	}
	s.mu.Unlock()

	switch {
	case exit.TimedOut:
		return "", faults.New(op, faults.ErrTimeout, fmt.Sprintf("no image within %s", s.cfg.CaptureTimeout))
	case exit.Canceled && ctx.Err() != nil:
		return "", faults.Wrap(op, ctx.Err())
	case exit.Canceled:
		return "", faults.New(op, faults.ErrCaptureFailed, "capture interrupted")
	case !exit.Success():
		return "", faults.New(op, ClassifyCapture(stderr.String()), strings.TrimSpace(stderr.String()))
	}

	name := savedFilename(stdout.String())
	if name == "" {
		return "", faults.New(op, faults.ErrCaptureFailed, "camera did not report a saved file")
	}
	src := name
	if !filepath.IsAbs(src) {
		src = filepath.Join(dir, name)
	}
	if _, err := os.Stat(src); err != nil {
		return "", faults.New(op, faults.ErrCaptureFailed, "captured file missing: "+src)
	}

	if src != req.OutputPath {
		if err := os.Rename(src, req.OutputPath); err != nil {
			return "", faults.New(op, faults.ErrCaptureFailed, err.Error())
		}
	}

	if req.Quality > 0 && isJPEG(req.OutputPath) {
		if err := reencode(req.OutputPath, req.Quality); err != nil {
			return "", faults.New(op, faults.ErrCaptureFailed, err.Error())
		}
	}

	return req.OutputPath, nil
}

// reencode rewrites a JPEG in place at the given quality.
func reencode(path string, quality int) error {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode capture: %w", err)
	}
	if quality > 100 {
		quality = 100
	}
	return imaging.Save(img, path, imaging.JPEGQuality(quality))
}

// spawnFailure tells a missing or broken gphoto2 apart from a caller that
// gave up before the process started.
func spawnFailure(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return faults.Wrap(op, ctx.Err())
	}
	return faults.New(op, faults.ErrToolUnavailable, err.Error())
}

func captureResult(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return strings.ToLower(string(faults.CodeOf(err)))
}

// Close stops any preview and in-flight capture.
func (s *Session) Close() {
	s.mu.Lock()
	proc := s.capture
	if s.preview != nil {
		s.stopPreviewLocked()
	}
	s.mu.Unlock()

	if proc != nil {
		proc.Stop()
	}
}
