package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/video-system/go-photo-kiosk/internal/ffmpeg"
	"github.com/video-system/go-photo-kiosk/pkg/artifacts"
	"github.com/video-system/go-photo-kiosk/pkg/camera"
	"github.com/video-system/go-photo-kiosk/pkg/compose"
	"github.com/video-system/go-photo-kiosk/pkg/faults"
	"github.com/video-system/go-photo-kiosk/pkg/filter"
	"github.com/video-system/go-photo-kiosk/pkg/flipbook"
	"github.com/video-system/go-photo-kiosk/pkg/printer"
)

// Manager owns the kiosk's devices and pipelines. The camera session is
// exclusive; the transcoder is shared by concurrent jobs.
type Manager struct {
	cfg     *Config
	logger  *slog.Logger
	locator *ffmpeg.Locator

	camera    *camera.Session
	filters   *filter.Engine
	pipeline  *flipbook.Pipeline
	composer  *compose.Composer
	printer   *printer.Printer
	preview   *Broadcaster
	artifacts *artifacts.Store

	mu     sync.RWMutex
	ffmpeg *ffmpeg.FFmpeg // nil until both binaries are found
}

// NewManager builds the Manager. A missing transcoder is not fatal: Health
// reports it and flipbook jobs fail with ErrMediaToolMissing until a later
// Diagnostics call finds it.
func NewManager(ctx context.Context, cfg *Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	presets := make(map[string]filter.Preset, len(cfg.Filters))
	for name, fc := range cfg.Filters {
		p, err := fc.Preset()
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", name, err)
		}
		presets[name] = p
	}
	filters := filter.NewEngine(logger, filter.WithPresets(presets), filter.WithQuality(cfg.Compose.Quality))

	background, err := filter.ParseHex(cfg.Compose.Background)
	if err != nil {
		return nil, fmt.Errorf("compose background: %w", err)
	}

	store, err := artifacts.New(cfg.Artifacts, logger)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:     cfg,
		logger:  logger,
		locator: ffmpeg.NewLocator(logger),
		filters: filters,
		composer: compose.New(compose.Options{
			Background:  background,
			Spacing:     cfg.Compose.Spacing,
			AspectRatio: cfg.Compose.AspectRatio,
			LogoPath:    cfg.Compose.LogoPath,
			LogoSize:    cfg.Compose.LogoSize,
			Quality:     cfg.Compose.Quality,
		}, logger),
		printer:   printer.New(cfg.Printer, logger),
		preview:   NewBroadcaster(),
		artifacts: store,
	}
	if cfg.Media.VerifyTimeout > 0 {
		m.locator.VerifyTimeout = cfg.Media.VerifyTimeout
	}

	camCfg := cfg.Camera
	camCfg.OnPreviewFailure = func(err error) {
		m.preview.Reset()
		logger.Error("kiosk: live preview lost", "error", err)
	}
	m.camera = camera.NewSession(camCfg, logger)

	m.pipeline = flipbook.New(flipbook.Config{
		TempRoot:        cfg.Paths.Temp,
		OutputRoot:      cfg.Paths.Output,
		FPS:             cfg.Flipbook.FPS,
		Quality:         cfg.Compose.Quality,
		Workers:         cfg.Flipbook.Workers,
		PageSize:        cfg.Flipbook.PageSize,
		CleanupAttempts: cfg.Flipbook.CleanupAttempts,
		CleanupBackoff:  cfg.Flipbook.CleanupBackoff,
	}, m, filters, logger)

	if ff := m.discover(ctx); ff != nil {
		if version, err := ff.Version(ctx); err == nil {
			logger.Info("kiosk: transcoder ready", "version", version, "ffmpeg", ff.Binaries().FFmpeg)
		}
	}

	return m, nil
}

// discover resolves the transcoder and installs it when complete.
func (m *Manager) discover(ctx context.Context) *ffmpeg.FFmpeg {
	media := m.cfg.Media

	var ff *ffmpeg.FFmpeg
	if media.FFmpegPath != "" && media.FFprobePath != "" {
		bins := m.locator.Verify(ctx, ffmpeg.Binaries{FFmpeg: media.FFmpegPath, FFprobe: media.FFprobePath})
		if bins.Complete() {
			ff = ffmpeg.NewWithPaths(bins.FFmpeg, bins.FFprobe, m.logger)
		} else {
			m.logger.Warn("kiosk: configured transcoder rejected, searching", "ffmpeg", media.FFmpegPath, "ffprobe", media.FFprobePath, "rejected", bins.Missing())
		}
	}
	if ff == nil {
		var err error
		ff, err = ffmpeg.New(ctx, m.locator, m.logger)
		if err != nil {
			m.logger.Warn("kiosk: transcoder unavailable, flipbooks disabled", "error", err)
			return nil
		}
	}

	m.mu.Lock()
	m.ffmpeg = ff
	m.mu.Unlock()
	return ff
}

func (m *Manager) transcoder() *ffmpeg.FFmpeg {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ffmpeg
}

// Extract implements flipbook.Extractor over whichever transcoder is
// currently installed.
func (m *Manager) Extract(ctx context.Context, job ffmpeg.ExtractionJob) (*ffmpeg.ExtractionResult, error) {
	ff := m.transcoder()
	if ff == nil {
		return nil, faults.New("ffmpeg.Extract", faults.ErrBinaryDiscoveryFailed, "ffmpeg is not available")
	}
	if job.Timeout == 0 {
		job.Timeout = m.cfg.Media.ExtractTimeout
	}
	return ff.Extract(ctx, job)
}

// Start prepares the artifact directories and begins retention sweeps.
func (m *Manager) Start(ctx context.Context) error {
	for _, dir := range []string{m.cfg.Paths.Output, m.cfg.Paths.Captures} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := m.artifacts.Start(ctx); err != nil {
		return err
	}
	m.logger.Info("kiosk: manager started", "output", m.cfg.Paths.Output, "captures", m.cfg.Paths.Captures)
	return nil
}

// Stop releases the camera and writes the artifact index.
func (m *Manager) Stop() {
	m.camera.Close()
	m.preview.Reset()
	m.artifacts.Stop()
	m.logger.Info("kiosk: manager stopped")
}

// Health reports tool availability and attached cameras.
func (m *Manager) Health(ctx context.Context) Health {
	h := Health{
		Status:  StatusOK,
		Devices: []camera.Descriptor{},
		Camera:  m.camera.State(),
		Viewers: m.preview.Subscribers(),
	}

	if lookPath(m.deviceBinary()) {
		h.DeviceTool = true
	} else {
		h.Missing = append(h.Missing, m.deviceBinary())
	}

	if ff := m.transcoder(); ff != nil {
		h.MediaTool = true
		h.Binaries = ff.Binaries()
	} else {
		h.Missing = append(h.Missing, "ffmpeg", "ffprobe")
	}

	if h.DeviceTool {
		devices, err := m.camera.Enumerate(ctx)
		switch {
		case err == nil:
			h.Devices = devices
		case errors.Is(err, faults.ErrNoDevices):
		default:
			h.DeviceError = err.Error()
		}
	}

	if !h.DeviceTool || !h.MediaTool {
		h.Status = StatusDegraded
	}
	return h
}

func (m *Manager) deviceBinary() string {
	if m.cfg.Camera.Binary == "" {
		return camera.DefaultBinary
	}
	return m.cfg.Camera.Binary
}

func lookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Diagnostics re-runs binary discovery, installing a transcoder that has
// appeared since startup, and reports the result.
func (m *Manager) Diagnostics(ctx context.Context) Diagnostics {
	if m.transcoder() == nil {
		m.discover(ctx)
	}

	d := Diagnostics{
		Health:      m.Health(ctx),
		GOOS:        runtime.GOOS,
		Filters:     m.filters.Names(),
		SearchPaths: ffmpeg.SearchPaths[runtime.GOOS],
	}
	if ff := m.transcoder(); ff != nil {
		if v, err := ff.Version(ctx); err == nil {
			d.FFmpegVersion = v
		}
	}
	return d
}

// Devices lists attached cameras.
func (m *Manager) Devices(ctx context.Context) ([]camera.Descriptor, error) {
	return m.camera.Enumerate(ctx)
}

// Capture takes a still into the captures directory, optionally writing a
// filtered copy next to it.
func (m *Manager) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	name := "photo-" + strings.ToLower(ulid.Make().String())
	out := filepath.Join(m.cfg.Paths.Captures, name+".jpg")

	path, err := m.camera.CaptureStill(ctx, camera.CaptureRequest{
		OutputPath: out,
		Format:     req.Format,
		Quality:    req.Quality,
	})
	if err != nil {
		return nil, err
	}

	res := &CaptureResult{Path: path}
	if req.Filter != "" && req.Filter != "none" {
		filtered := filepath.Join(m.cfg.Paths.Captures, name+"-"+req.Filter+".jpg")
		if err := m.filters.ApplyNamed(path, req.Filter, filtered); err != nil {
			return nil, err
		}
		res.Filtered = filtered
		m.artifacts.Add(artifacts.KindPhoto, "", path, filtered)
	} else {
		m.artifacts.Add(artifacts.KindPhoto, "", path)
	}
	return res, nil
}

// StartPreview streams live view to the preview broadcaster.
func (m *Manager) StartPreview() error {
	m.preview.Reset()
	return m.camera.StartPreview(m.preview.Publish)
}

// StopPreview ends the live view.
func (m *Manager) StopPreview() {
	m.camera.StopPreview()
	m.preview.Reset()
}

// Previewing reports whether live view is running.
func (m *Manager) Previewing() bool {
	return m.camera.Previewing()
}

// SubscribePreview attaches a preview viewer.
func (m *Manager) SubscribePreview() (<-chan camera.PreviewFrame, func()) {
	return m.preview.Subscribe(2)
}

// Flipbook renders a flipbook from a recorded clip.
func (m *Manager) Flipbook(ctx context.Context, req FlipbookRequest) (*flipbook.Result, error) {
	if req.VideoPath == "" {
		return nil, faults.New("kiosk.Flipbook", faults.ErrInputMissing, "video_path is required")
	}
	opts := m.composer.Options()

	job := flipbook.Job{
		VideoPath: req.VideoPath,
		Name:      req.Name,
		Window:    ffmpeg.Window{Start: req.Start, Duration: req.Duration},
		Options: flipbook.Options{
			FramesPerPage: firstNonZero(req.FramesPerPage, m.cfg.Flipbook.FramesPerPage),
			Background:    opts.Background,
			Spacing:       firstNonZero(req.Spacing, opts.Spacing),
			AspectRatio:   req.AspectRatio,
			LogoPath:      opts.LogoPath,
			LogoSize:      firstNonZero(req.LogoSize, opts.LogoSize),
			Filter:        req.Filter,
		},
	}
	if job.Options.AspectRatio <= 0 {
		job.Options.AspectRatio = opts.AspectRatio
	}
	if job.Options.Filter == "" {
		job.Options.Filter = m.cfg.Flipbook.Filter
	}
	if req.Background != "" {
		bg, err := filter.ParseHex(req.Background)
		if err != nil {
			return nil, faults.New("kiosk.Flipbook", faults.ErrComposeFailed, "background: "+err.Error())
		}
		job.Options.Background = bg
	}
	res, err := m.pipeline.Run(ctx, job)
	if err != nil {
		return nil, err
	}
	m.artifacts.Add(artifacts.KindFlipbook, filepath.Dir(res.PDF), append([]string{res.PDF}, res.Pages...)...)
	return res, nil
}

// Collage renders every photo on one page, filtering them first when asked.
func (m *Manager) Collage(ctx context.Context, req CollageRequest) (string, error) {
	const op = "kiosk.Collage"

	if len(req.Photos) == 0 {
		return "", faults.New(op, faults.ErrComposeFailed, "no photos")
	}
	key := strings.ToLower(ulid.Make().String())
	photos := req.Photos

	if req.Filter != "" && req.Filter != "none" {
		dir, err := os.MkdirTemp(m.cfg.Paths.Temp, "collage-"+key+"-")
		if err != nil {
			return "", fmt.Errorf("create temp dir: %w", err)
		}
		defer os.RemoveAll(dir)

		photos = make([]string, len(req.Photos))
		for i, src := range req.Photos {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			dst := filepath.Join(dir, fmt.Sprintf("photo_%02d.jpg", i+1))
			if err := m.filters.ApplyNamed(src, req.Filter, dst); err != nil {
				return "", err
			}
			photos[i] = dst
		}
	}

	out, err := m.composer.Collage(photos, filepath.Join(m.cfg.Paths.Output, "collage-"+key+".jpg"))
	if err != nil {
		return "", err
	}
	m.artifacts.Add(artifacts.KindCollage, "", out)
	return out, nil
}

// Print submits an artifact produced by this kiosk, named by path or by
// artifact ID.
func (m *Manager) Print(ctx context.Context, req PrintRequest) error {
	path := req.Path
	if req.ID != "" {
		a, ok := m.artifacts.Get(req.ID)
		if !ok {
			return faults.New("kiosk.Print", faults.ErrInputMissing, "unknown artifact "+req.ID)
		}
		path = a.Path
	}
	if !m.artifacts.Owns(path) && !within(m.cfg.Paths.Output, path) && !within(m.cfg.Paths.Captures, path) {
		return faults.New("kiosk.Print", faults.ErrInputMissing, "not a kiosk artifact: "+path)
	}
	return m.printer.Print(ctx, path, req.Copies)
}

// Artifacts lists what the kiosk has produced, newest first.
func (m *Manager) Artifacts(kind string) []*artifacts.Artifact {
	return m.artifacts.List(artifacts.Kind(kind))
}

// Filters lists the available preset names.
func (m *Manager) Filters() []string {
	return m.filters.Names()
}

func within(root, path string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	return err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func firstNonZero(v ...int) int {
	for _, n := range v {
		if n != 0 {
			return n
		}
	}
	return 0
}
