// Package flipbook turns a short video into a printable flipbook: frames are
// extracted, filtered, laid out on pages and bound into a PDF.
package flipbook

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/video-system/go-photo-kiosk/internal/ffmpeg"
	"github.com/video-system/go-photo-kiosk/internal/metrics"
	"github.com/video-system/go-photo-kiosk/pkg/compose"
	"github.com/video-system/go-photo-kiosk/pkg/faults"
	"github.com/video-system/go-photo-kiosk/pkg/filter"
	"github.com/video-system/go-photo-kiosk/pkg/pdf"
)

// DefaultFPS samples densely enough for smooth flipping.
const DefaultFPS = 12.0

const (
	pagePrefix = "flipbook_page_"
	pdfName    = "flipbook_final.pdf"
)

// Stage is a step of a flipbook job.
type Stage string

const (
	StageExtracting   Stage = "extracting"
	StageFiltering    Stage = "filtering"
	StagePaginating   Stage = "paginating"
	StageRenderingPDF Stage = "rendering_pdf"
	StageCleaningUp   Stage = "cleaning_up"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// Extractor produces the ordered frame files of a clip.
type Extractor interface {
	Extract(ctx context.Context, job ffmpeg.ExtractionJob) (*ffmpeg.ExtractionResult, error)
}

// Options are the per-job page settings.
type Options struct {
	FramesPerPage int         `json:"frames_per_page"`
	Background    color.Color `json:"-"`
	Spacing       int         `json:"spacing"`
	AspectRatio   float64     `json:"aspect_ratio"`
	LogoPath      string      `json:"logo_path,omitempty"`
	LogoSize      int         `json:"logo_size"`
	Filter        string      `json:"filter,omitempty"`
}

// Job is one flipbook request.
type Job struct {
	VideoPath string
	Name      string        // output directory name; generated when empty
	Window    ffmpeg.Window // zero = whole clip
	Options   Options

	OnStage func(Stage) // optional progress callback
}

// Result lists the artifacts of a finished job.
type Result struct {
	Pages      []string `json:"pages"`
	PDF        string   `json:"pdf"`
	FrameCount int      `json:"frame_count"`
	PageCount  int      `json:"page_count"`
}

// Config holds pipeline-wide settings.
type Config struct {
	TempRoot   string
	OutputRoot string
	FPS        float64
	Quality    int // JPEG quality of frames and pages
	Workers    int // concurrent filter workers
	PageSize   string

	CleanupAttempts int
	CleanupBackoff  time.Duration
}

func (c *Config) applyDefaults() {
	if c.TempRoot == "" {
		c.TempRoot = os.TempDir()
	}
	if c.OutputRoot == "" {
		c.OutputRoot = "output"
	}
	if c.FPS <= 0 {
		c.FPS = DefaultFPS
	}
	if c.Quality <= 0 || c.Quality > 100 {
		c.Quality = compose.DefaultQuality
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.CleanupAttempts <= 0 {
		c.CleanupAttempts = DefaultCleanupAttempts
	}
	if c.CleanupBackoff <= 0 {
		c.CleanupBackoff = DefaultCleanupBackoff
	}
}

// Pipeline runs flipbook jobs. Jobs share nothing mutable and may run
// concurrently.
type Pipeline struct {
	cfg       Config
	extractor Extractor
	filters   *filter.Engine
	logger    *slog.Logger

	remove func(path string) error
	apply  func(input string, p filter.Preset, output string) error
}

// New creates a Pipeline.
func New(cfg Config, extractor Extractor, filters *filter.Engine, logger *slog.Logger) *Pipeline {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if filters == nil {
		filters = filter.NewEngine(logger)
	}
	return &Pipeline{
		cfg:       cfg,
		extractor: extractor,
		filters:   filters,
		logger:    logger,
		remove:    os.RemoveAll,
		apply:     filters.Apply,
	}
}

// Run executes job. Temp directories are removed whatever the outcome.
func (p *Pipeline) Run(ctx context.Context, job Job) (*Result, error) {
	key := strings.ToLower(ulid.Make().String())
	name := outputName(job.Name, key)
	log := p.logger.With("job", name)

	raw := filepath.Join(p.cfg.TempRoot, "flipbook-"+key+"-raw")
	filtered := filepath.Join(p.cfg.TempRoot, "flipbook-"+key+"-filtered")
	outDir := filepath.Join(p.cfg.OutputRoot, name)

	stage := func(s Stage) {
		log.Info("flipbook: " + string(s))
		if job.OnStage != nil {
			job.OnStage(s)
		}
	}

	start := time.Now()
	res, err := p.run(ctx, job, raw, filtered, outDir, stage, log)

	stage(StageCleaningUp)
	p.cleanup(raw, filtered)

	if err != nil {
		err = relabel(err)
		metrics.JobsTotal.WithLabelValues("failed").Inc()
		log.Error("flipbook: job failed", "error", err, "elapsed", time.Since(start))
		stage(StageFailed)
		return nil, err
	}

	metrics.JobsTotal.WithLabelValues("done").Inc()
	log.Info("flipbook: job complete", "pages", res.PageCount, "frames", res.FrameCount, "elapsed", time.Since(start))
	stage(StageDone)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, job Job, raw, filtered, outDir string, stage func(Stage), log *slog.Logger) (*Result, error) {
	if p.extractor == nil {
		return nil, faults.New("flipbook.Run", faults.ErrBinaryDiscoveryFailed, "ffmpeg is not available")
	}

	composer := compose.New(compose.Options{
		FramesPerPage: job.Options.FramesPerPage,
		Background:    job.Options.Background,
		Spacing:       job.Options.Spacing,
		AspectRatio:   job.Options.AspectRatio,
		LogoPath:      job.Options.LogoPath,
		LogoSize:      job.Options.LogoSize,
		Quality:       p.cfg.Quality,
	}, log)
	layout := compose.ComputeLayout(composer.Options())

	// Extract straight at tile size so composition never upscales.
	stage(StageExtracting)
	t := time.Now()
	extracted, err := p.extractor.Extract(ctx, ffmpeg.ExtractionJob{
		Source:    job.VideoPath,
		OutputDir: raw,
		Window:    job.Window,
		Sampling: ffmpeg.Sampling{
			FPS:     p.cfg.FPS,
			Width:   layout.TileWidth,
			Height:  layout.TileHeight,
			Format:  "jpg",
			Quality: p.cfg.Quality,
		},
	})
	observe(StageExtracting, t)
	if err != nil {
		return nil, err
	}
	metrics.FramesExtractedTotal.Add(float64(len(extracted.Frames)))

	stage(StageFiltering)
	t = time.Now()
	frames, err := p.filterFrames(ctx, extracted.Frames, job.Options.Filter, filtered, log)
	observe(StageFiltering, t)
	if err != nil {
		return nil, err
	}

	stage(StagePaginating)
	t = time.Now()
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	groups := Paginate(frames, composer.Options().FramesPerPage)
	pages := make([]string, 0, len(groups))
	for i, group := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := composer.ComposePage(group, filepath.Join(outDir, pagePrefix+strconv.Itoa(i+1)+".jpg"))
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	observe(StagePaginating, t)

	stage(StageRenderingPDF)
	t = time.Now()
	pdfPath := filepath.Join(outDir, pdfName)
	if err := pdf.Assemble(pages, pdfPath, pdf.Options{PageSize: p.cfg.PageSize, Title: filepath.Base(outDir)}); err != nil {
		return nil, err
	}
	observe(StageRenderingPDF, t)

	return &Result{
		Pages:      pages,
		PDF:        pdfPath,
		FrameCount: len(frames),
		PageCount:  len(pages),
	}, nil
}

// filterFrames applies the named preset to every frame, preserving order. A
// frame that fails to filter is used unfiltered.
func (p *Pipeline) filterFrames(ctx context.Context, frames []string, name, dir string, log *slog.Logger) ([]string, error) {
	if name == "" || name == "none" {
		return frames, nil
	}
	preset, ok := p.filters.Lookup(name)
	if !ok {
		log.Warn("flipbook: unknown filter, frames left unfiltered",
			"error", faults.New("flipbook.filter", fmt.Errorf("%w: %w", faults.ErrFilterFailed, faults.ErrUnknownPreset), name))
		return frames, nil
	}

	out := make([]string, len(frames))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for i, src := range frames {
		i, src := i, src
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			dst := filepath.Join(dir, filepath.Base(src))
			if err := p.apply(src, preset, dst); err != nil {
				log.Warn("flipbook: filter failed, using raw frame", "frame", filepath.Base(src), "error", err)
				if err := copyFile(src, dst); err != nil {
					dst = src
				}
			}
			out[i] = dst
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// relabel turns any failure that names the transcoder into the user-facing
// "media tool not installed" error. The original stays in the chain, so
// errors.Is still sees cancellation and the underlying sentinel.
func relabel(err error) error {
	if !strings.Contains(strings.ToLower(err.Error()), "ffmpeg") {
		return err
	}
	if errors.Is(err, faults.ErrMediaToolMissing) {
		return err
	}
	return &faults.Error{Op: "flipbook.Run", Err: fmt.Errorf("%w: %w", faults.ErrMediaToolMissing, err)}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func outputName(name, key string) string {
	name = unsafeName.ReplaceAllString(strings.TrimSpace(name), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "flipbook-" + key
	}
	return name
}

func observe(s Stage, since time.Time) {
	metrics.StageDuration.WithLabelValues(string(s)).Observe(time.Since(since).Seconds())
}
