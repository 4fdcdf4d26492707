package compose

import (
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/video-system/go-photo-kiosk/pkg/faults"
)

// Composer renders frame grids onto pages. It is safe for concurrent use.
type Composer struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Composer.
func New(opts Options, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{opts: opts.withDefaults(), logger: logger}
}

// Options returns the resolved options.
func (c *Composer) Options() Options { return c.opts }

// ComposePage renders up to FramesPerPage frames, in order, and writes the
// page as a JPEG.
func (c *Composer) ComposePage(frames []string, outputPath string) (string, error) {
	const op = "compose.ComposePage"

	if len(frames) == 0 {
		return "", faults.New(op, faults.ErrComposeFailed, "no frames")
	}
	if len(frames) > c.opts.FramesPerPage {
		return "", faults.New(op, faults.ErrComposeFailed,
			fmt.Sprintf("%d frames do not fit a %d-frame page", len(frames), c.opts.FramesPerPage))
	}
	if err := c.render(ComputeLayout(c.opts), frames, outputPath); err != nil {
		return "", faults.New(op, faults.ErrComposeFailed, err.Error())
	}
	return outputPath, nil
}

// Collage renders every photo on a single page sized to the photo count.
func (c *Composer) Collage(photos []string, outputPath string) (string, error) {
	const op = "compose.Collage"

	if len(photos) == 0 {
		return "", faults.New(op, faults.ErrComposeFailed, "no photos")
	}
	opts := c.opts
	opts.FramesPerPage = len(photos)
	if err := c.render(ComputeLayout(opts), photos, outputPath); err != nil {
		return "", faults.New(op, faults.ErrComposeFailed, err.Error())
	}
	return outputPath, nil
}

func (c *Composer) render(l Layout, frames []string, outputPath string) error {
	canvas := imaging.New(l.Width, l.Height, c.opts.Background)

	for i, path := range frames {
		img, err := imaging.Open(path, imaging.AutoOrientation(true))
		if err != nil {
			return fmt.Errorf("frame %d: %w", i+1, err)
		}
		cell := l.Cells[i]
		tile := imaging.Fill(img, cell.Dx(), cell.Dy(), imaging.Center, imaging.Lanczos)
		draw.Draw(canvas, cell, tile, image.Point{}, draw.Src)
	}

	if !l.Logo.Empty() {
		c.drawLogo(canvas, l.Logo)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return err
	}
	return imaging.Save(canvas, outputPath, imaging.JPEGQuality(c.opts.Quality))
}

// drawLogo fits the logo into box, keeping its alpha. A logo that cannot be
// read is skipped.
func (c *Composer) drawLogo(canvas draw.Image, box image.Rectangle) {
	logo, err := imaging.Open(c.opts.LogoPath)
	if err != nil {
		c.logger.Warn("compose: logo skipped", "path", c.opts.LogoPath, "error", err)
		return
	}
	fit := imaging.Fit(logo, box.Dx(), box.Dy(), imaging.Lanczos)
	b := fit.Bounds()
	at := image.Pt(
		box.Min.X+(box.Dx()-b.Dx())/2,
		box.Min.Y+(box.Dy()-b.Dy())/2,
	)
	draw.Draw(canvas, image.Rectangle{Min: at, Max: at.Add(b.Size())}, fit, b.Min, draw.Over)
}
