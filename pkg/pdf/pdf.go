// Package pdf assembles page images into a printable document.
package pdf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"
)

// Options controls the document.
type Options struct {
	PageSize string // fpdf size name, default "A4"
	Title    string
}

// Assemble writes one page per image, each scaled to fit the page and
// centred. Images must be JPEG or PNG.
func Assemble(images []string, output string, opts Options) error {
	if len(images) == 0 {
		return errors.New("pdf: no pages")
	}
	size := opts.PageSize
	if size == "" {
		size = "A4"
	}

	doc := fpdf.New("P", "mm", size, "")
	doc.SetMargins(0, 0, 0)
	doc.SetAutoPageBreak(false, 0)
	doc.SetCreator("go-photo-kiosk", true)
	if opts.Title != "" {
		doc.SetTitle(opts.Title, true)
	}

	for _, path := range images {
		imgType, err := imageType(path)
		if err != nil {
			return err
		}
		imgOpts := fpdf.ImageOptions{ImageType: imgType}

		doc.AddPage()
		info := doc.RegisterImageOptions(path, imgOpts)
		if doc.Err() {
			return fmt.Errorf("pdf: add %s: %w", filepath.Base(path), doc.Error())
		}

		pageW, pageH := doc.GetPageSize()
		w, h := fit(info.Width(), info.Height(), pageW, pageH)
		doc.ImageOptions(path, (pageW-w)/2, (pageH-h)/2, w, h, false, imgOpts, 0, "")
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("pdf: %w", err)
	}
	if err := doc.OutputFileAndClose(output); err != nil {
		return fmt.Errorf("pdf: write %s: %w", output, err)
	}
	return nil
}

func imageType(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "JPG", nil
	case ".png":
		return "PNG", nil
	default:
		return "", fmt.Errorf("pdf: unsupported image %s", filepath.Base(path))
	}
}

// fit scales (w, h) to the largest size that fits (maxW, maxH).
func fit(w, h, maxW, maxH float64) (float64, float64) {
	if w <= 0 || h <= 0 {
		return maxW, maxH
	}
	scale := maxW / w
	if s := maxH / h; s < scale {
		scale = s
	}
	return w * scale, h * scale
}
