// Package compose lays frames out on a print page and renders the page.
package compose

import (
	"image"
	"image/color"
	"math"
)

// A4 at 300 DPI.
const (
	A4Width  = 2480
	A4Height = 3508
)

// Defaults for Options.
const (
	DefaultSpacing     = 40
	DefaultAspectRatio = 4.0 / 3.0
	DefaultQuality     = 92
)

// Options describes a page.
type Options struct {
	FramesPerPage int
	Background    color.Color
	Spacing       int     // px between tiles and around the grid
	AspectRatio   float64 // tile width / height
	LogoPath      string  // optional
	LogoSize      int     // px; the logo is fitted into a LogoSize square
	Quality       int     // JPEG quality

	// Canvas size; zero means A4 at 300 DPI.
	CanvasWidth  int
	CanvasHeight int
}

func (o Options) withDefaults() Options {
	if o.FramesPerPage <= 0 {
		o.FramesPerPage = 1
	}
	if o.Background == nil {
		o.Background = color.White
	}
	if o.Spacing < 0 {
		o.Spacing = 0
	}
	if o.AspectRatio <= 0 {
		o.AspectRatio = DefaultAspectRatio
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	if o.CanvasWidth <= 0 || o.CanvasHeight <= 0 {
		o.CanvasWidth, o.CanvasHeight = A4Width, A4Height
	}
	return o
}

func (o Options) wantsLogo() bool {
	return o.LogoPath != "" && o.LogoSize > 0
}

// Layout is the resolved geometry of one page.
type Layout struct {
	Width, Height int
	Cols, Rows    int
	TileWidth     int
	TileHeight    int
	Cells         []image.Rectangle // row-major, one per frame slot
	Logo          image.Rectangle   // empty when no logo is requested
}

// ComputeLayout places FramesPerPage tiles in a near-square grid above the
// bottom reserve. The grid always fits: when width-first tiles would overflow
// vertically the tiles are sized from the available height instead.
func ComputeLayout(o Options) Layout {
	o = o.withDefaults()
	n := o.FramesPerPage
	sp := o.Spacing

	reserve := sp
	if o.wantsLogo() {
		reserve = o.LogoSize + 2*sp
	}
	availH := o.CanvasHeight - reserve

	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := int(math.Ceil(float64(n) / float64(cols)))

	tileW := float64(o.CanvasWidth-(cols+1)*sp) / float64(cols)
	tileH := tileW / o.AspectRatio
	if float64(rows)*tileH+float64((rows+1)*sp) > float64(availH) {
		tileH = float64(availH-(rows+1)*sp) / float64(rows)
		tileW = tileH * o.AspectRatio
	}

	l := Layout{
		Width:      o.CanvasWidth,
		Height:     o.CanvasHeight,
		Cols:       cols,
		Rows:       rows,
		TileWidth:  max(int(math.Floor(tileW)), 1),
		TileHeight: max(int(math.Floor(tileH)), 1),
	}

	gridW := cols*l.TileWidth + (cols-1)*sp
	gridH := rows*l.TileHeight + (rows-1)*sp
	x0 := (o.CanvasWidth - gridW) / 2
	y0 := (availH - gridH) / 2

	l.Cells = make([]image.Rectangle, n)
	for i := range l.Cells {
		r, c := i/cols, i%cols
		x := x0 + c*(l.TileWidth+sp)
		y := y0 + r*(l.TileHeight+sp)
		l.Cells[i] = image.Rect(x, y, x+l.TileWidth, y+l.TileHeight)
	}

	if o.wantsLogo() {
		x := (o.CanvasWidth - o.LogoSize) / 2
		y := availH + sp
		l.Logo = image.Rect(x, y, x+o.LogoSize, y+o.LogoSize)
	}
	return l
}
