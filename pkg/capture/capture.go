// Package capture wires the camera, transcoder and media pipeline into the
// kiosk's single long-lived Manager.
package capture

import (
	"github.com/video-system/go-photo-kiosk/internal/ffmpeg"
	"github.com/video-system/go-photo-kiosk/pkg/camera"
)

// Status values reported by Health.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Health summarises tool availability and attached devices.
type Health struct {
	Status      string              `json:"status"`
	DeviceTool  bool                `json:"device_tool"`
	MediaTool   bool                `json:"media_tool"`
	Binaries    ffmpeg.Binaries     `json:"binaries"`
	Missing     []string            `json:"missing,omitempty"`
	Devices     []camera.Descriptor `json:"devices"`
	DeviceError string              `json:"device_error,omitempty"`
	Camera      camera.State        `json:"camera"`
	Viewers     int                 `json:"preview_viewers"`
}

// Diagnostics is Health plus a fresh binary discovery.
type Diagnostics struct {
	Health
	FFmpegVersion string   `json:"ffmpeg_version,omitempty"`
	GOOS          string   `json:"goos"`
	Filters       []string `json:"filters"`
	SearchPaths   []string `json:"search_paths"`
}

// CaptureRequest asks for one still photo.
type CaptureRequest struct {
	Format  string `json:"format,omitempty"`
	Quality int    `json:"quality,omitempty"`
	Filter  string `json:"filter,omitempty"`
}

// CaptureResult points at the stored photo.
type CaptureResult struct {
	Path     string `json:"path"`
	Filtered string `json:"filtered,omitempty"`
}

// FlipbookRequest asks for a flipbook of a recorded clip. Zero values fall
// back to the configured defaults.
type FlipbookRequest struct {
	VideoPath     string  `json:"video_path"`
	Name          string  `json:"name,omitempty"`
	Start         float64 `json:"start,omitempty"`    // seconds
	Duration      float64 `json:"duration,omitempty"` // seconds, 0 = to the end
	FramesPerPage int     `json:"frames_per_page,omitempty"`
	Filter        string  `json:"filter,omitempty"`
	Spacing       int     `json:"spacing,omitempty"`
	AspectRatio   float64 `json:"aspect_ratio,omitempty"`
	Background    string  `json:"background,omitempty"` // hex colour
	LogoSize      int     `json:"logo_size,omitempty"`
}

// CollageRequest asks for one page holding every photo.
type CollageRequest struct {
	Photos []string `json:"photos"`
	Filter string   `json:"filter,omitempty"`
}

// PrintRequest asks for an artifact to be printed.
type PrintRequest struct {
	Path   string `json:"path,omitempty"`
	ID     string `json:"id,omitempty"` // artifact ID, wins over Path
	Copies int    `json:"copies,omitempty"`
}
