package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/video-system/go-photo-kiosk/internal/runner"
	"github.com/video-system/go-photo-kiosk/pkg/faults"
)

// DefaultProbeTimeout bounds a single ffprobe run.
const DefaultProbeTimeout = 10 * time.Second

// ProbeResult holds video file information
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat holds format-level information
type ProbeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// ProbeStream holds stream-level information
type ProbeStream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"` // video, audio
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	PixFmt       string `json:"pix_fmt,omitempty"`
	FrameRate    string `json:"r_frame_rate,omitempty"`
	AvgFrameRate string `json:"avg_frame_rate,omitempty"`
	Duration     string `json:"duration,omitempty"`
}

// MediaInfo is the subset of probe data the pipeline needs.
type MediaInfo struct {
	Duration float64 `json:"duration_seconds"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	FPS      float64 `json:"fps"`
	Codec    string  `json:"codec"`
}

// Resolution returns resolution string like "1920x1080"
func (m *MediaInfo) Resolution() string {
	return fmt.Sprintf("%dx%d", m.Width, m.Height)
}

// Probe analyzes a media file and returns its first video stream's metadata.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	res, err := runner.Run(ctx, f.probePath, args, runner.Options{Timeout: DefaultProbeTimeout})
	if err != nil {
		return nil, faults.New("ffmpeg.Probe", faults.ErrToolUnavailable, err.Error())
	}
	if res.TimedOut {
		return nil, faults.New("ffmpeg.Probe", faults.ErrTimeout, path)
	}
	if !res.Success() {
		if cause := classifyFailure(string(res.Stderr)); cause != nil {
			return nil, faults.New("ffmpeg.Probe", cause, path)
		}
		return nil, fmt.Errorf("ffprobe exited with code %d: %s", res.Code, tail(string(res.Stderr), 3))
	}

	return ParseProbe(res.Stdout)
}

// ParseProbe decodes ffprobe's JSON report.
func ParseProbe(data []byte) (*MediaInfo, error) {
	var probe ProbeResult
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &MediaInfo{}
	found := false
	for _, stream := range probe.Streams {
		if stream.CodecType != "video" {
			continue
		}
		found = true
		info.Width = stream.Width
		info.Height = stream.Height
		info.Codec = stream.CodecName

		// avg_frame_rate is "0/0" for some containers; fall back to r_frame_rate.
		info.FPS = parseFramerate(stream.AvgFrameRate)
		if info.FPS == 0 {
			info.FPS = parseFramerate(stream.FrameRate)
		}
		if stream.Duration != "" {
			info.Duration, _ = strconv.ParseFloat(stream.Duration, 64)
		}
		break
	}
	if !found {
		return nil, fmt.Errorf("no video stream in %q", probe.Format.Filename)
	}

	// Container duration is authoritative when present.
	if probe.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			info.Duration = d
		}
	}

	return info, nil
}

// parseFramerate resolves a rational like "30000/1001" (or a plain number)
// to a decimal. Unparseable or zero-denominator input yields 0.
func parseFramerate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0
		}
		return n / d
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	return 0
}
