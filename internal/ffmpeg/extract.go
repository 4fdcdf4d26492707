package ffmpeg

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/video-system/go-photo-kiosk/internal/runner"
	"github.com/video-system/go-photo-kiosk/pkg/faults"
)

const (
	// DefaultExtractTimeout bounds a single extraction run.
	DefaultExtractTimeout = 30 * time.Second
	// DefaultSampleFPS is the generic sampling rate.
	DefaultSampleFPS = 8.0

	framePrefix = "frame_"
)

// Window selects a time range of the source, in seconds.
type Window struct {
	Start    float64
	Duration float64 // 0 = until the end of the media
}

// Sampling controls how frames are sampled and encoded.
type Sampling struct {
	FPS     float64
	Width   int
	Height  int
	Format  string // file extension, default "jpg"
	Quality int    // 1-100, 0 = encoder default
}

// ExtractionJob describes one extraction.
type ExtractionJob struct {
	Source    string
	OutputDir string
	Window    Window
	Sampling  Sampling
	Timeout   time.Duration // 0 = DefaultExtractTimeout
}

// ExtractionResult lists the produced frames in playback order. The files
// belong to the job's OutputDir until the caller removes them.
type ExtractionResult struct {
	Frames      []string
	TotalFrames int
	Media       *MediaInfo
}

// Extract samples job.Window of job.Source into numbered image files.
func (f *FFmpeg) Extract(ctx context.Context, job ExtractionJob) (*ExtractionResult, error) {
	const op = "ffmpeg.Extract"

	if _, err := os.Stat(job.Source); err != nil {
		return nil, faults.New(op, faults.ErrInputMissing, job.Source)
	}
	if job.Sampling.FPS <= 0 {
		job.Sampling.FPS = DefaultSampleFPS
	}
	if job.Sampling.Format == "" {
		job.Sampling.Format = "jpg"
	}
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = DefaultExtractTimeout
	}

	if err := os.MkdirAll(job.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	info, err := f.Probe(ctx, job.Source)
	if err != nil {
		return nil, err
	}

	duration := clampDuration(job.Window, info.Duration)
	if duration <= 0 {
		return nil, faults.New(op, faults.ErrNoFramesProduced,
			fmt.Sprintf("window starts at %.2fs but media is %.2fs long", job.Window.Start, info.Duration))
	}

	args := buildExtractArgs(job, duration)
	f.logger.Info("ffmpeg: extracting frames",
		"source", job.Source,
		"start", job.Window.Start,
		"duration", duration,
		"fps", job.Sampling.FPS,
		"size", fmt.Sprintf("%dx%d", job.Sampling.Width, job.Sampling.Height),
	)

	res, err := runner.Run(ctx, f.binaryPath, args, runner.Options{
		Timeout: timeout,
		Stderr: runner.Lines(func(line string) {
			f.logger.Debug("ffmpeg: " + line)
		}),
	})
	if err != nil {
		return nil, faults.New(op, faults.ErrToolUnavailable, err.Error())
	}
	if res.TimedOut {
		return nil, faults.New(op, faults.ErrTimeout, fmt.Sprintf("ffmpeg did not finish within %s", timeout))
	}
	if res.Canceled {
		return nil, fmt.Errorf("%s: %w", op, context.Cause(ctx))
	}
	if !res.Success() {
		if cause := classifyFailure(string(res.Stderr)); cause != nil {
			return nil, faults.New(op, cause, job.Source)
		}
		return nil, fmt.Errorf("ffmpeg exited with code %d: %s", res.Code, tail(string(res.Stderr), 3))
	}

	frames, err := ListFrames(job.OutputDir, job.Sampling.Format)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, faults.New(op, faults.ErrNoFramesProduced, job.OutputDir)
	}

	f.logger.Info("ffmpeg: frames extracted", "count", len(frames), "media_duration", info.Duration)

	return &ExtractionResult{
		Frames:      frames,
		TotalFrames: len(frames),
		Media:       info,
	}, nil
}

// clampDuration returns the lesser of the requested window and what is left
// of the media after the window start.
func clampDuration(w Window, mediaDuration float64) float64 {
	available := mediaDuration - w.Start
	if mediaDuration <= 0 {
		// Unknown duration: trust the request.
		return w.Duration
	}
	if w.Duration <= 0 || w.Duration > available {
		return available
	}
	return w.Duration
}

// filterChain samples at a fixed rate, scales so the target box is covered,
// then centre-crops to exactly the box.
func filterChain(s Sampling) string {
	chain := []string{"fps=" + strconv.FormatFloat(s.FPS, 'f', -1, 64)}
	if s.Width > 0 && s.Height > 0 {
		chain = append(chain,
			fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase", s.Width, s.Height),
			fmt.Sprintf("crop=%d:%d", s.Width, s.Height),
		)
	}
	return strings.Join(chain, ",")
}

func buildExtractArgs(job ExtractionJob, duration float64) []string {
	args := []string{"-hide_banner", "-nostdin", "-y", "-v", "error"}

	if job.Window.Start > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", job.Window.Start))
	}
	if duration > 0 {
		args = append(args, "-t", fmt.Sprintf("%.3f", duration))
	}
	args = append(args,
		"-i", job.Source,
		"-vf", filterChain(job.Sampling),
	)
	if n := frameCap(duration, job.Sampling.FPS); n > 0 {
		args = append(args, "-frames:v", strconv.Itoa(n))
	}
	if job.Sampling.Quality > 0 {
		args = append(args, "-q:v", strconv.Itoa(qscale(job.Sampling.Quality)))
	}

	return append(args, filepath.Join(job.OutputDir, framePrefix+"%04d."+job.Sampling.Format))
}

// frameCap bounds the output to duration*fps frames; the fps filter can
// otherwise emit one extra at the window edge. 0 means no cap.
func frameCap(duration, fps float64) int {
	if duration <= 0 || fps <= 0 {
		return 0
	}
	return int(math.Floor(duration*fps + 1e-9))
}

// qscale maps a 1-100 quality to ffmpeg's 2 (best) .. 31 (worst) scale.
func qscale(quality int) int {
	if quality > 100 {
		quality = 100
	}
	if quality < 1 {
		quality = 1
	}
	return 2 + (100-quality)*29/99
}

// ListFrames returns the frame files in dir with extension ext, in natural
// order (frame_2 before frame_10).
func ListFrames(dir, ext string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, framePrefix+"*."+ext))
	if err != nil {
		return nil, fmt.Errorf("glob frames: %w", err)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return naturalLess(filepath.Base(matches[i]), filepath.Base(matches[j]))
	})
	return matches, nil
}

var digits = regexp.MustCompile(`\d+`)

// naturalLess compares strings treating runs of digits as numbers.
func naturalLess(a, b string) bool {
	ai := digits.FindAllStringIndex(a, -1)
	bi := digits.FindAllStringIndex(b, -1)

	pa, pb := 0, 0
	for k := 0; k < len(ai) && k < len(bi); k++ {
		if pre, preB := a[pa:ai[k][0]], b[pb:bi[k][0]]; pre != preB {
			return pre < preB
		}
		na, _ := strconv.Atoi(a[ai[k][0]:ai[k][1]])
		nb, _ := strconv.Atoi(b[bi[k][0]:bi[k][1]])
		if na != nb {
			return na < nb
		}
		pa, pb = ai[k][1], bi[k][1]
	}
	return a[pa:] < b[pb:]
}
