package flipbook

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/video-system/go-photo-kiosk/internal/ffmpeg"
	"github.com/video-system/go-photo-kiosk/pkg/compose"
	"github.com/video-system/go-photo-kiosk/pkg/faults"
	"github.com/video-system/go-photo-kiosk/pkg/filter"
)

var palette = []color.NRGBA{
	{255, 0, 0, 255},
	{0, 255, 0, 255},
	{0, 0, 255, 255},
	{255, 255, 0, 255},
	{0, 255, 255, 255},
}

// fakeExtractor writes one solid JPEG per palette entry.
type fakeExtractor struct {
	frames int
	err    error

	mu   sync.Mutex
	jobs []ffmpeg.ExtractionJob
}

func (f *fakeExtractor) Extract(_ context.Context, job ffmpeg.ExtractionJob) (*ffmpeg.ExtractionResult, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()

	if err := os.MkdirAll(job.OutputDir, 0755); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	res := &ffmpeg.ExtractionResult{}
	for i := 0; i < f.frames; i++ {
		path := filepath.Join(job.OutputDir, fmt.Sprintf("frame_%04d.jpg", i+1))
		img := imaging.New(64, 48, palette[i%len(palette)])
		if err := imaging.Save(img, path, imaging.JPEGQuality(100)); err != nil {
			return nil, err
		}
		res.Frames = append(res.Frames, path)
	}
	res.TotalFrames = len(res.Frames)
	return res, nil
}

func newPipeline(t *testing.T, ex Extractor) (*Pipeline, string) {
	t.Helper()
	tmp := t.TempDir()
	p := New(Config{
		TempRoot:       filepath.Join(tmp, "tmp"),
		OutputRoot:     filepath.Join(tmp, "out"),
		Workers:        2,
		CleanupBackoff: time.Millisecond,
	}, ex, nil, nil)
	return p, tmp
}

func TestPaginate(t *testing.T) {
	pages := Paginate([]int{1, 2, 3, 4, 5}, 2)
	assert.Equal(t, [][]int{{5, 4}, {3, 2}, {1}}, pages)

	assert.Empty(t, Paginate([]int{}, 3))
	assert.Equal(t, [][]string{{"b"}, {"a"}}, Paginate([]string{"a", "b"}, 0))
}

func TestCalculateBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, 100*time.Millisecond, calculateBackoff(1, base, time.Second))
	assert.Equal(t, 200*time.Millisecond, calculateBackoff(2, base, time.Second))
	assert.Equal(t, 400*time.Millisecond, calculateBackoff(3, base, time.Second))
	assert.Equal(t, time.Second, calculateBackoff(6, base, time.Second))
}

func TestRunProducesPagesAndPDF(t *testing.T) {
	ex := &fakeExtractor{frames: 5}
	p, tmp := newPipeline(t, ex)

	var stages []Stage
	res, err := p.Run(context.Background(), Job{
		VideoPath: "clip.mp4",
		Name:      "party 2024/01",
		Options:   Options{FramesPerPage: 2, Spacing: 20},
		OnStage:   func(s Stage) { stages = append(stages, s) },
	})
	require.NoError(t, err)

	assert.Equal(t, 5, res.FrameCount)
	assert.Equal(t, 3, res.PageCount)
	require.Len(t, res.Pages, 3)
	assert.Equal(t, filepath.Join(tmp, "out", "party_2024_01", "flipbook_page_1.jpg"), res.Pages[0])
	for _, page := range res.Pages {
		assert.FileExists(t, page)
	}

	data, err := os.ReadFile(res.PDF)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(data[:5]))

	assert.Equal(t, []Stage{
		StageExtracting, StageFiltering, StagePaginating, StageRenderingPDF, StageCleaningUp, StageDone,
	}, stages)

	// Frames were requested at tile size.
	layout := compose.ComputeLayout(compose.Options{FramesPerPage: 2, Spacing: 20})
	require.Len(t, ex.jobs, 1)
	assert.Equal(t, layout.TileWidth, ex.jobs[0].Sampling.Width)
	assert.Equal(t, layout.TileHeight, ex.jobs[0].Sampling.Height)
	assert.Equal(t, DefaultFPS, ex.jobs[0].Sampling.FPS)

	// The first page starts with the last frame.
	page, err := imaging.Open(res.Pages[0])
	require.NoError(t, err)
	assertNear(t, palette[4], page.At(center(layout.Cells[0])))
	assertNear(t, palette[3], page.At(center(layout.Cells[1])))

	// Temp dirs are gone.
	entries, err := os.ReadDir(filepath.Join(tmp, "tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunAppliesFilter(t *testing.T) {
	p, _ := newPipeline(t, &fakeExtractor{frames: 1})

	res, err := p.Run(context.Background(), Job{
		Name:    "bw",
		Options: Options{FramesPerPage: 1, Filter: "bw"},
	})
	require.NoError(t, err)

	page, err := imaging.Open(res.Pages[0])
	require.NoError(t, err)
	layout := compose.ComputeLayout(compose.Options{FramesPerPage: 1})
	c := color.NRGBAModel.Convert(page.At(center(layout.Cells[0]))).(color.NRGBA)
	assert.InDelta(t, c.R, c.G, 3)
	assert.InDelta(t, c.G, c.B, 3)
}

func TestRunFilterFailureKeepsRawFrame(t *testing.T) {
	p, _ := newPipeline(t, &fakeExtractor{frames: 3})
	apply := p.apply
	p.apply = func(input string, preset filter.Preset, output string) error {
		if filepath.Base(input) == "frame_0002.jpg" {
			return faults.New("filter.Apply", faults.ErrFilterFailed, "encoder gave up")
		}
		return apply(input, preset, output)
	}

	res, err := p.Run(context.Background(), Job{Options: Options{FramesPerPage: 4, Filter: "bw"}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.FrameCount)
	require.Equal(t, 1, res.PageCount)

	page, err := imaging.Open(res.Pages[0])
	require.NoError(t, err)
	layout := compose.ComputeLayout(compose.Options{FramesPerPage: 4})

	// Reversed: cells hold frames 3, 2, 1.
	assertGray(t, page.At(center(layout.Cells[0])))
	assertNear(t, palette[1], page.At(center(layout.Cells[1])))
	assertGray(t, page.At(center(layout.Cells[2])))
}

func TestRunUnknownFilterIsNotFatal(t *testing.T) {
	p, _ := newPipeline(t, &fakeExtractor{frames: 2})

	res, err := p.Run(context.Background(), Job{Options: Options{FramesPerPage: 4, Filter: "polaroid"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.PageCount)
}

func TestRunExtractionFailure(t *testing.T) {
	ex := &fakeExtractor{err: faults.New("ffmpeg.Extract", faults.ErrNoFramesProduced, "empty window")}
	p, tmp := newPipeline(t, ex)

	var last Stage
	_, err := p.Run(context.Background(), Job{OnStage: func(s Stage) { last = s }})
	assert.ErrorIs(t, err, faults.ErrNoFramesProduced)
	assert.ErrorIs(t, err, faults.ErrMediaToolMissing)
	assert.Equal(t, StageFailed, last)

	entries, err := os.ReadDir(filepath.Join(tmp, "tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunWithoutTranscoder(t *testing.T) {
	p, _ := newPipeline(t, nil)

	_, err := p.Run(context.Background(), Job{})
	assert.ErrorIs(t, err, faults.ErrMediaToolMissing)
	assert.Equal(t, faults.CodeMediaToolMissing, faults.CodeOf(err))
}

func TestRelabel(t *testing.T) {
	noFrames := faults.New("ffmpeg.Extract", faults.ErrNoFramesProduced, "ffmpeg wrote nothing")
	tests := []struct {
		name string
		err  error
		want faults.Code
		keep error
	}{
		{"unclassified ffmpeg", errors.New("exec: ffmpeg: broken pipe"), faults.CodeMediaToolMissing, nil},
		{"tool unavailable", faults.New("ffmpeg.Extract", faults.ErrToolUnavailable, "ffmpeg"), faults.CodeMediaToolMissing, faults.ErrToolUnavailable},
		{"timeout", faults.New("ffmpeg.Extract", faults.ErrTimeout, "ffmpeg ran for 30s"), faults.CodeMediaToolMissing, faults.ErrTimeout},
		{"no frames", noFrames, faults.CodeMediaToolMissing, faults.ErrNoFramesProduced},
		{"canceled", fmt.Errorf("ffmpeg: %w", context.Canceled), faults.CodeMediaToolMissing, context.Canceled},
		{"unrelated", errors.New("disk full"), faults.CodeUnknown, nil},
		{"unrelated sentinel", faults.New("compose.ComposePage", faults.ErrComposeFailed, "page 1"), faults.CodeComposeFailed, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := relabel(tt.err)
			assert.Equal(t, tt.want, faults.CodeOf(got))
			assert.ErrorIs(t, got, tt.err)
			if tt.keep != nil {
				assert.ErrorIs(t, got, tt.keep)
			}
		})
	}
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "my_party", outputName(" my party ", "k"))
	assert.Equal(t, "flipbook-k", outputName("../..", "k"))
	assert.Equal(t, "flipbook-k", outputName("", "k"))
}

// lockedRemover fails for path until it has been tried failures times.
func lockedRemover(path string, failures int) func(string) error {
	var mu sync.Mutex
	tries := 0
	return func(p string) error {
		if p == path {
			mu.Lock()
			tries++
			n := tries
			mu.Unlock()
			if failures < 0 || n <= failures {
				return &os.PathError{Op: "remove", Path: p, Err: errors.New("file in use")}
			}
		}
		return os.RemoveAll(p)
	}
}

func TestCleanupRetriesLockedFile(t *testing.T) {
	p, tmp := newPipeline(t, nil)
	dir := filepath.Join(tmp, "job")
	require.NoError(t, os.MkdirAll(dir, 0755))
	locked := filepath.Join(dir, "frame_0001.jpg")
	require.NoError(t, os.WriteFile(locked, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame_0002.jpg"), []byte("x"), 0644))

	p.remove = lockedRemover(locked, 2)
	p.cleanup(dir)

	assert.NoDirExists(t, dir)
}

func TestCleanupGivesUpOnPermanentLock(t *testing.T) {
	p, tmp := newPipeline(t, nil)
	dir := filepath.Join(tmp, "job")
	require.NoError(t, os.MkdirAll(dir, 0755))
	locked := filepath.Join(dir, "frame_0001.jpg")
	other := filepath.Join(dir, "frame_0002.jpg")
	require.NoError(t, os.WriteFile(locked, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(other, []byte("x"), 0644))

	p.remove = lockedRemover(locked, -1)
	p.cleanup(dir)

	assert.FileExists(t, locked)
	assert.NoFileExists(t, other)
}

func TestRunSucceedsWhenCleanupFails(t *testing.T) {
	p, _ := newPipeline(t, &fakeExtractor{frames: 1})
	p.remove = func(string) error { return errors.New("file in use") }

	res, err := p.Run(context.Background(), Job{Options: Options{FramesPerPage: 1}})
	require.NoError(t, err)
	assert.FileExists(t, res.PDF)
}

func center(r image.Rectangle) (int, int) {
	return (r.Min.X + r.Max.X) / 2, (r.Min.Y + r.Max.Y) / 2
}

func assertGray(t *testing.T, got color.Color) {
	t.Helper()
	c := color.NRGBAModel.Convert(got).(color.NRGBA)
	assert.InDelta(t, c.R, c.G, 3)
	assert.InDelta(t, c.G, c.B, 3)
}

func assertNear(t *testing.T, want color.NRGBA, got color.Color) {
	t.Helper()
	g := color.NRGBAModel.Convert(got).(color.NRGBA)
	near := func(a, b uint8) bool { return int(a)-int(b) < 16 && int(b)-int(a) < 16 }
	assert.True(t, near(want.R, g.R) && near(want.G, g.G) && near(want.B, g.B), "want %v, got %v", want, g)
}
