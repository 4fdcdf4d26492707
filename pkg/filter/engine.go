package filter

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/video-system/go-photo-kiosk/pkg/faults"
)

// DefaultQuality is the JPEG quality of filtered output.
const DefaultQuality = 92

// Engine applies presets to image files. It is safe for concurrent use.
type Engine struct {
	presets map[string]Preset
	quality int
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPresets adds or overrides presets by name.
func WithPresets(presets map[string]Preset) Option {
	return func(e *Engine) {
		for name, p := range presets {
			e.presets[name] = p
		}
	}
}

// WithQuality sets the JPEG output quality.
func WithQuality(q int) Option {
	return func(e *Engine) {
		if q > 0 && q <= 100 {
			e.quality = q
		}
	}
}

// NewEngine creates an engine with the built-in presets.
func NewEngine(logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		presets: make(map[string]Preset, len(Builtin)),
		quality: DefaultQuality,
		logger:  logger,
	}
	for name, p := range Builtin {
		e.presets[name] = p
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Names returns the known preset names, sorted.
func (e *Engine) Names() []string {
	names := make([]string, 0, len(e.presets))
	for name := range e.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the preset registered under name.
func (e *Engine) Lookup(name string) (Preset, bool) {
	p, ok := e.presets[name]
	return p, ok
}

// ApplyNamed applies the preset registered under name.
func (e *Engine) ApplyNamed(input, name, output string) error {
	p, ok := e.presets[name]
	if !ok {
		return failure(faults.ErrUnknownPreset, name)
	}
	return e.Apply(input, p, output)
}

// Apply renders p over the image at input and writes the result to output.
// The output format follows output's extension.
func (e *Engine) Apply(input string, p Preset, output string) error {
	if _, err := os.Stat(input); err != nil {
		return failure(faults.ErrInputMissing, input)
	}

	img, err := imaging.Open(input)
	if err != nil {
		return failure(fmt.Errorf("decode: %w", err), input)
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return failure(err, output)
	}
	if err := imaging.Save(p.Render(img), output, imaging.JPEGQuality(e.quality)); err != nil {
		return failure(fmt.Errorf("encode: %w", err), output)
	}
	return nil
}

// failure wraps reason so both ErrFilterFailed and reason match errors.Is.
func failure(reason error, detail string) error {
	return faults.New("filter.Apply", fmt.Errorf("%w: %w", faults.ErrFilterFailed, reason), detail)
}
