package capture

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/video-system/go-photo-kiosk/internal/logger"
	"github.com/video-system/go-photo-kiosk/pkg/artifacts"
	"github.com/video-system/go-photo-kiosk/pkg/camera"
	"github.com/video-system/go-photo-kiosk/pkg/filter"
	"github.com/video-system/go-photo-kiosk/pkg/printer"
)

// EnvPrefix prefixes every environment override, e.g. KIOSK_API_PORT.
const EnvPrefix = "KIOSK_"

// Config holds all kiosk configuration
type Config struct {
	Camera    camera.Config            `yaml:"camera" envPrefix:"CAMERA_"`
	Media     MediaConfig              `yaml:"media" envPrefix:"MEDIA_"`
	Flipbook  FlipbookConfig           `yaml:"flipbook" envPrefix:"FLIPBOOK_"`
	Compose   ComposeConfig            `yaml:"compose" envPrefix:"COMPOSE_"`
	Filters   map[string]filter.Config `yaml:"filters" env:"-"`
	Printer   printer.Config           `yaml:"printer" envPrefix:"PRINTER_"`
	Artifacts artifacts.Config         `yaml:"artifacts" envPrefix:"ARTIFACTS_"`
	API       APIConfig                `yaml:"api" envPrefix:"API_"`
	Logger    logger.Config            `yaml:"logger" envPrefix:"LOG_"`
	Paths     PathsConfig              `yaml:"paths" envPrefix:"PATHS_"`
}

// MediaConfig configures the transcoder pair
type MediaConfig struct {
	// Explicit binary paths skip discovery when both are set.
	FFmpegPath     string        `yaml:"ffmpeg_path" env:"FFMPEG_PATH"`
	FFprobePath    string        `yaml:"ffprobe_path" env:"FFPROBE_PATH"`
	VerifyTimeout  time.Duration `yaml:"verify_timeout" env:"VERIFY_TIMEOUT"`
	ExtractTimeout time.Duration `yaml:"extract_timeout" env:"EXTRACT_TIMEOUT"`
}

// FlipbookConfig configures flipbook jobs
type FlipbookConfig struct {
	FPS           float64 `yaml:"fps" env:"FPS"`
	FramesPerPage int     `yaml:"frames_per_page" env:"FRAMES_PER_PAGE"`
	Filter        string  `yaml:"filter" env:"FILTER"`       // default preset
	Workers       int     `yaml:"workers" env:"WORKERS"`     // 0 = one per CPU
	PageSize      string  `yaml:"page_size" env:"PAGE_SIZE"` // A4, Letter

	CleanupAttempts int           `yaml:"cleanup_attempts" env:"CLEANUP_ATTEMPTS"`
	CleanupBackoff  time.Duration `yaml:"cleanup_backoff" env:"CLEANUP_BACKOFF"`
}

// ComposeConfig configures page and collage layout
type ComposeConfig struct {
	Background  string  `yaml:"background" env:"BACKGROUND"` // hex colour
	Spacing     int     `yaml:"spacing" env:"SPACING"`
	AspectRatio float64 `yaml:"aspect_ratio" env:"ASPECT_RATIO"`
	LogoPath    string  `yaml:"logo_path" env:"LOGO_PATH"`
	LogoSize    int     `yaml:"logo_size" env:"LOGO_SIZE"`
	Quality     int     `yaml:"quality" env:"QUALITY"`
}

// APIConfig configures the control API
type APIConfig struct {
	Port int    `yaml:"port" env:"PORT"`
	Host string `yaml:"host" env:"HOST"`
}

// PathsConfig holds the filesystem roots
type PathsConfig struct {
	Temp     string `yaml:"temp" env:"TEMP"`
	Output   string `yaml:"output" env:"OUTPUT"`
	Captures string `yaml:"captures" env:"CAPTURES"`
}

// LoadConfig loads configuration from a YAML file, then applies KIOSK_*
// environment overrides. An empty path loads defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		// Expand environment variables
		data = []byte(os.ExpandEnv(string(data)))

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Flipbook.FramesPerPage == 0 {
		c.Flipbook.FramesPerPage = 6
	}
	if c.Flipbook.PageSize == "" {
		c.Flipbook.PageSize = "A4"
	}
	if c.Compose.Background == "" {
		c.Compose.Background = "#ffffff"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Paths.Temp == "" {
		c.Paths.Temp = os.TempDir()
	}
	if c.Paths.Output == "" {
		c.Paths.Output = "output"
	}
	if c.Paths.Captures == "" {
		c.Paths.Captures = "captures"
	}
	if c.Artifacts.Path == "" {
		c.Artifacts.Path = c.Paths.Output
	}
}

// Validate checks values that would otherwise fail deep inside a job.
func (c *Config) Validate() error {
	if _, err := filter.ParseHex(c.Compose.Background); err != nil {
		return fmt.Errorf("compose.background: %w", err)
	}
	if c.Flipbook.FramesPerPage < 1 {
		return fmt.Errorf("flipbook.frames_per_page must be positive, got %d", c.Flipbook.FramesPerPage)
	}
	if c.Compose.Quality < 0 || c.Compose.Quality > 100 {
		return fmt.Errorf("compose.quality must be 0-100, got %d", c.Compose.Quality)
	}
	if c.Artifacts.Retention < 0 {
		return fmt.Errorf("artifacts.retention must not be negative, got %s", c.Artifacts.Retention)
	}
	for name, fc := range c.Filters {
		if _, err := fc.Preset(); err != nil {
			return fmt.Errorf("filters.%s: %w", name, err)
		}
	}
	return nil
}
