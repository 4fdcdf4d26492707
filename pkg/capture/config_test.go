package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kiosk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("KIOSK_TEST_LOGO", "/srv/brand/logo.png")
	path := writeConfig(t, `
camera:
  binary: /usr/local/bin/gphoto2
  capture_timeout: 20s
  max_preview_restarts: 5
flipbook:
  frames_per_page: 8
  filter: sepia
compose:
  background: "#202020"
  logo_path: ${KIOSK_TEST_LOGO}
  logo_size: 300
filters:
  punchy:
    modulate:
      brightness: 1.1
      saturation: 1.5
printer:
  name: Kiosk
api:
  port: 9090
logger:
  format: json
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/gphoto2", cfg.Camera.Binary)
	assert.Equal(t, 20*time.Second, cfg.Camera.CaptureTimeout)
	assert.Equal(t, 5, cfg.Camera.MaxPreviewRestarts)
	assert.Equal(t, 8, cfg.Flipbook.FramesPerPage)
	assert.Equal(t, "sepia", cfg.Flipbook.Filter)
	assert.Equal(t, "/srv/brand/logo.png", cfg.Compose.LogoPath)
	assert.Contains(t, cfg.Filters, "punchy")
	assert.Equal(t, "Kiosk", cfg.Printer.Name)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, "json", cfg.Logger.Format)

	// Defaults
	assert.Equal(t, "A4", cfg.Flipbook.PageSize)
	assert.Equal(t, "output", cfg.Paths.Output)
	assert.Equal(t, "captures", cfg.Paths.Captures)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, "api:\n  port: 9090\nflipbook:\n  frames_per_page: 8\n")
	t.Setenv("KIOSK_API_PORT", "7070")
	t.Setenv("KIOSK_FLIPBOOK_FRAMES_PER_PAGE", "4")
	t.Setenv("KIOSK_CAMERA_STALL_TIMEOUT", "2s")
	t.Setenv("KIOSK_PATHS_OUTPUT", "/data/out")
	t.Setenv("KIOSK_LOG_LEVEL", "debug")
	t.Setenv("KIOSK_ARTIFACTS_RETENTION", "24h")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.API.Port)
	assert.Equal(t, 4, cfg.Flipbook.FramesPerPage)
	assert.Equal(t, 2*time.Second, cfg.Camera.StallTimeout)
	assert.Equal(t, "/data/out", cfg.Paths.Output)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 24*time.Hour, cfg.Artifacts.Retention)
	assert.Equal(t, "/data/out", cfg.Artifacts.Path)
}

func TestLoadConfigWithoutFile(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, 6, cfg.Flipbook.FramesPerPage)
	assert.Equal(t, "#ffffff", cfg.Compose.Background)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	_, err = LoadConfig(writeConfig(t, "api: [unclosed"))
	assert.ErrorContains(t, err, "parse config")

	_, err = LoadConfig(writeConfig(t, "compose:\n  background: beige\n"))
	assert.ErrorContains(t, err, "compose.background")

	_, err = LoadConfig(writeConfig(t, "filters:\n  odd:\n    tint: not-a-colour\n"))
	assert.ErrorContains(t, err, "filters.odd")

	_, err = LoadConfig(writeConfig(t, "flipbook:\n  frames_per_page: -2\n"))
	assert.ErrorContains(t, err, "frames_per_page")
}
