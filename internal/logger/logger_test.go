package logger

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiosk.log")

	log, closer, err := New(Config{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	log.Debug("frames extracted", "count", 12)
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "frames extracted", entry["msg"])
	assert.Equal(t, float64(12), entry["count"])
}

func TestNewTextToFileHasNoColor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiosk.log")

	log, closer, err := New(Config{Level: "warn", Output: path})
	require.NoError(t, err)

	log.Info("dropped")
	log.Warn("camera: preview stalled", "restarts", 1)
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "camera: preview stalled")
	assert.False(t, strings.Contains(out, "\x1b["), "escape codes in file output")
}

func TestNewBadOutput(t *testing.T) {
	_, _, err := New(Config{Output: filepath.Join(t.TempDir(), "missing", "kiosk.log")})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.input), tt.input)
	}
}
