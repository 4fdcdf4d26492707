package ffmpeg

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func skipWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binaries are shell scripts")
	}
}

// writeFakeBinary writes a shell script that prints banner on -version.
func writeFakeBinary(t *testing.T, dir, name, banner string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\necho '" + banner + "'\n"
	require.NoError(t, os.WriteFile(path, []byte(script), mode))
	return path
}

func newTestLocator(t *testing.T, searchDirs ...string) *Locator {
	t.Helper()
	l := NewLocator(newTestLogger())
	l.SearchPaths = map[string][]string{runtime.GOOS: searchDirs}
	return l
}

func TestLocatorRejectsNonExecutableOnPath(t *testing.T) {
	skipWindows(t)

	dir := t.TempDir()
	writeFakeBinary(t, dir, "ffmpeg", "ffmpeg version 6.1", 0644)
	writeFakeBinary(t, dir, "ffprobe", "ffprobe version 6.1", 0644)
	t.Setenv("PATH", dir)

	l := newTestLocator(t)
	got := l.Locate(context.Background())

	assert.Empty(t, got.FFmpeg)
	assert.Empty(t, got.FFprobe)
	assert.ElementsMatch(t, []string{"ffmpeg", "ffprobe"}, got.Missing())
}

func TestLocatorRejectsBinaryWithUnrecognisedOutput(t *testing.T) {
	skipWindows(t)

	dir := t.TempDir()
	writeFakeBinary(t, dir, "ffmpeg", "segmentation fault", 0755)
	writeFakeBinary(t, dir, "ffprobe", "ffprobe version 6.1", 0755)
	t.Setenv("PATH", t.TempDir())

	l := newTestLocator(t, dir)
	got := l.Locate(context.Background())

	assert.Empty(t, got.FFmpeg)
	assert.Equal(t, filepath.Join(dir, "ffprobe"), got.FFprobe)
}

func TestLocatorFindsBinariesInSecondarySearchPath(t *testing.T) {
	skipWindows(t)

	empty := t.TempDir()
	secondary := t.TempDir()
	writeFakeBinary(t, secondary, "ffmpeg", "ffmpeg version 6.1-kiosk", 0755)
	writeFakeBinary(t, secondary, "ffprobe", "ffprobe version 6.1-kiosk", 0755)
	t.Setenv("PATH", empty)

	l := newTestLocator(t, filepath.Join(empty, "nope"), secondary)
	got := l.Locate(context.Background())

	require.True(t, got.Complete())
	assert.Equal(t, filepath.Join(secondary, "ffmpeg"), got.FFmpeg)
	assert.Equal(t, filepath.Join(secondary, "ffprobe"), got.FFprobe)
}

func TestLocatorFindsSiblingOfShellResult(t *testing.T) {
	skipWindows(t)

	dir := t.TempDir()
	ffmpegPath := writeFakeBinary(t, dir, "ffmpeg", "ffmpeg version 7.0", 0755)
	writeFakeBinary(t, dir, "ffprobe", "ffprobe version 7.0", 0755)

	l := newTestLocator(t)
	l.Lookup = func(_ context.Context, name string) []string {
		if name == "ffmpeg" {
			return []string{ffmpegPath}
		}
		return nil
	}

	got := l.Locate(context.Background())
	assert.Equal(t, ffmpegPath, got.FFmpeg)
	assert.Equal(t, filepath.Join(dir, "ffprobe"), got.FFprobe)
}

func TestLocatorSkipsStaleShellResult(t *testing.T) {
	skipWindows(t)

	good := t.TempDir()
	writeFakeBinary(t, good, "ffmpeg", "ffmpeg version 7.0", 0755)
	writeFakeBinary(t, good, "ffprobe", "ffprobe version 7.0", 0755)

	l := newTestLocator(t, good)
	l.Lookup = func(_ context.Context, name string) []string {
		return []string{filepath.Join(t.TempDir(), name)} // does not exist
	}

	got := l.Locate(context.Background())
	assert.True(t, got.Complete())
	assert.Equal(t, filepath.Join(good, "ffmpeg"), got.FFmpeg)
}

func TestNewReportsMissingBinary(t *testing.T) {
	skipWindows(t)

	t.Setenv("PATH", t.TempDir())
	l := newTestLocator(t)

	_, err := New(context.Background(), l, newTestLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffmpeg, ffprobe not found")
}

func TestExecutableName(t *testing.T) {
	assert.Equal(t, "ffmpeg.exe", executableName("windows", "ffmpeg"))
	assert.Equal(t, "ffmpeg.exe", executableName("windows", "ffmpeg.exe"))
	assert.Equal(t, "ffmpeg", executableName("linux", "ffmpeg"))
	assert.Equal(t, "where", lookupCommand("windows"))
	assert.Equal(t, "which", lookupCommand("darwin"))
}

func TestSearchPathsCoverSupportedPlatforms(t *testing.T) {
	for _, goos := range []string{"darwin", "linux", "windows"} {
		assert.NotEmpty(t, SearchPaths[goos], goos)
	}
}

func TestLocatorVerifyConfiguredBinaries(t *testing.T) {
	skipWindows(t)

	dir := t.TempDir()
	ffmpegPath := writeFakeBinary(t, dir, "ffmpeg", "ffmpeg version 6.1", 0755)
	probePath := writeFakeBinary(t, dir, "ffprobe", "not a probe", 0755)

	l := newTestLocator(t)
	got := l.Verify(context.Background(), Binaries{FFmpeg: ffmpegPath, FFprobe: probePath})
	assert.Equal(t, ffmpegPath, got.FFmpeg)
	assert.Empty(t, got.FFprobe)

	got = l.Verify(context.Background(), Binaries{
		FFmpeg:  filepath.Join(dir, "missing", "ffmpeg"),
		FFprobe: filepath.Join(dir, "missing", "ffprobe"),
	})
	assert.False(t, got.Complete())
	assert.ElementsMatch(t, []string{"ffmpeg", "ffprobe"}, got.Missing())
}
