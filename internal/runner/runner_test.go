package runner

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
}

func TestRunCollectsOutputAndExitCode(t *testing.T) {
	skipWindows(t)

	res, err := Run(context.Background(), "sh", []string{"-c", "echo out; echo err >&2; exit 3"}, Options{Timeout: 5 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Code)
	assert.False(t, res.TimedOut)
	assert.False(t, res.Success())
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))
}

func TestStartMissingBinaryIsSpawnError(t *testing.T) {
	_, err := Start(context.Background(), "kiosk-no-such-binary-7f3a", nil, Options{})
	require.Error(t, err)

	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, "kiosk-no-such-binary-7f3a", spawnErr.Name)
	assert.True(t, errors.Is(err, exec.ErrNotFound))
}

func TestRunMissingBinaryWithDeadlineIsSpawnError(t *testing.T) {
	_, err := Run(context.Background(), "kiosk-no-such-binary-7f3a", []string{"-version"}, Options{Timeout: 5 * time.Second})

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.NotErrorIs(t, err, context.Canceled)
}

func TestStartWithCanceledParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Start(ctx, "kiosk-no-such-binary-7f3a", nil, Options{})
	assert.ErrorIs(t, err, context.Canceled)

	var spawnErr *SpawnError
	assert.False(t, errors.As(err, &spawnErr))
}

func TestDeadlineKillsProcessIgnoringTerminate(t *testing.T) {
	skipWindows(t)

	const (
		timeout = 200 * time.Millisecond
		grace   = 300 * time.Millisecond
	)

	start := time.Now()
	p, err := Start(context.Background(), "sh", []string{"-c", "trap '' TERM; exec sleep 30"}, Options{
		Timeout: timeout,
		Grace:   grace,
	})
	require.NoError(t, err)

	exit := p.Wait()
	elapsed := time.Since(start)

	assert.True(t, exit.TimedOut)
	assert.False(t, exit.Canceled)
	assert.Equal(t, -1, exit.Code)
	assert.Less(t, elapsed, timeout+grace+2*time.Second)
	assert.GreaterOrEqual(t, elapsed, timeout+grace)

	// The terminal outcome is observed exactly once and never changes.
	assert.Equal(t, exit, p.Wait())
	assert.Equal(t, exit, p.Stop())
	select {
	case <-p.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestDeadlineTerminatesCooperativeProcess(t *testing.T) {
	skipWindows(t)

	start := time.Now()
	p, err := Start(context.Background(), "sleep", []string{"30"}, Options{Timeout: 100 * time.Millisecond, Grace: 5 * time.Second})
	require.NoError(t, err)

	exit := p.Wait()
	assert.True(t, exit.TimedOut)
	// sleep honours SIGTERM, so the grace window is not consumed.
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStopIsIdempotent(t *testing.T) {
	skipWindows(t)

	p, err := Start(context.Background(), "sleep", []string{"30"}, Options{})
	require.NoError(t, err)

	first := p.Stop()
	second := p.Stop()

	assert.True(t, first.Canceled)
	assert.Equal(t, first, second)
}

func TestStdoutConsumerSeesOutputBeforeExit(t *testing.T) {
	skipWindows(t)

	ready := make(chan string, 1)
	p, err := Start(context.Background(), "sh", []string{"-c", "echo ready; exec sleep 30"}, Options{
		Stdout: Lines(func(line string) {
			select {
			case ready <- line:
			default:
			}
		}),
	})
	require.NoError(t, err)
	defer p.Stop()

	select {
	case line := <-ready:
		assert.Equal(t, "ready", line)
	case <-time.After(5 * time.Second):
		t.Fatal("no output received while process was running")
	}
}

func TestCleanExitIsSuccess(t *testing.T) {
	skipWindows(t)

	res, err := Run(context.Background(), "true", nil, Options{Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.NoError(t, res.Err)
}

func TestLinesSplitsAcrossChunks(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
	)
	feed := Lines(func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	})

	feed([]byte("frame=  1 fps=0\r\nfra"))
	feed([]byte("me=  2"))
	feed([]byte(" fps=8\nlast-without-newline"))

	assert.Equal(t, []string{"frame=  1 fps=0", "frame=  2 fps=8"}, lines)
	assert.False(t, strings.Contains(strings.Join(lines, ""), "last"))
}
