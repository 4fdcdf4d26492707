package flipbook

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/video-system/go-photo-kiosk/internal/metrics"
	"github.com/video-system/go-photo-kiosk/pkg/faults"
)

// Cleanup defaults.
const (
	DefaultCleanupAttempts = 4
	DefaultCleanupBackoff  = 100 * time.Millisecond
	maxCleanupBackoff      = 2 * time.Second
)

// calculateBackoff returns base * 2^(attempt-1), capped.
func calculateBackoff(attempt int, base, limit time.Duration) time.Duration {
	delay := base * time.Duration(1<<uint(attempt-1))
	if delay > limit {
		delay = limit
	}
	return delay
}

// cleanup removes the job's temp dirs. Failures are logged and counted, never
// returned.
func (p *Pipeline) cleanup(dirs ...string) {
	for _, dir := range dirs {
		if err := p.removeDir(dir); err != nil {
			metrics.CleanupFailuresTotal.Inc()
			p.logger.Warn("flipbook: temp dir left behind",
				"dir", dir,
				"error", faults.New("flipbook.cleanup", faults.ErrCleanupFailed, err.Error()),
			)
		}
	}
}

// removeDir deletes dir file by file so one locked file does not stop the
// rest from going, then removes the directory itself.
func (p *Pipeline) removeDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var stuck []string
	for _, e := range entries {
		if err := p.removeWithRetry(filepath.Join(dir, e.Name())); err != nil {
			stuck = append(stuck, e.Name())
		}
	}
	if len(stuck) > 0 {
		return fmt.Errorf("%d file(s) still locked: %s", len(stuck), strings.Join(stuck, ", "))
	}
	return p.removeWithRetry(dir)
}

func (p *Pipeline) removeWithRetry(path string) error {
	attempts := p.cfg.CleanupAttempts
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = p.remove(path)
		if err == nil || os.IsNotExist(err) {
			return nil
		}
		if attempt < attempts {
			time.Sleep(calculateBackoff(attempt, p.cfg.CleanupBackoff, maxCleanupBackoff))
		}
	}
	return err
}
