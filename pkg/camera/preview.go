package camera

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/video-system/go-photo-kiosk/internal/metrics"
	"github.com/video-system/go-photo-kiosk/internal/runner"
	"github.com/video-system/go-photo-kiosk/pkg/faults"
	"github.com/video-system/go-photo-kiosk/pkg/mjpeg"
)

// preview is one live-view session. It survives watchdog restarts; only the
// process behind it is replaced.
type preview struct {
	onFrame func(PreviewFrame)
	proc    *runner.Process
	stop    chan struct{}

	frames    atomic.Uint64
	lastFrame atomic.Int64 // unix nanos
}

// StartPreview streams live-view frames to onFrame until StopPreview. A
// capture in flight is interrupted; a running preview is replaced.
//
// onFrame runs on the goroutine reading the camera's stdout and owns each
// frame's Data. It must not block or call back into the Session.
func (s *Session) StartPreview(onFrame func(PreviewFrame)) error {
	const op = "camera.StartPreview"

	if onFrame == nil {
		return errors.New("camera: nil frame callback")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capture != nil {
		s.logger.Info("camera: stopping capture for preview")
		s.capture.Stop()
		s.capture = nil
	}
	if s.preview != nil {
		s.stopPreviewLocked()
	}

	pv := &preview{onFrame: onFrame, stop: make(chan struct{})}
	if err := s.spawnPreviewLocked(pv); err != nil {
		s.state = StateIdle
		return faults.New(op, faults.ErrToolUnavailable, err.Error())
	}
	s.preview = pv
	s.state = StatePreviewing

	go s.watch(pv)

	s.logger.Info("camera: preview started", "pid", pv.proc.Pid())
	return nil
}

// StopPreview terminates the live view. No frame is delivered after it
// returns. Safe to call when no preview is running.
func (s *Session) StopPreview() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.preview == nil {
		return
	}
	s.stopPreviewLocked()
	s.logger.Info("camera: preview stopped")
}

// Previewing reports whether a live view is active.
func (s *Session) Previewing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview != nil
}

func (s *Session) stopPreviewLocked() {
	pv := s.preview
	s.preview = nil
	s.gen.Add(1)
	close(pv.stop)
	if pv.proc != nil {
		pv.proc.Stop()
	}
	if s.state == StatePreviewing {
		s.state = StateIdle
	}
}

// spawnPreviewLocked starts a fresh gphoto2 movie stream for pv. Each process
// gets its own demuxer and generation, so bytes from a replaced process are
// never delivered.
func (s *Session) spawnPreviewLocked(pv *preview) error {
	gen := s.gen.Add(1)
	demux := mjpeg.NewDemuxer()
	pv.lastFrame.Store(time.Now().UnixNano())

	proc, err := runner.Start(context.Background(), s.cfg.Binary, []string{"--capture-movie", "--stdout"}, runner.Options{
		Stdout: func(p []byte) {
			for _, f := range demux.Feed(p) {
				if s.gen.Load() != gen {
					return
				}
				pv.frames.Add(1)
				pv.lastFrame.Store(f.Timestamp.UnixNano())
				metrics.PreviewFramesTotal.Inc()
				pv.onFrame(f)
			}
		},
		Stderr: runner.Lines(func(line string) {
			s.logger.Debug("gphoto2: " + line)
		}),
	})
	if err != nil {
		return err
	}
	pv.proc = proc
	return nil
}

// watch restarts the stream when it goes quiet for StallTimeout, and gives up
// after MaxPreviewRestarts consecutive restarts without a frame.
func (s *Session) watch(pv *preview) {
	ticker := time.NewTicker(s.cfg.StallTimeout / 5)
	defer ticker.Stop()

	var (
		stalls int
		seen   uint64
	)
	for {
		select {
		case <-pv.stop:
			return
		case <-ticker.C:
		}

		if n := pv.frames.Load(); n != seen {
			seen = n
			stalls = 0
		}
		idle := time.Since(time.Unix(0, pv.lastFrame.Load()))
		if idle < s.cfg.StallTimeout {
			continue
		}

		s.mu.Lock()
		if s.preview != pv {
			s.mu.Unlock()
			return
		}

		stalls++
		if stalls > s.cfg.MaxPreviewRestarts {
			s.stopPreviewLocked()
			s.mu.Unlock()
			s.failPreview(faults.New("camera.preview", faults.ErrPreviewStalled,
				fmt.Sprintf("no frames after %d restarts", s.cfg.MaxPreviewRestarts)))
			return
		}

		s.logger.Warn("camera: preview stalled, restarting", "attempt", stalls, "idle", idle.Round(time.Millisecond))
		pv.proc.Stop()
		if err := s.spawnPreviewLocked(pv); err != nil {
			s.stopPreviewLocked()
			s.mu.Unlock()
			s.failPreview(faults.New("camera.preview", faults.ErrToolUnavailable, err.Error()))
			return
		}
		s.mu.Unlock()
		metrics.PreviewRestartsTotal.Inc()
	}
}

func (s *Session) failPreview(err error) {
	s.logger.Error("camera: preview stopped", "error", err)
	if s.cfg.OnPreviewFailure != nil {
		s.cfg.OnPreviewFailure(err)
	}
}
