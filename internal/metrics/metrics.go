// Package metrics registers the kiosk's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kiosk_jobs_total",
		Help: "Total number of flipbook jobs, by status",
	}, []string{"status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kiosk_stage_duration_seconds",
		Help:    "Duration of flipbook pipeline stages",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"stage"})

	FramesExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kiosk_frames_extracted_total",
		Help: "Total number of frames extracted across all jobs",
	})

	PreviewFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kiosk_preview_frames_total",
		Help: "Total number of live preview frames delivered",
	})

	PreviewRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kiosk_preview_restarts_total",
		Help: "Number of times the preview watchdog restarted a stalled stream",
	})

	CapturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kiosk_captures_total",
		Help: "Still captures, by result code",
	}, []string{"result"})

	CleanupFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kiosk_cleanup_failures_total",
		Help: "Temporary directories that could not be fully removed",
	})

	ArtifactsStored = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kiosk_artifacts_stored",
		Help: "Artifacts currently retained, by kind",
	}, []string{"kind"})

	ArtifactsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kiosk_artifacts_expired_total",
		Help: "Artifacts removed by the retention sweep",
	})
)
