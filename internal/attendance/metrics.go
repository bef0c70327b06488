package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	facesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campustrack_faces_processed_total",
		Help: "Recognized faces by reconciliation outcome.",
	}, []string{"outcome"})

	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campustrack_sessions_started_total",
		Help: "Attendance sessions opened.",
	})

	sessionsStopped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campustrack_sessions_stopped_total",
		Help: "Attendance sessions closed.",
	})

	absenteesMarked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campustrack_absentees_marked_total",
		Help: "Absent entries appended by the stop-session sweep.",
	})

	recognizeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "campustrack_recognize_batch_seconds",
		Help:    "End-to-end duration of a recognition batch.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

const (
	outcomeNew           = "new"
	outcomeCacheHit      = "cache_hit"
	outcomePersisted     = "persisted"
	outcomeInstructor    = "instructor"
	outcomeSpoofRejected = "spoof_rejected"
	outcomeUnknown       = "unknown"
)
