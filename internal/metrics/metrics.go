package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proctor_sessions_created_total",
		Help: "Total number of proctoring sessions created.",
	})

	SessionsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proctor_sessions_claimed_total",
		Help: "Total number of sessions claimed by candidates.",
	})

	SessionsEnded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proctor_sessions_ended_total",
		Help: "Total number of sessions ended by interviewers.",
	})

	EventsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_events_recorded_total",
		Help: "Total number of behavioral events appended, labelled by type.",
	}, []string{"event_type"})

	VideoUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_video_uploads_total",
		Help: "Total number of session video uploads, labelled by destination.",
	}, []string{"destination"})

	ReportsRendered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_reports_rendered_total",
		Help: "Total number of reports rendered, labelled by format.",
	}, []string{"format"})

	IntegrityScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "proctor_integrity_score",
		Help:    "Distribution of computed integrity scores.",
		Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})
)
