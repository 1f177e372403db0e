package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricFramesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deskcast_frames_sent_total",
			Help: "Total number of encoded frames published to subscribers",
		},
	)

	metricFramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deskcast_frames_dropped_total",
			Help: "Total number of capture ticks skipped by back-pressure",
		},
	)

	metricFramesDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deskcast_frames_duplicate_total",
			Help: "Total number of frames suppressed by the dedup hash",
		},
	)

	metricCaptureErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deskcast_capture_errors_total",
			Help: "Total number of failed frame source captures",
		},
	)

	metricEncodeSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deskcast_encode_duration_seconds",
			Help:    "Time spent resizing and encoding a single frame",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	metricSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deskcast_subscribers",
			Help: "Number of currently subscribed clients",
		},
	)

	metricTargetWidth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deskcast_target_width_pixels",
			Help: "Current adaptive target frame width",
		},
	)

	metricJPEGQuality = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deskcast_jpeg_quality",
			Help: "Current adaptive JPEG quality",
		},
	)

	metricTargetFPS = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deskcast_target_fps",
			Help: "Current target capture frame rate",
		},
	)
)
