package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DownloadMetrics tracks feed and archive download activity.
type DownloadMetrics struct {
	// AttemptsTotal counts download attempts by outcome
	AttemptsTotal *prometheus.CounterVec

	// BytesTotal counts bytes transferred across all downloads
	BytesTotal prometheus.Counter

	// DurationSeconds tracks download duration by outcome
	DurationSeconds *prometheus.HistogramVec

	// InFlight tracks downloads currently in progress
	InFlight prometheus.Gauge
}

// NewDownloadMetrics creates download metrics under the given namespace.
func NewDownloadMetrics(namespace string) *DownloadMetrics {
	return &DownloadMetrics{
		AttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "download",
				Name:      "attempts_total",
				Help:      "Total download attempts by outcome",
			},
			[]string{"outcome"},
		),
		BytesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "download",
				Name:      "bytes_total",
				Help:      "Total bytes transferred across all downloads",
			},
		),
		DurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "download",
				Name:      "duration_seconds",
				Help:      "Download duration by outcome",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		InFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "download",
				Name:      "in_flight",
				Help:      "Number of downloads currently in progress",
			},
		),
	}
}
