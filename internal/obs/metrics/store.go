package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StoreMetrics tracks content-addressed store activity.
type StoreMetrics struct {
	// CommitsTotal counts implementations committed into the store
	CommitsTotal prometheus.Counter

	// BytesStored counts bytes written to the store across all commits
	BytesStored prometheus.Counter

	// EvictionsTotal counts manifest-index entries removed
	EvictionsTotal prometheus.Counter

	// ManifestEntries tracks the current number of indexed implementations
	ManifestEntries prometheus.Gauge
}

// NewStoreMetrics creates store metrics under the given namespace.
func NewStoreMetrics(namespace string) *StoreMetrics {
	return &StoreMetrics{
		CommitsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "commits_total",
				Help:      "Total number of implementations committed to the content store",
			},
		),
		BytesStored: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "bytes_stored_total",
				Help:      "Total bytes written to the content store",
			},
		),
		EvictionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "evictions_total",
				Help:      "Total number of manifest-index entries removed",
			},
		),
		ManifestEntries: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "manifest_entries",
				Help:      "Current number of implementations indexed in the manifest",
			},
		),
	}
}
