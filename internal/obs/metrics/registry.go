// Package metrics provides centralized Prometheus metrics for the solver.
//
// This package implements a small taxonomy of Prometheus metrics grouped by
// the stage of the install pipeline that produces them:
//   - Solver metrics: dependency walk passes, ranker comparisons, candidates considered
//   - Download metrics: archive/feed download attempts, bytes transferred, duration
//   - Store metrics: content-store commits, bytes committed, manifest evictions
//
// All metrics follow the naming convention:
// depsolve_<category>_<metric_name>_<unit>
//
// Example:
//
//	registry := metrics.DefaultRegistry()
//	registry.Solver().PassesTotal.Inc()
//	registry.Store().CommitsTotal.Inc()
package metrics

import (
	"sync"
)

// MetricCategory represents the category of a metric.
type MetricCategory string

const (
	// CategorySolver represents solver-stage metrics (passes, comparisons, candidates)
	CategorySolver MetricCategory = "solver"

	// CategoryDownload represents download-stage metrics (attempts, bytes, duration)
	CategoryDownload MetricCategory = "download"

	// CategoryStore represents content-store metrics (commits, bytes, evictions)
	CategoryStore MetricCategory = "store"
)

// MetricsRegistry is the central registry for all Prometheus metrics.
// Provides organized access to metrics by category (Solver, Download, Store).
//
// Usage:
//
//	registry := metrics.DefaultRegistry()
//	registry.Solver().PassesTotal.Inc()
//
// Thread-safe: All Prometheus metrics are thread-safe by design.
// Singleton: Use DefaultRegistry() to get the global instance.
type MetricsRegistry struct {
	namespace string

	// Category managers (lazy-initialized)
	solver   *SolverMetrics
	download *DownloadMetrics
	store    *StoreMetrics

	// Separate sync.Once for each category for true lazy initialization
	solverOnce   sync.Once
	downloadOnce sync.Once
	storeOnce    sync.Once
}

var (
	// Global singleton registry instance
	defaultRegistry     *MetricsRegistry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the global singleton MetricsRegistry.
// Safe for concurrent use. Initialized once on first call.
//
// Example:
//
//	registry := metrics.DefaultRegistry()
//	registry.Download().BytesTotal.Add(4096)
func DefaultRegistry() *MetricsRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewMetricsRegistry("depsolve")
	})
	return defaultRegistry
}

// NewMetricsRegistry creates a new MetricsRegistry with the specified namespace.
// For most use cases, use DefaultRegistry() instead of calling this directly.
//
// Parameters:
//   - namespace: The Prometheus namespace for all metrics (typically "depsolve")
//
// Returns:
//   - *MetricsRegistry: A new registry instance
func NewMetricsRegistry(namespace string) *MetricsRegistry {
	if namespace == "" {
		namespace = "depsolve"
	}

	return &MetricsRegistry{
		namespace: namespace,
	}
}

// Solver returns the solver metrics manager.
// Lazy-initialized on first access.
//
// Solver metrics include:
//   - Recalculate passes (total, by outcome)
//   - Ranker comparisons performed
//   - Candidate implementations considered per interface
//
// Example:
//
//	registry.Solver().PassesTotal.Inc()
//	registry.Solver().ComparisonsTotal.Add(12)
func (r *MetricsRegistry) Solver() *SolverMetrics {
	r.solverOnce.Do(func() {
		r.solver = NewSolverMetrics(r.namespace)
	})
	return r.solver
}

// Download returns the download metrics manager.
// Lazy-initialized on first access.
//
// Download metrics include:
//   - Attempts (count, by outcome)
//   - Bytes transferred
//   - Duration
//
// Example:
//
//	registry.Download().AttemptsTotal.WithLabelValues("success").Inc()
//	registry.Download().BytesTotal.Add(float64(n))
func (r *MetricsRegistry) Download() *DownloadMetrics {
	r.downloadOnce.Do(func() {
		r.download = NewDownloadMetrics(r.namespace)
	})
	return r.download
}

// Store returns the content-store metrics manager.
// Lazy-initialized on first access.
//
// Store metrics include:
//   - Commits (count)
//   - Bytes committed
//   - Manifest evictions
//
// Example:
//
//	registry.Store().CommitsTotal.Inc()
//	registry.Store().BytesStored.Add(float64(size))
func (r *MetricsRegistry) Store() *StoreMetrics {
	r.storeOnce.Do(func() {
		r.store = NewStoreMetrics(r.namespace)
	})
	return r.store
}

// Namespace returns the configured namespace for this registry.
//
// Returns:
//   - string: The Prometheus namespace (e.g., "depsolve")
func (r *MetricsRegistry) Namespace() string {
	return r.namespace
}
