package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SolverMetrics tracks dependency-solving activity.
type SolverMetrics struct {
	// PassesTotal counts completed recalculate() passes, by outcome
	PassesTotal *prometheus.CounterVec

	// ComparisonsTotal counts ranker comparisons performed across all passes
	ComparisonsTotal prometheus.Counter

	// CandidatesConsidered tracks how many candidate implementations were
	// ranked for a single interface during one pass
	CandidatesConsidered prometheus.Histogram
}

// NewSolverMetrics creates solver metrics under the given namespace.
func NewSolverMetrics(namespace string) *SolverMetrics {
	return &SolverMetrics{
		PassesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "solver",
				Name:      "passes_total",
				Help:      "Total number of solver recalculate passes, by outcome",
			},
			[]string{"outcome"},
		),
		ComparisonsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "solver",
				Name:      "comparisons_total",
				Help:      "Total number of ranker comparisons performed",
			},
		),
		CandidatesConsidered: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "solver",
				Name:      "candidates_considered",
				Help:      "Number of candidate implementations ranked per interface",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
			},
		),
	}
}
