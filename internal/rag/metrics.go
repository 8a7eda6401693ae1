package rag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Degradation reasons recorded on retrieval_degraded_total.
const (
	reasonLexicalError = "lexical_error"
	reasonRerankError  = "rerank_error"
)

// Metrics holds the Prometheus collectors for the retrieval pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// searchesTotal counts hybrid searches by outcome: "ok" or "error".
	searchesTotal *prometheus.CounterVec

	// stageDuration records per-stage latency: embed, vector, lexical,
	// hydrate, rerank and total.
	stageDuration *prometheus.HistogramVec

	// degradedTotal counts searches that continued with partial results.
	degradedTotal *prometheus.CounterVec

	// results records the number of results returned per search.
	results prometheus.Histogram
}

// NewMetrics registers retrieval metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		searchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbai",
			Subsystem: "retrieval",
			Name:      "searches_total",
			Help:      "Total number of hybrid searches, partitioned by outcome.",
		}, []string{"outcome"}),

		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kbai",
			Subsystem: "retrieval",
			Name:      "stage_duration_seconds",
			Help:      "Latency of each hybrid retrieval stage.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"stage"}),

		degradedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbai",
			Subsystem: "retrieval",
			Name:      "degraded_total",
			Help:      "Searches that fell back to partial results, partitioned by reason.",
		}, []string{"reason"}),

		results: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kbai",
			Subsystem: "retrieval",
			Name:      "results",
			Help:      "Number of results returned per hybrid search.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 20},
		}),
	}
}

func (m *Metrics) observeStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(seconds)
}

func (m *Metrics) degraded(reason string) {
	if m == nil {
		return
	}
	m.degradedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) searched(outcome string, results int) {
	if m == nil {
		return
	}
	m.searchesTotal.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.results.Observe(float64(results))
	}
}
