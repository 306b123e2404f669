package search

import (
	"github.com/prometheus/client_golang/prometheus"

	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
)

// Metrics records search behavior. A nil *Metrics records nothing.
type Metrics struct {
	searches       *prometheus.CounterVec
	rounds         prometheus.Histogram
	sourceFailures *prometheus.CounterVec
	evaluations    *prometheus.CounterVec
	duration       prometheus.Histogram
	chunks         prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amanrecall",
			Name:      "searches_total",
			Help:      "Recursive searches by termination reason.",
		}, []string{"termination"}),
		rounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "amanrecall",
			Name:      "search_rounds",
			Help:      "Rounds executed per recursive search.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}),
		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amanrecall",
			Name:      "source_search_failures_total",
			Help:      "Source searches that failed and were degraded to empty results.",
		}, []string{"source", "code"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amanrecall",
			Name:      "evaluations_total",
			Help:      "Sufficiency evaluations by outcome.",
		}, []string{"outcome", "sufficient"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "amanrecall",
			Name:      "search_duration_seconds",
			Help:      "Wall time of recursive searches.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		chunks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "amanrecall",
			Name:      "search_context_chunks",
			Help:      "Chunks in the final context bundle.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.searches, m.rounds, m.sourceFailures, m.evaluations, m.duration, m.chunks)
	}
	return m
}

func (m *Metrics) observeSearch(r *Result) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(string(r.Termination)).Inc()
	m.rounds.Observe(float64(r.Iterations))
	m.duration.Observe(r.Duration.Seconds())
	m.chunks.Observe(float64(len(r.Context)))
}

// sourceFailed counts a degraded source search under its error code.
func (m *Metrics) sourceFailed(src Source, err error) {
	if m == nil {
		return
	}
	code := rerrors.GetCode(err)
	if code == "" {
		code = "unknown"
	}
	m.sourceFailures.WithLabelValues(string(src), code).Inc()
}

func (m *Metrics) evaluated(e Evaluation) {
	if m == nil {
		return
	}
	sufficient := "false"
	if e.Sufficient {
		sufficient = "true"
	}
	m.evaluations.WithLabelValues(string(e.Outcome), sufficient).Inc()
}
