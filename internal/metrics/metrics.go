package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	AssessmentsScored   *prometheus.CounterVec
	AssessmentsRejected prometheus.Counter
	AdherenceComputed   *prometheus.CounterVec
	CohortRuns          prometheus.Counter
	CohortUserFailures  prometheus.Counter
	CohortDuration      prometheus.Histogram
	ReportCache         *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AssessmentsScored: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalscore_assessments_scored_total",
			Help: "Scored assessments by risk level",
		}, []string{"level"}),

		AssessmentsRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "vitalscore_assessments_rejected_total",
			Help: "Assessments rejected by validation",
		}),

		AdherenceComputed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalscore_adherence_computed_total",
			Help: "Adherence computations by outcome",
		}, []string{"outcome"}),

		CohortRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "vitalscore_cohort_runs_total",
			Help: "Completed cohort aggregations",
		}),

		CohortUserFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "vitalscore_cohort_user_failures_total",
			Help: "Cohort rows reported with an error",
		}),

		CohortDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vitalscore_cohort_duration_seconds",
			Help:    "Time spent aggregating a cohort",
			Buckets: prometheus.DefBuckets,
		}),

		ReportCache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalscore_report_cache_total",
			Help: "Cohort report cache lookups by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) Scored(level string) {
	if m == nil {
		return
	}
	m.AssessmentsScored.WithLabelValues(level).Inc()
}

func (m *Metrics) Rejected() {
	if m == nil {
		return
	}
	m.AssessmentsRejected.Inc()
}

func (m *Metrics) Adherence(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.AdherenceComputed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Cohort(d time.Duration, failed int) {
	if m == nil {
		return
	}
	m.CohortRuns.Inc()
	m.CohortUserFailures.Add(float64(failed))
	m.CohortDuration.Observe(d.Seconds())
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ReportCache.WithLabelValues(result).Inc()
}
